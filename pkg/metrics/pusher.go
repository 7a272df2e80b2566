package metrics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/climatetwin/pkg/buffer"
	"github.com/mjasion/balena-home/climatetwin/pkg/types"
)

const (
	pushAttempts     = 3
	defaultBatchSize = 500
)

// TimeSeriesBuilder converts readings to Prometheus time series
type TimeSeriesBuilder func(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error)

// Config contains configuration for the Prometheus pusher
type Config struct {
	URL          string
	Username     string
	Password     string
	PushInterval time.Duration
	BatchSize    int
	// RetryBackoff is the wait before the second attempt; it doubles after that
	RetryBackoff      time.Duration
	TimeSeriesBuilder TimeSeriesBuilder
}

// writeError is a remote_write response outside 2xx
type writeError struct {
	status int
	body   string
}

func (e *writeError) Error() string {
	return fmt.Sprintf("remote write returned %d: %s", e.status, e.body)
}

// retryable reports whether the receiver may accept the same payload later.
// Other 4xx answers reject the payload itself.
func (e *writeError) retryable() bool {
	return e.status >= 500 || e.status == http.StatusTooManyRequests
}

// Pusher exports polled climate readings to a Prometheus remote_write endpoint
type Pusher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
	buffer *buffer.RingBuffer[*types.Reading]

	mu       sync.RWMutex
	lastPush time.Time
}

// New creates a pusher draining buf
func New(cfg Config, buf *buffer.RingBuffer[*types.Reading], logger *zap.Logger) *Pusher {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	return &Pusher{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(string, *http.Request) string {
					return "prometheus.remote_write"
				}),
			),
		},
		logger: logger.With(zap.String("component", "prometheus")),
		buffer: buf,
	}
}

// Start flushes the buffer every push interval until ctx is done
func (p *Pusher) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PushInterval)
	defer ticker.Stop()

	p.logger.Info("exporting climate readings",
		zap.Duration("push_interval", p.cfg.PushInterval),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("climate reading export stopped")
			return
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

// flush drains the buffer batch by batch. A batch the receiver rejects is
// dropped. Any other failure puts it and every later batch back into the
// buffer ahead of readings added in the meantime.
func (p *Pusher) flush(ctx context.Context) {
	pending := p.buffer.GetAllAndClear()
	for len(pending) > 0 {
		n := min(p.cfg.BatchSize, len(pending))
		err := p.Push(ctx, pending[:n])

		var we *writeError
		switch {
		case err == nil:
		case errors.As(err, &we) && !we.retryable():
			p.logger.Error("remote write rejected batch, dropping it",
				zap.Int("dropped", n),
				zap.Int("status", we.status),
				zap.Error(err),
			)
		default:
			p.logger.Error("export failed, keeping readings for the next tick",
				zap.Int("kept", len(pending)),
				zap.Error(err),
			)
			p.requeue(pending)
			return
		}
		pending = pending[n:]
	}
}

// requeue puts readings back in front of anything buffered since the drain
func (p *Pusher) requeue(readings []*types.Reading) {
	newer := p.buffer.GetAllAndClear()
	for _, r := range readings {
		p.buffer.Add(r)
	}
	for _, r := range newer {
		p.buffer.Add(r)
	}
}

// Push converts readings and sends them. Retryable failures are attempted up
// to three times with doubling backoff.
func (p *Pusher) Push(ctx context.Context, readings []*types.Reading) error {
	ctx, span := otel.Tracer("climatetwin/metrics").Start(ctx, "metrics.push",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("readings", len(readings))),
	)
	defer span.End()

	if len(readings) == 0 {
		return nil
	}
	if p.cfg.TimeSeriesBuilder == nil {
		return errors.New("metrics: no time series builder configured")
	}

	series, err := p.cfg.TimeSeriesBuilder(ctx, readings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		return fmt.Errorf("building time series: %w", err)
	}
	span.SetAttributes(attribute.Int("time_series", len(series)))

	payload, err := encode(&prompb.WriteRequest{Timeseries: series})
	if err != nil {
		span.RecordError(err)
		return err
	}

	wait := p.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		err = p.send(ctx, payload)
		if err == nil {
			p.mu.Lock()
			p.lastPush = time.Now()
			p.mu.Unlock()
			p.logger.Debug("climate readings exported",
				zap.Int("readings", len(readings)),
				zap.Int("time_series", len(series)),
				zap.Int("attempt", attempt),
			)
			return nil
		}

		var we *writeError
		if attempt == pushAttempts || (errors.As(err, &we) && !we.retryable()) {
			break
		}
		p.logger.Warn("remote write failed, retrying", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))

		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "cancelled")
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "push failed")
	return fmt.Errorf("remote write: %w", err)
}

// encode marshals and snappy-compresses a write request
func encode(req *prompb.WriteRequest) ([]byte, error) {
	raw, err := proto.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshalling write request: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

func (p *Pusher) send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.cfg.Username != "" && p.cfg.Password != "" {
		req.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &writeError{status: resp.StatusCode, body: string(body)}
	}
	return nil
}

// LastPushTime returns when readings were last exported, zero if never
func (p *Pusher) LastPushTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPush
}
