package panel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/climatetwin/pkg/telemetry"
)

// DefaultRetryDelay is the wait before the one-shot retry after a failure
const DefaultRetryDelay = 30 * time.Second

// Phase is the lifecycle position of a panel
type Phase string

const (
	PhaseLoading Phase = "loading"
	PhaseSuccess Phase = "success"
	PhaseError   Phase = "error"
)

// State is a snapshot of a panel. Data holds the last good value, or the
// fallback when nothing has loaded yet.
type State struct {
	Name      string     `json:"name"`
	Phase     Phase      `json:"phase"`
	Data      any        `json:"data,omitempty"`
	Fallback  bool       `json:"fallback"`
	Error     string     `json:"error,omitempty"`
	RetryAt   *time.Time `json:"retry_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// FetchFunc loads fresh panel data
type FetchFunc func(ctx context.Context) (any, error)

// Options configures a Panel
type Options struct {
	Name string
	// Interval between refreshes. Zero loads once at start.
	Interval   time.Duration
	RetryDelay time.Duration
	// ErrorMessage is shown to users on failure
	ErrorMessage string
	Fetch        FetchFunc
	// Fallback supplies placeholder data when nothing has loaded yet
	Fallback func() any
	// OnSuccess observes every successfully fetched value
	OnSuccess func(data any)
}

type stopper interface {
	Stop() bool
}

// Panel polls one resource and tracks its Loading/Success/Error state
type Panel struct {
	opts   Options
	logger *zap.Logger

	mu        sync.Mutex
	state     State
	hasData   bool
	seq       uint64
	retry     stopper
	ctx       context.Context
	listeners []func(State)

	// afterFunc schedules the retry. Replaced in tests.
	afterFunc func(d time.Duration, f func()) stopper
	now       func() time.Time
}

// New creates a panel in the Loading phase
func New(opts Options, logger *zap.Logger) *Panel {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	p := &Panel{
		opts:   opts,
		logger: logger.With(zap.String("panel", opts.Name)),
		ctx:    context.Background(),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		now: time.Now,
	}
	p.state = State{Name: opts.Name, Phase: PhaseLoading, UpdatedAt: p.now()}
	if opts.Fallback != nil {
		p.state.Data = opts.Fallback()
		p.state.Fallback = true
	}
	return p
}

// Name returns the panel name
func (p *Panel) Name() string {
	return p.opts.Name
}

// Interval returns the refresh interval, zero for load-once panels
func (p *Panel) Interval() time.Duration {
	return p.opts.Interval
}

// Subscribe registers fn to receive every state change
func (p *Panel) Subscribe(fn func(State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// State returns the current snapshot
func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Bind sets the context that owns retries. Once ctx is done, pending retries
// never fire and results of in-flight refreshes are dropped.
func (p *Panel) Bind(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	context.AfterFunc(ctx, p.Stop)
}

// Stop cancels a pending retry
func (p *Panel) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retry != nil {
		p.retry.Stop()
		p.retry = nil
	}
}

// Refresh fetches fresh data and moves the panel to Success or Error. Results
// that arrive after a newer refresh started, or after ctx is done, are dropped.
func (p *Panel) Refresh(ctx context.Context) {
	ctx, span := otel.Tracer("climatetwin/panel").Start(ctx, "panel.refresh")
	span.SetAttributes(attribute.String("panel", p.opts.Name))
	defer span.End()

	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.state.Phase = PhaseLoading
	p.state.UpdatedAt = p.now()
	loading := p.state
	listeners := p.listeners
	p.mu.Unlock()
	notify(listeners, loading)

	data, err := p.opts.Fetch(ctx)

	p.mu.Lock()
	if seq != p.seq || ctx.Err() != nil || p.ctx.Err() != nil {
		p.mu.Unlock()
		telemetry.DebugWithTrace(ctx, p.logger, "discarding stale panel result")
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		p.fail(err)
	} else {
		p.succeed(data)
	}
	state := p.state
	p.mu.Unlock()

	if err == nil && p.opts.OnSuccess != nil {
		p.opts.OnSuccess(data)
	}
	notify(listeners, state)
}

// succeed must be called with mu held
func (p *Panel) succeed(data any) {
	if p.retry != nil {
		p.retry.Stop()
		p.retry = nil
	}
	p.hasData = true
	p.state = State{
		Name:      p.opts.Name,
		Phase:     PhaseSuccess,
		Data:      data,
		UpdatedAt: p.now(),
	}
	p.logger.Debug("panel refreshed")
}

// fail must be called with mu held. It keeps the previous data and arms a
// single retry unless one is already pending.
func (p *Panel) fail(err error) {
	now := p.now()
	p.state.Phase = PhaseError
	p.state.Error = p.opts.ErrorMessage
	if p.state.Error == "" {
		p.state.Error = err.Error()
	}
	p.state.UpdatedAt = now

	if !p.hasData && p.opts.Fallback != nil {
		p.state.Data = p.opts.Fallback()
		p.state.Fallback = true
	}

	if p.retry == nil {
		retryAt := now.Add(p.opts.RetryDelay)
		p.state.RetryAt = &retryAt
		p.retry = p.afterFunc(p.opts.RetryDelay, p.fireRetry)
	}

	p.logger.Warn("panel refresh failed",
		zap.Error(err),
		zap.Duration("retry_in", p.opts.RetryDelay),
	)
}

func (p *Panel) fireRetry() {
	p.mu.Lock()
	p.retry = nil
	p.state.RetryAt = nil
	ctx := p.ctx
	p.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	p.Refresh(ctx)
}

func notify(listeners []func(State), s State) {
	for _, fn := range listeners {
		fn(s)
	}
}
