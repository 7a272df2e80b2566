package panel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler owns the refresh timers of a set of panels. Every panel has its
// own cron entry; intervals are independent.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu     sync.RWMutex
	panels map[string]*Panel
	wg     sync.WaitGroup
}

// NewScheduler creates an empty scheduler
func NewScheduler(logger *zap.Logger) *Scheduler {
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
		logger: logger,
		panels: make(map[string]*Panel),
	}
}

// Add registers p. Names must be unique.
func (s *Scheduler) Add(p *Panel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.panels[p.Name()]; ok {
		return fmt.Errorf("panel %q already registered", p.Name())
	}

	if p.Interval() > 0 {
		spec := "@every " + p.Interval().String()
		if _, err := s.cron.AddFunc(spec, func() { p.Refresh(p.boundContext()) }); err != nil {
			return fmt.Errorf("failed to schedule panel %q: %w", p.Name(), err)
		}
	}
	s.panels[p.Name()] = p
	return nil
}

// Panel returns the panel registered under name
func (s *Scheduler) Panel(name string) (*Panel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.panels[name]
	return p, ok
}

// Subscribe registers fn on every panel added so far
func (s *Scheduler) Subscribe(fn func(State)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.panels {
		p.Subscribe(fn)
	}
}

// Trigger refreshes the named panel in the background. It reports false when
// no such panel exists.
func (s *Scheduler) Trigger(name string) bool {
	p, ok := s.Panel(name)
	if !ok {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		p.Refresh(p.boundContext())
	}()
	return true
}

// States returns a snapshot of every panel ordered by name
func (s *Scheduler) States() []State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]State, 0, len(s.panels))
	for _, p := range s.panels {
		states = append(states, p.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// Start binds every panel to ctx, loads each one immediately and starts the
// periodic timers. It returns without blocking.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	for _, p := range s.panels {
		p.Bind(ctx)
		s.wg.Add(1)
		go func(p *Panel) {
			defer s.wg.Done()
			p.Refresh(ctx)
		}(p)
		s.logger.Info("panel started",
			zap.String("panel", p.Name()),
			zap.Duration("interval", p.Interval()),
		)
	}
	s.mu.RUnlock()

	s.cron.Start()
}

// Stop halts the timers, cancels pending retries and waits for running
// refreshes until ctx is done
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()

	s.mu.RLock()
	for _, p := range s.panels {
		p.Stop()
	}
	s.mu.RUnlock()

	initial := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(initial)
	}()

	for _, ch := range []<-chan struct{}{done.Done(), initial} {
		select {
		case <-ch:
		case <-ctx.Done():
			s.logger.Warn("timed out waiting for panel refreshes")
			return
		}
	}
}

func (p *Panel) boundContext() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
