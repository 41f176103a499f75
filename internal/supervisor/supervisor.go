// Package supervisor는 고정 크기의 Runner 풀을 유지하는 fleet supervisor입니다.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cnap-oss/codefleet/internal/runner"
)

const (
	DefaultRunners         = 3
	DefaultMaxRunners      = 5
	DefaultRestartBackoff  = 5 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// Worker is the part of runner.Runner the supervisor drives.
type Worker interface {
	Name() string
	AgentID() string
	Register(ctx context.Context) (string, error)
	Reregister(ctx context.Context) error
	Start(ctx context.Context) error
	Stop()
	StopRequested() bool
	Shutdown(ctx context.Context)
}

var _ Worker = (*runner.Runner)(nil)

// Factory creates the worker named name.
type Factory func(name string) (Worker, error)

// Config는 풀 크기와 재시작/종료 타이밍입니다.
type Config struct {
	Runners         int
	MaxRunners      int
	RestartBackoff  time.Duration
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Runners <= 0 {
		c.Runners = DefaultRunners
	}
	if c.MaxRunners <= 0 {
		c.MaxRunners = DefaultMaxRunners
	}
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = DefaultRestartBackoff
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithSignals replaces SIGINT/SIGTERM handling with ch.
func WithSignals(ch <-chan os.Signal) Option {
	return func(s *Supervisor) { s.signals = ch }
}

// RunnerInfo is a snapshot of one supervised runner.
type RunnerInfo struct {
	Name     string
	AgentID  string
	Restarts int64
}

// Supervisor는 Runner를 생성/등록하고, 크래시 시 고정 backoff 후 재시작하며,
// 시그널을 받으면 모든 Runner를 정리합니다.
type Supervisor struct {
	cfg     Config
	factory Factory
	logger  *zap.Logger
	pool    *pool
	signals <-chan os.Signal

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New는 Supervisor를 생성합니다.
func New(cfg Config, factory Factory, logger *zap.Logger, opts ...Option) (*Supervisor, error) {
	if factory == nil {
		return nil, fmt.Errorf("supervisor: nil runner factory")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	s := &Supervisor{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		pool:    newPool(),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start는 Runner 풀을 띄우고 모든 Runner가 종료되어 offline 처리될 때까지 블록합니다.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.stopped() {
		return nil
	}
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("supervisor: already running")
	}
	defer s.running.Store(false)

	count := min(s.cfg.Runners, s.cfg.MaxRunners)
	s.logger.Info("Starting supervisor",
		zap.Int("runners", count),
		zap.Duration("restart_backoff", s.cfg.RestartBackoff),
	)

	sigCh := s.signals
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}
	done := make(chan struct{})
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		s.watch(ctx, sigCh, done)
	}()
	defer func() {
		close(done)
		watcher.Wait()
	}()

	for i := 1; i <= count; i++ {
		s.spawn(ctx, fmt.Sprintf("runner-%d", i))
	}
	units := s.pool.list()
	if len(units) == 0 {
		return fmt.Errorf("supervisor: no runner could be registered")
	}

	var g errgroup.Group
	for _, u := range units {
		g.Go(func() error {
			s.supervise(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	s.shutdownAll(ctx)
	s.logger.Info("Supervisor stopped")
	return nil
}

// spawn creates and registers one runner. Failures only affect that runner.
func (s *Supervisor) spawn(ctx context.Context, name string) {
	w, err := s.factory(name)
	if err != nil {
		s.logger.Error("Failed to create runner", zap.String("runner", name), zap.Error(err))
		return
	}
	agentID, err := w.Register(ctx)
	if err != nil {
		s.logger.Error("Runner registration failed", zap.String("runner", name), zap.Error(err))
		return
	}
	if _, err := s.pool.add(w); err != nil {
		s.logger.Error("Failed to add runner to pool", zap.String("runner", name), zap.Error(err))
		return
	}
	if s.stopped() {
		w.Stop()
	}
	s.logger.Info("Runner registered with supervisor",
		zap.String("runner", name),
		zap.String("agent_id", agentID),
	)
}

// supervise runs one unit until it stops on purpose.
func (s *Supervisor) supervise(ctx context.Context, u *unit) {
	w := u.worker
	restart := backoff.NewConstantBackOff(s.cfg.RestartBackoff)

	for {
		err := w.Start(ctx)
		switch {
		case err == nil:
			s.logger.Info("Runner stopped", zap.String("runner", w.Name()))
			return
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.logger.Info("Runner cancelled", zap.String("runner", w.Name()))
			return
		}

		s.logger.Error("Runner crashed", zap.String("runner", w.Name()), zap.Error(err))
		if s.stopped() || w.StopRequested() || ctx.Err() != nil {
			return
		}

		wait := restart.NextBackOff()
		s.logger.Info("Restarting runner after backoff",
			zap.String("runner", w.Name()),
			zap.Duration("backoff", wait),
		)
		if !s.sleep(ctx, wait) || w.StopRequested() {
			return
		}

		if err := w.Reregister(ctx); err != nil {
			s.logger.Warn("Runner re-registration failed", zap.String("runner", w.Name()), zap.Error(err))
		}
		u.restarts.Add(1)
	}
}

// watch turns a signal or a cancelled ctx into Stop until done is closed.
func (s *Supervisor) watch(ctx context.Context, sigCh <-chan os.Signal, done <-chan struct{}) {
	select {
	case sig := <-sigCh:
		s.logger.Info("Received signal, stopping fleet", zap.String("signal", sig.String()))
		s.Stop()
	case <-ctx.Done():
		s.Stop()
	case <-s.stopCh:
	case <-done:
	}
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-s.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// shutdownAll marks every runner offline. It runs after cancellation, so it
// gets its own deadline.
func (s *Supervisor) shutdownAll(ctx context.Context) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	for _, u := range s.pool.list() {
		u.worker.Shutdown(sctx)
	}
}

// Stop clears the running flag of the supervisor and of every runner.
func (s *Supervisor) Stop() {
	s.running.Store(false)
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.logger.Info("Stopping supervisor")
	})
	for _, u := range s.pool.list() {
		u.worker.Stop()
	}
}

func (s *Supervisor) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Running reports whether Start is active and Stop has not been called.
func (s *Supervisor) Running() bool {
	return s.running.Load()
}

// Runners returns a snapshot of the pool ordered by name.
func (s *Supervisor) Runners() []RunnerInfo {
	units := s.pool.list()
	infos := make([]RunnerInfo, 0, len(units))
	for _, u := range units {
		infos = append(infos, RunnerInfo{
			Name:     u.worker.Name(),
			AgentID:  u.worker.AgentID(),
			Restarts: u.restarts.Load(),
		})
	}
	return infos
}

// Runner returns the snapshot of the runner called name.
func (s *Supervisor) Runner(name string) (RunnerInfo, bool) {
	u := s.pool.get(name)
	if u == nil {
		return RunnerInfo{}, false
	}
	return RunnerInfo{
		Name:     u.worker.Name(),
		AgentID:  u.worker.AgentID(),
		Restarts: u.restarts.Load(),
	}, true
}

// Restarts returns the total number of crash restarts.
func (s *Supervisor) Restarts() int64 {
	var n int64
	for _, u := range s.pool.list() {
		n += u.restarts.Load()
	}
	return n
}
