package uci

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

type StartOutcome string

const (
	Started        StartOutcome = "started"
	AlreadyRunning StartOutcome = "already running"
)

type StopOutcome string

const (
	Stopped        StopOutcome = "stopped"
	AlreadyStopped StopOutcome = "already stopped"
)

type SessionFactory func(ctx context.Context, cfg SessionConfig, pub Publisher, logger *zap.Logger) (*Session, error)

type RegistryOption func(*Registry)

// WithSessionFactory replaces NewSession, mainly so tests can count spawns.
func WithSessionFactory(f SessionFactory) RegistryOption {
	return func(r *Registry) {
		if f != nil {
			r.factory = f
		}
	}
}

// Registry holds at most one live Session. Every read-check-act sequence runs
// under a single mutex, so concurrent start, stop and search requests never
// interleave. The engine reader goroutine never takes this lock.
type Registry struct {
	ctx     context.Context
	factory SessionFactory
	logger  *zap.Logger

	mu      sync.Mutex
	current *Session
}

// NewRegistry binds spawned engines to ctx; cancelling it kills any engine
// the registry still owns.
func NewRegistry(ctx context.Context, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{ctx: ctx, factory: NewSession, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start creates the session if the slot is empty. A session whose engine has
// already died is reaped and replaced. A failed spawn leaves the slot empty.
func (r *Registry) Start(cfg SessionConfig, pub Publisher) (*Session, StartOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		if r.current.Alive() {
			return r.current, AlreadyRunning, nil
		}
		r.reapLocked("engine_session_reaped")
	}

	session, err := r.factory(r.ctx, cfg, pub, r.logger)
	if err != nil {
		r.logger.Warn("engine_session_start_failed", zap.Error(err))
		return nil, "", err
	}
	r.current = session
	return session, Started, nil
}

func (r *Registry) Stop() (StopOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return AlreadyStopped, nil
	}
	err := r.current.Stop()
	r.current = nil
	return Stopped, err
}

// Do runs fn against the live session while holding the registry lock.
// A write failure means the engine is gone, so the session is stopped and
// the slot cleared before the error is returned.
func (r *Registry) Do(fn func(*Session) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return ErrNoActiveSession
	}
	if !r.current.Alive() {
		r.reapLocked("engine_session_reaped")
		return ErrNoActiveSession
	}
	err := fn(r.current)
	if errors.Is(err, ErrWrite) || errors.Is(err, ErrSessionTerminated) {
		r.logger.Warn("engine_write_failed", zap.Error(err))
		r.reapLocked("engine_session_dropped")
	}
	return err
}

// Current returns the held session, or nil.
func (r *Registry) Current() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Shutdown stops any held session. Meant to be deferred by the host so the
// engine is killed on every exit path.
func (r *Registry) Shutdown() {
	if _, err := r.Stop(); err != nil {
		r.logger.Warn("engine_shutdown_error", zap.Error(err))
	}
}

func (r *Registry) reapLocked(event string) {
	if r.current == nil {
		return
	}
	r.logger.Info(event, zap.String("session_id", r.current.ID()))
	_ = r.current.Stop()
	r.current = nil
}
