package uci

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultDepth       = 25
	DefaultMateHorizon = 5

	stopGracePeriod = 2 * time.Second
)

// Publisher receives every decoded engine line. Publish is called from the
// session's reader goroutine and should not block for long.
type Publisher interface {
	Publish(msg EngineMessage)
}

type PublisherFunc func(msg EngineMessage)

func (f PublisherFunc) Publish(msg EngineMessage) { f(msg) }

type Option struct {
	Name  string
	Value string
}

type SessionConfig struct {
	BinaryPath  string
	Args        []string
	Depth       int
	MateHorizon int
	// Options are sent after the ponder option during the handshake.
	Options []Option
	Stderr  io.Writer
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Depth <= 0 {
		c.Depth = DefaultDepth
	}
	if c.MateHorizon <= 0 {
		c.MateHorizon = DefaultMateHorizon
	}
	return c
}

// Session couples one engine process with the goroutine draining its output.
// A stopped Session cannot be restarted.
type Session struct {
	id     string
	cfg    SessionConfig
	proc   *Process
	pub    Publisher
	logger *zap.Logger

	mu      sync.Mutex
	stopped bool

	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// NewSession spawns the engine, starts the reader goroutine and writes the
// handshake. It does not wait for uciok or readyok; those arrive through the
// publisher like any other line.
func NewSession(ctx context.Context, cfg SessionConfig, pub Publisher, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = PublisherFunc(func(EngineMessage) {})
	}
	cfg = cfg.withDefaults()

	proc, err := Spawn(ctx, cfg.BinaryPath, cfg.Args, cfg.Stderr)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		proc:   proc,
		pub:    pub,
		logger: logger,
		done:   make(chan struct{}),
	}
	s.logger = logger.With(zap.String("session_id", s.id), zap.Int("pid", proc.PID()))
	go s.readLoop()

	if err := s.handshake(); err != nil {
		_ = s.Stop()
		return nil, err
	}
	s.logger.Info("engine_session_start", zap.String("binary", cfg.BinaryPath))
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Done is closed once the reader goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Alive reports whether the engine output is still open and Stop has not
// been called.
func (s *Session) Alive() bool {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Session) handshake() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmds := []Command{
		UCI(),
		IsReady(),
		SetOption("Ponder", "true"),
	}
	for _, opt := range s.cfg.Options {
		cmds = append(cmds, SetOption(opt.Name, opt.Value))
	}
	for _, cmd := range cmds {
		if err := s.proc.WriteLine(Encode(cmd)); err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
	}
	return nil
}

// DirectSearch redirects the engine to position. The stop, position, board
// dump and go lines are written as one uninterrupted sequence.
func (s *Session) DirectSearch(position string, ponder bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSessionTerminated
	}

	cmds := []Command{
		StopSearch(),
		Position(position),
		BoardDump(),
		Go(s.cfg.Depth, s.cfg.MateHorizon, ponder),
	}
	for _, cmd := range cmds {
		if err := s.proc.WriteLine(Encode(cmd)); err != nil {
			return err
		}
	}
	s.logger.Debug("engine_search_issued", zap.String("position", position), zap.Bool("ponder", ponder))
	return nil
}

// Stop kills the engine and waits briefly for the reader goroutine. Repeated
// calls return the first result.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.stopErr = s.proc.Terminate()

		select {
		case <-s.done:
		case <-time.After(stopGracePeriod):
			s.logger.Warn("engine_reader_stop_timeout", zap.Duration("grace", stopGracePeriod))
		}
		s.logger.Info("engine_session_stop", zap.Error(s.stopErr))
	})
	return s.stopErr
}

func (s *Session) readLoop() {
	defer close(s.done)
	// Lines answering a stop belong to the previous search, so the position
	// only switches when the board dump for the new one arrives.
	var position string
	for {
		line, err := s.proc.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("engine_read_error", zap.Error(err))
			}
			return
		}
		if fen, ok := BoardFEN(line); ok {
			position = fen
		}
		msg := Decode(line)
		msg.SessionID = s.id
		msg.ReceivedAt = time.Now()
		msg.Position = position
		if msg.IsReady != nil {
			s.logger.Info("engine_ready")
		}
		s.publish(msg)
	}
}

func (s *Session) publish(msg EngineMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("engine_publish_panic", zap.Any("panic", r), zap.String("line", msg.UCIMessage))
		}
	}()
	s.pub.Publish(msg)
}
