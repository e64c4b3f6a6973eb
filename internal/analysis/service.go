// Package analysis is the command surface the host calls to drive the engine.
// Every operation returns once its commands are written; engine output arrives
// separately through the publisher given at construction.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/park285/cheese-analysis/internal/chess/uci"
	"go.uber.org/zap"
)

var (
	ErrNoActiveSession = uci.ErrNoActiveSession
	ErrInvalidPosition = errors.New("invalid position")
)

type Status string

const (
	StatusStarted        Status = Status(uci.Started)
	StatusAlreadyRunning Status = Status(uci.AlreadyRunning)
	StatusStopped        Status = Status(uci.Stopped)
	StatusAlreadyStopped Status = Status(uci.AlreadyStopped)
	StatusIssued         Status = "issued"
)

// Result acknowledges that a command was issued, not that analysis finished.
type Result struct {
	Status    Status `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

type Service struct {
	registry *uci.Registry
	cfg      uci.SessionConfig
	pub      uci.Publisher
	logger   *zap.Logger

	mu           sync.RWMutex
	lastPosition string
}

func NewService(registry *uci.Registry, cfg uci.SessionConfig, pub uci.Publisher, logger *zap.Logger) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("nil registry")
	}
	if strings.TrimSpace(cfg.BinaryPath) == "" {
		return nil, fmt.Errorf("engine binary path required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{registry: registry, cfg: cfg, pub: pub, logger: logger}, nil
}

func (s *Service) Start(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	session, outcome, err := s.registry.Start(s.cfg, s.pub)
	if err != nil {
		return Result{}, fmt.Errorf("start engine: %w", err)
	}
	if outcome == uci.AlreadyRunning {
		s.logger.Info("engine_already_running", zap.String("session_id", session.ID()))
	} else {
		s.setLastPosition("")
	}
	return Result{Status: Status(outcome), SessionID: session.ID()}, nil
}

func (s *Service) Stop(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	outcome, err := s.registry.Stop()
	if outcome == uci.AlreadyStopped {
		s.logger.Info("engine_already_stopped")
	}
	s.setLastPosition("")
	if err != nil {
		// The slot is already cleared; the error only describes process reaping.
		s.logger.Warn("engine_stop_error", zap.Error(err))
	}
	return Result{Status: Status(outcome)}, nil
}

func (s *Service) Analyze(ctx context.Context, position string) (Result, error) {
	return s.direct(ctx, position, false)
}

func (s *Service) Ponder(ctx context.Context, position string) (Result, error) {
	return s.direct(ctx, position, true)
}

// LastPosition is the position most recently sent to the live session, or
// empty when none has been sent since it started.
func (s *Service) LastPosition() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPosition
}

func (s *Service) direct(ctx context.Context, position string, ponder bool) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	position = strings.TrimSpace(position)
	if position == "" {
		return Result{}, ErrInvalidPosition
	}

	var id string
	err := s.registry.Do(func(session *uci.Session) error {
		id = session.ID()
		if err := session.DirectSearch(position, ponder); err != nil {
			return err
		}
		s.setLastPosition(position)
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNoActiveSession) {
			s.logger.Warn("engine_search_failed", zap.Error(err), zap.String("session_id", id), zap.Bool("ponder", ponder))
		}
		return Result{}, err
	}
	return Result{Status: StatusIssued, SessionID: id}, nil
}

func (s *Service) setLastPosition(position string) {
	s.mu.Lock()
	s.lastPosition = position
	s.mu.Unlock()
}
