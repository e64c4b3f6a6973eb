package analysis

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-analysis/internal/chess/uci"
	"github.com/park285/cheese-analysis/internal/chess/uci/ucitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) Publish(m uci.EngineMessage) {
	r.mu.Lock()
	r.lines = append(r.lines, m.UCIMessage)
	r.mu.Unlock()
}

func (r *recorder) has(line string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if l == line {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T) (*Service, ucitest.Engine, *recorder) {
	t.Helper()
	fe := ucitest.New(t)
	reg := uci.NewRegistry(context.Background(), nil)
	t.Cleanup(reg.Shutdown)
	rec := &recorder{}
	svc, err := NewService(reg, uci.SessionConfig{BinaryPath: fe.Path, Args: fe.Args()}, rec, nil)
	require.NoError(t, err)
	return svc, fe, rec
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(nil, uci.SessionConfig{BinaryPath: "/bin/true"}, nil, nil)
	assert.Error(t, err)
	_, err = NewService(uci.NewRegistry(context.Background(), nil), uci.SessionConfig{}, nil, nil)
	assert.Error(t, err)
}

func TestStartStopLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, res.Status)
	require.NotEmpty(t, res.SessionID)

	again, err := svc.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyRunning, again.Status)
	assert.Equal(t, res.SessionID, again.SessionID)

	stopped, err := svc.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, stopped.Status)

	stopped, err = svc.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyStopped, stopped.Status)
}

func TestAnalyzeWithoutSessionWritesNothing(t *testing.T) {
	svc, fe, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Analyze(ctx, uci.StartFEN)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	_, err = svc.Ponder(ctx, uci.StartFEN)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	assert.Empty(t, fe.Received(t))
	assert.Empty(t, svc.LastPosition())
}

func TestAnalyzeAndPonderSequences(t *testing.T) {
	svc, fe, rec := newTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx)
	require.NoError(t, err)

	res, err := svc.Analyze(ctx, uci.StartFEN)
	require.NoError(t, err)
	assert.Equal(t, StatusIssued, res.Status)
	assert.NotEmpty(t, res.SessionID)

	_, err = svc.Ponder(ctx, "  "+uci.StartFEN+"\n")
	require.NoError(t, err)
	assert.Equal(t, uci.StartFEN, svc.LastPosition())

	lines := fe.WaitReceived(t, 11)
	assert.Equal(t, []string{"stop", "position startpos", "d", "go depth 25 mate 5"}, lines[3:7])
	assert.Equal(t, []string{"stop", "position startpos", "d", "go depth 25 mate 5 ponder"}, lines[7:11])

	require.Eventually(t, func() bool { return rec.has("bestmove e2e4 ponder e7e5") }, 5*time.Second, 10*time.Millisecond)
}

func TestAnalyzeRejectsEmptyPosition(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Start(context.Background())
	require.NoError(t, err)

	_, err = svc.Analyze(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

func TestStartSpawnFailure(t *testing.T) {
	reg := uci.NewRegistry(context.Background(), nil)
	svc, err := NewService(reg, uci.SessionConfig{BinaryPath: filepath.Join(t.TempDir(), "missing")}, nil, nil)
	require.NoError(t, err)

	_, err = svc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, uci.ErrSpawn))
	assert.Nil(t, reg.Current())
}

func TestCancelledContext(t *testing.T) {
	svc, fe, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fe.Received(t))
}
