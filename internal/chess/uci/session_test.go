package uci

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sicilianFEN = "rnbqkbnr/pp1ppppp/8/2p5/4P3/8/PPPP1PPP/RNBQKBNR w KQkq c6 0 2"
	afterE4FEN  = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
)

func TestSessionHandshake(t *testing.T) {
	fe := newFakeEngine(t)
	cfg := fe.config()
	cfg.Options = []Option{{Name: "Threads", Value: "2"}}
	pub := &collector{}

	s, err := NewSession(context.Background(), cfg, pub, nil)
	require.NoError(t, err)
	defer s.Stop()

	require.NotEmpty(t, s.ID())
	lines := fe.waitReceived(t, 4)
	assert.Equal(t, append(append([]string(nil), handshakeLines...), "setoption name Threads value 2"), lines)

	ready := pub.waitFor(t, func(m EngineMessage) bool { return m.IsReady != nil })
	assert.Equal(t, "readyok", ready.UCIMessage)
	assert.Equal(t, s.ID(), ready.SessionID)
	assert.False(t, ready.ReceivedAt.IsZero())
}

func TestSessionPublishesEveryLine(t *testing.T) {
	fe := newFakeEngine(t)
	pub := &collector{}
	s, err := NewSession(context.Background(), fe.config(), pub, nil)
	require.NoError(t, err)
	defer s.Stop()

	pub.waitFor(t, func(m EngineMessage) bool { return m.UCIMessage == "uciok" })
	raw := make([]string, 0)
	for _, m := range pub.snapshot() {
		raw = append(raw, m.UCIMessage)
	}
	assert.Contains(t, raw, "id name FakeFish")
}

func TestDirectSearchStartpos(t *testing.T) {
	fe := newFakeEngine(t)
	pub := &collector{}
	s, err := NewSession(context.Background(), fe.config(), pub, nil)
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.DirectSearch(StartFEN, false))
	lines := fe.waitReceived(t, 7)
	assert.Equal(t, []string{"stop", "position startpos", "d", "go depth 25 mate 5"}, lines[3:7])

	best := pub.waitFor(t, func(m EngineMessage) bool { return m.BestMove != nil })
	assert.Equal(t, "e2e4", *best.BestMove)
	require.NotNil(t, best.Ponder)
	assert.Equal(t, "e7e5", *best.Ponder)
}

func TestDirectSearchPonderAppendsFlag(t *testing.T) {
	fe := newFakeEngine(t)
	s, err := NewSession(context.Background(), fe.config(), nil, nil)
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.DirectSearch(StartFEN, true))
	require.NoError(t, s.DirectSearch(sicilianFEN, true))
	lines := fe.waitReceived(t, 11)
	assert.Equal(t, []string{"stop", "position startpos", "d", "go depth 25 mate 5 ponder"}, lines[3:7])
	assert.Equal(t, []string{"stop", "position fen " + sicilianFEN, "d", "go depth 25 mate 5 ponder"}, lines[7:11])
}

func TestMessagesCarryTheSearchedPosition(t *testing.T) {
	fe := newFakeEngine(t)
	pub := &collector{}
	s, err := NewSession(context.Background(), fe.config(), pub, nil)
	require.NoError(t, err)
	defer s.Stop()

	ready := pub.waitFor(t, func(m EngineMessage) bool { return m.IsReady != nil })
	assert.Empty(t, ready.Position)

	require.NoError(t, s.DirectSearch(StartFEN, true))
	info := pub.waitFor(t, func(m EngineMessage) bool { return m.PV != nil })
	assert.Equal(t, StartFEN, info.Position)

	// The ponder search only reports its bestmove when the next search stops it.
	require.NoError(t, s.DirectSearch(afterE4FEN, false))
	stale := pub.waitFor(t, func(m EngineMessage) bool { return m.UCIMessage == "bestmove e2e4 ponder e7e5" })
	assert.Equal(t, StartFEN, stale.Position)

	fresh := pub.waitFor(t, func(m EngineMessage) bool { return m.UCIMessage == "bestmove e7e5 ponder g1f3" })
	assert.Equal(t, afterE4FEN, fresh.Position)

	var order []string
	for _, m := range pub.snapshot() {
		if m.BestMove != nil {
			order = append(order, *m.BestMove)
		}
	}
	assert.Equal(t, []string{"e2e4", "e7e5"}, order)
}

func TestDirectSearchUsesConfiguredLimits(t *testing.T) {
	fe := newFakeEngine(t)
	cfg := fe.config()
	cfg.Depth = 18
	cfg.MateHorizon = 3
	s, err := NewSession(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.DirectSearch(sicilianFEN, false))
	lines := fe.waitReceived(t, 7)
	assert.Equal(t, "go depth 18 mate 3", lines[6])
}

func TestSessionStop(t *testing.T) {
	fe := newFakeEngine(t)
	s, err := NewSession(context.Background(), fe.config(), nil, nil)
	require.NoError(t, err)
	fe.waitReceived(t, 3)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.False(t, s.Alive())

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("reader goroutine did not exit")
	}

	err = s.DirectSearch(StartFEN, false)
	assert.True(t, errors.Is(err, ErrSessionTerminated))
	// Nothing beyond the handshake reached the engine.
	assert.Len(t, fe.received(t), 3)
}

func TestSessionNoticesEngineExit(t *testing.T) {
	fe := newFakeEngine(t)
	s, err := NewSession(context.Background(), fe.config(), nil, nil)
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.proc.WriteLine("exit"))
	require.Eventually(t, func() bool { return !s.Alive() }, 3*time.Second, 10*time.Millisecond)
}

func TestSessionSpawnFailure(t *testing.T) {
	_, err := NewSession(context.Background(), SessionConfig{BinaryPath: filepath.Join(t.TempDir(), "missing")}, nil, nil)
	assert.True(t, errors.Is(err, ErrSpawn))
}

func TestSessionSurvivesPublisherPanic(t *testing.T) {
	fe := newFakeEngine(t)
	pub := &collector{}
	panicky := PublisherFunc(func(m EngineMessage) {
		if m.UCIMessage == "id name FakeFish" {
			panic("boom")
		}
		pub.Publish(m)
	})
	s, err := NewSession(context.Background(), fe.config(), panicky, nil)
	require.NoError(t, err)
	defer s.Stop()

	pub.waitFor(t, func(m EngineMessage) bool { return m.IsReady != nil })
}
