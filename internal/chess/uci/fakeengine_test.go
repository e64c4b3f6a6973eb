package uci

import (
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-analysis/internal/chess/uci/ucitest"
	"github.com/stretchr/testify/require"
)

var handshakeLines = []string{"uci", "isready", "setoption name Ponder value true"}

type fakeEngine struct {
	ucitest.Engine
}

func newFakeEngine(t *testing.T) fakeEngine {
	t.Helper()
	return fakeEngine{ucitest.New(t)}
}

func (f fakeEngine) config() SessionConfig {
	return SessionConfig{BinaryPath: f.Path, Args: f.Args()}
}

func (f fakeEngine) received(t *testing.T) []string { return f.Received(t) }

func (f fakeEngine) waitReceived(t *testing.T, n int) []string { return f.WaitReceived(t, n) }

type collector struct {
	mu   sync.Mutex
	msgs []EngineMessage
}

func (c *collector) Publish(msg EngineMessage) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func (c *collector) snapshot() []EngineMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]EngineMessage(nil), c.msgs...)
}

func (c *collector) waitFor(t *testing.T, pred func(EngineMessage) bool) EngineMessage {
	t.Helper()
	var found EngineMessage
	require.Eventually(t, func() bool {
		for _, m := range c.snapshot() {
			if pred(m) {
				found = m
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return found
}
