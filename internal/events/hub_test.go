package events

import (
	"testing"

	"github.com/park285/cheese-analysis/internal/chess/uci"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub(nil)
	a, cancelA := h.Subscribe(4)
	defer cancelA()
	b, cancelB := h.Subscribe(4)
	defer cancelB()

	h.Publish(uci.Decode("readyok"))

	for _, sub := range []*Subscription{a, b} {
		msg := <-sub.C
		require.NotNil(t, msg.IsReady)
		assert.Equal(t, "readyok", msg.UCIMessage)
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub(nil)
	slow, cancelSlow := h.Subscribe(1)
	defer cancelSlow()
	fast, cancelFast := h.Subscribe(8)
	defer cancelFast()

	for i := 0; i < 5; i++ {
		h.Publish(uci.Decode("info depth 1"))
	}

	assert.EqualValues(t, 4, slow.Dropped())
	assert.Zero(t, fast.Dropped())
	assert.Len(t, fast.C, 5)
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub(nil)
	sub, cancel := h.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Zero(t, h.Len())

	// Publishing with no subscribers is fine.
	h.Publish(uci.Decode("uciok"))
}

func TestHubClose(t *testing.T) {
	h := NewHub(nil)
	sub, cancel := h.Subscribe(1)
	h.Close()
	h.Close()
	cancel()

	_, ok := <-sub.C
	assert.False(t, ok)

	late, _ := h.Subscribe(1)
	_, ok = <-late.C
	assert.False(t, ok)
}

func TestMulti(t *testing.T) {
	var got []string
	rec := uci.PublisherFunc(func(m uci.EngineMessage) { got = append(got, m.UCIMessage) })
	m := Multi{rec, nil, rec}
	m.Publish(uci.Decode("bestmove e2e4"))
	assert.Equal(t, []string{"bestmove e2e4", "bestmove e2e4"}, got)
}
