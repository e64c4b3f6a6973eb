package ctlclient

import (
	"context"
	"sync"
	"time"

	"github.com/park285/cheese-analysis/internal/gateway"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type WatcherState int

const (
	WatchDisconnected WatcherState = iota
	WatchConnecting
	WatchConnected
	WatchReconnecting
	WatchFailed
)

func (s WatcherState) String() string {
	switch s {
	case WatchConnecting:
		return "connecting"
	case WatchConnected:
		return "connected"
	case WatchReconnecting:
		return "reconnecting"
	case WatchFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

type FrameCallback func(frame gateway.Frame)

type StateCallback func(state WatcherState)

// Watcher follows the daemon's event stream, redialing with backoff when the
// connection drops.
type Watcher struct {
	url    string
	logger *zap.Logger

	connM sync.Mutex
	conn  *websocket.Conn

	state  WatcherState
	stateM sync.RWMutex

	frameCbs []FrameCallback
	stateCbs []StateCallback
	cbM      sync.RWMutex

	maxReconnectAttempts int
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewWatcher(url string, maxReconnectAttempts int, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Watcher{
		url:                  url,
		logger:               logger,
		state:                WatchDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
		rootCtx:              rootCtx,
		rootCancel:           rootCancel,
	}
}

// Connect dials once and then keeps the stream alive in the background until
// Close. A failed first dial is returned without retrying.
func (w *Watcher) Connect(ctx context.Context) error {
	w.stateM.RLock()
	busy := w.state == WatchConnected || w.state == WatchConnecting || w.state == WatchReconnecting
	w.stateM.RUnlock()
	if busy {
		return nil
	}

	w.setState(WatchConnecting)
	conn, err := w.dial(ctx)
	if err != nil {
		w.setState(WatchFailed)
		return err
	}
	w.setState(WatchConnected)

	w.wg.Add(1)
	go w.run(conn)
	return nil
}

func (w *Watcher) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, w.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	w.connM.Lock()
	w.conn = conn
	w.connM.Unlock()
	return conn, nil
}

func (w *Watcher) run(conn *websocket.Conn) {
	defer w.wg.Done()
	for {
		w.serve(conn)
		if w.isStopping() {
			return
		}
		w.setState(WatchDisconnected)

		var ok bool
		conn, ok = w.reconnect()
		if !ok {
			if !w.isStopping() {
				w.setState(WatchFailed)
			}
			return
		}
		w.setState(WatchConnected)
	}
}

// serve reads frames until the connection fails.
func (w *Watcher) serve(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(w.rootCtx)
	defer cancel()
	defer w.closeConn(websocket.StatusGoingAway, "reconnect")

	go w.pingLoop(ctx, conn, cancel)

	for {
		var frame gateway.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if !w.isStopping() {
				w.logger.Debug("watch_read_error", zap.Error(err))
			}
			return
		}

		w.cbM.RLock()
		callbacks := make([]FrameCallback, len(w.frameCbs))
		copy(callbacks, w.frameCbs)
		w.cbM.RUnlock()
		for _, cb := range callbacks {
			cb(frame)
		}
	}
}

func (w *Watcher) pingLoop(ctx context.Context, conn *websocket.Conn, fail context.CancelFunc) {
	t := time.NewTicker(w.pingInterval)
	defer t.Stop()
	consecutivePingFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err == nil {
				consecutivePingFailures = 0
				continue
			}
			consecutivePingFailures++
			if consecutivePingFailures >= 2 {
				w.logger.Debug("watch_ping_failure", zap.Error(err))
				fail()
				return
			}
		}
	}
}

func (w *Watcher) reconnect() (*websocket.Conn, bool) {
	if w.maxReconnectAttempts <= 0 {
		return nil, false
	}
	w.setState(WatchReconnecting)
	for attempt := 1; attempt <= w.maxReconnectAttempts; attempt++ {
		select {
		case <-w.stopCh:
			return nil, false
		case <-time.After(backoffDuration(attempt)):
		}
		conn, err := w.dial(w.rootCtx)
		if err != nil {
			w.logger.Debug("watch_redial_failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		return conn, true
	}
	return nil, false
}

// OnFrame registers cb for every frame read from the stream. Callbacks run on
// the reader goroutine in registration order.
func (w *Watcher) OnFrame(cb FrameCallback) {
	if cb == nil {
		return
	}
	w.cbM.Lock()
	defer w.cbM.Unlock()
	w.frameCbs = append(w.frameCbs, cb)
}

func (w *Watcher) OnStateChange(cb StateCallback) {
	if cb == nil {
		return
	}
	w.cbM.Lock()
	defer w.cbM.Unlock()
	w.stateCbs = append(w.stateCbs, cb)
}

func (w *Watcher) State() WatcherState {
	w.stateM.RLock()
	defer w.stateM.RUnlock()
	return w.state
}

func (w *Watcher) setState(state WatcherState) {
	w.stateM.Lock()
	w.state = state
	w.stateM.Unlock()

	w.cbM.RLock()
	callbacks := make([]StateCallback, len(w.stateCbs))
	copy(callbacks, w.stateCbs)
	w.cbM.RUnlock()
	for _, cb := range callbacks {
		cb(state)
	}
}

// Close stops reconnecting, closes the stream and waits for the background
// loop to exit or ctx to expire.
func (w *Watcher) Close(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	_ = w.closeConn(websocket.StatusNormalClosure, "close")
	w.rootCancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		w.setState(WatchDisconnected)
		return nil
	}
}

func (w *Watcher) closeConn(code websocket.StatusCode, reason string) error {
	w.connM.Lock()
	conn := w.conn
	w.conn = nil
	w.connM.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(code, reason)
}

func (w *Watcher) isStopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}
