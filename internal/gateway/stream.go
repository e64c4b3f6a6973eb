package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/park285/cheese-analysis/internal/annotate"
	"github.com/park285/cheese-analysis/internal/chess/uci"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Frame is one engine message as sent to stream subscribers. Annotation is
// computed against the position stamped on the message by the session reader.
type Frame struct {
	uci.EngineMessage
	Annotation *annotate.Annotation `json:"annotation,omitempty"`
}

func newFrame(msg uci.EngineMessage) Frame {
	f := Frame{EngineMessage: msg}
	if msg.PositionEvaluation == nil && msg.PossibleMate == nil && msg.BestMove == nil && msg.PV == nil {
		return f
	}
	if a := annotate.Annotate(msg.Position, msg); !a.IsZero() {
		f.Annotation = &a
	}
	return f
}

func (s *Server) events(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
		OriginPatterns:  s.originPatterns,
	})
	if err != nil {
		s.logger.Debug("events_accept_error", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sub, cancel := s.hub.Subscribe(s.buffer)
	defer cancel()

	logger := s.logger.With(zap.String("remote", r.RemoteAddr))
	logger.Info("events_subscriber_connected")
	defer func() {
		logger.Info("events_subscriber_disconnected", zap.Int64("dropped", sub.Dropped()))
	}()

	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, newFrame(msg))
			cancelWrite()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Debug("events_write_error", zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				logger.Debug("events_ping_error", zap.Error(err))
				return
			}
		}
	}
}
