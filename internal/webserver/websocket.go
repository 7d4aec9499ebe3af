package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ichi0g0y/ring-overlay/internal/apperr"
	"github.com/ichi0g0y/ring-overlay/internal/broadcast"
	"github.com/ichi0g0y/ring-overlay/internal/instance"
	"github.com/ichi0g0y/ring-overlay/internal/shared/logger"
	"github.com/ichi0g0y/ring-overlay/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	closeReasonClientRequest = "client request"
)

// フレーム種別
const (
	frameInstanceSnapshot = "instance_snapshot"
	frameRingAdded        = "ring_added"
	frameError            = "error"
)

// WSMessage はWebSocketメッセージの構造を定義
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var wsUpgrader = websocket.Upgrader{
	// ビューアーは別オリジンのページから接続してくる
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// errConnectionDone は正常な切断でループを抜けるための番兵。
var errConnectionDone = errors.New("connection done")

func encodeFrame(frameType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WSMessage{Type: frameType, Data: raw})
}

// publishRingAdded は受理済みリングを location の購読者全員へ配る。
func publishRingAdded(hub *broadcast.Registry, in *instance.Instance, ring types.Ring, nonce *string) {
	frame, err := encodeFrame(frameRingAdded, ringAddedEvent{
		Instance: newInstanceSummary(in),
		Ring:     newRingView(ring),
		Nonce:    nonce,
	})
	if err != nil {
		logger.Error("Failed to encode ring_added frame", zap.Error(err))
		return
	}
	delivered := hub.Publish(in.LocationID.String(), frame)
	logger.Debug("ring_added published",
		zap.String("location_id", in.LocationID.String()),
		zap.String("ring_id", ring.ID.String()),
		zap.Int("delivered", delivered))
}

// ringSession は1本の WebSocket 接続。
// 書き込みは writeMu で直列化する。
type ringSession struct {
	api        *api
	conn       *websocket.Conn
	clientID   string
	locationID uuid.UUID
	writeMu    sync.Mutex
}

func generateClientID() string {
	id, err := gonanoid.New()
	if err != nil {
		return "ws-" + uuid.NewString()
	}
	return "ws-" + id
}

// handleRingSocket は /ws/rings?location=<uuid> を処理する。
func (a *api) handleRingSocket(w http.ResponseWriter, r *http.Request) {
	locationID, err := uuid.Parse(r.URL.Query().Get("location"))
	if err != nil {
		writeError(w, r, apperr.Validation("location", "location query parameter must be a uuid"))
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	s := &ringSession{
		api:        a,
		conn:       conn,
		clientID:   generateClientID(),
		locationID: locationID,
	}
	s.serve(r.Context())
}

func (s *ringSession) serve(ctx context.Context) {
	defer s.conn.Close()

	// スナップショットより先に購読しておく。間の ring_added は重複し得るが欠落はしない
	sub, err := s.api.hub.Subscribe(s.locationID.String())
	if err != nil {
		s.writeFrame(frameError, errorBody{Error: categoryInternal, Reason: internalReason})
		s.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.api.hub.Unsubscribe(sub)

	in, err := s.api.allocator.OpenOrCreate(ctx, s.locationID)
	if err != nil {
		logger.Warn("Failed to prepare instance for viewer",
			zap.String("clientId", s.clientID),
			zap.String("location_id", s.locationID.String()),
			zap.Error(err))
		s.writeFrame(frameError, errorBody{Error: categoryInstanceGenerate, Reason: "Failed generate instance."})
		s.closeWith(websocket.CloseInternalServerErr, "instance unavailable")
		return
	}
	if err := s.writeFrame(frameInstanceSnapshot, newInstanceDetail(in)); err != nil {
		return
	}

	logger.Info("WebSocket client connected",
		zap.String("clientId", s.clientID),
		zap.String("location_id", s.locationID.String()),
		zap.String("instance_id", in.ID.String()))

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = s.conn.Close() })
	defer stop()

	g.Go(func() error { return s.readPump(gctx) })
	g.Go(func() error { return s.writePump(gctx, sub) })

	err = g.Wait()
	if err != nil && !errors.Is(err, errConnectionDone) {
		logger.Debug("WebSocket session ended with error", zap.String("clientId", s.clientID), zap.Error(err))
	}
	logger.Info("WebSocket client disconnected",
		zap.String("clientId", s.clientID),
		zap.Uint64("sent", sub.Sent()),
		zap.Uint64("dropped", sub.Dropped()))
}

// readPump はクライアントからのリング投稿を処理する。
func (s *ringSession) readPump(ctx context.Context) error {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	s.conn.SetCloseHandler(func(code int, text string) error {
		logger.Debug("WebSocket close requested",
			zap.String("clientId", s.clientID),
			zap.Int("code", code),
			zap.String("text", text))
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReasonClientRequest)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return nil
	})

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) || ctx.Err() != nil {
				return errConnectionDone
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.handleSubmission(ctx, message)
	}
}

func (s *ringSession) handleSubmission(ctx context.Context, message []byte) {
	var sub ringSubmission
	if err := json.Unmarshal(message, &sub); err != nil {
		s.writeFrame(frameError, errorBody{Error: categoryInvalidInput, Reason: "malformed ring payload"})
		return
	}

	switch sub.LocationID {
	case uuid.Nil:
		sub.LocationID = s.locationID
	case s.locationID:
	default:
		body, _ := describeError(apperr.Validation("location", "location_id does not match this connection"))
		body.Nonce = sub.Nonce
		s.writeFrame(frameError, body)
		return
	}

	req, err := sub.request()
	if err != nil {
		s.writeFrame(frameError, errorBody{Error: categoryInvalidInput, Reason: err.Error(), Nonce: sub.Nonce})
		return
	}

	in, ring, err := s.api.allocator.Submit(ctx, req)
	if err != nil {
		body, status := describeError(err)
		if status >= http.StatusInternalServerError {
			logger.Error("Failed to submit ring", zap.String("clientId", s.clientID), zap.Error(err))
		}
		body.Nonce = sub.Nonce
		s.writeFrame(frameError, body)
		return
	}
	publishRingAdded(s.api.hub, in, ring, sub.Nonce)
}

// writePump は購読したフレームとハートビートを送る。
func (s *ringSession) writePump(ctx context.Context, sub *broadcast.Subscription) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errConnectionDone
		case msg, ok := <-sub.C:
			if !ok {
				// レジストリが閉じられた
				s.closeWith(websocket.CloseGoingAway, "server shutting down")
				return errConnectionDone
			}
			if err := s.write(websocket.TextMessage, msg.Payload); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func (s *ringSession) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

func (s *ringSession) writeFrame(frameType string, data any) error {
	frame, err := encodeFrame(frameType, data)
	if err != nil {
		logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return err
	}
	if err := s.write(websocket.TextMessage, frame); err != nil {
		logger.Debug("Failed to write WebSocket frame", zap.String("clientId", s.clientID), zap.Error(err))
		return err
	}
	return nil
}

func (s *ringSession) closeWith(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
