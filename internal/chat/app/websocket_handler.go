package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"escrow_trade_service/internal/chat/domain"
	escrowdomain "escrow_trade_service/internal/escrow/domain"
	"escrow_trade_service/internal/push"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/metrics"
	"escrow_trade_service/pkg/middlewares"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// TransactionFinder escrow TransactionRepo, 用來確認房間權限
type TransactionFinder interface {
	GetByID(ctx context.Context, id string) (*escrowdomain.Transaction, error)
}

// ChatWebsocketHandler push channel 的進入點
type ChatWebsocketHandler struct {
	messageUC    *MessageUseCase
	pubsub       *push.RedisPubSub
	transactions TransactionFinder
}

// NewChatWebsocketHandler create ChatWebsocketHandler
func NewChatWebsocketHandler(messageUC *MessageUseCase, pubsub *push.RedisPubSub, transactions TransactionFinder) *ChatWebsocketHandler {
	return &ChatWebsocketHandler{
		messageUC:    messageUC,
		pubsub:       pubsub,
		transactions: transactions,
	}
}

// wsSession 一條連線, gofiber websocket 的寫入不是 goroutine safe
type wsSession struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
	sub    *push.Subscription
	rooms  map[string]bool
}

func (s *wsSession) write(mt int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(mt, data)
}

func (s *wsSession) send(resp push.Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		logger.Log.Error("marshal ws response", zap.Error(err))
		return
	}
	if err := s.write(websocket.TextMessage, b); err != nil {
		logger.Log.Warn("write message error", zap.String("userID", s.userID), zap.Error(err))
	}
}

// HandleConnection 是 WebSocket 連線的進入點
func (h *ChatWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	userID, _ := conn.Locals(middlewares.TokenUserID).(string)
	logger.Log.Info("websocket open", zap.String("userID", userID))

	ctxClose, cancel := context.WithCancel(ctx)
	s := &wsSession{conn: conn, userID: userID, rooms: make(map[string]bool)}
	metrics.PushConnections.Inc()

	defer func() {
		cancel()
		metrics.PushConnections.Dec()
		logger.Log.Info("websocket close", zap.String("userID", userID))
		conn.Close()
	}()

	conn.SetPongHandler(func(appData string) error {
		logger.Log.Debug("Received PONG", zap.String("userID", userID))
		return nil
	})

	// 訂閱自己的 channel, 收到的 frame 原封不動轉給 client
	sub, err := h.pubsub.Subscribe(ctxClose, func(frame []byte) {
		if err := s.write(websocket.TextMessage, frame); err != nil {
			logger.Log.Warn("forward push frame", zap.String("userID", userID), zap.Error(err))
		}
	}, push.UserChannel(userID))
	if err != nil {
		logger.Log.Error("subscribe user channel", zap.String("userID", userID), zap.Error(err))
		return
	}
	s.sub = sub

	// 定期發送 Ping
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.write(websocket.PingMessage, []byte("ping")); err != nil {
					logger.Log.Debug("Ping error", zap.String("userID", userID), zap.Error(err))
					return
				}
			case <-ctxClose.Done():
				return
			}
		}
	}()

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Debug("Connection closed", zap.String("userID", userID))
			} else {
				logger.Log.Warn("websocket read error", zap.String("userID", userID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			s.send(push.Response{Action: push.ActionError, Error: "unsupported message type"})
			continue
		}
		h.textMessageAction(ctxClose, s, message)
	}
}

func (h *ChatWebsocketHandler) textMessageAction(ctx context.Context, s *wsSession, msg []byte) {
	var req push.Request
	if err := json.Unmarshal(msg, &req); err != nil {
		s.send(push.Response{Action: push.ActionError, Error: "invalid json"})
		return
	}
	s.send(h.dispatch(ctx, s, req))
}

func (h *ChatWebsocketHandler) dispatch(ctx context.Context, s *wsSession, req push.Request) push.Response {
	resp := push.Response{Action: req.Action, RequestID: req.RequestID}
	var err error

	switch req.Action {
	// 訊息寫入 db, 並推播給對話內所有人
	case push.SendMessage:
		var atts []domain.Attachment
		if len(req.Attachments) > 0 {
			if err = json.Unmarshal(req.Attachments, &atts); err != nil {
				break
			}
		}
		var m *domain.Message
		m, _, err = h.messageUC.Send(ctx, SendInput{
			ConversationID: req.ConversationID,
			SenderID:       s.userID,
			ClientID:       req.ClientID,
			Content:        req.Content,
			Attachments:    atts,
		})
		resp.Payload = m

	case push.MarkMessageRead:
		var changed bool
		changed, err = h.messageUC.MarkRead(ctx, req.ConversationID, req.MessageID, s.userID)
		resp.Payload = map[string]interface{}{"message_id": req.MessageID, "changed": changed}

	case push.TypingStart, push.TypingStop:
		err = h.messageUC.Typing(ctx, req.ConversationID, s.userID, req.Action == push.TypingStart)

	// 進入交易房間, 收房間廣播
	case push.JoinRoom:
		if req.TransactionID == "" {
			resp.Error = "transaction_id is required"
			return resp
		}
		if !s.rooms[req.TransactionID] {
			// 只有買賣雙方能收交易房間的廣播
			if err = h.canJoin(ctx, req.TransactionID, s.userID); err != nil {
				break
			}
			if err = s.sub.Join(ctx, push.RoomChannel(req.TransactionID)); err == nil {
				s.rooms[req.TransactionID] = true
			}
		}
		resp.Payload = map[string]string{"transaction_id": req.TransactionID}

	case push.LeaveRoom:
		if s.rooms[req.TransactionID] {
			if err = s.sub.Leave(ctx, push.RoomChannel(req.TransactionID)); err == nil {
				delete(s.rooms, req.TransactionID)
			}
		}
		resp.Payload = map[string]string{"transaction_id": req.TransactionID}

	default:
		resp.Action = push.ActionError
		resp.Error = "unknown action " + string(req.Action)
		return resp
	}

	if err != nil {
		logger.Log.Warn("websocket err", zap.String("userID", s.userID), zap.String("action", string(req.Action)), zap.Error(err))
		resp.Error = err.Error()
		resp.Payload = nil
		return resp
	}
	resp.Success = true
	return resp
}

func (h *ChatWebsocketHandler) canJoin(ctx context.Context, transactionID, userID string) error {
	tx, err := h.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.RoleOf(userID) == "" {
		return escrowdomain.ErrForbidden
	}
	return nil
}
