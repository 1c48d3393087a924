package app

import (
	"context"
	"errors"
	"time"

	"escrow_trade_service/internal/chat/domain"
	"escrow_trade_service/internal/chat/repository"
	"escrow_trade_service/internal/push"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultPageSize messages per page when the caller gives none
const DefaultPageSize = 50

// SendInput 送出訊息的參數
type SendInput struct {
	ConversationID string
	SenderID       string
	ClientID       string
	Content        string
	Attachments    []domain.Attachment
}

// MessageUseCase 負責處理聊天訊息
type MessageUseCase struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	pub      push.Publisher
	now      func() time.Time
}

// NewMessageUseCase init message use case
func NewMessageUseCase(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	pub push.Publisher,
) *MessageUseCase {
	return &MessageUseCase{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		pub:      pub,
		now:      time.Now,
	}
}

func (uc *MessageUseCase) conversationFor(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	conv, err := uc.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, domain.ErrNotParticipant
	}
	return conv, nil
}

// Send 儲存訊息並推播 new_message 給所有參與者 (含自己的其他連線).
// 同一個 (conversation, sender, client_id) 重送時回傳既有訊息, replay = true.
func (uc *MessageUseCase) Send(ctx context.Context, in SendInput) (msg *domain.Message, replay bool, err error) {
	conv, err := uc.conversationFor(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return nil, false, err
	}

	msg = &domain.Message{
		ID:             uuid.New().String(),
		ClientID:       in.ClientID,
		ConversationID: conv.ID,
		TransactionID:  conv.TransactionID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Attachments:    in.Attachments,
		CreatedAt:      uc.now().UTC().Truncate(time.Millisecond),
		ReadBy:         []string{in.SenderID},
	}
	if err := msg.Validate(); err != nil {
		return nil, false, err
	}

	if in.ClientID != "" {
		existing, err := uc.msgRepo.FindByClientID(ctx, conv.ID, in.SenderID, in.ClientID)
		if err == nil {
			metrics.RecordMessage(true)
			return existing.ViewFor(in.SenderID), true, nil
		}
		if !errors.Is(err, domain.ErrMessageNotFound) {
			return nil, false, err
		}
	}

	if err := uc.msgRepo.Insert(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrDuplicateClientID) {
			// 同時兩個請求, 另一個先寫入
			existing, ferr := uc.msgRepo.FindByClientID(ctx, conv.ID, in.SenderID, in.ClientID)
			if ferr != nil {
				return nil, false, ferr
			}
			metrics.RecordMessage(true)
			return existing.ViewFor(in.SenderID), true, nil
		}
		return nil, false, err
	}
	metrics.RecordMessage(false)

	if err := uc.convRepo.UpdateLastMessage(ctx, conv.ID, msg); err != nil {
		logger.Log.Warn("update last message failed", zap.String("conversation", conv.ID), zap.Error(err))
	}

	push.PublishUsers(ctx, uc.pub, conv.Participants, push.Event(push.NewMessage, msg))
	return msg.ViewFor(in.SenderID), false, nil
}

// List 取得對話訊息, 依時間由舊到新
func (uc *MessageUseCase) List(ctx context.Context, conversationID, userID string, before time.Time, limit int64) ([]*domain.Message, error) {
	if _, err := uc.conversationFor(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	msgs, err := uc.msgRepo.List(ctx, conversationID, before, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Message, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].ViewFor(userID))
	}
	return out, nil
}

// MarkRead 單則已讀, 狀態有變才推播 message_read_receipt
func (uc *MessageUseCase) MarkRead(ctx context.Context, conversationID, messageID, userID string) (bool, error) {
	conv, err := uc.conversationFor(ctx, conversationID, userID)
	if err != nil {
		return false, err
	}
	changed, err := uc.msgRepo.MarkRead(ctx, conversationID, messageID, userID)
	if err != nil || !changed {
		return false, err
	}

	push.PublishUsers(ctx, uc.pub, conv.Participants, push.Event(push.MessageReadReceipt, push.ReadReceipt{
		ConversationID: conversationID,
		MessageID:      messageID,
		ReaderID:       userID,
	}))
	return true, nil
}

// MarkConversationRead 整個對話已讀, 回傳變更筆數
func (uc *MessageUseCase) MarkConversationRead(ctx context.Context, conversationID, userID string) (int64, error) {
	conv, err := uc.conversationFor(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	n, err := uc.msgRepo.MarkAllRead(ctx, conversationID, userID)
	if err != nil || n == 0 {
		return 0, err
	}

	push.PublishUsers(ctx, uc.pub, conv.Participants, push.Event(push.ConversationReadReceipt, push.ReadReceipt{
		ConversationID: conversationID,
		ReaderID:       userID,
		Count:          n,
	}))
	return n, nil
}

// Typing 推播 typing_start / typing_stop 給其他參與者
func (uc *MessageUseCase) Typing(ctx context.Context, conversationID, userID string, start bool) error {
	conv, err := uc.conversationFor(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	action := push.TypingStop
	if start {
		action = push.TypingStart
	}
	push.PublishUsers(ctx, uc.pub, conv.Others(userID), push.Event(action, push.Typing{
		ConversationID: conversationID,
		UserID:         userID,
	}))
	return nil
}
