package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow_trade_service/internal/chat/domain"
	"escrow_trade_service/internal/chat/repository"
	"escrow_trade_service/pkg"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
)

// ConversationUseCase 對話列表與建立
type ConversationUseCase struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
}

// NewConversationUseCase init conversation use case
func NewConversationUseCase(convRepo repository.ConversationRepository, msgRepo repository.MessageRepository) *ConversationUseCase {
	return &ConversationUseCase{convRepo: convRepo, msgRepo: msgRepo}
}

// Open 取得交易的對話, 不存在就建立
func (uc *ConversationUseCase) Open(ctx context.Context, transactionID string, participants []string) (*domain.Conversation, error) {
	if transactionID == "" || len(participants) < 2 {
		return nil, fmt.Errorf("conversation needs a transaction and at least two participants")
	}

	conv, err := uc.convRepo.FindByTransaction(ctx, transactionID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, domain.ErrConversationNotFound) {
		return nil, err
	}

	uniq := make([]string, 0, len(participants))
	for _, p := range participants {
		if p != "" && !pkg.Contains(uniq, p) {
			uniq = append(uniq, p)
		}
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	conv = &domain.Conversation{
		ID:            uuid.New().String(),
		TransactionID: transactionID,
		Participants:  uniq,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := uc.convRepo.Create(ctx, conv); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return uc.convRepo.FindByTransaction(ctx, transactionID)
		}
		return nil, err
	}
	return conv, nil
}

// List 使用者的所有對話, 附上未讀數
func (uc *ConversationUseCase) List(ctx context.Context, userID string) ([]domain.Conversation, error) {
	convs, err := uc.convRepo.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	unread, err := uc.msgRepo.CountUnread(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		convs[i].UnreadCount = unread[convs[i].ID]
		if convs[i].LastMessage != nil {
			convs[i].LastMessage.ViewFor(userID)
		}
	}
	return convs, nil
}

// Get 單一對話, 非參與者回傳 ErrNotParticipant
func (uc *ConversationUseCase) Get(ctx context.Context, id, userID string) (*domain.Conversation, error) {
	conv, err := uc.convRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, domain.ErrNotParticipant
	}
	unread, err := uc.msgRepo.CountUnread(ctx, userID, []string{id})
	if err != nil {
		return nil, err
	}
	conv.UnreadCount = unread[id]
	return conv, nil
}
