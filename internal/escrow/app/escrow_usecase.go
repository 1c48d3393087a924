package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	chatdomain "escrow_trade_service/internal/chat/domain"
	"escrow_trade_service/internal/escrow/domain"
	"escrow_trade_service/internal/escrow/repository"
	"escrow_trade_service/internal/push"
	errprocess "escrow_trade_service/pkg/err"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/metrics"
	"escrow_trade_service/pkg/token"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter *kafka.Writer
type EventWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ConversationOpener 建立交易對話 (chat ConversationUseCase)
type ConversationOpener interface {
	Open(ctx context.Context, transactionID string, participants []string) (*chatdomain.Conversation, error)
}

// CreateInput 建立交易的參數
type CreateInput struct {
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// EscrowUseCase 交易狀態機, 伺服器端是唯一的狀態來源
type EscrowUseCase struct {
	repo   repository.TransactionRepo
	events EventWriter
	opener ConversationOpener
	pub    push.Publisher
	now    func() time.Time
}

// NewEscrowUseCase init escrow use case, opener may be nil
func NewEscrowUseCase(repo repository.TransactionRepo, events EventWriter, opener ConversationOpener, pub push.Publisher) *EscrowUseCase {
	return &EscrowUseCase{
		repo:   repo,
		events: events,
		opener: opener,
		pub:    pub,
		now:    time.Now,
	}
}

// Create 建立交易, 呼叫者必須是買家或賣家
func (uc *EscrowUseCase) Create(ctx context.Context, in CreateInput, creatorID string) (*domain.Transaction, error) {
	now := uc.now().UTC()
	tx := &domain.Transaction{
		ID:          uuid.New().String(),
		BuyerID:     in.BuyerID,
		SellerID:    in.SellerID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Amount:      in.Amount,
		Currency:    strings.ToUpper(in.Currency),
		Status:      domain.StatusPendingPayment,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	if tx.RoleOf(creatorID) == "" {
		return nil, fmt.Errorf("%w: creator must be buyer or seller", domain.ErrForbidden)
	}

	created := domain.NewEvent(tx, domain.ActionCreate, "", creatorID, now)
	if err := uc.repo.Create(ctx, tx, created); err != nil {
		return nil, errprocess.Wrap("create transaction", err)
	}

	if uc.opener != nil {
		conv, err := uc.opener.Open(ctx, tx.ID, tx.Participants())
		if err != nil {
			logger.Log.Warn("open transaction conversation", zap.String("transaction", tx.ID), zap.Error(err))
		} else if err := uc.repo.SetConversation(ctx, tx.ID, conv.ID); err != nil {
			logger.Log.Warn("set transaction conversation", zap.String("transaction", tx.ID), zap.Error(err))
		} else {
			tx.ConversationID = conv.ID
		}
	}

	uc.emit(ctx, created)
	return tx, nil
}

// Get 只有參與者與管理員能看
func (uc *EscrowUseCase) Get(ctx context.Context, id, userID, tokenRole string) (*domain.Transaction, error) {
	tx, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.RoleOf(userID) == "" && tokenRole != token.RoleAdmin {
		return nil, domain.ErrForbidden
	}
	return tx, nil
}

// List 使用者的交易
func (uc *EscrowUseCase) List(ctx context.Context, userID string, status domain.Status) ([]domain.Transaction, error) {
	return uc.repo.ListByUser(ctx, userID, status)
}

// History 交易的所有狀態事件
func (uc *EscrowUseCase) History(ctx context.Context, id, userID, tokenRole string) ([]domain.Event, error) {
	if _, err := uc.Get(ctx, id, userID, tokenRole); err != nil {
		return nil, err
	}
	return uc.repo.Events(ctx, id)
}

// Perform 執行動作. 交易的參與者依身分判斷角色, 非參與的管理員視為 arbiter.
func (uc *EscrowUseCase) Perform(ctx context.Context, id string, action domain.Action, actorID, tokenRole string) (*domain.Transaction, error) {
	tx, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	role := tx.RoleOf(actorID)
	if role == "" {
		if tokenRole != token.RoleAdmin {
			return nil, domain.ErrForbidden
		}
		role = domain.RoleArbiter
	}

	from := tx.Status
	to, err := domain.Next(from, action, role)
	if err != nil {
		return nil, err
	}

	now := uc.now().UTC()
	tx.Status = to
	tx.UpdatedAt = now
	event := domain.NewEvent(tx, action, from, actorID, now)
	if err := uc.repo.Transition(ctx, tx, from, event); err != nil {
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			return nil, err
		}
		return nil, errprocess.Wrap("transition "+string(action), err)
	}
	metrics.EscrowTransitions.WithLabelValues(string(from), string(to)).Inc()
	logger.Log.Info("escrow transition",
		zap.String("transaction", tx.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actorID),
	)

	// 房間內的連線馬上收到, 使用者通知交給 notification worker
	if err := uc.pub.Publish(ctx, push.RoomChannel(tx.ID), push.Event(push.TransactionStatusUpdate, event.Update())); err != nil {
		logger.Log.Warn("publish room update", zap.String("transaction", tx.ID), zap.Error(err))
	}
	uc.emit(ctx, event)
	return tx, nil
}

func (uc *EscrowUseCase) emit(ctx context.Context, event domain.Event) {
	if uc.events == nil {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		logger.Log.Errorf("marshal escrow event", err)
		return
	}
	if err := uc.events.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: body,
		Time:  event.OccurredAt,
	}); err != nil {
		logger.Log.Error("write escrow event",
			zap.String("transaction", event.TransactionID),
			zap.String("action", string(event.Action)),
			zap.Error(err),
		)
	}
}
