package repository

import (
	"context"
	"errors"
	"fmt"

	"escrow_trade_service/internal/escrow/domain"

	"gorm.io/gorm"
)

// TransactionRepo escrow_transactions + escrow_events
type TransactionRepo interface {
	AutoMigrate() error
	Create(ctx context.Context, tx *domain.Transaction, created domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	// ListByUser 使用者身為買家或賣家的交易, status 為空時不過濾
	ListByUser(ctx context.Context, userID string, status domain.Status) ([]domain.Transaction, error)
	// Transition 以 version 做樂觀鎖更新狀態並寫入事件, version 不符時回傳 ErrConcurrentUpdate
	Transition(ctx context.Context, tx *domain.Transaction, from domain.Status, event domain.Event) error
	SetConversation(ctx context.Context, id, conversationID string) error
	Events(ctx context.Context, transactionID string) ([]domain.Event, error)
}

type transactionRepo struct {
	db *gorm.DB
}

// NewTransactionRepo create TransactionRepo
func NewTransactionRepo(db *gorm.DB) TransactionRepo {
	return &transactionRepo{db: db}
}

// AutoMigrate 建立或更新兩張表
func (r *transactionRepo) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.Transaction{}, &domain.Event{})
}

func (r *transactionRepo) Create(ctx context.Context, tx *domain.Transaction, created domain.Event) error {
	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Create(tx).Error; err != nil {
			return err
		}
		return db.Create(&created).Error
	})
}

func (r *transactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := r.db.WithContext(ctx).First(&tx, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &tx, nil
}

func (r *transactionRepo) ListByUser(ctx context.Context, userID string, status domain.Status) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	q := r.db.WithContext(ctx).Where("buyer_id = ? OR seller_id = ?", userID, userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("updated_at DESC").Find(&txs).Error
	return txs, err
}

func (r *transactionRepo) Transition(ctx context.Context, tx *domain.Transaction, from domain.Status, event domain.Event) error {
	next := tx.Version + 1
	err := r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		res := db.Model(&domain.Transaction{}).
			Where("id = ? AND status = ? AND version = ?", tx.ID, from, tx.Version).
			Updates(map[string]interface{}{
				"status":     tx.Status,
				"version":    next,
				"updated_at": tx.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrConcurrentUpdate
		}
		return db.Create(&event).Error
	})
	if err != nil {
		return err
	}
	// commit 之後才更新呼叫端的 version
	tx.Version = next
	return nil
}

func (r *transactionRepo) SetConversation(ctx context.Context, id, conversationID string) error {
	return r.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("id = ?", id).
		Update("conversation_id", conversationID).Error
}

func (r *transactionRepo) Events(ctx context.Context, transactionID string) ([]domain.Event, error) {
	var events []domain.Event
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Order("id").Find(&events).Error
	return events, err
}
