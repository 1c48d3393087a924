package app

import (
	"context"
	"errors"
	"time"

	"escrow_trade_service/internal/notification/domain"
	"escrow_trade_service/internal/notification/repository"
	"escrow_trade_service/internal/push"

	"github.com/google/uuid"
)

// DefaultListLimit notifications per list call
const DefaultListLimit = 100

// NotificationUseCase 使用者通知
type NotificationUseCase struct {
	repo repository.NotificationRepository
	pub  push.Publisher
	now  func() time.Time
}

// NewNotificationUseCase init notification use case
func NewNotificationUseCase(repo repository.NotificationRepository, pub push.Publisher) *NotificationUseCase {
	return &NotificationUseCase{repo: repo, pub: pub, now: time.Now}
}

// Create 儲存通知並推播 system_notification.
// 有 ClientID 時重送會回傳既有通知, replay = true, 不再推播.
func (uc *NotificationUseCase) Create(ctx context.Context, n *domain.Notification) (*domain.Notification, bool, error) {
	if err := n.Normalize(); err != nil {
		return nil, false, err
	}

	if n.ClientID != "" {
		existing, err := uc.repo.FindByClientID(ctx, n.UserID, n.ClientID)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, domain.ErrNotificationNotFound) {
			return nil, false, err
		}
	}

	n.ID = uuid.New().String()
	n.Read = false
	n.CreatedAt = uc.now().UTC().Truncate(time.Millisecond)
	n.UpdatedAt = n.CreatedAt
	n.State = ""

	if err := uc.repo.Insert(ctx, n); err != nil {
		if errors.Is(err, domain.ErrDuplicateClientID) {
			existing, ferr := uc.repo.FindByClientID(ctx, n.UserID, n.ClientID)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, true, nil
		}
		return nil, false, err
	}

	push.PublishUsers(ctx, uc.pub, []string{n.UserID}, push.Event(push.SystemNotification, n))
	return n, false, nil
}

// List 由新到舊
func (uc *NotificationUseCase) List(ctx context.Context, userID string, limit int64) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return uc.repo.List(ctx, userID, limit)
}

func (uc *NotificationUseCase) stamp() time.Time {
	return uc.now().UTC().Truncate(time.Millisecond)
}

// MarkRead 回傳是否從未讀變已讀
func (uc *NotificationUseCase) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	return uc.repo.MarkRead(ctx, userID, id, uc.stamp())
}

// MarkAllRead 回傳變更筆數
func (uc *NotificationUseCase) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return uc.repo.MarkAllRead(ctx, userID, uc.stamp())
}

// Delete 刪除單筆
func (uc *NotificationUseCase) Delete(ctx context.Context, userID, id string) error {
	return uc.repo.Delete(ctx, userID, id)
}

// Clear 刪除使用者全部通知
func (uc *NotificationUseCase) Clear(ctx context.Context, userID string) (int64, error) {
	return uc.repo.DeleteAll(ctx, userID)
}

// UnreadCount 未讀數
func (uc *NotificationUseCase) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return uc.repo.CountUnread(ctx, userID)
}
