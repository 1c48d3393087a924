// Package inbox binds the reconcile store to the REST client, the push channel and the local mirror.
package inbox

import (
	"context"
	"errors"
	"io"

	chatdomain "escrow_trade_service/internal/chat/domain"
	"escrow_trade_service/internal/client/api"
	pushclient "escrow_trade_service/internal/client/push"
	notificationdomain "escrow_trade_service/internal/notification/domain"
	"escrow_trade_service/internal/push"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/mirror"

	"go.uber.org/zap"
)

// MessageAPI REST calls used by MessageInbox
type MessageAPI interface {
	ListConversations(ctx context.Context) ([]*chatdomain.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]*chatdomain.Message, error)
	SendMessage(ctx context.Context, msg *chatdomain.Message) (*chatdomain.Message, error)
	MarkMessageRead(ctx context.Context, conversationID, messageID string) error
	MarkConversationRead(ctx context.Context, conversationID string) (int64, error)
	UploadFile(ctx context.Context, conversationID, name string, r io.Reader, size int64, progress api.ProgressFunc) (*chatdomain.Attachment, error)
}

// NotificationAPI REST calls used by NotificationInbox
type NotificationAPI interface {
	ListNotifications(ctx context.Context) ([]*notificationdomain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) (int64, error)
	DeleteNotification(ctx context.Context, id string) error
	ClearNotifications(ctx context.Context) (int64, error)
}

// Channel push channel events used by the inboxes
type Channel interface {
	On(action push.Action, h pushclient.Handler) func()
	OnConnectivity(fn func(online bool)) func()
}

// ErrNoData network failed and the mirror has nothing for the scope
var ErrNoData = errors.New("no data available offline")

// swallow 授權錯誤往上拋, 其他錯誤記錄後吞掉
func swallow(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, api.ErrUnauthorized) {
		return err
	}
	logger.Log.Warn(op+" failed", zap.Error(err))
	return nil
}

// loadOrFallback network first, mirror on any non-authorization failure
func loadOrFallback[T any](op string, fetch func() ([]T, error), restore func() ([]T, error)) ([]T, bool, error) {
	items, err := fetch()
	if err == nil {
		return items, false, nil
	}
	if errors.Is(err, api.ErrUnauthorized) {
		return nil, false, err
	}
	logger.Log.Warn(op+" failed, using local mirror", zap.Error(err))
	cached, cerr := restore()
	if errors.Is(cerr, mirror.ErrNotFound) {
		return nil, true, errors.Join(ErrNoData, err)
	}
	if cerr != nil {
		return nil, true, errors.Join(cerr, err)
	}
	return cached, true, nil
}
