package inbox

import (
	"context"
	"sync"
	"time"

	notificationdomain "escrow_trade_service/internal/notification/domain"
	"escrow_trade_service/internal/push"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/mirror"
	"escrow_trade_service/pkg/reconcile"

	"go.uber.org/zap"
)

// NotificationInbox notifications of one user, the scope is the user id
type NotificationInbox struct {
	userID string
	api    NotificationAPI
	store  *reconcile.Store[*notificationdomain.Notification]
	mirror *mirror.Collection[*notificationdomain.Notification]

	mu   sync.Mutex
	offs []func()
}

// NewNotificationInbox kv nil disables the mirror
func NewNotificationInbox(userID string, client NotificationAPI, kv mirror.KV, matchWindow time.Duration) *NotificationInbox {
	in := &NotificationInbox{
		userID: userID,
		api:    client,
		store: reconcile.NewStore(reconcile.Options[*notificationdomain.Notification]{
			MatchWindow: matchWindow,
		}),
	}
	if kv != nil {
		in.mirror = mirror.NewCollection[*notificationdomain.Notification](kv, mirror.KindNotifications)
	}
	in.offs = append(in.offs, in.store.Subscribe(func(ev reconcile.Event[*notificationdomain.Notification]) {
		if in.mirror == nil || ev.Kind == reconcile.EventCleared || ev.Scope == "" {
			return
		}
		if err := in.mirror.Save(context.Background(), in.userID, "", in.store.Snapshot(ev.Scope)); err != nil {
			logger.Log.Warn("save notification mirror", zap.Error(err))
		}
	}))
	return in
}

// Store underlying reconcile store
func (in *NotificationInbox) Store() *reconcile.Store[*notificationdomain.Notification] {
	return in.store
}

// Bind route system_notification into the store
func (in *NotificationInbox) Bind(ch Channel) {
	in.mu.Lock()
	in.offs = append(in.offs, ch.On(push.SystemNotification, in.onNotification))
	in.mu.Unlock()
}

// Close deregister every listener
func (in *NotificationInbox) Close() {
	in.mu.Lock()
	offs := in.offs
	in.offs = nil
	in.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

// Load network first, mirror fallback
func (in *NotificationInbox) Load(ctx context.Context) ([]*notificationdomain.Notification, error) {
	list, _, err := loadOrFallback("list notifications",
		func() ([]*notificationdomain.Notification, error) { return in.api.ListNotifications(ctx) },
		func() ([]*notificationdomain.Notification, error) {
			if in.mirror == nil {
				return nil, mirror.ErrNotFound
			}
			items, _, err := in.mirror.Load(ctx, in.userID, "")
			return items, err
		})
	if err != nil {
		return nil, err
	}
	in.store.Replace(in.userID, list)
	return in.Notifications(), nil
}

// Notifications newest first
func (in *NotificationInbox) Notifications() []*notificationdomain.Notification {
	list := in.store.Snapshot(in.userID)
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list
}

// Unread unread notifications
func (in *NotificationInbox) Unread() int {
	return in.store.Unread(in.userID)
}

// MarkRead local first, then the server
func (in *NotificationInbox) MarkRead(ctx context.Context, id string) error {
	changed, err := in.store.MarkRead(in.userID, id)
	if err != nil || !changed {
		return swallow("mark notification read", err)
	}
	return swallow("mark notification read", in.api.MarkNotificationRead(ctx, id))
}

// MarkAllRead returns how many local notifications flipped
func (in *NotificationInbox) MarkAllRead(ctx context.Context) (int, error) {
	n := in.store.MarkScopeRead(in.userID)
	_, err := in.api.MarkAllNotificationsRead(ctx)
	return n, swallow("mark all notifications read", err)
}

// Delete remove one notification
func (in *NotificationInbox) Delete(ctx context.Context, id string) error {
	in.store.Remove(in.userID, id)
	return swallow("delete notification", in.api.DeleteNotification(ctx, id))
}

// Clear remove every notification
func (in *NotificationInbox) Clear(ctx context.Context) error {
	in.store.Replace(in.userID, nil)
	_, err := in.api.ClearNotifications(ctx)
	return swallow("clear notifications", err)
}

// Logout drop memory state and the mirror
func (in *NotificationInbox) Logout(ctx context.Context) error {
	in.store.Clear()
	if in.mirror == nil {
		return nil
	}
	return in.mirror.Delete(ctx, in.userID, "")
}

func (in *NotificationInbox) onNotification(env push.Envelope) {
	var n notificationdomain.Notification
	if err := env.Decode(&n); err != nil {
		logger.Log.Warn("decode system_notification", zap.Error(err))
		return
	}
	if n.UserID != "" && n.UserID != in.userID {
		return
	}
	n.UserID = in.userID
	in.store.Ingest(&n)
}
