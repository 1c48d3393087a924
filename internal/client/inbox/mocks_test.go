package inbox

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	chatdomain "escrow_trade_service/internal/chat/domain"
	"escrow_trade_service/internal/client/api"
	pushclient "escrow_trade_service/internal/client/push"
	notificationdomain "escrow_trade_service/internal/notification/domain"
	"escrow_trade_service/internal/push"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) ListConversations(ctx context.Context) ([]*chatdomain.Conversation, error) {
	args := m.Called(ctx)
	if args.Get(0) != nil {
		return args.Get(0).([]*chatdomain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) ListMessages(ctx context.Context, conversationID string) ([]*chatdomain.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) != nil {
		return args.Get(0).([]*chatdomain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) SendMessage(ctx context.Context, msg *chatdomain.Message) (*chatdomain.Message, error) {
	args := m.Called(ctx, msg)
	if fn, ok := args.Get(0).(func(*chatdomain.Message) *chatdomain.Message); ok {
		return fn(msg), args.Error(1)
	}
	if args.Get(0) != nil {
		return args.Get(0).(*chatdomain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) MarkMessageRead(ctx context.Context, conversationID, messageID string) error {
	return m.Called(ctx, conversationID, messageID).Error(0)
}

func (m *MockAPI) MarkConversationRead(ctx context.Context, conversationID string) (int64, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAPI) UploadFile(ctx context.Context, conversationID, name string, r io.Reader, size int64, progress api.ProgressFunc) (*chatdomain.Attachment, error) {
	args := m.Called(ctx, conversationID, name, r, size, progress)
	if args.Get(0) != nil {
		return args.Get(0).(*chatdomain.Attachment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) ListNotifications(ctx context.Context) ([]*notificationdomain.Notification, error) {
	args := m.Called(ctx)
	if args.Get(0) != nil {
		return args.Get(0).([]*notificationdomain.Notification), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) MarkNotificationRead(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAPI) MarkAllNotificationsRead(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAPI) DeleteNotification(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAPI) ClearNotifications(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// fakeChannel 直接呼叫 handler, 模擬 push channel
type fakeChannel struct {
	mu        sync.Mutex
	handlers  map[push.Action][]pushclient.Handler
	listeners []func(bool)
}

func (f *fakeChannel) On(action push.Action, h pushclient.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[push.Action][]pushclient.Handler)
	}
	f.handlers[action] = append(f.handlers[action], h)
	idx := len(f.handlers[action]) - 1
	return func() {
		f.mu.Lock()
		f.handlers[action][idx] = nil
		f.mu.Unlock()
	}
}

func (f *fakeChannel) OnConnectivity(fn func(bool)) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeChannel) fire(t *testing.T, action push.Action, payload interface{}) {
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	f.mu.Lock()
	hs := append([]pushclient.Handler(nil), f.handlers[action]...)
	f.mu.Unlock()
	for _, h := range hs {
		if h != nil {
			h(push.Envelope{Action: action, Success: true, Payload: raw})
		}
	}
}

func (f *fakeChannel) setOnline(online bool) {
	f.mu.Lock()
	ls := append(([]func(bool))(nil), f.listeners...)
	f.mu.Unlock()
	for _, fn := range ls {
		fn(online)
	}
}
