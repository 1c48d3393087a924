package app

import (
	"context"
	"testing"
	"time"

	"escrow_trade_service/internal/notification/domain"
	"escrow_trade_service/internal/push"
	"escrow_trade_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newUseCase(repo *MockNotificationRepository, pub *MockPublisher) *NotificationUseCase {
	logger.SetNewNop()
	uc := NewNotificationUseCase(repo, pub)
	uc.now = func() time.Time { return fixedNow }
	return uc
}

func TestNotificationUseCase_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("寫入並推播給使用者", func(t *testing.T) {
		repo, pub := new(MockNotificationRepository), new(MockPublisher)
		repo.On("Insert", ctx, mock.AnythingOfType("*domain.Notification")).Return(nil)
		pub.On("Publish", ctx, "escrow:user:u1", mock.MatchedBy(func(r push.Response) bool {
			return r.Action == push.SystemNotification
		})).Return(nil).Once()

		n, replay, err := newUseCase(repo, pub).Create(ctx, &domain.Notification{UserID: "u1", Title: "hello"})
		require.NoError(t, err)
		assert.False(t, replay)
		assert.NotEmpty(t, n.ID)
		assert.Equal(t, fixedNow, n.CreatedAt)
		assert.Equal(t, n.CreatedAt, n.UpdatedAt)
		assert.Equal(t, domain.PriorityNormal, n.Priority)
		pub.AssertExpectations(t)
	})

	t.Run("相同 client id 不重複", func(t *testing.T) {
		repo, pub := new(MockNotificationRepository), new(MockPublisher)
		stored := &domain.Notification{ID: "n-1", ClientID: "c-1", UserID: "u1", Title: "hello"}
		repo.On("FindByClientID", ctx, "u1", "c-1").Return(stored, nil)

		n, replay, err := newUseCase(repo, pub).Create(ctx, &domain.Notification{UserID: "u1", ClientID: "c-1", Title: "hello"})
		require.NoError(t, err)
		assert.True(t, replay)
		assert.Equal(t, "n-1", n.ID)
		repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("同時寫入撞 index", func(t *testing.T) {
		repo, pub := new(MockNotificationRepository), new(MockPublisher)
		stored := &domain.Notification{ID: "n-1", ClientID: "c-1", UserID: "u1", Title: "hello"}
		repo.On("FindByClientID", ctx, "u1", "c-1").Return(nil, domain.ErrNotificationNotFound).Once()
		repo.On("Insert", ctx, mock.Anything).Return(domain.ErrDuplicateClientID)
		repo.On("FindByClientID", ctx, "u1", "c-1").Return(stored, nil).Once()

		n, replay, err := newUseCase(repo, pub).Create(ctx, &domain.Notification{UserID: "u1", ClientID: "c-1", Title: "hello"})
		require.NoError(t, err)
		assert.True(t, replay)
		assert.Equal(t, "n-1", n.ID)
	})

	t.Run("欄位錯誤", func(t *testing.T) {
		_, _, err := newUseCase(new(MockNotificationRepository), new(MockPublisher)).Create(ctx, &domain.Notification{Title: "x"})
		assert.ErrorIs(t, err, domain.ErrInvalidNotification)
	})
}

func TestNotificationUseCase_ReadAndDelete(t *testing.T) {
	ctx := context.Background()
	repo, pub := new(MockNotificationRepository), new(MockPublisher)
	repo.On("MarkRead", ctx, "u1", "n-1", fixedNow).Return(true, nil)
	repo.On("MarkAllRead", ctx, "u1", fixedNow).Return(int64(3), nil)
	repo.On("Delete", ctx, "u1", "n-2").Return(domain.ErrNotificationNotFound)
	repo.On("DeleteAll", ctx, "u1").Return(int64(4), nil)
	repo.On("List", ctx, "u1", int64(DefaultListLimit)).Return([]domain.Notification{}, nil)
	uc := newUseCase(repo, pub)

	changed, err := uc.MarkRead(ctx, "u1", "n-1")
	require.NoError(t, err)
	assert.True(t, changed)

	n, err := uc.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	assert.ErrorIs(t, uc.Delete(ctx, "u1", "n-2"), domain.ErrNotificationNotFound)

	n, err = uc.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	_, err = uc.List(ctx, "u1", 0)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}
