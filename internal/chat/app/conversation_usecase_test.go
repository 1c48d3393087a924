package app

import (
	"context"
	"testing"

	"escrow_trade_service/internal/chat/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestConversationUseCase_Open(t *testing.T) {
	ctx := context.Background()

	t.Run("已存在直接回傳", func(t *testing.T) {
		convRepo, msgRepo := new(MockConversationRepository), new(MockMessageRepository)
		convRepo.On("FindByTransaction", ctx, "tx-1").Return(newConv(), nil)

		conv, err := NewConversationUseCase(convRepo, msgRepo).Open(ctx, "tx-1", []string{"buyer", "seller"})
		require.NoError(t, err)
		assert.Equal(t, "c-1", conv.ID)
		convRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("不存在就建立並去重參與者", func(t *testing.T) {
		convRepo, msgRepo := new(MockConversationRepository), new(MockMessageRepository)
		convRepo.On("FindByTransaction", ctx, "tx-2").Return(nil, domain.ErrConversationNotFound)
		convRepo.On("Create", ctx, mock.MatchedBy(func(c *domain.Conversation) bool {
			return c.TransactionID == "tx-2" && len(c.Participants) == 2
		})).Return(nil)

		conv, err := NewConversationUseCase(convRepo, msgRepo).Open(ctx, "tx-2", []string{"buyer", "seller", "buyer"})
		require.NoError(t, err)
		assert.Equal(t, []string{"buyer", "seller"}, conv.Participants)
		convRepo.AssertExpectations(t)
	})

	t.Run("參與者不足", func(t *testing.T) {
		_, err := NewConversationUseCase(nil, nil).Open(ctx, "tx-3", []string{"buyer"})
		assert.Error(t, err)
	})
}

func TestConversationUseCase_List(t *testing.T) {
	ctx := context.Background()
	convRepo, msgRepo := new(MockConversationRepository), new(MockMessageRepository)
	convRepo.On("ListByParticipant", ctx, "buyer").Return([]domain.Conversation{
		{ID: "c-1", Participants: []string{"buyer", "seller"}},
		{ID: "c-2", Participants: []string{"buyer", "other"}},
	}, nil)
	msgRepo.On("CountUnread", ctx, "buyer", []string{"c-1", "c-2"}).Return(map[string]int{"c-1": 5}, nil)

	convs, err := NewConversationUseCase(convRepo, msgRepo).List(ctx, "buyer")
	require.NoError(t, err)
	assert.Equal(t, 5, convs[0].UnreadCount)
	assert.Equal(t, 0, convs[1].UnreadCount)
}

func TestConversationUseCase_GetNotParticipant(t *testing.T) {
	ctx := context.Background()
	convRepo, msgRepo := new(MockConversationRepository), new(MockMessageRepository)
	convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)

	_, err := NewConversationUseCase(convRepo, msgRepo).Get(ctx, "c-1", "stranger")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
}
