package app

import (
	"context"
	"testing"
	"time"

	"escrow_trade_service/internal/chat/domain"
	"escrow_trade_service/internal/push"
	"escrow_trade_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newConv() *domain.Conversation {
	return &domain.Conversation{ID: "c-1", TransactionID: "tx-1", Participants: []string{"buyer", "seller"}}
}

func newMessageUC(conv *MockConversationRepository, msg *MockMessageRepository, pub *MockPublisher) *MessageUseCase {
	uc := NewMessageUseCase(conv, msg, pub)
	uc.now = func() time.Time { return fixedNow }
	return uc
}

func actionIs(action push.Action) interface{} {
	return mock.MatchedBy(func(r push.Response) bool { return r.Action == action })
}

func TestMessageUseCase_Send(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()

	t.Run("新訊息寫入並推播給所有參與者", func(t *testing.T) {
		convRepo, msgRepo, pub := new(MockConversationRepository), new(MockMessageRepository), new(MockPublisher)
		convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)
		msgRepo.On("FindByClientID", ctx, "c-1", "buyer", "tmp-1").Return(nil, domain.ErrMessageNotFound)
		msgRepo.On("Insert", ctx, mock.AnythingOfType("*domain.Message")).Return(nil)
		convRepo.On("UpdateLastMessage", ctx, "c-1", mock.Anything).Return(nil)
		pub.On("Publish", ctx, "escrow:user:buyer", actionIs(push.NewMessage)).Return(nil).Once()
		pub.On("Publish", ctx, "escrow:user:seller", actionIs(push.NewMessage)).Return(nil).Once()

		uc := newMessageUC(convRepo, msgRepo, pub)
		msg, replay, err := uc.Send(ctx, SendInput{ConversationID: "c-1", SenderID: "buyer", ClientID: "tmp-1", Content: "hello"})

		require.NoError(t, err)
		assert.False(t, replay)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "tmp-1", msg.ClientID)
		assert.Equal(t, "tx-1", msg.TransactionID)
		assert.Equal(t, fixedNow, msg.CreatedAt)
		assert.True(t, msg.Read)
		convRepo.AssertExpectations(t)
		msgRepo.AssertExpectations(t)
		pub.AssertExpectations(t)
	})

	t.Run("同 client_id 重送回傳既有訊息", func(t *testing.T) {
		convRepo, msgRepo, pub := new(MockConversationRepository), new(MockMessageRepository), new(MockPublisher)
		stored := &domain.Message{ID: "srv-42", ClientID: "tmp-1", ConversationID: "c-1", SenderID: "buyer", Content: "hello"}
		convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)
		msgRepo.On("FindByClientID", ctx, "c-1", "buyer", "tmp-1").Return(stored, nil)

		uc := newMessageUC(convRepo, msgRepo, pub)
		msg, replay, err := uc.Send(ctx, SendInput{ConversationID: "c-1", SenderID: "buyer", ClientID: "tmp-1", Content: "hello"})

		require.NoError(t, err)
		assert.True(t, replay)
		assert.Equal(t, "srv-42", msg.ID)
		msgRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("同時寫入撞 unique index", func(t *testing.T) {
		convRepo, msgRepo, pub := new(MockConversationRepository), new(MockMessageRepository), new(MockPublisher)
		stored := &domain.Message{ID: "srv-42", ClientID: "tmp-1", ConversationID: "c-1", SenderID: "buyer", Content: "hello"}
		convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)
		msgRepo.On("FindByClientID", ctx, "c-1", "buyer", "tmp-1").Return(nil, domain.ErrMessageNotFound).Once()
		msgRepo.On("Insert", ctx, mock.Anything).Return(domain.ErrDuplicateClientID)
		msgRepo.On("FindByClientID", ctx, "c-1", "buyer", "tmp-1").Return(stored, nil).Once()

		uc := newMessageUC(convRepo, msgRepo, pub)
		msg, replay, err := uc.Send(ctx, SendInput{ConversationID: "c-1", SenderID: "buyer", ClientID: "tmp-1", Content: "hello"})

		require.NoError(t, err)
		assert.True(t, replay)
		assert.Equal(t, "srv-42", msg.ID)
	})

	t.Run("空白內容被拒絕", func(t *testing.T) {
		convRepo, msgRepo, pub := new(MockConversationRepository), new(MockMessageRepository), new(MockPublisher)
		convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)

		uc := newMessageUC(convRepo, msgRepo, pub)
		_, _, err := uc.Send(ctx, SendInput{ConversationID: "c-1", SenderID: "buyer", Content: "   "})
		assert.ErrorIs(t, err, domain.ErrEmptyMessage)
		msgRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("只有附件可以送出", func(t *testing.T) {
		convRepo, msgRepo, pub := new(MockConversationRepository), new(MockMessageRepository), new(MockPublisher)
		convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)
		msgRepo.On("Insert", ctx, mock.Anything).Return(nil)
		convRepo.On("UpdateLastMessage", ctx, "c-1", mock.Anything).Return(nil)
		pub.On("Publish", ctx, mock.Anything, mock.Anything).Return(nil)

		uc := newMessageUC(convRepo, msgRepo, pub)
		msg, _, err := uc.Send(ctx, SendInput{
			ConversationID: "c-1",
			SenderID:       "buyer",
			Attachments:    []domain.Attachment{{Name: "receipt.pdf", Size: 10, MimeType: "application/pdf"}},
		})
		require.NoError(t, err)
		assert.Len(t, msg.Attachments, 1)
	})

	t.Run("非參與者", func(t *testing.T) {
		convRepo, msgRepo, pub := new(MockConversationRepository), new(MockMessageRepository), new(MockPublisher)
		convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)

		uc := newMessageUC(convRepo, msgRepo, pub)
		_, _, err := uc.Send(ctx, SendInput{ConversationID: "c-1", SenderID: "stranger", Content: "hi"})
		assert.ErrorIs(t, err, domain.ErrNotParticipant)
	})
}

func TestMessageUseCase_MarkRead(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()

	t.Run("狀態改變才推播回條", func(t *testing.T) {
		convRepo, msgRepo, pub := new(MockConversationRepository), new(MockMessageRepository), new(MockPublisher)
		convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)
		msgRepo.On("MarkRead", ctx, "c-1", "m-1", "seller").Return(true, nil)
		pub.On("Publish", ctx, mock.Anything, actionIs(push.MessageReadReceipt)).Return(nil).Twice()

		changed, err := newMessageUC(convRepo, msgRepo, pub).MarkRead(ctx, "c-1", "m-1", "seller")
		require.NoError(t, err)
		assert.True(t, changed)
		pub.AssertExpectations(t)
	})

	t.Run("已讀過不推播", func(t *testing.T) {
		convRepo, msgRepo, pub := new(MockConversationRepository), new(MockMessageRepository), new(MockPublisher)
		convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)
		msgRepo.On("MarkRead", ctx, "c-1", "m-1", "seller").Return(false, nil)

		changed, err := newMessageUC(convRepo, msgRepo, pub).MarkRead(ctx, "c-1", "m-1", "seller")
		require.NoError(t, err)
		assert.False(t, changed)
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("整個對話已讀", func(t *testing.T) {
		convRepo, msgRepo, pub := new(MockConversationRepository), new(MockMessageRepository), new(MockPublisher)
		convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)
		msgRepo.On("MarkAllRead", ctx, "c-1", "seller").Return(int64(5), nil)
		pub.On("Publish", ctx, mock.Anything, mock.MatchedBy(func(r push.Response) bool {
			rr, ok := r.Payload.(push.ReadReceipt)
			return r.Action == push.ConversationReadReceipt && ok && rr.Count == 5
		})).Return(nil).Twice()

		n, err := newMessageUC(convRepo, msgRepo, pub).MarkConversationRead(ctx, "c-1", "seller")
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		pub.AssertExpectations(t)
	})
}

func TestMessageUseCase_TypingAndList(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()

	t.Run("typing 只推給對方", func(t *testing.T) {
		convRepo, msgRepo, pub := new(MockConversationRepository), new(MockMessageRepository), new(MockPublisher)
		convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)
		pub.On("Publish", ctx, "escrow:user:seller", actionIs(push.TypingStart)).Return(nil).Once()

		require.NoError(t, newMessageUC(convRepo, msgRepo, pub).Typing(ctx, "c-1", "buyer", true))
		pub.AssertExpectations(t)
	})

	t.Run("List 依讀者填 read", func(t *testing.T) {
		convRepo, msgRepo, pub := new(MockConversationRepository), new(MockMessageRepository), new(MockPublisher)
		convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)
		msgRepo.On("List", ctx, "c-1", time.Time{}, int64(DefaultPageSize)).Return([]domain.Message{
			{ID: "m-1", SenderID: "buyer", ReadBy: []string{"buyer"}},
			{ID: "m-2", SenderID: "seller", ReadBy: []string{"seller"}},
			{ID: "m-3", SenderID: "seller", ReadBy: []string{"seller", "buyer"}},
		}, nil)

		msgs, err := newMessageUC(convRepo, msgRepo, pub).List(ctx, "c-1", "buyer", time.Time{}, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.True(t, msgs[0].Read)
		assert.False(t, msgs[1].Read)
		assert.True(t, msgs[2].Read)
	})
}
