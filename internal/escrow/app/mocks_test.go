package app

import (
	"context"

	chatdomain "escrow_trade_service/internal/chat/domain"
	"escrow_trade_service/internal/escrow/domain"
	"escrow_trade_service/internal/push"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
)

// MockTransactionRepo Mock TransactionRepo
type MockTransactionRepo struct {
	mock.Mock
}

func (m *MockTransactionRepo) AutoMigrate() error {
	return m.Called().Error(0)
}

func (m *MockTransactionRepo) Create(ctx context.Context, tx *domain.Transaction, created domain.Event) error {
	return m.Called(ctx, tx, created).Error(0)
}

func (m *MockTransactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTransactionRepo) ListByUser(ctx context.Context, userID string, status domain.Status) ([]domain.Transaction, error) {
	args := m.Called(ctx, userID, status)
	return args.Get(0).([]domain.Transaction), args.Error(1)
}

func (m *MockTransactionRepo) Transition(ctx context.Context, tx *domain.Transaction, from domain.Status, event domain.Event) error {
	return m.Called(ctx, tx, from, event).Error(0)
}

func (m *MockTransactionRepo) SetConversation(ctx context.Context, id, conversationID string) error {
	return m.Called(ctx, id, conversationID).Error(0)
}

func (m *MockTransactionRepo) Events(ctx context.Context, transactionID string) ([]domain.Event, error) {
	args := m.Called(ctx, transactionID)
	return args.Get(0).([]domain.Event), args.Error(1)
}

// MockEventWriter Mock kafka writer
type MockEventWriter struct {
	mock.Mock
}

func (m *MockEventWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return m.Called(ctx, msgs).Error(0)
}

// MockOpener Mock ConversationOpener
type MockOpener struct {
	mock.Mock
}

func (m *MockOpener) Open(ctx context.Context, transactionID string, participants []string) (*chatdomain.Conversation, error) {
	args := m.Called(ctx, transactionID, participants)
	if args.Get(0) != nil {
		return args.Get(0).(*chatdomain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockPublisher Mock push.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, channel string, resp push.Response) error {
	return m.Called(ctx, channel, resp).Error(0)
}
