package app

import (
	"context"
	"io"
	"time"

	"escrow_trade_service/internal/chat/domain"
	escrowdomain "escrow_trade_service/internal/escrow/domain"
	"escrow_trade_service/internal/push"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/mock"
)

// MockConversationRepository Mock ConversationRepository
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	return m.Called(ctx, conv).Error(0)
}

func (m *MockConversationRepository) FindByID(ctx context.Context, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConversationRepository) FindByTransaction(ctx context.Context, transactionID string) (*domain.Conversation, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]domain.Conversation, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) UpdateLastMessage(ctx context.Context, id string, msg *domain.Message) error {
	return m.Called(ctx, id, msg).Error(0)
}

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Insert(ctx context.Context, msg *domain.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockMessageRepository) FindByID(ctx context.Context, conversationID, id string) (*domain.Message, error) {
	args := m.Called(ctx, conversationID, id)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageRepository) FindByClientID(ctx context.Context, conversationID, senderID, clientID string) (*domain.Message, error) {
	args := m.Called(ctx, conversationID, senderID, clientID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageRepository) List(ctx context.Context, conversationID string, before time.Time, limit int64) ([]domain.Message, error) {
	args := m.Called(ctx, conversationID, before, limit)
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockMessageRepository) MarkRead(ctx context.Context, conversationID, id, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, id, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageRepository) MarkAllRead(ctx context.Context, conversationID, userID string) (int64, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageRepository) CountUnread(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	args := m.Called(ctx, userID, conversationIDs)
	return args.Get(0).(map[string]int), args.Error(1)
}

// MockPublisher Mock push.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, channel string, resp push.Response) error {
	return m.Called(ctx, channel, resp).Error(0)
}

// MockObjectStore Mock ObjectStore
type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) PutStream(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (int64, error) {
	args := m.Called(ctx, objectName, r, size, contentType)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockObjectStore) PresignGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, objectName, expiry)
	return args.String(0), args.Error(1)
}

// MockRabbitRepo Mock database.RabbitRepo
type MockRabbitRepo struct {
	mock.Mock
}

func (m *MockRabbitRepo) GetRabbit() *amqp.Channel {
	return nil
}

func (m *MockRabbitRepo) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, mandatory, immediate, msg).Error(0)
}

// MockTransactionFinder Mock TransactionFinder
type MockTransactionFinder struct {
	mock.Mock
}

func (m *MockTransactionFinder) GetByID(ctx context.Context, id string) (*escrowdomain.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) != nil {
		return args.Get(0).(*escrowdomain.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}
