package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow_trade_service/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageRepository chat_messages collection
type MessageRepository interface {
	// Insert 寫入一筆訊息, (conversation, sender, client_id) 重複時回傳 ErrDuplicateClientID
	Insert(ctx context.Context, msg *domain.Message) error
	FindByID(ctx context.Context, conversationID, id string) (*domain.Message, error)
	FindByClientID(ctx context.Context, conversationID, senderID, clientID string) (*domain.Message, error)
	// List 依時間由舊到新, before 為零值時取最新 limit 筆
	List(ctx context.Context, conversationID string, before time.Time, limit int64) ([]domain.Message, error)
	// MarkRead 回傳是否真的從未讀變已讀
	MarkRead(ctx context.Context, conversationID, id, userID string) (bool, error)
	MarkAllRead(ctx context.Context, conversationID, userID string) (int64, error)
	// CountUnread 每個對話中 userID 未讀 (且不是自己送出) 的數量
	CountUnread(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error)
}

type chatMessageRepository struct {
	coll *mongo.Collection
}

// NewMongoChatMessageRepository create a MessageRepository
func NewMongoChatMessageRepository(db *mongo.Database) MessageRepository {
	return &chatMessageRepository{coll: db.Collection("chat_messages")}
}

// EnsureMessageIndexes idempotency key + listing index
func EnsureMessageIndexes(ctx context.Context, db *mongo.Database) error {
	idempotency := options.Index().SetUnique(true).
		SetPartialFilterExpression(bson.M{"client_id": bson.M{"$type": "string"}})

	_, err := db.Collection("chat_messages").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "sender_id", Value: 1}, {Key: "client_id", Value: 1}}, Options: idempotency},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return err
}

func (r *chatMessageRepository) Insert(ctx context.Context, msg *domain.Message) error {
	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}
	_, err := r.coll.InsertOne(ctx, msg)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicateClientID
	}
	return err
}

func (r *chatMessageRepository) FindByID(ctx context.Context, conversationID, id string) (*domain.Message, error) {
	return r.findOne(ctx, bson.M{"_id": id, "conversation_id": conversationID})
}

func (r *chatMessageRepository) FindByClientID(ctx context.Context, conversationID, senderID, clientID string) (*domain.Message, error) {
	return r.findOne(ctx, bson.M{"conversation_id": conversationID, "sender_id": senderID, "client_id": clientID})
}

func (r *chatMessageRepository) findOne(ctx context.Context, filter bson.M) (*domain.Message, error) {
	var msg domain.Message
	err := r.coll.FindOne(ctx, filter).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	return &msg, nil
}

func (r *chatMessageRepository) List(ctx context.Context, conversationID string, before time.Time, limit int64) ([]domain.Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	// 先取最新 limit 筆再反轉
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	msgs := []domain.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *chatMessageRepository) MarkRead(ctx context.Context, conversationID, id, userID string) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "conversation_id": conversationID},
		bson.M{"$addToSet": bson.M{"read_by": userID}},
	)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 0 {
		return false, domain.ErrMessageNotFound
	}
	return res.ModifiedCount > 0, nil
}

func (r *chatMessageRepository) MarkAllRead(ctx context.Context, conversationID, userID string) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{
			"conversation_id": conversationID,
			"sender_id":       bson.M{"$ne": userID},
			"read_by":         bson.M{"$ne": userID},
		},
		bson.M{"$addToSet": bson.M{"read_by": userID}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *chatMessageRepository) CountUnread(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "conversation_id", Value: bson.D{{Key: "$in", Value: conversationIDs}}},
			{Key: "sender_id", Value: bson.D{{Key: "$ne", Value: userID}}},
			{Key: "read_by", Value: bson.D{{Key: "$ne", Value: userID}}},
		}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$conversation_id"},
			{Key: "unread_count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate error: %w", err)
	}

	var rows []struct {
		ConversationID string `bson:"_id"`
		UnreadCount    int    `bson:"unread_count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("cursor All error: %w", err)
	}
	for _, row := range rows {
		out[row.ConversationID] = row.UnreadCount
	}
	return out, nil
}
