package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow_trade_service/internal/notification/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collection = "notifications"

// NotificationRepository notifications collection, every query is scoped by user
type NotificationRepository interface {
	Insert(ctx context.Context, n *domain.Notification) error
	FindByClientID(ctx context.Context, userID, clientID string) (*domain.Notification, error)
	// List 由新到舊
	List(ctx context.Context, userID string, limit int64) ([]domain.Notification, error)
	MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	Delete(ctx context.Context, userID, id string) error
	DeleteAll(ctx context.Context, userID string) (int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}

type notificationRepository struct {
	coll *mongo.Collection
}

// NewMongoNotificationRepository create NotificationRepository
func NewMongoNotificationRepository(db *mongo.Database) NotificationRepository {
	return &notificationRepository{coll: db.Collection(collection)}
}

// EnsureNotificationIndexes idempotency key + listing index
func EnsureNotificationIndexes(ctx context.Context, db *mongo.Database) error {
	idempotency := options.Index().SetUnique(true).
		SetPartialFilterExpression(bson.M{"client_id": bson.M{"$type": "string"}})

	_, err := db.Collection(collection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "client_id", Value: 1}}, Options: idempotency},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return err
}

func (r *notificationRepository) Insert(ctx context.Context, n *domain.Notification) error {
	_, err := r.coll.InsertOne(ctx, n)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicateClientID
	}
	return err
}

func (r *notificationRepository) FindByClientID(ctx context.Context, userID, clientID string) (*domain.Notification, error) {
	var n domain.Notification
	err := r.coll.FindOne(ctx, bson.M{"user_id": userID, "client_id": clientID}).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find notification: %w", err)
	}
	return &n, nil
}

func (r *notificationRepository) List(ctx context.Context, userID string, limit int64) ([]domain.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := r.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	out := []domain.Notification{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	// 只更新未讀的, 已讀的 updated_at 不動
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID, "read": false},
		bson.M{"$set": bson.M{"read": true, "updated_at": at}},
	)
	if err != nil {
		return false, err
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": id, "user_id": userID})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, domain.ErrNotificationNotFound
	}
	return false, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"user_id": userID, "read": false},
		bson.M{"$set": bson.M{"read": true, "updated_at": at}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *notificationRepository) Delete(ctx context.Context, userID, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id, "user_id": userID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *notificationRepository) DeleteAll(ctx context.Context, userID string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{"user_id": userID, "read": false})
}
