package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// NewMongoDB create a new MongoDB connection
func NewMongoDB(ctx context.Context, c Connection, dbName string) (*MongoDB, error) {
	clientOpts := options.Client().ApplyURI(c.ConnectStr)

	var client *mongo.Client
	err := withRetry(c.RetryCount, c.RetryInterval, func() error {
		var err error
		client, err = mongo.Connect(ctx, clientOpts)
		if err != nil {
			return err
		}
		if err = client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(ctx)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB after retries: %w", err)
	}

	return &MongoDB{
		Client:   client,
		Database: client.Database(dbName),
	}, nil
}

// Ping primary read preference ping
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.Client.Ping(ctx, readpref.Primary())
}

// Close disenable mongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
