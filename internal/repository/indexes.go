package repository

import (
	"context"

	"perfassess/internal/platform/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the indexes the repositories query by. Failures are
// logged and do not stop startup.
func EnsureIndexes(ctx context.Context, db *mongo.Database, log *logger.Logger) {
	createIndex(ctx, log, db.Collection("sessions"), bson.D{
		{Key: "status", Value: 1},
		{Key: "createdAt", Value: -1},
	})
	createIndex(ctx, log, db.Collection("snapshots"), bson.D{
		{Key: "sessionId", Value: 1},
		{Key: "createdAt", Value: -1},
	})
	createIndex(ctx, log, db.Collection("overrides"), bson.D{
		{Key: "sessionId", Value: 1},
		{Key: "receivedAt", Value: 1},
	})
	log.Info("mongo indexes ensured")
}

func createIndex(ctx context.Context, log *logger.Logger, coll *mongo.Collection, keys bson.D) {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys, Options: options.Index()})
	if err != nil {
		log.Warn("failed to create index", "collection", coll.Name(), "error", err)
	}
}
