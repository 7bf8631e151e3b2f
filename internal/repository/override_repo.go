package repository

import (
	"context"
	"time"

	"perfassess/internal/model"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// OverrideRepo is the audit trail of evaluator overrides
type OverrideRepo interface {
	Save(ctx context.Context, rec *model.OverrideRecord) error
	ListBySession(ctx context.Context, sessionID string) ([]*model.OverrideRecord, error)
}

type overrideRepo struct {
	collection *mongo.Collection
}

func NewOverrideRepo(db *mongo.Database) OverrideRepo {
	return &overrideRepo{
		collection: db.Collection("overrides"),
	}
}

func (r *overrideRepo) Save(ctx context.Context, rec *model.OverrideRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}
	_, err := r.collection.InsertOne(ctx, rec)
	return err
}

// ListBySession returns overrides in the order they were received
func (r *overrideRepo) ListBySession(ctx context.Context, sessionID string) ([]*model.OverrideRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "receivedAt", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"sessionId": sessionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var recs []*model.OverrideRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
