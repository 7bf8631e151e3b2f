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

// SnapshotRepo archives published snapshots
type SnapshotRepo interface {
	Save(ctx context.Context, rec *model.SnapshotRecord) error
	Latest(ctx context.Context, sessionID string) (*model.SnapshotRecord, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.SnapshotRecord, error)
}

type snapshotRepo struct {
	collection *mongo.Collection
}

func NewSnapshotRepo(db *mongo.Database) SnapshotRepo {
	return &snapshotRepo{
		collection: db.Collection("snapshots"),
	}
}

func (r *snapshotRepo) Save(ctx context.Context, rec *model.SnapshotRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := r.collection.InsertOne(ctx, rec)
	return err
}

func (r *snapshotRepo) Latest(ctx context.Context, sessionID string) (*model.SnapshotRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	var rec model.SnapshotRecord
	err := r.collection.FindOne(ctx, bson.M{"sessionId": sessionID}, opts).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListBySession returns the newest snapshots first
func (r *snapshotRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.SnapshotRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"sessionId": sessionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var recs []*model.SnapshotRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
