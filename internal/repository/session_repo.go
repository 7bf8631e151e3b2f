package repository

import (
	"context"
	"time"

	"perfassess/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SessionRepo persists session lifecycle records
type SessionRepo interface {
	Create(ctx context.Context, rec *model.SessionRecord) error
	GetByID(ctx context.Context, id string) (*model.SessionRecord, error)
	MarkStarted(ctx context.Context, id string, at time.Time) error
	MarkEnded(ctx context.Context, id, reason string, score *model.GradedScoreNode, at time.Time) error
	List(ctx context.Context, status model.SessionStatus, limit int) ([]*model.SessionRecord, error)
}

type sessionRepo struct {
	collection *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) SessionRepo {
	return &sessionRepo{
		collection: db.Collection("sessions"),
	}
}

func (r *sessionRepo) Create(ctx context.Context, rec *model.SessionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Status == "" {
		rec.Status = model.SessionCreated
	}
	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec, opts)
	return err
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *sessionRepo) MarkStarted(ctx context.Context, id string, at time.Time) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"status": model.SessionActive, "startedAt": at},
	})
	return err
}

// MarkEnded is a no-op for records already ended so the first reason sticks
func (r *sessionRepo) MarkEnded(ctx context.Context, id, reason string, score *model.GradedScoreNode, at time.Time) error {
	set := bson.M{"status": model.SessionEnded, "endedAt": at, "endReason": reason}
	if score != nil {
		set["score"] = score
	}
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$ne": model.SessionEnded}},
		bson.M{"$set": set},
	)
	return err
}

// List returns the newest records first; an empty status matches all
func (r *sessionRepo) List(ctx context.Context, status model.SessionStatus, limit int) ([]*model.SessionRecord, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var recs []*model.SessionRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
