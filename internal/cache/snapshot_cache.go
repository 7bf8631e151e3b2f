package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"perfassess/internal/model"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache keeps the latest snapshot of each session for late joining
// observers and for other replicas
type SnapshotCache interface {
	Set(ctx context.Context, snap *model.PerformanceAssessment) error
	Get(ctx context.Context, sessionID string) (*model.PerformanceAssessment, error)
	Delete(ctx context.Context, sessionID string) error
}

type snapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotCache(client *redis.Client, ttl time.Duration) SnapshotCache {
	return &snapshotCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *snapshotCache) key(sessionID string) string {
	return fmt.Sprintf("session:%s:snapshot", sessionID)
}

func (c *snapshotCache) Set(ctx context.Context, snap *model.PerformanceAssessment) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(snap.SessionID), data, c.ttl).Err()
}

// Get returns nil when nothing is cached
func (c *snapshotCache) Get(ctx context.Context, sessionID string) (*model.PerformanceAssessment, error) {
	data, err := c.client.Get(ctx, c.key(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap model.PerformanceAssessment
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *snapshotCache) Delete(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, c.key(sessionID)).Err()
}
