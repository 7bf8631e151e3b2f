package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"perfassess/internal/model"

	"github.com/redis/go-redis/v9"
)

// unprioritized sorts nodes without a priority after every prioritized one
const unprioritized = 1 << 20

// AttentionCache ranks the nodes of a session that are below expectation.
// Lower priority values rank first.
type AttentionCache interface {
	Replace(ctx context.Context, sessionID string, entries []model.AttentionEntry) error
	Top(ctx context.Context, sessionID string, limit int) ([]model.AttentionEntry, error)
	Delete(ctx context.Context, sessionID string) error
}

type attentionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAttentionCache(client *redis.Client, ttl time.Duration) AttentionCache {
	return &attentionCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *attentionCache) key(sessionID string) string {
	return fmt.Sprintf("session:%s:attention", sessionID)
}

// Replace swaps the whole ranking in one transaction
func (c *attentionCache) Replace(ctx context.Context, sessionID string, entries []model.AttentionEntry) error {
	key := c.key(sessionID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(entries) == 0 {
			return nil
		}
		members := make([]redis.Z, len(entries))
		for i, e := range entries {
			members[i] = redis.Z{Score: attentionScore(e.Priority), Member: encodeMember(e)}
		}
		pipe.ZAdd(ctx, key, members...)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	return err
}

func (c *attentionCache) Top(ctx context.Context, sessionID string, limit int) ([]model.AttentionEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	results, err := c.client.ZRangeWithScores(ctx, c.key(sessionID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]model.AttentionEntry, 0, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, decodeMember(member, z.Score))
	}
	return entries, nil
}

func (c *attentionCache) Delete(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, c.key(sessionID)).Err()
}

func attentionScore(priority int) float64 {
	if priority <= 0 {
		return unprioritized
	}
	return float64(priority)
}

// members are "<node id>|<name>"; node ids are uuids and never hold a '|'
func encodeMember(e model.AttentionEntry) string {
	return e.NodeID + "|" + e.Name
}

func decodeMember(member string, score float64) model.AttentionEntry {
	id, name, _ := strings.Cut(member, "|")
	e := model.AttentionEntry{NodeID: id, Name: name}
	if score < unprioritized {
		e.Priority = int(score)
	}
	return e
}
