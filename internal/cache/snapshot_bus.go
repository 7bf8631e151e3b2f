package cache

import (
	"context"
	"encoding/json"

	"perfassess/internal/model"
	"perfassess/internal/platform/logger"

	"github.com/redis/go-redis/v9"
)

const snapshotChannel = "perfassess:snapshots"

// SnapshotBus fans snapshots out to every server replica so observers
// connected anywhere see every session
type SnapshotBus interface {
	Publish(ctx context.Context, snap *model.PerformanceAssessment) error
	// Subscribe calls fn for snapshots published by other replicas until ctx
	// is done
	Subscribe(ctx context.Context, fn func(snap *model.PerformanceAssessment)) error
}

type busMessage struct {
	Origin   string                       `json:"origin"`
	Snapshot *model.PerformanceAssessment `json:"snapshot"`
}

type snapshotBus struct {
	client  *redis.Client
	replica string
	log     *logger.Logger
}

// NewSnapshotBus creates a bus for this replica. Messages carrying the
// replica's own id are skipped on receipt.
func NewSnapshotBus(client *redis.Client, replica string, log *logger.Logger) SnapshotBus {
	return &snapshotBus{
		client:  client,
		replica: replica,
		log:     log,
	}
}

func (b *snapshotBus) Publish(ctx context.Context, snap *model.PerformanceAssessment) error {
	data, err := json.Marshal(busMessage{Origin: b.replica, Snapshot: snap})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, snapshotChannel, data).Err()
}

func (b *snapshotBus) Subscribe(ctx context.Context, fn func(snap *model.PerformanceAssessment)) error {
	sub := b.client.Subscribe(ctx, snapshotChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m busMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				b.log.Warn("dropping malformed snapshot message", "error", err)
				continue
			}
			if m.Origin == b.replica || m.Snapshot == nil {
				continue
			}
			fn(m.Snapshot)
		}
	}
}
