package service

import (
	"context"
	"sync"
	"time"

	"perfassess/internal/model"
)

type fakeSessionRepo struct {
	mu   sync.Mutex
	recs map[string]*model.SessionRecord
	fail error
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{recs: make(map[string]*model.SessionRecord)}
}

func (r *fakeSessionRepo) Create(_ context.Context, rec *model.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	cp := *rec
	r.recs[rec.ID] = &cp
	return nil
}

func (r *fakeSessionRepo) GetByID(_ context.Context, id string) (*model.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeSessionRepo) MarkStarted(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.recs[id]; ok {
		rec.Status = model.SessionActive
		rec.StartedAt = &at
	}
	return nil
}

func (r *fakeSessionRepo) MarkEnded(_ context.Context, id, reason string, score *model.GradedScoreNode, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.recs[id]; ok && rec.Status != model.SessionEnded {
		rec.Status = model.SessionEnded
		rec.EndReason = reason
		rec.EndedAt = &at
		rec.Score = score
	}
	return nil
}

func (r *fakeSessionRepo) List(_ context.Context, status model.SessionStatus, _ int) ([]*model.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.SessionRecord
	for _, rec := range r.recs {
		if status == "" || rec.Status == status {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeSnapshotRepo struct {
	mu   sync.Mutex
	recs []*model.SnapshotRecord
}

func (r *fakeSnapshotRepo) Save(_ context.Context, rec *model.SnapshotRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *fakeSnapshotRepo) Latest(_ context.Context, sessionID string) (*model.SnapshotRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.recs) - 1; i >= 0; i-- {
		if r.recs[i].SessionID == sessionID {
			return r.recs[i], nil
		}
	}
	return nil, nil
}

func (r *fakeSnapshotRepo) ListBySession(_ context.Context, sessionID string, _ int) ([]*model.SnapshotRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.SnapshotRecord
	for _, rec := range r.recs {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeSnapshotRepo) causes(sessionID string) []model.UpdateCause {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.UpdateCause
	for _, rec := range r.recs {
		if rec.SessionID == sessionID {
			out = append(out, rec.Cause)
		}
	}
	return out
}

type fakeOverrideRepo struct {
	mu   sync.Mutex
	recs []*model.OverrideRecord
}

func (r *fakeOverrideRepo) Save(_ context.Context, rec *model.OverrideRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *fakeOverrideRepo) ListBySession(_ context.Context, sessionID string) ([]*model.OverrideRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.OverrideRecord
	for _, rec := range r.recs {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeSnapshotCache struct {
	mu    sync.Mutex
	snaps map[string]*model.PerformanceAssessment
}

func (c *fakeSnapshotCache) Set(_ context.Context, snap *model.PerformanceAssessment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snaps == nil {
		c.snaps = make(map[string]*model.PerformanceAssessment)
	}
	c.snaps[snap.SessionID] = snap
	return nil
}

func (c *fakeSnapshotCache) Get(_ context.Context, sessionID string) (*model.PerformanceAssessment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[sessionID], nil
}

func (c *fakeSnapshotCache) Delete(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, sessionID)
	return nil
}

type fakeAttentionCache struct {
	mu      sync.Mutex
	entries map[string][]model.AttentionEntry
}

func (c *fakeAttentionCache) Replace(_ context.Context, sessionID string, entries []model.AttentionEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string][]model.AttentionEntry)
	}
	c.entries[sessionID] = entries
	return nil
}

func (c *fakeAttentionCache) Top(_ context.Context, sessionID string, limit int) ([]model.AttentionEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.entries[sessionID]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (c *fakeAttentionCache) Delete(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
	return nil
}

// fakeBus loops published snapshots back as if another replica sent them
type fakeBus struct {
	mu        sync.Mutex
	published []*model.PerformanceAssessment
	remote    chan *model.PerformanceAssessment
}

func newFakeBus() *fakeBus {
	return &fakeBus{remote: make(chan *model.PerformanceAssessment, 8)}
}

func (b *fakeBus) Publish(_ context.Context, snap *model.PerformanceAssessment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, snap)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, fn func(snap *model.PerformanceAssessment)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-b.remote:
			fn(snap)
		}
	}
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

type sent struct {
	sessionID string
	msgType   string
	payload   interface{}
}

type recordingBroadcaster struct {
	mu           sync.Mutex
	sent         []sent
	disconnected []string
}

func (b *recordingBroadcaster) BroadcastToObservers(sessionID, msgType string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{sessionID, msgType, payload})
}

func (b *recordingBroadcaster) DisconnectSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected = append(b.disconnected, sessionID)
}

func (b *recordingBroadcaster) types(sessionID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, s := range b.sent {
		if s.sessionID == sessionID {
			out = append(out, s.msgType)
		}
	}
	return out
}

func (b *recordingBroadcaster) disconnects() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.disconnected...)
}
