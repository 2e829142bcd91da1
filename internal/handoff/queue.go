package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
)

// QueueEntryTTL is how long an enqueued handoff survives before the cache
// backend may expire the key.
const QueueEntryTTL = 30 * 24 * time.Hour

// queueEntry is what gets serialized as a sorted-set member. Priority and
// an insertion sequence are folded into the score itself so that ties are
// still broken by insertion order even though scores are compared purely
// numerically by the backend.
type queueEntry struct {
	Params   HandoffParams `json:"params"`
	Priority int           `json:"priority"`
	Sequence int64         `json:"sequence"`
}

// Queue is the per-workspace handoff priority queue, stored as a
// CacheBackend sorted set. PeekAndPop is atomic via the backend's ZPopMin —
// never a read of the score range, since multiple entries may share a
// priority.
type Queue struct {
	backend cache.CacheBackend
}

// NewQueue wraps a CacheBackend as a handoff priority queue.
func NewQueue(backend cache.CacheBackend) *Queue {
	return &Queue{backend: backend}
}

func queueKey(workspaceID string) string {
	return fmt.Sprintf("handoff-queue:%s", workspaceID)
}

// Enqueue adds params at the given priority (lower score = higher
// priority). The sequence component keeps the key unique per call so equal
// priorities don't collide as sorted-set members.
func (q *Queue) Enqueue(ctx context.Context, workspaceID string, params HandoffParams, priority int, sequence int64) error {
	entry := queueEntry{Params: params, Priority: priority, Sequence: sequence}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	score := float64(priority) + float64(sequence)/1e12 // sub-priority tiebreak, preserves insertion order within a priority
	key := queueKey(workspaceID)
	if err := q.backend.ZAdd(ctx, key, score, string(raw)); err != nil {
		return err
	}
	return q.backend.Expire(ctx, key, QueueEntryTTL)
}

// PeekAndPop atomically removes and returns the lowest-scored entry, or
// ok=false if the queue is empty.
func (q *Queue) PeekAndPop(ctx context.Context, workspaceID string) (HandoffParams, bool, error) {
	member, _, ok, err := q.backend.ZPopMin(ctx, queueKey(workspaceID))
	if err != nil || !ok {
		return HandoffParams{}, false, err
	}
	var entry queueEntry
	if err := json.Unmarshal([]byte(member), &entry); err != nil {
		return HandoffParams{}, false, err
	}
	return entry.Params, true, nil
}

// Depth returns the current queue length.
func (q *Queue) Depth(ctx context.Context, workspaceID string) (int64, error) {
	return q.backend.ZCard(ctx, queueKey(workspaceID))
}

// List returns every queued entry without removing any (diagnostic / admin
// use), ordered by score.
func (q *Queue) List(ctx context.Context, workspaceID string) ([]HandoffParams, error) {
	raw, err := q.backend.ZRangeByScore(ctx, queueKey(workspaceID), -1e18, 1e18)
	if err != nil {
		return nil, err
	}
	out := make([]HandoffParams, 0, len(raw))
	for _, r := range raw {
		var entry queueEntry
		if err := json.Unmarshal([]byte(r), &entry); err != nil {
			return nil, err
		}
		out = append(out, entry.Params)
	}
	return out, nil
}
