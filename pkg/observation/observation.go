// Package observation feeds raw observations into the crystallization
// pipeline. A Source hands out observations past a watermark; the watermark
// itself is persisted separately so a crashed batch replays instead of
// skipping.
package observation

import (
	"context"
	"sort"
	"sync"

	"github.com/cognidex/crystal/pkg/types"
)

// Source is a pull-based observation feed. Pull returns up to limit
// observations with sequence numbers strictly greater than afterSeq, in
// ascending sequence order. Notify signals that new observations may be
// available; it is a hint, not a guarantee, and receivers must tolerate
// spurious wakeups.
type Source interface {
	Pull(ctx context.Context, afterSeq uint64, limit int) ([]*types.Observation, error)
	Notify() <-chan struct{}
}

// Queue is an in-process Source backed by a slice. It assigns sequence
// numbers on publish and retains everything, which suits tests and
// single-process deployments where the upstream episodic store is local.
type Queue struct {
	mu      sync.RWMutex
	items   []*types.Observation
	nextSeq uint64
	notify  chan struct{}
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{nextSeq: 1, notify: make(chan struct{}, 1)}
}

// Publish validates and enqueues observations, assigning each a sequence
// number. Publishing is all-or-nothing per call.
func (q *Queue) Publish(observations ...*types.Observation) error {
	for _, o := range observations {
		if err := o.Validate(); err != nil {
			return err
		}
	}

	q.mu.Lock()
	for _, o := range observations {
		o.Sequence = q.nextSeq
		q.nextSeq++
		q.items = append(q.items, o)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
		// A pending wakeup already covers these observations.
	}
	return nil
}

// Pull implements Source.
func (q *Queue) Pull(ctx context.Context, afterSeq uint64, limit int) ([]*types.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	start := sort.Search(len(q.items), func(i int) bool {
		return q.items[i].Sequence > afterSeq
	})

	end := len(q.items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := make([]*types.Observation, end-start)
	copy(out, q.items[start:end])
	return out, nil
}

// Notify implements Source.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Len reports how many observations have been published.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}
