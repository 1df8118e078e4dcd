package heartbeat

import (
	"sync"
	"time"

	"github.com/daviddao/pulsemail/pkg/model"
)

// Buffer is the per-bucket pre-merge cache: at most one pending (not
// yet flushed) heartbeat per bucket. Pending heartbeats live only in
// memory; losing one on crash costs at most one poll interval of data.
//
// Safe for concurrent use by multiple producers.
type Buffer struct {
	mu      sync.Mutex
	pending map[string]model.Event
}

// NewBuffer returns an empty pre-merge buffer.
func NewBuffer() *Buffer {
	return &Buffer{pending: make(map[string]model.Event)}
}

// Submit feeds one heartbeat into the buffer and returns the event to
// flush, if any. At most one flush is produced per call:
//
//   - first heartbeat for a bucket: stored as pending, no flush;
//   - merge succeeds and the pending interval had already accumulated
//     commitInterval: the merged result is flushed and ev restarts
//     accumulation;
//   - merge succeeds below the commit interval: the merged result
//     becomes the new pending, no flush;
//   - merge fails (data changed, or the gap exceeded pulsetime): the
//     old pending is flushed and ev becomes the new pending.
//
// The commit check deliberately inspects the pre-merge pending
// duration, matching the server-side merge window the pulsetime
// implies.
func (b *Buffer) Submit(bucketID string, ev model.Event, pulsetime, commitInterval time.Duration) (model.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, ok := b.pending[bucketID]
	if !ok {
		b.pending[bucketID] = ev
		return model.Event{}, false
	}

	merged, ok := Merge(prev, ev, pulsetime)
	if !ok {
		b.pending[bucketID] = ev
		return prev, true
	}
	if prev.Duration >= commitInterval {
		b.pending[bucketID] = ev
		return merged, true
	}
	b.pending[bucketID] = merged
	return model.Event{}, false
}

// Pending returns the current pending heartbeat for a bucket, if any.
// Diagnostic use only; the returned event may be flushed or replaced by
// a concurrent Submit immediately after.
func (b *Buffer) Pending(bucketID string) (model.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.pending[bucketID]
	return ev, ok
}
