// Package heartbeat implements time-windowed coalescing of heartbeat
// events.
//
// Watchers observe state at a fixed poll rate, so most consecutive
// heartbeats describe the same activity. Two rules turn that stream
// into a bounded number of network writes:
//
//   - Merge: two data-equal heartbeats whose gap is at most the
//     pulsetime collapse into one interval (Merge).
//
//   - Commit: a merged-but-unflushed interval is forced out once its
//     accumulated duration reaches the commit interval (Buffer.Submit),
//     bounding how stale the server's view can get.
//
// Merge is a pure function; Buffer holds the per-bucket pending state
// and is safe for concurrent producers.
package heartbeat

import (
	"time"

	"github.com/daviddao/pulsemail/pkg/model"
)

// Merge attempts to coalesce next into prev. It succeeds iff the two
// events carry equal data and next starts within prev's interval
// extended by pulsetime, but never before prev (merging does not go
// backward in time).
//
// The merged event keeps prev's timestamp and data; its duration grows
// to cover next's end, and never shrinks:
//
//	duration = max(prev.Duration, next.End() - prev.Timestamp)
//
// A false return means the caller must flush prev and start a new
// pending heartbeat from next.
func Merge(prev, next model.Event, pulsetime time.Duration) (model.Event, bool) {
	if !prev.DataEquals(next) {
		return model.Event{}, false
	}
	if next.Timestamp.Before(prev.Timestamp) {
		return model.Event{}, false
	}
	if next.Timestamp.After(prev.End().Add(pulsetime)) {
		return model.Event{}, false
	}
	merged := model.Event{
		Timestamp: prev.Timestamp,
		Duration:  prev.Duration,
		Data:      prev.Data,
	}
	if span := next.End().Sub(prev.Timestamp); span > merged.Duration {
		merged.Duration = span
	}
	return merged, true
}
