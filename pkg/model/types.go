// Package model defines the core domain types for pulsemail.
//
// Pulsemail is a client-side delivery layer for activity heartbeats:
//
//   - A heartbeat is a timestamped observation of current state (active
//     window, app, AFK flag). Adjacent heartbeats carrying identical
//     data merge into a single duration-bearing interval, so a stream
//     of frequent observations collapses into a few events.
//
//   - Delivery is asynchronous and durable: flushed heartbeats become
//     queued requests on disk and survive process crashes. The server's
//     merge-on-ingest makes redelivery harmless, so the client only has
//     to guarantee at-least-once.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is a single heartbeat observation. Timestamp marks the start of
// the observed interval, Duration its length (zero for an instantaneous
// observation), and Data the observed state. Events are treated as
// immutable once constructed; merging produces a new Event.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration"`
	Data      map[string]any `json:"data"`
}

// eventJSON is the wire form: RFC 3339 timestamp, duration in seconds.
type eventJSON struct {
	Timestamp time.Time      `json:"timestamp"`
	Duration  float64        `json:"duration"`
	Data      map[string]any `json:"data"`
}

// MarshalJSON encodes the event with its duration as fractional seconds,
// the format the server's heartbeat endpoint expects.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		Timestamp: e.Timestamp,
		Duration:  e.Duration.Seconds(),
		Data:      e.Data,
	})
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w eventJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.Timestamp = w.Timestamp
	e.Duration = time.Duration(w.Duration * float64(time.Second))
	e.Data = w.Data
	return nil
}

// End returns the instant the observed interval ends.
func (e Event) End() time.Time { return e.Timestamp.Add(e.Duration) }

// DataEquals reports whether two events carry deeply equal data. Both
// mappings are normalized through JSON encoding before comparison, so a
// value stored as int and the same value decoded as float64 compare
// equal, matching how the server sees them.
func (e Event) DataEquals(other Event) bool {
	a, err := json.Marshal(e.Data)
	if err != nil {
		return false
	}
	b, err := json.Marshal(other.Data)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// QueuedRequest is one flush-ready POST: an endpoint path relative to
// the API root and its JSON payload. Only heartbeat endpoints are ever
// queued; everything else is sent synchronously.
type QueuedRequest struct {
	Endpoint string          `json:"endpoint"`
	Payload  json.RawMessage `json:"payload"`
}

// IsHeartbeat reports whether the request targets a heartbeat route.
// The durable queue refuses anything else.
func (r QueuedRequest) IsHeartbeat() bool {
	return strings.Contains(r.Endpoint, "/heartbeat")
}

// HeartbeatEndpoint builds the queued-request endpoint for a bucket,
// carrying the pulsetime the server should use when merging on ingest.
func HeartbeatEndpoint(bucketID string, pulsetime time.Duration) string {
	return fmt.Sprintf("buckets/%s/heartbeat?pulsetime=%g", bucketID, pulsetime.Seconds())
}

// Bucket is a registration record for a named, typed event stream
// (typically one per watcher per host). Buckets are created lazily on
// the first successful connection; creation is idempotent server-side.
type Bucket struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}
