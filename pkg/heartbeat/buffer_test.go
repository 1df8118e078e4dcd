package heartbeat

import (
	"math/rand"
	"testing"
	"time"
)

const (
	pulse  = 60 * time.Second
	commit = 10 * time.Second
)

func TestSubmitFirstHeartbeatIsPending(t *testing.T) {
	b := NewBuffer()
	if _, ok := b.Submit("bkt", ev(0, 0, dataA), pulse, commit); ok {
		t.Fatal("first heartbeat must not flush")
	}
	pend, ok := b.Pending("bkt")
	if !ok {
		t.Fatal("expected a pending heartbeat")
	}
	if !pend.Timestamp.Equal(t0) {
		t.Fatalf("pending timestamp = %v, want %v", pend.Timestamp, t0)
	}
}

func TestSubmitMergesBelowCommitInterval(t *testing.T) {
	b := NewBuffer()
	b.Submit("bkt", ev(0, 0, dataA), pulse, commit)

	if _, ok := b.Submit("bkt", ev(5*time.Second, 0, dataA), pulse, commit); ok {
		t.Fatal("merge below commit interval must not flush")
	}
	pend, _ := b.Pending("bkt")
	if pend.Duration != 5*time.Second {
		t.Fatalf("pending duration = %v, want 5s", pend.Duration)
	}
}

func TestSubmitFlushesOnDataChange(t *testing.T) {
	// pulsetime=60s, commitInterval=10s; heartbeats at t=0 (A), t=5 (A),
	// t=20 (B): the first two merge into a 5s pending, the third flushes
	// it and takes its place.
	b := NewBuffer()
	b.Submit("bkt", ev(0, 0, dataA), pulse, commit)
	b.Submit("bkt", ev(5*time.Second, 0, dataA), pulse, commit)

	flushed, ok := b.Submit("bkt", ev(20*time.Second, 0, dataB), pulse, commit)
	if !ok {
		t.Fatal("data change must flush the old pending")
	}
	if !flushed.Timestamp.Equal(t0) || flushed.Duration != 5*time.Second {
		t.Fatalf("flushed = {%v %v}, want {%v 5s}", flushed.Timestamp, flushed.Duration, t0)
	}
	if !flushed.DataEquals(ev(0, 0, dataA)) {
		t.Fatal("flushed event must carry the old data")
	}

	pend, _ := b.Pending("bkt")
	if !pend.Timestamp.Equal(t0.Add(20*time.Second)) || pend.Duration != 0 {
		t.Fatalf("new pending = {%v %v}, want {t0+20s 0}", pend.Timestamp, pend.Duration)
	}
}

func TestSubmitFlushesAtCommitInterval(t *testing.T) {
	b := NewBuffer()
	b.Submit("bkt", ev(0, 0, dataA), pulse, commit)
	b.Submit("bkt", ev(10*time.Second, 0, dataA), pulse, commit) // pending now 10s

	// Pre-merge pending has accumulated >= commitInterval: this merge
	// flushes the merged result and restarts accumulation from the new
	// arrival.
	flushed, ok := b.Submit("bkt", ev(12*time.Second, 0, dataA), pulse, commit)
	if !ok {
		t.Fatal("pending at commit interval must flush on next merge")
	}
	if flushed.Duration != 12*time.Second {
		t.Fatalf("flushed duration = %v, want 12s (merged result)", flushed.Duration)
	}
	pend, _ := b.Pending("bkt")
	if !pend.Timestamp.Equal(t0.Add(12*time.Second)) || pend.Duration != 0 {
		t.Fatalf("pending after commit flush = {%v %v}", pend.Timestamp, pend.Duration)
	}
}

func TestSubmitChecksPreMergeDuration(t *testing.T) {
	// The commit check inspects the pending duration before merging: a
	// pending just below the interval absorbs a merge that pushes it
	// past the interval without flushing.
	b := NewBuffer()
	b.Submit("bkt", ev(0, 0, dataA), pulse, commit)
	b.Submit("bkt", ev(9*time.Second, 0, dataA), pulse, commit)

	if _, ok := b.Submit("bkt", ev(15*time.Second, 0, dataA), pulse, commit); ok {
		t.Fatal("pre-merge pending was 9s < commitInterval, must not flush")
	}
	pend, _ := b.Pending("bkt")
	if pend.Duration != 15*time.Second {
		t.Fatalf("pending duration = %v, want 15s", pend.Duration)
	}
}

func TestSubmitPerCallCommitInterval(t *testing.T) {
	b := NewBuffer()
	b.Submit("bkt", ev(0, 0, dataA), pulse, commit)
	b.Submit("bkt", ev(2*time.Second, 0, dataA), pulse, commit)

	// Same stream, tighter interval on this call: 2s pending >= 1s.
	if _, ok := b.Submit("bkt", ev(3*time.Second, 0, dataA), pulse, time.Second); !ok {
		t.Fatal("per-call commit interval must take effect")
	}
}

func TestSubmitBucketsAreIndependent(t *testing.T) {
	b := NewBuffer()
	b.Submit("one", ev(0, 0, dataA), pulse, commit)
	if _, ok := b.Submit("two", ev(time.Second, 0, dataA), pulse, commit); ok {
		t.Fatal("first heartbeat for a different bucket must not flush")
	}
	b.Submit("one", ev(time.Second, 0, dataA), pulse, commit)

	p1, _ := b.Pending("one")
	p2, _ := b.Pending("two")
	if p1.Duration != time.Second || p2.Duration != 0 {
		t.Fatalf("pending durations = %v/%v, want 1s/0", p1.Duration, p2.Duration)
	}
}

// TestNoDataLoss drives a random heartbeat sequence through the buffer
// and checks the coverage identity: within each run of identical data,
// the flushed events plus the final pending cover exactly the span from
// the run's first to its last heartbeat. Nothing is lost and nothing is
// double counted.
func TestNoDataLoss(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := NewBuffer()

	datasets := []map[string]any{dataA, dataB, {"app": "shell"}}
	var (
		offset       time.Duration
		flushedTotal time.Duration
		runStart     time.Duration
		runEnd       time.Duration
		expected     time.Duration
		cur          int
	)
	for i := 0; i < 500; i++ {
		if i > 0 && rng.Intn(20) == 0 {
			// Data switch: close the current run.
			cur = (cur + 1) % len(datasets)
			expected += runEnd - runStart
			runStart = offset
		}
		runEnd = offset
		flushed, ok := b.Submit("bkt", ev(offset, 0, datasets[cur]), pulse, commit)
		if ok {
			flushedTotal += flushed.Duration
		}
		offset += time.Duration(rng.Int63n(int64(pulse))) // gap < pulsetime, always merges
	}
	expected += runEnd - runStart

	pend, ok := b.Pending("bkt")
	if !ok {
		t.Fatal("expected a final pending heartbeat")
	}
	if got := flushedTotal + pend.Duration; got != expected {
		t.Fatalf("covered duration = %v, want %v", got, expected)
	}
}
