package queue

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/daviddao/pulsemail/pkg/model"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.queue.db")
	q, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func hb(n int) model.QueuedRequest {
	return model.QueuedRequest{
		Endpoint: "buckets/bkt/heartbeat?pulsetime=60",
		Payload:  []byte(fmt.Sprintf(`{"n":%d}`, n)),
	}
}

func TestEnqueuePeekAck(t *testing.T) {
	q := newTestQueue(t)
	if err := q.Enqueue(hb(1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	req, err := q.Peek()
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if req == nil || string(req.Payload) != `{"n":1}` {
		t.Fatalf("Peek = %+v, want item 1", req)
	}

	if err := q.Ack(); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	req, err = q.Peek()
	if err != nil {
		t.Fatal(err)
	}
	if req != nil {
		t.Fatalf("queue should be empty after Ack, got %+v", req)
	}
}

func TestPeekEmptyReturnsNil(t *testing.T) {
	q := newTestQueue(t)
	req, err := q.Peek()
	if err != nil {
		t.Fatalf("Peek on empty queue: %v", err)
	}
	if req != nil {
		t.Fatalf("Peek on empty queue = %+v, want nil", req)
	}
}

func TestPeekIsStableUntilAck(t *testing.T) {
	q := newTestQueue(t)
	q.Enqueue(hb(1))
	q.Enqueue(hb(2))

	first, _ := q.Peek()
	for i := 0; i < 3; i++ {
		again, err := q.Peek()
		if err != nil {
			t.Fatal(err)
		}
		if string(again.Payload) != string(first.Payload) {
			t.Fatalf("Peek %d = %s, want same item %s", i, again.Payload, first.Payload)
		}
	}
}

func TestFIFOOrder(t *testing.T) {
	q := newTestQueue(t)
	for i := 1; i <= 5; i++ {
		if err := q.Enqueue(hb(i)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 1; i <= 5; i++ {
		req, err := q.Peek()
		if err != nil {
			t.Fatal(err)
		}
		want := fmt.Sprintf(`{"n":%d}`, i)
		if string(req.Payload) != want {
			t.Fatalf("item %d = %s, want %s", i, req.Payload, want)
		}
		if err := q.Ack(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestAckWithoutPeek(t *testing.T) {
	q := newTestQueue(t)
	q.Enqueue(hb(1))
	if err := q.Ack(); !errors.Is(err, ErrNoPeek) {
		t.Fatalf("Ack without Peek: got %v, want ErrNoPeek", err)
	}
}

func TestEnqueueRejectsNonHeartbeat(t *testing.T) {
	q := newTestQueue(t)
	err := q.Enqueue(model.QueuedRequest{Endpoint: "buckets/bkt/events", Payload: []byte(`{}`)})
	if !errors.Is(err, ErrBadEndpoint) {
		t.Fatalf("got %v, want ErrBadEndpoint", err)
	}
	if q.Size() != 0 {
		t.Fatal("rejected request must not be stored")
	}
}

func TestReset(t *testing.T) {
	q := newTestQueue(t)
	q.Enqueue(hb(1))
	q.Enqueue(hb(2))
	q.Peek()

	if err := q.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if q.Size() != 0 {
		t.Fatalf("Size after Reset = %d, want 0", q.Size())
	}
	req, err := q.Peek()
	if err != nil {
		t.Fatal(err)
	}
	if req != nil {
		t.Fatalf("Peek after Reset = %+v, want nil", req)
	}
	// The cleared peek cursor must not allow a stale Ack.
	if err := q.Ack(); !errors.Is(err, ErrNoPeek) {
		t.Fatalf("Ack after Reset: got %v, want ErrNoPeek", err)
	}
}

func TestSize(t *testing.T) {
	q := newTestQueue(t)
	if q.Size() != 0 {
		t.Fatalf("empty Size = %d", q.Size())
	}
	q.Enqueue(hb(1))
	q.Enqueue(hb(2))
	if q.Size() != 2 {
		t.Fatalf("Size = %d, want 2", q.Size())
	}
	q.Peek()
	q.Ack()
	if q.Size() != 1 {
		t.Fatalf("Size after Ack = %d, want 1", q.Size())
	}
}

// TestCrashBeforeAckRedelivers simulates the crash window between a
// successful POST and its Ack: reopening the queue file must surface
// the same item again (at-least-once, not at-most-once).
func TestCrashBeforeAckRedelivers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.queue.db")
	q, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	q.Enqueue(hb(1))
	q.Enqueue(hb(2))

	req, err := q.Peek()
	if err != nil {
		t.Fatal(err)
	}
	if string(req.Payload) != `{"n":1}` {
		t.Fatalf("peeked %s", req.Payload)
	}
	// "Crash": close without acking.
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}

	q2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer q2.Close()
	if got := q2.Size(); got != 2 {
		t.Fatalf("Size after reopen = %d, want 2", got)
	}
	req, err = q2.Peek()
	if err != nil {
		t.Fatal(err)
	}
	if string(req.Payload) != `{"n":1}` {
		t.Fatalf("redelivered %s, want item 1", req.Payload)
	}
}

func TestConcurrentEnqueueWithConsumer(t *testing.T) {
	q := newTestQueue(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if err := q.Enqueue(hb(i)); err != nil {
				t.Errorf("Enqueue %d: %v", i, err)
				return
			}
		}
	}()

	acked := 0
	for acked < 50 {
		req, err := q.Peek()
		if err != nil {
			t.Fatal(err)
		}
		if req == nil {
			continue
		}
		if err := q.Ack(); err != nil {
			t.Fatal(err)
		}
		acked++
	}
	<-done
}
