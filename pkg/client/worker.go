package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"syscall"
	"time"

	"github.com/daviddao/pulsemail/pkg/credentials"
	"github.com/daviddao/pulsemail/pkg/model"
	"github.com/daviddao/pulsemail/pkg/queue"
)

// Delivery worker timing. The poll interval bounds how quickly a fresh
// enqueue reaches the wire; the cooldown keeps a flapping server from
// being hammered; the reconnect interval paces connection probes while
// offline.
const (
	defaultPollInterval      = 200 * time.Millisecond
	defaultCooldown          = 500 * time.Millisecond
	defaultReconnectInterval = 10 * time.Second
)

// state is the worker's connectivity state.
type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateConnected
)

func (s state) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// poster is the slice of Client the worker needs; narrowed for tests.
type poster interface {
	postQueued(endpoint string, payload []byte) error
	createBucket(b model.Bucket) error
}

// worker is the single consumer of the durable queue. It cycles through
// DISCONNECTED -> CONNECTING -> CONNECTED, demoting itself on network
// failure, and drains the queue one request at a time while connected.
// Workers are one-shot: once stopped they are discarded, and Connect
// builds a new one.
type worker struct {
	api   poster
	queue *queue.Queue
	creds credentials.Source
	log   *slog.Logger

	pollInterval      time.Duration
	cooldown          time.Duration
	reconnectInterval time.Duration

	mu      sync.Mutex
	buckets []model.Bucket
	state   state

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newWorker(api poster, q *queue.Queue, creds credentials.Source, log *slog.Logger) *worker {
	return &worker{
		api:               api,
		queue:             q,
		creds:             creds,
		log:               log,
		pollInterval:      defaultPollInterval,
		cooldown:          defaultCooldown,
		reconnectInterval: defaultReconnectInterval,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
}

func (w *worker) start() { go w.run() }

// stop requests shutdown and joins the worker. Safe to call more than
// once; un-acked requests stay queued for the next run.
func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *worker) stopped() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// wait sleeps for d unless stop is requested first; returns true when
// stopping. Every wait point in the worker goes through here so that
// shutdown is never delayed by a sleep.
func (w *worker) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.stopCh:
		return true
	case <-t.C:
		return false
	}
}

func (w *worker) setState(s state) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *worker) getState() state {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// setBuckets seeds the registration list; called before start.
func (w *worker) setBuckets(bs []model.Bucket) {
	w.mu.Lock()
	w.buckets = append([]model.Bucket(nil), bs...)
	w.mu.Unlock()
}

// registerBucket adds a bucket registered while the worker is live. It
// is created on the server during the next connection probe.
func (w *worker) registerBucket(b model.Bucket) {
	w.mu.Lock()
	w.buckets = append(w.buckets, b)
	w.mu.Unlock()
}

func (w *worker) snapshotBuckets() []model.Bucket {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.Bucket(nil), w.buckets...)
}

// run is the worker loop: probe until connected, then dispatch until a
// failure demotes the state or stop is requested.
func (w *worker) run() {
	defer close(w.doneCh)
	for !w.stopped() {
		w.setState(stateConnecting)
		for !w.tryConnect() {
			w.setState(stateDisconnected)
			w.log.Warn("not connected to server, queueing requests",
				"queued", w.queue.Size())
			if w.wait(w.reconnectInterval) {
				return
			}
			w.setState(stateConnecting)
		}
		w.setState(stateConnected)
		w.log.Info("connection to server established")

		for w.getState() == stateConnected && !w.stopped() {
			w.dispatchOne()
		}
	}
}

// tryConnect is the connection probe: credentials must be present and
// every registered bucket must be creatable. Bucket creation is
// idempotent server-side, so probing after a reconnect re-creates
// nothing.
func (w *worker) tryConnect() bool {
	if _, err := w.creds.Token(); err != nil {
		w.log.Debug("connection probe failed", "err", err)
		return false
	}
	for _, b := range w.snapshotBuckets() {
		if err := w.api.createBucket(b); err != nil {
			w.log.Debug("connection probe failed", "bucket", b.ID, "err", err)
			return false
		}
	}
	return true
}

// dispatchOne delivers at most one queued request.
//
// Failure taxonomy:
//   - connection refused / timeout: transient, demote to disconnected,
//     leave the request queued;
//   - HTTP 5xx: transient server trouble, brief cooldown, retry the
//     same request;
//   - HTTP 400: a bad payload can never succeed, drop it so the queue
//     keeps draining;
//   - anything else: unknown and assumed permanent, drop it so the
//     worker keeps making forward progress.
func (w *worker) dispatchOne() {
	req, err := w.queue.Peek()
	if err != nil {
		w.log.Error("queue peek failed", "err", err)
		w.wait(w.cooldown)
		return
	}
	if req == nil {
		w.wait(w.pollInterval)
		return
	}

	err = w.api.postQueued(req.Endpoint, req.Payload)
	switch {
	case err == nil:
		// delivered

	case isConnectErr(err):
		w.setState(stateDisconnected)
		w.log.Warn("connection refused or timeout, will queue requests until connection is available")
		w.wait(w.cooldown)
		return

	case isStatus(err, 400):
		w.log.Error("bad request, not retrying", "endpoint", req.Endpoint, "err", err)

	case isServerErr(err):
		w.log.Error("internal server error, retrying", "endpoint", req.Endpoint, "err", err)
		w.wait(w.cooldown)
		return

	default:
		w.log.Error("unknown error, not retrying", "endpoint", req.Endpoint, "err", err)
	}

	if err := w.queue.Ack(); err != nil {
		w.log.Error("queue ack failed", "err", err)
	}
}

// isConnectErr reports transport-level failures: the server is not
// reachable (refused, reset, timed out, DNS down). These are the only
// errors that demote the connectivity state.
func isConnectErr(err error) bool {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, context.DeadlineExceeded)
}

func isStatus(err error, code int) bool {
	var serr *StatusError
	return errors.As(err, &serr) && serr.Code == code
}

func isServerErr(err error) bool {
	var serr *StatusError
	return errors.As(err, &serr) && serr.Code >= 500 && serr.Code <= 599
}
