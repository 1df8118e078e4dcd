// Package client is the public entry point of pulsemail: a client for
// the collector's REST API with a durable, asynchronous delivery path
// for heartbeats.
//
// The queued path never touches the network in the caller's goroutine:
// Heartbeat runs the pre-merge buffer, and at most appends one request
// to the on-disk queue. A single background delivery worker (started by
// Connect) drains the queue, riding out server restarts and offline
// stretches. Synchronous helpers (GetBuckets, InsertEvents, ...) POST
// directly and report errors to the caller.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"github.com/daviddao/pulsemail/pkg/config"
	"github.com/daviddao/pulsemail/pkg/credentials"
	"github.com/daviddao/pulsemail/pkg/heartbeat"
	"github.com/daviddao/pulsemail/pkg/model"
	"github.com/daviddao/pulsemail/pkg/queue"
	"github.com/daviddao/pulsemail/pkg/singleinstance"
)

const appName = "pulsemail"

// StatusError is a non-2xx response from the collector. The delivery
// worker uses the code to decide between retrying and dropping.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// Client talks to one collector on behalf of one named client (usually
// a watcher). Construct with New, then Connect to start background
// delivery.
type Client struct {
	name     string
	hostname string
	testing  bool
	dir      string
	deviceID string

	host           string
	port           int
	commitInterval time.Duration

	httpc *http.Client
	creds credentials.Source
	log   *slog.Logger

	buffer *heartbeat.Buffer
	queue  *queue.Queue
	lock   *singleinstance.Lock

	mu      sync.Mutex
	buckets []model.Bucket
	worker  *worker
}

// Option customizes a Client.
type Option func(*Client)

// WithServer overrides the configured collector address.
func WithServer(host string, port int) Option {
	return func(c *Client) { c.host, c.port = host, port }
}

// WithTesting selects the testing server/client config sections.
func WithTesting(testing bool) Option {
	return func(c *Client) { c.testing = testing }
}

// WithDir overrides the base directory for the queue database and
// cached credentials.
func WithDir(dir string) Option {
	return func(c *Client) { c.dir = dir }
}

// WithCredentials overrides the token source.
func WithCredentials(src credentials.Source) Option {
	return func(c *Client) { c.creds = src }
}

// WithCommitInterval overrides the configured default commit interval.
func WithCommitInterval(d time.Duration) Option {
	return func(c *Client) { c.commitInterval = d }
}

// WithHTTPClient overrides the HTTP client (and thus its timeout).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New builds a Client for the named watcher. Server address and commit
// interval come from the config file unless overridden by options. The
// durable queue is opened (and created if needed) here, so queued
// heartbeats from a previous crashed run are picked up as soon as the
// worker connects.
//
// New also takes the per-identity instance lock: two processes driving
// the same queue would fight over its single-consumer cursor and
// double-deliver, so a second New for the same (name, server) fails
// with singleinstance.ErrAlreadyRunning. Close releases the lock.
func New(name string, opts ...Option) (*Client, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	c := &Client{
		name:     name,
		hostname: hostname,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		buffer:   heartbeat.NewBuffer(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.dir == "" {
		dir, err := config.Dir(appName)
		if err != nil {
			return nil, err
		}
		c.dir = dir
	}
	cfgPath := filepath.Join(c.dir, appName+".toml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	srv := cfg.PickServer(c.testing)
	if c.host == "" {
		c.host = srv.Hostname
	}
	if c.port == 0 {
		c.port = srv.Port
	}
	if c.commitInterval == 0 {
		c.commitInterval = cfg.PickCommitInterval(c.testing)
	}
	if c.creds == nil {
		c.creds = credentials.FileSource{Dir: c.dir}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("client", c.name)

	id, err := config.DeviceID(c.dir)
	if err != nil {
		return nil, err
	}
	c.deviceID = id

	qname := c.name
	if c.testing {
		qname += "-testing"
	}
	lock, err := singleinstance.Acquire(c.dir,
		fmt.Sprintf("%s-at-%s-on-%d", qname, c.host, c.port))
	if err != nil {
		return nil, err
	}
	c.lock = lock

	qpath := queue.Path(c.dir, qname, c.host, c.port, currentUser())
	if err := os.MkdirAll(filepath.Dir(qpath), 0o755); err != nil {
		lock.Release()
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	q, err := queue.Open(qpath)
	if err != nil {
		lock.Release()
		return nil, err
	}
	c.queue = q
	return c, nil
}

// currentUser returns the OS username scoping the queue file, so two
// users on one machine get independent queues.
func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "default"
}

// Name returns the client name.
func (c *Client) Name() string { return c.name }

// Hostname returns the local hostname reported in bucket registrations.
func (c *Client) Hostname() string { return c.hostname }

// DeviceID returns the stable per-install identifier reported in
// bucket registrations.
func (c *Client) DeviceID() string { return c.deviceID }

// ServerAddress returns the collector base URL.
func (c *Client) ServerAddress() string {
	return fmt.Sprintf("http://%s:%d", c.host, c.port)
}

// QueueSize returns the number of queued-but-undelivered requests.
// Diagnostic only.
func (c *Client) QueueSize() int64 { return c.queue.Size() }

// ResetQueue drops every queued request and clears any pending peek.
func (c *Client) ResetQueue() error { return c.queue.Reset() }

// Close stops the worker if running, releases the queue database and
// the instance lock.
func (c *Client) Close() error {
	c.Disconnect()
	err := c.queue.Close()
	if lerr := c.lock.Release(); err == nil {
		err = lerr
	}
	return err
}

//
// Heartbeats (queued path)
//

// Heartbeat submits one heartbeat for asynchronous, durable delivery
// using the configured commit interval. It never blocks on the network
// and never fails due to connectivity; the only possible errors are
// local (queue disk I/O, payload encoding).
func (c *Client) Heartbeat(bucketID string, ev model.Event, pulsetime time.Duration) error {
	return c.HeartbeatCommit(bucketID, ev, pulsetime, 0)
}

// HeartbeatCommit is Heartbeat with a per-call commit interval;
// commitInterval <= 0 means the configured default.
func (c *Client) HeartbeatCommit(bucketID string, ev model.Event, pulsetime, commitInterval time.Duration) error {
	if commitInterval <= 0 {
		commitInterval = c.commitInterval
	}
	flushed, ok := c.buffer.Submit(bucketID, ev, pulsetime, commitInterval)
	if !ok {
		return nil
	}
	payload, err := json.Marshal(flushed)
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	return c.queue.Enqueue(model.QueuedRequest{
		Endpoint: model.HeartbeatEndpoint(bucketID, pulsetime),
		Payload:  payload,
	})
}

// HeartbeatSync posts one heartbeat directly, bypassing the pre-merge
// buffer and the queue. Blocks on the network and surfaces failures.
func (c *Client) HeartbeatSync(bucketID string, ev model.Event, pulsetime time.Duration) error {
	return c.post(model.HeartbeatEndpoint(bucketID, pulsetime), ev)
}

//
// Buckets
//

// CreateBucket registers a bucket for queued operation. The bucket is
// created on the server during the worker's next connection probe;
// creating an existing bucket is a server-side no-op, so registration
// is idempotent.
func (c *Client) CreateBucket(bucketID, eventType string) {
	b := model.Bucket{ID: bucketID, Type: eventType}
	c.mu.Lock()
	c.buckets = append(c.buckets, b)
	w := c.worker
	c.mu.Unlock()
	if w != nil {
		w.registerBucket(b)
	}
}

// CreateBucketSync creates a bucket immediately over the network.
func (c *Client) CreateBucketSync(bucketID, eventType string) error {
	return c.createBucket(model.Bucket{ID: bucketID, Type: eventType})
}

// CreateBucketIfNotExist empties the durable queue and creates the
// bucket synchronously. Queued heartbeats would target the registration
// state being rebuilt, so they are discarded first.
func (c *Client) CreateBucketIfNotExist(bucketID, eventType string) error {
	if err := c.queue.Reset(); err != nil {
		return err
	}
	return c.createBucket(model.Bucket{ID: bucketID, Type: eventType})
}

// DeleteBucket removes a bucket and its events from the server.
func (c *Client) DeleteBucket(bucketID string, force bool) error {
	endpoint := "buckets/" + bucketID
	if force {
		endpoint += "?force=1"
	}
	_, err := c.do(http.MethodDelete, endpoint, nil)
	return err
}

// GetBuckets lists all buckets known to the server.
func (c *Client) GetBuckets() (map[string]json.RawMessage, error) {
	var out map[string]json.RawMessage
	if err := c.get("buckets/", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) createBucket(b model.Bucket) error {
	return c.post("buckets/"+b.ID, map[string]string{
		"client":    c.name,
		"hostname":  c.hostname,
		"device_id": c.deviceID,
		"type":      b.Type,
	})
}

//
// Events (synchronous path)
//

// InsertEvents posts events directly into a bucket.
func (c *Client) InsertEvents(bucketID string, events ...model.Event) error {
	return c.post("buckets/"+bucketID+"/events", events)
}

// GetEvents fetches up to limit events from a bucket (server order,
// newest first). limit <= 0 means no limit.
func (c *Client) GetEvents(bucketID string, limit int) ([]model.Event, error) {
	endpoint := fmt.Sprintf("buckets/%s/events?limit=%d", bucketID, limit)
	var out []model.Event
	if err := c.get(endpoint, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EventCount returns the number of events in a bucket.
func (c *Client) EventCount(bucketID string) (int64, error) {
	body, err := c.do(http.MethodGet, "buckets/"+bucketID+"/events/count", nil)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := json.Unmarshal(bytes.TrimSpace(body), &n); err != nil {
		return 0, fmt.Errorf("parse event count: %w", err)
	}
	return n, nil
}

// GetInfo fetches server build and host information.
func (c *Client) GetInfo() (map[string]json.RawMessage, error) {
	var out map[string]json.RawMessage
	if err := c.get("info", &out); err != nil {
		return nil, err
	}
	return out, nil
}

//
// Lifecycle
//

// Connect starts the delivery worker. A worker stopped by Disconnect is
// never restarted; Connect builds a fresh one carrying the current
// bucket registrations. Calling Connect while a worker is running is a
// no-op.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.worker != nil {
		return
	}
	w := newWorker(c, c.queue, c.creds, c.log)
	w.setBuckets(c.buckets)
	c.worker = w
	w.start()
}

// Disconnect stops the delivery worker and waits for its current
// iteration to finish. Queued-but-undelivered requests stay on disk.
// Idempotent; a no-op when no worker is running.
func (c *Client) Disconnect() {
	c.mu.Lock()
	w := c.worker
	c.worker = nil
	c.mu.Unlock()
	if w != nil {
		w.stop()
	}
}

//
// HTTP plumbing
//

func (c *Client) url(endpoint string) string {
	return c.ServerAddress() + "/api/0/" + endpoint
}

// do performs one request and maps non-2xx responses to *StatusError.
// The auth token is minted per request; a missing token sends no
// Authorization header (the server rejects what it must).
func (c *Client) do(method, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(method, c.url(endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok, err := c.creds.Token(); err == nil {
		req.Header.Set("Authorization", tok)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
	}
	return b, nil
}

func (c *Client) get(endpoint string, out any) error {
	body, err := c.do(http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *Client) post(endpoint string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	_, err = c.do(http.MethodPost, endpoint, body)
	return err
}

// postQueued delivers one queued request payload; used by the worker.
func (c *Client) postQueued(endpoint string, payload []byte) error {
	_, err := c.do(http.MethodPost, endpoint, payload)
	return err
}
