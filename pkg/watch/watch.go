// Package watch drives a capture function on a poll interval and feeds
// the observations into the queued heartbeat path.
//
// The capture itself (reading the focused window from the OS) is
// platform code and lives outside this module; watch only owns the
// loop: capture, convert, heartbeat, sleep. Pulsetime is the poll
// interval plus one second so that consecutive polls of an unchanged
// window always merge.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/daviddao/pulsemail/pkg/model"
)

// ErrFatal marks capture errors that must terminate the watcher (e.g.
// missing accessibility permissions, no display). Capture
// implementations wrap such conditions with it; all other capture
// errors are logged and the tick skipped.
var ErrFatal = errors.New("fatal capture error")

// Window is one observation of the focused window.
type Window struct {
	App   string
	Title string
	URL   string
}

// CaptureFunc reads the currently focused window.
type CaptureFunc func() (Window, error)

// Heartbeater is the slice of the client the watcher needs.
type Heartbeater interface {
	Heartbeat(bucketID string, ev model.Event, pulsetime time.Duration) error
}

// Watcher polls a capture function and submits heartbeats.
type Watcher struct {
	hb       Heartbeater
	bucketID string
	poll     time.Duration
	capture  CaptureFunc
	log      *slog.Logger
}

// New builds a Watcher. poll <= 0 defaults to one second.
func New(hb Heartbeater, bucketID string, poll time.Duration, capture CaptureFunc, log *slog.Logger) *Watcher {
	if poll <= 0 {
		poll = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{hb: hb, bucketID: bucketID, poll: poll, capture: capture, log: log}
}

// Run polls until the context is canceled or a fatal capture error
// occurs. Fatal errors are returned, not masked: the caller owns the
// decision to exit or restart.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if err := w.tick(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.poll):
		}
	}
}

// tick captures once and submits at most one heartbeat.
func (w *Watcher) tick() error {
	win, err := w.capture()
	if err != nil {
		if errors.Is(err, ErrFatal) {
			return fmt.Errorf("capture: %w", err)
		}
		w.log.Warn("capture failed, skipping tick", "err", err)
		return nil
	}
	data := map[string]any{"app": win.App, "title": win.Title}
	if win.URL != "" {
		data["url"] = win.URL
	}
	ev := model.Event{Timestamp: time.Now().UTC(), Data: data}
	if err := w.hb.Heartbeat(w.bucketID, ev, w.poll+time.Second); err != nil {
		w.log.Error("heartbeat failed", "bucket", w.bucketID, "err", err)
	}
	return nil
}
