package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/daviddao/pulsemail/pkg/watch"
)

func (a *app) cmdWatch(args []string) int {
	flags := flag.NewFlagSet("watch", flag.ContinueOnError)
	srv := addServerFlags(flags)
	bucket := flags.String("bucket", "", "bucket ID (default: pm-window_<hostname>)")
	bucketType := flags.String("type", "currentwindow", "bucket event type")
	poll := flags.Float64("poll", 1, "poll interval in seconds")
	captureCmd := flags.String("capture", "",
		`command printing the focused window as JSON {"app","title","url"}`)
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *captureCmd == "" {
		fmt.Fprintln(os.Stderr, "usage: pm watch --capture <command> [--bucket ID] [--poll N]")
		return 1
	}

	cl, err := a.openClient(srv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pm: %v\n", err)
		return 1
	}
	defer cl.Close()

	bucketID := *bucket
	if bucketID == "" {
		bucketID = fmt.Sprintf("%s-window_%s", clientName, cl.Hostname())
	}
	cl.CreateBucket(bucketID, *bucketType)
	cl.Connect()
	defer cl.Disconnect()

	pollInterval := time.Duration(*poll * float64(time.Second))
	w := watch.New(cl, bucketID, pollInterval, captureFromCommand(*captureCmd), nil)

	// Handle ctrl-c gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "watching into %s (poll every %s, ctrl-c to stop)\n",
		bucketID, pollInterval)

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "pm: watch: %v\n", err)
		return 1
	}
	fmt.Fprintln(os.Stderr, "\nstopped")
	return 0
}

// captureFromCommand adapts a shell command into a CaptureFunc. The
// command must print one JSON object describing the focused window;
// platform capture helpers (xdotool wrappers, AppleScript) plug in
// here without recompiling.
func captureFromCommand(cmdline string) watch.CaptureFunc {
	return func() (watch.Window, error) {
		out, err := exec.Command("/bin/sh", "-c", cmdline).Output()
		if err != nil {
			return watch.Window{}, fmt.Errorf("capture command: %w", err)
		}
		var raw struct {
			App   string `json:"app"`
			Title string `json:"title"`
			URL   string `json:"url"`
		}
		if err := json.Unmarshal(out, &raw); err != nil {
			return watch.Window{}, fmt.Errorf("capture output: %w", err)
		}
		return watch.Window{App: raw.App, Title: raw.Title, URL: raw.URL}, nil
	}
}
