// Command pm is the pulsemail CLI: inspection and debugging for the
// durable heartbeat delivery client.
package main

import (
	"fmt"
	"os"
	"strconv"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("pm", version)
		return
	}

	a := newApp()

	switch os.Args[1] {
	case "info":
		os.Exit(a.cmdInfo(os.Args[2:]))
	case "buckets":
		os.Exit(a.cmdBuckets(os.Args[2:]))
	case "heartbeat", "hb":
		os.Exit(a.cmdHeartbeat(os.Args[2:]))
	case "events":
		os.Exit(a.cmdEvents(os.Args[2:]))
	case "queue":
		os.Exit(a.cmdQueue(os.Args[2:]))
	case "watch":
		os.Exit(a.cmdWatch(os.Args[2:]))

	default:
		fmt.Fprintf(os.Stderr, "pm: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'pm --help' for usage.")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`pm - durable heartbeat delivery client

Heartbeats coalesce locally, queue on disk, and drain to the server
whenever a connection is available.

Usage:
  pm <command> [flags]

Commands:
  info                        Show server build and host information
  buckets                     List buckets on the server
  heartbeat <bucket> <json>   Send one heartbeat (synchronous)
  events <bucket>             List events in a bucket
  queue                       Show durable queue diagnostics
  watch                       Poll a capture command and deliver heartbeats

Aliases:
  hb = heartbeat

Environment:
  PULSEMAIL_HOST      Server hostname (overrides config)
  PULSEMAIL_PORT      Server port (overrides config)
  PULSEMAIL_TESTING   Non-empty selects the testing server/config

All commands support --json for machine-readable output.
All commands support --host/--port/--testing to override the above.

Exit codes:
  0  success
  1  error
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
