package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdEvents(args []string) int {
	flags := flag.NewFlagSet("events", flag.ContinueOnError)
	srv := addServerFlags(flags)
	limit := flags.Int("limit", 20, "maximum events to fetch (-1 for all)")
	count := flags.Bool("count", false, "print the event count instead")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: pm events <bucket_id> [--limit N] [--count]")
		return 1
	}
	bucketID := flags.Arg(0)

	cl, err := a.openClient(srv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pm: %v\n", err)
		return 1
	}
	defer cl.Close()

	if *count {
		n, err := cl.EventCount(bucketID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pm: events: %v\n", err)
			return 1
		}
		if *jsonOut {
			printJSON(map[string]any{"bucket_id": bucketID, "count": n})
		} else {
			fmt.Printf("%s: %d events\n", bucketID, n)
		}
		return 0
	}

	events, err := cl.GetEvents(bucketID, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pm: events: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(events)
		return 0
	}
	for _, ev := range events {
		data, _ := json.Marshal(ev.Data)
		fmt.Printf("%s  %6.1fs  %s\n",
			ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Duration.Seconds(), data)
	}
	return 0
}
