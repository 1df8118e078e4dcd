package main

import (
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdQueue(args []string) int {
	flags := flag.NewFlagSet("queue", flag.ContinueOnError)
	srv := addServerFlags(flags)
	reset := flags.Bool("reset", false, "empty the durable queue")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	cl, err := a.openClient(srv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pm: %v\n", err)
		return 1
	}
	defer cl.Close()

	if *reset {
		if err := cl.ResetQueue(); err != nil {
			fmt.Fprintf(os.Stderr, "pm: queue: %v\n", err)
			return 1
		}
	}

	size := cl.QueueSize()
	if *jsonOut {
		printJSON(map[string]any{
			"client": clientName, "server": cl.ServerAddress(), "queued": size,
		})
	} else {
		fmt.Printf("queue for %s at %s: %d pending request(s)\n",
			clientName, cl.ServerAddress(), size)
	}
	return 0
}
