package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/daviddao/pulsemail/pkg/model"
)

func (a *app) cmdHeartbeat(args []string) int {
	flags := flag.NewFlagSet("heartbeat", flag.ContinueOnError)
	srv := addServerFlags(flags)
	pulsetime := flags.Float64("pulsetime", 60, "merge window in seconds")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: pm heartbeat <bucket_id> <data-json> [--pulsetime N]")
		return 1
	}
	bucketID, rawData := flags.Arg(0), flags.Arg(1)

	var data map[string]any
	if err := json.Unmarshal([]byte(rawData), &data); err != nil {
		fmt.Fprintf(os.Stderr, "pm: heartbeat: invalid data: %v\n", err)
		return 1
	}

	cl, err := a.openClient(srv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pm: %v\n", err)
		return 1
	}
	defer cl.Close()

	ev := model.Event{Timestamp: time.Now().UTC(), Data: data}
	pt := time.Duration(*pulsetime * float64(time.Second))
	if err := cl.HeartbeatSync(bucketID, ev, pt); err != nil {
		fmt.Fprintf(os.Stderr, "pm: heartbeat: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]any{
			"bucket_id": bucketID, "event": ev, "pulsetime": *pulsetime,
		})
	} else {
		fmt.Printf("heartbeat %s pulsetime=%gs data=%s\n", bucketID, *pulsetime, rawData)
	}
	return 0
}
