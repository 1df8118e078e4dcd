package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
)

func (a *app) cmdBuckets(args []string) int {
	flags := flag.NewFlagSet("buckets", flag.ContinueOnError)
	srv := addServerFlags(flags)
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

	buckets, err := cl.GetBuckets()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pm: buckets: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(buckets)
		return 0
	}
	ids := make([]string, 0, len(buckets))
	for id := range buckets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Println("Buckets:")
	for _, id := range ids {
		fmt.Printf(" - %s\n", id)
	}
	return 0
}
