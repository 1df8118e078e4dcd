package main

import (
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdInfo(args []string) int {
	flags := flag.NewFlagSet("info", flag.ContinueOnError)
	srv := addServerFlags(flags)
	if err := flags.Parse(args); err != nil {
		return 1
	}

	cl, err := a.openClient(srv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pm: %v\n", err)
		return 1
	}
	defer cl.Close()

	info, err := cl.GetInfo()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pm: info: %v\n", err)
		return 1
	}
	printJSON(info)
	return 0
}
