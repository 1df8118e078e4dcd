package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/daviddao/pulsemail/pkg/client"
)

// clientName identifies the CLI to the server and scopes its queue
// file, keeping it separate from watcher queues.
const clientName = "pm"

// app holds shared state for all CLI subcommands.
type app struct{}

func newApp() *app { return &app{} }

// serverFlags are the connection flags every subcommand accepts, with
// environment fallbacks.
type serverFlags struct {
	host    *string
	port    *int
	testing *bool
}

func addServerFlags(fs *flag.FlagSet) serverFlags {
	return serverFlags{
		host:    fs.String("host", envOr("PULSEMAIL_HOST", ""), "server hostname (overrides config)"),
		port:    fs.Int("port", envIntOr("PULSEMAIL_PORT", 0), "server port (overrides config)"),
		testing: fs.Bool("testing", os.Getenv("PULSEMAIL_TESTING") != "", "use testing server/config"),
	}
}

// openClient builds a client from the parsed connection flags. The
// caller owns Close.
func (a *app) openClient(f serverFlags) (*client.Client, error) {
	return client.New(clientName,
		client.WithServer(*f.host, *f.port),
		client.WithTesting(*f.testing),
	)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
