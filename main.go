// Command billcore runs the event-sourced bill processing service: it wires
// the Command Router, Projection Pipeline, Reactive Handlers, and Query
// Service to Postgres and the blob/OCR/SMTP adapters, and serves a thin
// HTTP layer over them until interrupted.
package main

import (
	"log"

	"github.com/evalgo/billcore/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
