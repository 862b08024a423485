package main

import (
	"os"

	"github.com/OFFIS-RIT/simgraph/cmd/ingest/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
