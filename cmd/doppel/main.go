package main

import (
	"os"

	"github.com/doppelhq/doppel/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
