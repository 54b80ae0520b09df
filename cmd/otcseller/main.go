package main

import (
	"os"

	"github.com/wonny/otcseller/cmd/otcseller/commands"
)

// main is the entry point: go run ./cmd/otcseller [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
