// Package main is the entrypoint for the dupreaper CLI and API server.
package main

import (
	"fmt"
	"os"

	"github.com/kiranshivaraju/dupreaper/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
