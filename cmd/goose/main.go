// Package main provides the entry point for the goose CLI.
package main

import (
	"fmt"
	"os"

	"github.com/harun/goose/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
