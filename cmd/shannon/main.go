// Package main is the entry point for the shannon CLI.
package main

import (
	"os"

	"github.com/a9lim/shannon/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
