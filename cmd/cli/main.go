// Package main is the entry point for templrctl, the terminal client for the
// templr controller.
package main

import (
	"os"

	"templr/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
