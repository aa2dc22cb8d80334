// Package main provides the entry point for the vsctoolbox CLI.
package main

import (
	"os"

	"github.com/vsctoolbox/index/cmd/vsctoolbox/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
