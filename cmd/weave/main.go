// Package main provides the entry point for the weave CLI.
package main

import (
	"fmt"
	"os"

	"github.com/weavemesh/weave/cmd/weave/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
