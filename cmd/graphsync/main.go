package main

import (
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "graphsync:", err)
		os.Exit(exitCode(err))
	}
}
