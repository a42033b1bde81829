package main

import (
	"fmt"
	"os"

	"github.com/weezy20/gosubnet/cmd/run"
)

func main() {
	if err := run.NewCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gosubnet: %v\n", err)
		os.Exit(1)
	}
}
