package main

import (
	"fmt"
	"os"

	"github.com/BearBump/DispatchBox/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
