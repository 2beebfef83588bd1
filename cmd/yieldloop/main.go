package main

import (
	"os"

	"github.com/rustyeddy/yieldloop/cmd/yieldloop/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
