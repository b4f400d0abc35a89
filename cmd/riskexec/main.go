package main

import (
	"os"

	"github.com/rustyeddy/riskexec/cmd/riskexec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
