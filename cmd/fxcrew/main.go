package main

import (
	"os"

	"github.com/rustyeddy/fxcrew/cmd/fxcrew/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
