package main

import (
	"os"

	"github.com/cognidex/crystal/cmd/crystal"
)

func main() {
	if err := crystal.Execute(); err != nil {
		os.Exit(1)
	}
}
