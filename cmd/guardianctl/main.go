package main

import (
	"os"

	"github.com/zajuna/tutor-virtual/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
