package main

import (
	"os"

	"github.com/minervahq/minerva/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
