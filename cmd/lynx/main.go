package main

import (
	"os"

	"github.com/pohlai88/lynx/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
