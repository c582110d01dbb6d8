package main

import (
	"os"

	"github.com/andrewgibson-cic/slapenir/cmd/slapenir/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
