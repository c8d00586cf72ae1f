package main

import (
	"os"

	"saltapi/cmd/saltctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
