// Package main is the entry point for the moonbox-runner binary.
package main

import (
	"os"

	cli "github.com/zhao-mingming/moonbox/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
