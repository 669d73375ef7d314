package main

import (
	"os"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
