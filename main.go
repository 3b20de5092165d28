// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/PoliticalSphere/validate-ci/cmd"
)

// Signal exit codes follow shell convention: 128 + signal number.
const (
	exitInterrupt = 130
	exitTerminate = 143
)

func main() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		if sig == syscall.SIGTERM {
			os.Exit(exitTerminate)
		}
		os.Exit(exitInterrupt)
	}()

	cmd.Execute()
}
