// Command lockbench runs lock-manager workloads under a chosen conflict
// resolution strategy and reports commits, aborts and latency.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
