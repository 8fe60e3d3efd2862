// Command cve-sync loads CVE records from the NVD API into a store.
//
//	cve-sync init                 # full load
//	cve-sync update               # incremental sync from the checkpoint
//	cve-sync update --hours 48    # incremental sync of the last 48 hours
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		pterm.Error.Println(describeError(err))
		stop()
		os.Exit(1)
	}
}
