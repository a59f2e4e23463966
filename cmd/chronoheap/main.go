// Command chronoheap records heap allocator traces and replays them against
// a live implementation.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/willibrandon/ChronoHeap/pkg/logutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	_ = logutil.GetGlobalLogger().Sync()
	if err != nil {
		os.Exit(1)
	}
}
