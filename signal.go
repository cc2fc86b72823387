package bleshim

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// WithSigHandler cancels ctx on SIGINT or SIGTERM.
func WithSigHandler(ctx context.Context, cancel func()) context.Context {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
		defer signal.Stop(sigs)

		select {
		case s := <-sigs:
			GetLogger().Infof("got %v, shutting down", s)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
