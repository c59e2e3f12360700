//go:build linux || darwin

package main

import (
	"context"
	"log"
	"time"

	"github.com/goceleris/pollmux/servers/poll"
)

// serve binds the listener and runs the loop until ctx is done.
func serve(ctx context.Context, cfg poll.Config, h poll.Handler, statsInterval time.Duration) error {
	ln, err := poll.Listen(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = ln.Close() }()

	loop, err := poll.NewLoop(ln, h, cfg)
	if err != nil {
		return err
	}

	go reportStats(ctx, loop.Stats, statsInterval)

	log.Printf("Listening on %s", ln.Addr())
	return loop.Run(ctx)
}
