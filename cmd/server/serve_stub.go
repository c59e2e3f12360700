//go:build !linux && !darwin

package main

import (
	"context"
	"errors"
	"time"

	"github.com/goceleris/pollmux/servers/poll"
)

// serve is a stub for platforms without poll(2) support.
func serve(ctx context.Context, cfg poll.Config, h poll.Handler, statsInterval time.Duration) error {
	return errors.New("poll server is only supported on Linux and macOS")
}
