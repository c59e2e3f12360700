// Package poll provides a single-goroutine TCP connection multiplexer built
// on poll(2). One Loop accepts, reads and closes every connection; request
// bytes are handed to a caller-supplied Handler as they arrive.
//
// The loop never blocks except in the bounded poll call, so new connections
// are picked up within one poll timeout even when no client is sending.
package poll
