package poll

import (
	"fmt"
	"log"
	"time"
)

// ClosePolicy selects the side effect performed when a connection closes.
type ClosePolicy int

const (
	// CloseGraceful writes Config.TerminalResponse before closing.
	CloseGraceful ClosePolicy = iota
	// CloseAbrupt shuts down the write half without a payload.
	CloseAbrupt
)

func (p ClosePolicy) String() string {
	switch p {
	case CloseGraceful:
		return "graceful"
	case CloseAbrupt:
		return "abrupt"
	}
	return fmt.Sprintf("ClosePolicy(%d)", int(p))
}

// ParseClosePolicy maps a flag value to a ClosePolicy.
func ParseClosePolicy(s string) (ClosePolicy, error) {
	switch s {
	case "graceful", "":
		return CloseGraceful, nil
	case "abrupt":
		return CloseAbrupt, nil
	}
	return 0, fmt.Errorf("%w: unknown close policy %q", ErrInvalidConfig, s)
}

// Defaults used by DefaultConfig.
const (
	DefaultPort              = 8080
	DefaultBacklog           = 16
	DefaultInitialBufferSize = 1000
	DefaultMaxRequestSize    = 20_000_000
	DefaultGrowthChunk       = 10_000
	DefaultPollTimeout       = 10 * time.Millisecond
)

// DefaultTerminalResponse is written by CloseGraceful.
var DefaultTerminalResponse = []byte("HTTP/1.1 404 Not Found\r\n\r\n")

// Config holds the multiplexer configuration.
type Config struct {
	Port    int
	Backlog int

	InitialBufferSize int
	MaxRequestSize    int
	Growth            GrowthPolicy
	GrowthChunk       int // only used by GrowChunked

	MaxConnections int // 0 = unbounded
	PollTimeout    time.Duration

	ClosePolicy      ClosePolicy
	TerminalResponse []byte

	Verbose bool
	Logger  *log.Logger // nil = log.Default()
}

// DefaultConfig returns the stock server configuration.
func DefaultConfig() Config {
	return Config{
		Port:              DefaultPort,
		Backlog:           DefaultBacklog,
		InitialBufferSize: DefaultInitialBufferSize,
		MaxRequestSize:    DefaultMaxRequestSize,
		Growth:            GrowDouble,
		GrowthChunk:       DefaultGrowthChunk,
		PollTimeout:       DefaultPollTimeout,
		ClosePolicy:       CloseGraceful,
		TerminalResponse:  DefaultTerminalResponse,
	}
}

// Validate reports the first inconsistent field.
func (c *Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	case c.Backlog <= 0:
		return fmt.Errorf("%w: backlog must be positive", ErrInvalidConfig)
	case c.InitialBufferSize <= 0:
		return fmt.Errorf("%w: initial buffer size must be positive", ErrInvalidConfig)
	case c.MaxRequestSize < c.InitialBufferSize:
		return fmt.Errorf("%w: max request size %d below initial buffer size %d",
			ErrInvalidConfig, c.MaxRequestSize, c.InitialBufferSize)
	case c.Growth == GrowChunked && c.GrowthChunk <= 0:
		return fmt.Errorf("%w: growth chunk must be positive", ErrInvalidConfig)
	case c.MaxConnections < 0:
		return fmt.Errorf("%w: max connections must not be negative", ErrInvalidConfig)
	case c.PollTimeout <= 0:
		return fmt.Errorf("%w: poll timeout must be positive", ErrInvalidConfig)
	case c.ClosePolicy != CloseGraceful && c.ClosePolicy != CloseAbrupt:
		return fmt.Errorf("%w: %v", ErrInvalidConfig, c.ClosePolicy)
	}
	return nil
}

func (c *Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}
