package poll

import "github.com/fatih/color"

// logAccept prints a lifecycle line for a new connection in verbose mode.
func (l *Loop) logAccept(c *Conn) {
	if !l.cfg.Verbose {
		return
	}
	l.log.Print(color.CyanString("[ACCEPT] #%d from %s", c.ID(), c.Peer()))
}

// logClose prints a lifecycle line colored by close reason in verbose mode.
// Socket close failures are always logged.
func (l *Loop) logClose(c *Conn) {
	if err := c.CloseErr(); err != nil {
		l.log.Printf("[CLOSE] #%d close: %v", c.ID(), err)
	}
	if !l.cfg.Verbose {
		return
	}
	line := "[CLOSE] #%d %s after %d bytes"
	args := []any{c.ID(), c.Reason(), c.Delivered()}
	if err := c.Err(); err != nil {
		line += ": %v"
		args = append(args, err)
	}
	switch c.Reason() {
	case ReasonEOF:
		l.log.Print(color.GreenString(line, args...))
	case ReasonRejected, ReasonShutdown:
		l.log.Print(color.YellowString(line, args...))
	default:
		l.log.Print(color.RedString(line, args...))
	}
}

// logAcceptErrors logs and counts every error joined into err.
func (l *Loop) logAcceptErrors(err error) {
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		l.stats.acceptErrors.Add(1)
		l.log.Printf("[ACCEPT] %v", e)
	}
}
