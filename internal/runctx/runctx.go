// Package runctx holds the state shared by every component taking part
// in a single reconciliation run: where logs go, when the run started and
// how many files ended up in each outcome.
package runctx

import (
	"fmt"
	"time"

	"github.com/cebimar/cifonauta/pkg/logger"
)

type (
	Counters struct {
		Discovered int
		Scanned    int
		Created    int
		Updated    int
		Skipped    int
		Failed     int
		Broken     int
	}

	Summary struct {
		Counters
		Elapsed time.Duration
	}

	Context struct {
		Logs    *logger.Manager
		Started time.Time
		Counts  Counters

		clock func() time.Time
	}
)

func New(logs *logger.Manager) *Context {
	return NewWithClock(logs, time.Now)
}

// NewWithClock is New with an injectable time source.
func NewWithClock(logs *logger.Manager, clock func() time.Time) *Context {
	return &Context{Logs: logs, Started: clock(), clock: clock}
}

func (c *Context) Logger(name string) logger.Logger {
	return c.Logs.Get(name)
}

func (c *Context) Elapsed() time.Duration {
	return c.clock().Sub(c.Started)
}

func (c *Context) Summary() Summary {
	return Summary{Counters: c.Counts, Elapsed: c.Elapsed()}
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"%d files scanned, %d new, %d updated, %d failed, %d broken links removed in %s",
		s.Scanned, s.Created, s.Updated, s.Failed, s.Broken, s.Elapsed.Round(time.Millisecond),
	)
}
