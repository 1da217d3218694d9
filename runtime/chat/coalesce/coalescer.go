// Package coalesce buffers incremental text fragments and republishes the
// merged transcript on a bounded cadence. It is a rate-limiting buffer, not a
// queue with backpressure: under burst, intermediate renders are dropped but
// total content never is.
package coalesce

import (
	"strings"
	"time"
)

// DefaultInterval is the batch window between the first buffered fragment and
// the flush that publishes it.
const DefaultInterval = 50 * time.Millisecond

type (
	// Options configures a Coalescer.
	Options struct {
		// Interval is the batch window. Defaults to DefaultInterval.
		Interval time.Duration
	}

	// Coalescer accumulates text fragments into a merged transcript. The
	// first fragment added since the last flush arms a single flush timer;
	// later fragments join the same batch without re-arming it, so a flush
	// fires at most once per interval regardless of fragment rate.
	//
	// A Coalescer is owned by one goroutine (the session controller loop)
	// and is not safe for concurrent use. FlushC exposes the timer as a
	// select case; it is nil while no flush is pending, which a select
	// treats as a never-ready case.
	Coalescer struct {
		interval time.Duration
		timer    *time.Timer
		buf      []string
		merged   strings.Builder
	}
)

// New returns an empty Coalescer.
func New(opts Options) *Coalescer {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coalescer{interval: interval}
}

// Add buffers one fragment, arming the flush timer if this is the first
// fragment of the batch.
func (c *Coalescer) Add(fragment string) {
	if fragment == "" {
		return
	}
	c.buf = append(c.buf, fragment)
	if c.timer == nil {
		c.timer = time.NewTimer(c.interval)
	}
}

// FlushC returns the pending flush timer channel, or nil when no flush is
// pending.
func (c *Coalescer) FlushC() <-chan time.Time {
	if c.timer == nil {
		return nil
	}
	return c.timer.C
}

// Flush appends all buffered fragments to the merged text in arrival order
// and disarms the timer. It reports whether the merged text changed, and is
// idempotent: flushing an empty buffer is a no-op.
func (c *Coalescer) Flush() bool {
	c.disarm()
	if len(c.buf) == 0 {
		return false
	}
	for _, frag := range c.buf {
		c.merged.WriteString(frag)
	}
	c.buf = c.buf[:0]
	return true
}

// Text returns the merged transcript so far. Buffered, unflushed fragments
// are not included; call Flush first at any point that must observe the
// complete text.
func (c *Coalescer) Text() string {
	return c.merged.String()
}

// SetText replaces the merged transcript and drops any buffered fragments.
// Used when a backend error event supersedes the accumulated reply.
func (c *Coalescer) SetText(s string) {
	c.disarm()
	c.buf = c.buf[:0]
	c.merged.Reset()
	c.merged.WriteString(s)
}

// Append adds text directly to the merged transcript, bypassing the batch
// buffer. Used for terminal markers (cancellation, connection errors) that
// must land after a final Flush.
func (c *Coalescer) Append(s string) {
	c.merged.WriteString(s)
}

// Pending reports whether fragments are buffered awaiting a flush.
func (c *Coalescer) Pending() bool {
	return len(c.buf) > 0
}

// Reset clears all state, timer included. Part of controller teardown so no
// stale timer fires against a discarded request.
func (c *Coalescer) Reset() {
	c.disarm()
	c.buf = nil
	c.merged.Reset()
}

// disarm stops and clears the flush timer, draining an already-fired tick so
// a later FlushC never yields a stale one.
func (c *Coalescer) disarm() {
	if c.timer == nil {
		return
	}
	if !c.timer.Stop() {
		select {
		case <-c.timer.C:
		default:
		}
	}
	c.timer = nil
}
