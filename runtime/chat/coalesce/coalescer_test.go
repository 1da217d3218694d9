package coalesce

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushConcatenatesInOrder(t *testing.T) {
	c := New(Options{})
	c.Add("Hel")
	c.Add("lo ")
	c.Add("world")
	require.True(t, c.Pending())

	changed := c.Flush()
	assert.True(t, changed)
	assert.Equal(t, "Hello world", c.Text())
	assert.False(t, c.Pending())
}

func TestFlushIdempotent(t *testing.T) {
	c := New(Options{})
	c.Add("once")
	require.True(t, c.Flush())
	require.False(t, c.Flush())
	assert.Equal(t, "once", c.Text())
}

func TestTimerArmsOncePerBatch(t *testing.T) {
	c := New(Options{Interval: 10 * time.Millisecond})
	require.Nil(t, c.FlushC())

	c.Add("a")
	first := c.FlushC()
	require.NotNil(t, first)

	// Later fragments join the batch without re-arming.
	c.Add("b")
	c.Add("c")
	assert.Equal(t, first, c.FlushC())

	select {
	case <-c.FlushC():
	case <-time.After(time.Second):
		t.Fatal("flush timer never fired")
	}
	c.Flush()
	assert.Equal(t, "abc", c.Text())
	assert.Nil(t, c.FlushC())
}

func TestTimerRearmsAfterFlush(t *testing.T) {
	c := New(Options{Interval: 5 * time.Millisecond})
	c.Add("a")
	<-c.FlushC()
	c.Flush()

	c.Add("b")
	require.NotNil(t, c.FlushC())
	select {
	case <-c.FlushC():
	case <-time.After(time.Second):
		t.Fatal("second batch timer never fired")
	}
	c.Flush()
	assert.Equal(t, "ab", c.Text())
}

func TestSetTextReplacesAndDropsBuffer(t *testing.T) {
	c := New(Options{})
	c.Add("partial reply")
	c.Flush()
	c.Add("more")

	c.SetText("backend error: quota exceeded")
	assert.Equal(t, "backend error: quota exceeded", c.Text())
	assert.False(t, c.Pending())
	assert.Nil(t, c.FlushC())
}

func TestAppendBypassesBatch(t *testing.T) {
	c := New(Options{})
	c.Add("Hello")
	c.Flush()
	c.Append("\n\n[cancelled]")
	assert.Equal(t, "Hello\n\n[cancelled]", c.Text())
}

func TestResetClearsEverything(t *testing.T) {
	c := New(Options{})
	c.Add("x")
	c.Flush()
	c.Add("y")
	c.Reset()
	assert.Equal(t, "", c.Text())
	assert.False(t, c.Pending())
	assert.Nil(t, c.FlushC())
}

// Property: however fragments are sliced into batches, the merged text is
// always the in-order concatenation, and the number of text changes
// (publishes) never exceeds the number of batches.
func TestCoalescingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("merged text equals ordered concatenation", prop.ForAll(
		func(frags []string, flushEvery int) bool {
			c := New(Options{})
			for i, f := range frags {
				c.Add(f)
				if flushEvery > 0 && i%flushEvery == 0 {
					c.Flush()
				}
			}
			c.Flush()
			return c.Text() == strings.Join(frags, "")
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 5),
	))

	properties.Property("publishes never exceed batches", prop.ForAll(
		func(frags []string) bool {
			c := New(Options{})
			publishes := 0
			for _, f := range frags {
				c.Add(f)
			}
			if c.Flush() {
				publishes++
			}
			nonEmpty := 0
			for _, f := range frags {
				if f != "" {
					nonEmpty++
				}
			}
			if nonEmpty == 0 {
				return publishes == 0
			}
			return publishes == 1
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
