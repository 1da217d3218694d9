package sse

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/inlet/runtime/chat/stream"
)

// chunkReader delivers its parts one Read call at a time so tests can split
// lines across chunk boundaries.
type chunkReader struct {
	parts []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.parts) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.parts[0])
	if n < len(r.parts[0]) {
		r.parts[0] = r.parts[0][n:]
	} else {
		r.parts = r.parts[1:]
	}
	return n, nil
}

func drain(t *testing.T, d *Decoder) ([]stream.Event, error) {
	t.Helper()
	var events []stream.Event
	for {
		ev, err := d.Next(context.Background())
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestNextDecodesDataLines(t *testing.T) {
	body := "data: {\"type\":\"token\",\"content\":\"Hel\"}\n" +
		"\n" +
		"data: {\"type\":\"token\",\"content\":\"lo\"}\n" +
		"data: [DONE]\n"
	d := NewDecoder(strings.NewReader(body), Options{ThreadID: "th-1"})

	events, err := drain(t, d)
	require.ErrorIs(t, err, ErrDone)
	require.Len(t, events, 2)
	assert.Equal(t, "Hel", events[0].(stream.Token).Data.Content)
	assert.Equal(t, "lo", events[1].(stream.Token).Data.Content)
	assert.Equal(t, "th-1", events[0].ThreadID())
}

func TestNextRetainsPartialLineAcrossChunks(t *testing.T) {
	r := &chunkReader{parts: []string{
		"data: {\"type\":\"token\",\"con",
		"tent\":\"split\"}\ndata: [DONE]\n",
	}}
	d := NewDecoder(r, Options{ThreadID: "th-1"})

	events, err := drain(t, d)
	require.ErrorIs(t, err, ErrDone)
	require.Len(t, events, 1)
	assert.Equal(t, "split", events[0].(stream.Token).Data.Content)
}

func TestNextSkipsMalformedLine(t *testing.T) {
	body := "data: {\"type\":\"token\",\"content\":\"a\"}\n" +
		"data: {not json at all\n" +
		"data: {\"type\":\"token\",\"content\":\"b\"}\n" +
		"data: [DONE]\n"
	d := NewDecoder(strings.NewReader(body), Options{ThreadID: "th-1"})

	events, err := drain(t, d)
	require.ErrorIs(t, err, ErrDone)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].(stream.Token).Data.Content)
	assert.Equal(t, "b", events[1].(stream.Token).Data.Content)
}

func TestNextSkipsUnknownEventType(t *testing.T) {
	body := "data: {\"type\":\"mystery\"}\n" +
		"data: {\"type\":\"complete\"}\n"
	d := NewDecoder(strings.NewReader(body), Options{ThreadID: "th-1"})

	events, err := drain(t, d)
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 1)
	assert.Equal(t, stream.EventComplete, events[0].Type())
}

func TestNextDiscardsEventNameLines(t *testing.T) {
	body := "event: message\n" +
		"data: {\"type\":\"token\",\"content\":\"x\"}\n" +
		"data: [DONE]\n"
	d := NewDecoder(strings.NewReader(body), Options{ThreadID: "th-1"})

	events, err := drain(t, d)
	require.ErrorIs(t, err, ErrDone)
	require.Len(t, events, 1)
}

func TestNextDiscardsTrailingPartialAtEOF(t *testing.T) {
	body := "data: {\"type\":\"token\",\"content\":\"kept\"}\n" +
		"data: {\"type\":\"token\",\"content\":\"trunc"
	d := NewDecoder(strings.NewReader(body), Options{ThreadID: "th-1"})

	events, err := drain(t, d)
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 1)
	assert.Equal(t, "kept", events[0].(stream.Token).Data.Content)
}

func TestNextCRLFLines(t *testing.T) {
	body := "data: {\"type\":\"token\",\"content\":\"crlf\"}\r\ndata: [DONE]\r\n"
	d := NewDecoder(strings.NewReader(body), Options{ThreadID: "th-1"})

	events, err := drain(t, d)
	require.ErrorIs(t, err, ErrDone)
	require.Len(t, events, 1)
	assert.Equal(t, "crlf", events[0].(stream.Token).Data.Content)
}

func TestNextAfterDoneStaysDone(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: [DONE]\ndata: {\"type\":\"token\",\"content\":\"late\"}\n"), Options{})
	_, err := d.Next(context.Background())
	require.ErrorIs(t, err, ErrDone)
	_, err = d.Next(context.Background())
	require.ErrorIs(t, err, ErrDone)
}
