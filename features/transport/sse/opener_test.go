package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/inlet/runtime/chat/session"
	"goa.design/inlet/runtime/chat/stream"
)

func TestOpenStreamsEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		var req session.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "th-1", req.ThreadID)
		require.Equal(t, "hello", req.Content)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"token\",\"content\":\"Hi\"}\n")
		fmt.Fprint(w, "data: {\"type\":\"complete\"}\n")
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	opener, err := New(Options{URL: srv.URL})
	require.NoError(t, err)

	events, errs, cancel, err := opener.Open(context.Background(), session.Request{ThreadID: "th-1", Content: "hello"})
	require.NoError(t, err)
	defer cancel()

	var got []stream.Event
	for ev := range events {
		got = append(got, ev)
	}
	require.NoError(t, <-errs)
	require.Len(t, got, 2)
	assert.Equal(t, "Hi", got[0].(stream.Token).Data.Content)
	assert.Equal(t, stream.EventComplete, got[1].Type())
	assert.Equal(t, "th-1", got[0].ThreadID())
}

func TestOpenNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	opener, err := New(Options{URL: srv.URL})
	require.NoError(t, err)

	_, _, _, err = opener.Open(context.Background(), session.Request{ThreadID: "th-1"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Contains(t, se.Body, "backend down")
}

func TestOpenConnectError(t *testing.T) {
	opener, err := New(Options{URL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, _, _, err = opener.Open(context.Background(), session.Request{ThreadID: "th-1"})
	require.Error(t, err)
}

func TestCancelAbortsStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"token\",\"content\":\"Hi\"}\n")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	opener, err := New(Options{URL: srv.URL})
	require.NoError(t, err)

	events, errs, cancel, err := opener.Open(context.Background(), session.Request{ThreadID: "th-1"})
	require.NoError(t, err)

	select {
	case ev := <-events:
		require.Equal(t, stream.EventToken, ev.Type())
	case <-time.After(5 * time.Second):
		t.Fatal("no event before cancel")
	}

	cancel()

	// Cancellation closes both channels without a transport error.
	for range events {
	}
	require.NoError(t, <-errs)
}

func TestOpenMidStreamDisconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"token\",\"content\":\"partial\"}\n")
		w.(http.Flusher).Flush()
		// Drop the connection without a terminal marker.
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	opener, err := New(Options{URL: srv.URL})
	require.NoError(t, err)

	events, errs, cancel, err := opener.Open(context.Background(), session.Request{ThreadID: "th-1"})
	require.NoError(t, err)
	defer cancel()

	var got []stream.Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	// An abrupt close surfaces as a transport error, preserving the partial
	// content already delivered.
	require.Error(t, <-errs)
}

func TestCustomHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	opener, err := New(Options{
		URL:     srv.URL,
		Headers: http.Header{"Authorization": []string{"Bearer tok"}},
	})
	require.NoError(t, err)

	events, errs, cancel, err := opener.Open(context.Background(), session.Request{ThreadID: "th-1"})
	require.NoError(t, err)
	defer cancel()
	for range events {
	}
	require.NoError(t, <-errs)
}
