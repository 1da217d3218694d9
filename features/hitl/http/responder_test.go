package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/inlet/runtime/chat/interrupt"
)

func TestRespondPostsToThreadEndpoint(t *testing.T) {
	var gotPath string
	var gotBody interrupt.Response
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	responder, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	err = responder.Respond(context.Background(), "th-1", interrupt.Response{
		InterruptID: "int-1",
		Action:      interrupt.ActionSelect,
		Value:       "option-a",
	})
	require.NoError(t, err)
	assert.Equal(t, "/threads/th-1/interrupts/int-1", gotPath)
	assert.Equal(t, "int-1", gotBody.InterruptID)
	assert.Equal(t, interrupt.ActionSelect, gotBody.Action)
	assert.Equal(t, "option-a", gotBody.Value)
}

func TestRespondErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	responder, err := New(Options{BaseURL: srv.URL, Retries: 0})
	require.NoError(t, err)

	err = responder.Respond(context.Background(), "th-1", interrupt.Response{InterruptID: "int-1", Action: interrupt.ActionSkip})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "410")
}

func TestRespondRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	responder, err := New(Options{BaseURL: srv.URL, Retries: 2})
	require.NoError(t, err)

	err = responder.Respond(context.Background(), "th-1", interrupt.Response{InterruptID: "int-1", Action: interrupt.ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRespondValidation(t *testing.T) {
	responder, err := New(Options{BaseURL: "http://example.com"})
	require.NoError(t, err)
	require.Error(t, responder.Respond(context.Background(), "", interrupt.Response{InterruptID: "int-1"}))
	require.Error(t, responder.Respond(context.Background(), "th-1", interrupt.Response{}))

	_, err = New(Options{})
	require.Error(t, err)
}
