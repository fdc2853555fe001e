package statusreporter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestReporter_Send(t *testing.T) {
	var received atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body Report
		json.NewDecoder(r.Body).Decode(&body)
		received.Store(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := New(server.URL, nil)
	r.Send(context.Background(), Report{Stage: "active", MeetingID: "m1"})

	got, ok := received.Load().(Report)
	if !ok {
		t.Fatal("expected a report to be received")
	}
	if got.Stage != "active" || got.MeetingID != "m1" {
		t.Errorf("unexpected report: %+v", got)
	}
}

func TestReporter_RetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := New(server.URL, nil)
	r.Send(context.Background(), Report{Stage: "completed", MeetingID: "m1", Reason: "GOOGLE_MEET_NORMAL_COMPLETION"})

	if atomic.LoadInt32(&attempts) < 2 {
		t.Errorf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestReporter_EmptyURLIsNoOp(t *testing.T) {
	r := New("", nil)
	r.Send(context.Background(), Report{Stage: "joining"}) // must not panic or block
}
