package reconcile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPFetcher_Snapshot(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/snapshot" {
			t.Errorf("path = %q, want /api/v1/snapshot", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer viewer-token" {
			t.Errorf("Authorization = %q, want bearer credential", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"incidents":[{"id":"inc-1"}],"alerts":[],"milestones":[{"id":"m-1"}]}`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/", "viewer-token", srv.Client())
	snap, err := f.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Incidents) != 1 || snap.Incidents[0].ID != "inc-1" {
		t.Errorf("Incidents = %+v, want one inc-1", snap.Incidents)
	}
	if len(snap.Milestones) != 1 {
		t.Errorf("Milestones = %d, want 1", len(snap.Milestones))
	}
}

func TestHTTPFetcher_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "bad-token", srv.Client())
	_, err := f.Snapshot(context.Background())
	if err == nil {
		t.Fatal("Snapshot with 401 response: err = nil, want error")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want status in message", err)
	}
}

func TestNewHTTPFetcher_EmptyURLPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("NewHTTPFetcher(\"\") did not panic")
		}
	}()
	NewHTTPFetcher("", "tok", nil)
}
