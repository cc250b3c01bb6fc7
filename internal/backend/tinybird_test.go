package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"beacon/internal/ingestion"
	"beacon/pkg/logging"
)

func discardLogger() logging.Logger {
	logger := logging.NewLogger()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestTinybird(t *testing.T, handler http.Handler) (*TinybirdClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewTinybirdClient(TinybirdConfig{
		BaseURL:    server.URL,
		Token:      "tb-token",
		DataSource: "events",
	}, discardLogger())
	return client, server
}

func TestTinybirdInsertEvents(t *testing.T) {
	var gotPath, gotAuth, gotContentType, gotBody string
	client, _ := newTestTinybird(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusAccepted)
	}))

	events := []ingestion.TrackingEvent{
		{AppID: "app-1", EventName: "app_started", Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), StringProps: "{}", NumericProps: "{}"},
		{AppID: "app-1", EventName: "purchase", Timestamp: time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC), StringProps: "{}", NumericProps: "{}"},
	}

	if err := client.InsertEvents(context.Background(), events); err != nil {
		t.Fatalf("InsertEvents() error: %v", err)
	}

	if gotPath != "/v0/events?name=events" {
		t.Fatalf("path = %q, want /v0/events?name=events", gotPath)
	}
	if gotAuth != "Bearer tb-token" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotContentType != "application/x-ndjson" {
		t.Fatalf("content type = %q", gotContentType)
	}

	lines := strings.Split(strings.TrimRight(gotBody, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("body has %d lines, want 2 NDJSON rows", len(lines))
	}
	if !strings.Contains(lines[0], `"event_name":"app_started"`) {
		t.Fatalf("first row = %s", lines[0])
	}
}

func TestTinybirdInsertEmptyBatchIsNoop(t *testing.T) {
	var calls int32
	client, _ := newTestTinybird(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))

	if err := client.InsertEvents(context.Background(), nil); err != nil {
		t.Fatalf("InsertEvents() error: %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("empty batch hit the API")
	}
}

func TestTinybirdInsertSurfacesAPIError(t *testing.T) {
	client, _ := newTestTinybird(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid token"))
	}))

	err := client.InsertEvents(context.Background(), []ingestion.TrackingEvent{{AppID: "app-1"}})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Body != "invalid token" {
		t.Fatalf("APIError = %+v", apiErr)
	}
}

func TestTinybirdInsertRetriesServerErrors(t *testing.T) {
	var calls int32
	client, _ := newTestTinybird(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))

	if err := client.InsertEvents(context.Background(), []ingestion.TrackingEvent{{AppID: "app-1"}}); err != nil {
		t.Fatalf("InsertEvents() error after retries: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("API called %d times, want 3", atomic.LoadInt32(&calls))
	}
}

func TestTinybirdQuery(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	client, _ := newTestTinybird(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"data":[{"event_name":"app_started","events":42}]}`))
	}))

	args := NewQueryArgs().
		With("app_id", "app-1").
		With("date_from", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)).
		With("country_codes", []string{"US", "BR"}).
		With("session_id", nil)

	type row struct {
		EventName string `json:"event_name"`
		Events    int64  `json:"events"`
	}
	rows, err := NamedQuery[row](context.Background(), client, "top_events", args)
	if err != nil {
		t.Fatalf("NamedQuery() error: %v", err)
	}

	if gotPath != "/v0/pipes/top_events.json" {
		t.Fatalf("path = %q", gotPath)
	}
	if got := gotQuery["date_from"]; len(got) != 1 || got[0] != "'2026-01-01 00:00:00'" {
		t.Fatalf("date_from = %v, want quoted sql datetime", got)
	}
	if got := gotQuery["country_codes"]; len(got) != 1 || got[0] != "US,BR" {
		t.Fatalf("country_codes = %v, want comma-joined", got)
	}
	if _, present := gotQuery["session_id"]; present {
		t.Fatal("nil arg was sent, want omitted")
	}

	if len(rows) != 1 || rows[0].EventName != "app_started" || rows[0].Events != 42 {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestTinybirdQuerySurfacesAPIError(t *testing.T) {
	client, _ := newTestTinybird(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"pipe not found"}`))
	}))

	_, err := client.Query(context.Background(), "missing_pipe", NewQueryArgs())
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", apiErr.StatusCode)
	}
}
