package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"beacon/internal/apps"
	"beacon/internal/ingestion"
	"beacon/pkg/geoip"
	"beacon/pkg/logging"
)

type fixedStore struct {
	identities map[string]apps.Identity
}

func (s *fixedStore) FindByAppKey(ctx context.Context, appKey string) (apps.Identity, error) {
	return s.identities[appKey], nil
}

type testHarness struct {
	router *gin.Engine
	buffer *ingestion.Buffer
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.NewLogger()
	logger.SetOutput(io.Discard)

	store := &fixedStore{identities: map[string]apps.Identity{
		"A-DEV-0000000000": {AppKey: "A-DEV-0000000000", AppID: "app-dev", IsLocked: false},
		"A-LOCKED-1":       {AppKey: "A-LOCKED-1", AppID: "app-locked", IsLocked: true},
	}}

	buffer := ingestion.NewBuffer(1000)
	handler := NewEventsHandler(
		logger,
		apps.NewCache(store, apps.DefaultCacheConfig()),
		ingestion.NewValidator(logger),
		ingestion.NewNormalizer(),
		buffer,
		geoip.NewLocator(nil),
		nil,
	)

	router := gin.New()
	handler.RegisterRoutes(router)
	return &testHarness{router: router, buffer: buffer}
}

func (h *testHarness) post(t *testing.T, path, appKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if appKey != "" {
		req.Header.Set("App-Key", appKey)
	}

	recorder := httptest.NewRecorder()
	h.router.ServeHTTP(recorder, req)
	return recorder
}

func submission(eventName string) map[string]interface{} {
	return map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"sessionId": "6c6e8052-3a2b-4b0a-b0f7-b7e5c4e2a9d1",
		"eventName": eventName,
		"systemProps": map[string]interface{}{
			"osName":     "iOS",
			"osVersion":  "17.1",
			"locale":     "en-US",
			"appVersion": "1.0.0",
			"sdkVersion": "swift@0.3.0",
		},
	}
}

func TestSingleEventHappyPath(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/api/v0/event", "A-DEV-0000000000", submission("app_started"))

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	if strings.TrimSpace(resp.Body.String()) != "{}" {
		t.Fatalf("body = %q, want {}", resp.Body.String())
	}

	batch := h.buffer.Drain()
	if len(batch) != 1 {
		t.Fatalf("buffered %d events, want 1", len(batch))
	}
	event := batch[0]
	if event.AppID != "app-dev" || event.EventName != "app_started" {
		t.Fatalf("event = %+v", event)
	}
	if event.StringProps != "{}" || event.NumericProps != "{}" {
		t.Fatalf("props = %q / %q, want empty maps", event.StringProps, event.NumericProps)
	}
}

func TestSingleEventPathAlias(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/event", "A-DEV-0000000000", submission("app_started"))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d on alias path", resp.Code)
	}
	if h.buffer.Len() != 1 {
		t.Fatalf("buffered %d events, want 1", h.buffer.Len())
	}
}

func TestSingleEventCaseInsensitiveAppKey(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/api/v0/event", "a-dev-0000000000", submission("app_started"))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d for lowercased key", resp.Code)
	}
}

func TestSingleEventMissingAppKey(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/api/v0/event", "", submission("app_started"))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
	if resp.Body.String() != "Missing App-Key header." {
		t.Fatalf("body = %q", resp.Body.String())
	}
}

func TestSingleEventUnknownAppKey(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/api/v0/event", "A-NOPE", submission("app_started"))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "A-NOPE") {
		t.Fatalf("body = %q, want the offending key named", resp.Body.String())
	}
	if h.buffer.Len() != 0 {
		t.Fatal("event for unknown key was buffered")
	}
}

func TestSingleEventLockedAccount(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/api/v0/event", "A-LOCKED-1", submission("app_started"))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
	if resp.Body.String() != "Owner account is locked." {
		t.Fatalf("body = %q", resp.Body.String())
	}
	if h.buffer.Len() != 0 {
		t.Fatal("event for locked account was buffered")
	}
}

func TestSingleEventValidationFailure(t *testing.T) {
	h := newHarness(t)

	body := submission("app_started")
	body["timestamp"] = time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	resp := h.post(t, "/api/v0/event", "A-DEV-0000000000", body)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
	if resp.Body.String() != "Future events are not allowed." {
		t.Fatalf("body = %q", resp.Body.String())
	}
}

func TestSingleEventMalformedBody(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v0/event", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("App-Key", "A-DEV-0000000000")

	recorder := httptest.NewRecorder()
	h.router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
	if recorder.Body.String() != "Missing event body." {
		t.Fatalf("body = %q", recorder.Body.String())
	}
}

func TestSingleEventNullBody(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v0/event", strings.NewReader("null"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("App-Key", "A-DEV-0000000000")

	recorder := httptest.NewRecorder()
	h.router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
	if recorder.Body.String() != "Missing event body." {
		t.Fatalf("body = %q", recorder.Body.String())
	}
}

func TestValidationReasonWinsOverIdentityErrors(t *testing.T) {
	h := newHarness(t)

	future := submission("app_started")
	future["timestamp"] = time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	cases := []struct {
		name   string
		appKey string
	}{
		{name: "unknown key", appKey: "A-UNKNOWN-KEY"},
		{name: "locked account", appKey: "A-LOCKED-1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.post(t, "/api/v0/event", tc.appKey, future)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.Code)
			}
			if resp.Body.String() != "Future events are not allowed." {
				t.Fatalf("body = %q, want the validation reason", resp.Body.String())
			}
		})
	}
}

func TestMultipleEventsNullElementDropped(t *testing.T) {
	h := newHarness(t)

	payload, err := json.Marshal(submission("kept"))
	if err != nil {
		t.Fatalf("failed to marshal submission: %v", err)
	}

	body := "[null," + string(payload) + "]"
	req := httptest.NewRequest(http.MethodPost, "/api/v0/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("App-Key", "A-DEV-0000000000")

	recorder := httptest.NewRecorder()
	h.router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}

	drained := h.buffer.Drain()
	if len(drained) != 1 || drained[0].EventName != "kept" {
		t.Fatalf("buffered %d events, want only the non-null one", len(drained))
	}
}

func TestMultipleEventsTooMany(t *testing.T) {
	h := newHarness(t)

	batch := make([]map[string]interface{}, 30)
	for i := range batch {
		batch[i] = submission(fmt.Sprintf("event_%d", i))
	}

	resp := h.post(t, "/api/v0/events", "A-DEV-0000000000", batch)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
	want := "Too many events (30) in a single request. Maximum is 25."
	if resp.Body.String() != want {
		t.Fatalf("body = %q, want %q", resp.Body.String(), want)
	}
	if h.buffer.Len() != 0 {
		t.Fatal("oversized batch was partially buffered")
	}
}

func TestMultipleEventsTooManyBeforeIdentity(t *testing.T) {
	h := newHarness(t)

	batch := make([]map[string]interface{}, 30)
	for i := range batch {
		batch[i] = submission(fmt.Sprintf("event_%d", i))
	}

	// The size cap applies before the app key is even looked at
	resp := h.post(t, "/api/v0/events", "A-UNKNOWN-KEY", batch)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
	want := "Too many events (30) in a single request. Maximum is 25."
	if resp.Body.String() != want {
		t.Fatalf("body = %q, want %q", resp.Body.String(), want)
	}
}

func TestMultipleEventsDropsInvalidElements(t *testing.T) {
	h := newHarness(t)

	stale := submission("stale_event")
	stale["timestamp"] = time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)

	batch := []map[string]interface{}{
		submission("first"),
		stale,
		submission("second"),
	}

	resp := h.post(t, "/api/v0/events", "A-DEV-0000000000", batch)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}

	drained := h.buffer.Drain()
	if len(drained) != 2 {
		t.Fatalf("buffered %d events, want 2 valid ones", len(drained))
	}
	if drained[0].EventName != "first" || drained[1].EventName != "second" {
		t.Fatalf("buffered %q, %q", drained[0].EventName, drained[1].EventName)
	}
}

func TestMultipleEventsAllInvalidStillSucceeds(t *testing.T) {
	h := newHarness(t)

	stale := submission("stale")
	stale["timestamp"] = time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)

	// An all-invalid batch succeeds without consulting the identity
	// store, so even an unknown key gets the 200
	resp := h.post(t, "/api/v0/events", "A-UNKNOWN-KEY", []map[string]interface{}{stale})
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for all-invalid batch", resp.Code)
	}
	if strings.TrimSpace(resp.Body.String()) != "{}" {
		t.Fatalf("body = %q, want {}", resp.Body.String())
	}
	if h.buffer.Len() != 0 {
		t.Fatal("invalid event was buffered")
	}
}

func TestMultipleEventsPathAlias(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/events", "A-DEV-0000000000", []map[string]interface{}{submission("aliased")})
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d on alias path", resp.Code)
	}
	if h.buffer.Len() != 1 {
		t.Fatalf("buffered %d events, want 1", h.buffer.Len())
	}
}
