// Package handlers wires the ingestion pipeline to the HTTP surface.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"beacon/internal/apps"
	"beacon/internal/ingestion"
	"beacon/internal/metrics"
	"beacon/pkg/geoip"
	"beacon/pkg/logging"
)

// maxBatchSize caps how many submissions one /events request may carry
const maxBatchSize = 25

// EventsHandler handles event submissions from client SDKs.
type EventsHandler struct {
	logger     logging.Logger
	cache      *apps.Cache
	validator  *ingestion.Validator
	normalizer *ingestion.Normalizer
	buffer     *ingestion.Buffer
	locator    *geoip.Locator
	metrics    *metrics.IngestMetrics
}

// NewEventsHandler creates the ingestion handler.
func NewEventsHandler(
	logger logging.Logger,
	cache *apps.Cache,
	validator *ingestion.Validator,
	normalizer *ingestion.Normalizer,
	buffer *ingestion.Buffer,
	locator *geoip.Locator,
	ingestMetrics *metrics.IngestMetrics,
) *EventsHandler {
	return &EventsHandler{
		logger:     logger,
		cache:      cache,
		validator:  validator,
		normalizer: normalizer,
		buffer:     buffer,
		locator:    locator,
		metrics:    ingestMetrics,
	}
}

// RegisterRoutes mounts the ingestion endpoints. The unversioned paths are
// aliases kept for older SDKs.
func (h *EventsHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/api/v0/event", h.SingleEvent)
	router.POST("/event", h.SingleEvent)
	router.POST("/api/v0/events", h.MultipleEvents)
	router.POST("/events", h.MultipleEvents)
}

// SingleEvent handles POST /event: one submission per request. The body is
// validated before the app key is resolved, so a bad submission always gets
// its validation reason even when the key is unknown or locked.
func (h *EventsHandler) SingleEvent(c *gin.Context) {
	// Decode directly so a literal null body yields a nil submission for
	// the validator instead of tripping the framework's struct validator
	var body *ingestion.EventBody
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
		h.countOutcome(metrics.OutcomeInvalid, 1)
		c.String(http.StatusBadRequest, "Missing event body.")
		return
	}

	if valid, reason := h.validator.Validate(body, time.Now()); !valid {
		h.countOutcome(metrics.OutcomeInvalid, 1)
		c.String(http.StatusBadRequest, reason)
		return
	}

	identity, ok := h.resolveApp(c)
	if !ok {
		return
	}

	h.enqueue(c, identity, []*ingestion.EventBody{body})
	c.JSON(http.StatusOK, gin.H{})
}

// MultipleEvents handles POST /events: up to 25 submissions per request.
// Invalid elements are dropped individually; an all-invalid batch still
// succeeds, without touching the identity store.
func (h *EventsHandler) MultipleEvents(c *gin.Context) {
	var bodies []*ingestion.EventBody
	if err := json.NewDecoder(c.Request.Body).Decode(&bodies); err != nil {
		h.countOutcome(metrics.OutcomeInvalid, 1)
		c.String(http.StatusBadRequest, "Missing event body.")
		return
	}

	if len(bodies) > maxBatchSize {
		h.countOutcome(metrics.OutcomeInvalid, len(bodies))
		c.String(http.StatusBadRequest, fmt.Sprintf("Too many events (%d) in a single request. Maximum is %d.", len(bodies), maxBatchSize))
		return
	}

	now := time.Now()
	valid := make([]*ingestion.EventBody, 0, len(bodies))
	for _, body := range bodies {
		ok, reason := h.validator.Validate(body, now)
		if !ok {
			h.countOutcome(metrics.OutcomeInvalid, 1)
			h.logger.WithFields(logging.Fields{
				"app_key": c.GetHeader("App-Key"),
				"reason":  reason,
			}).Warn("Dropping invalid event from batch")
			continue
		}
		valid = append(valid, body)
	}

	if len(valid) == 0 {
		c.JSON(http.StatusOK, gin.H{})
		return
	}

	identity, ok := h.resolveApp(c)
	if !ok {
		return
	}

	h.enqueue(c, identity, valid)
	c.JSON(http.StatusOK, gin.H{})
}

// resolveApp authenticates the App-Key header against the identity cache.
// On failure it writes the response and returns ok=false.
func (h *EventsHandler) resolveApp(c *gin.Context) (apps.Identity, bool) {
	appKey := strings.ToUpper(strings.TrimSpace(c.GetHeader("App-Key")))
	if appKey == "" {
		c.String(http.StatusBadRequest, "Missing App-Key header.")
		return apps.Identity{}, false
	}

	// Request logs carry the key for abuse investigation
	c.Set("app_key", appKey)

	identity, err := h.cache.FindByAppKey(c.Request.Context(), appKey)
	if err != nil {
		h.logger.WithFields(logging.Fields{
			"app_key": appKey,
			"error":   err.Error(),
		}).Error("Failed to resolve app key")
		c.String(http.StatusInternalServerError, "Failed to process event.")
		return apps.Identity{}, false
	}

	if identity.AppID == "" {
		// Unknown keys get logged: either a misconfigured SDK or a probe
		h.logger.WithFields(logging.Fields{
			"app_key": appKey,
		}).Warn("Event received for unknown app key")
		h.countOutcome(metrics.OutcomeUnknownApp, 1)
		c.String(http.StatusNotFound, fmt.Sprintf("Application not found for app key %s.", appKey))
		return apps.Identity{}, false
	}

	if identity.IsLocked {
		h.countOutcome(metrics.OutcomeLocked, 1)
		c.String(http.StatusBadRequest, "Owner account is locked.")
		return apps.Identity{}, false
	}

	return identity, true
}

// enqueue normalizes validated bodies and appends them to the buffer.
func (h *EventsHandler) enqueue(c *gin.Context, identity apps.Identity, bodies []*ingestion.EventBody) {
	if len(bodies) == 0 {
		return
	}

	clientIP := c.ClientIP()
	location := h.locator.Locate(c.Request, clientIP)
	userAgent := c.GetHeader("User-Agent")

	events := make([]ingestion.TrackingEvent, 0, len(bodies))
	for _, body := range bodies {
		events = append(events, h.normalizer.Normalize(identity.AppID, location, clientIP, userAgent, body))
	}

	accepted := h.buffer.AddRange(events)
	h.countOutcome(metrics.OutcomeAccepted, accepted)
	if dropped := len(events) - accepted; dropped > 0 {
		h.countOutcome(metrics.OutcomeDropped, dropped)
	}

	if h.metrics != nil {
		h.metrics.BufferSize.WithLabelValues().Set(float64(h.buffer.Len()))
	}
}

func (h *EventsHandler) countOutcome(outcome string, n int) {
	if h.metrics == nil || n <= 0 {
		return
	}
	h.metrics.EventsTotal.WithLabelValues(outcome).Add(float64(n))
}
