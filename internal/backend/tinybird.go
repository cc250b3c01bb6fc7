package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"beacon/internal/ingestion"
	"beacon/pkg/clients"
	"beacon/pkg/logging"
)

// TinybirdConfig configures the Tinybird backend client
type TinybirdConfig struct {
	// BaseURL is the regional API host, e.g. https://api.tinybird.co
	BaseURL string
	Token   string

	// DataSource is the events data source name
	DataSource string
}

// DefaultTinybirdConfig returns defaults for everything but the token.
func DefaultTinybirdConfig() TinybirdConfig {
	return TinybirdConfig{
		BaseURL:    "https://api.tinybird.co",
		DataSource: "events",
	}
}

// TinybirdClient writes event batches to the events API as NDJSON and runs
// named queries against published pipes.
type TinybirdClient struct {
	cfg      TinybirdConfig
	http     *http.Client
	executor failsafe.Executor[*http.Response]
	logger   logging.Logger
}

// NewTinybirdClient creates a Tinybird backend client.
func NewTinybirdClient(cfg TinybirdConfig, logger logging.Logger) *TinybirdClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTinybirdConfig().BaseURL
	}
	if cfg.DataSource == "" {
		cfg.DataSource = DefaultTinybirdConfig().DataSource
	}
	return &TinybirdClient{
		cfg:      cfg,
		http:     &http.Client{Timeout: 30 * time.Second},
		executor: clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
		logger:   logger,
	}
}

// Name identifies this backend in logs and health output.
func (c *TinybirdClient) Name() string {
	return "tinybird"
}

// Ping checks API reachability and token validity.
func (c *TinybirdClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/v0/tokens"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tinybird ping returned status %d", resp.StatusCode)
	}
	return nil
}

// InsertEvents streams a batch to the events API as newline-delimited JSON.
func (c *TinybirdClient) InsertEvents(ctx context.Context, events []ingestion.TrackingEvent) error {
	if len(events) == 0 {
		return nil
	}

	var body bytes.Buffer
	encoder := json.NewEncoder(&body)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}

	endpoint := c.endpoint("/v0/events") + "?name=" + url.QueryEscape(c.cfg.DataSource)
	resp, err := clients.ExecuteHTTP(ctx, c.executor, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		req.Header.Set("Content-Type", "application/x-ndjson")
		return c.http.Do(req)
	})
	if err != nil {
		return fmt.Errorf("tinybird insert failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read tinybird response: %w", err)
	}

	// The events API answers 200 or 202 depending on write mode
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return &APIError{Backend: c.Name(), StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	c.logger.WithFields(logging.Fields{
		"events": len(events),
	}).Debug("Inserted events batch into Tinybird")

	return nil
}

// Query runs a published pipe and returns its raw JSON envelope. Nil args
// are omitted from the request entirely.
func (c *TinybirdClient) Query(ctx context.Context, name string, args QueryArgs) ([]byte, error) {
	params := url.Values{}
	for _, arg := range args {
		formatted, present := formatValue(arg.Value)
		if !present {
			continue
		}
		params.Set(arg.Name, formatted)
	}

	endpoint := c.endpoint("/v0/pipes/"+url.PathEscape(name)+".json")
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	resp, err := clients.ExecuteHTTP(ctx, c.executor, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		return c.http.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("tinybird query %s failed: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tinybird response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Backend: c.Name(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

func (c *TinybirdClient) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}
