package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"beacon/internal/ingestion"
	"beacon/pkg/clients"
	"beacon/pkg/database"
	"beacon/pkg/logging"
)

// clickHouseQueries maps query names to parameterized SQL. Parameters bind
// through the HTTP interface's param_ mechanism; FORMAT JSON produces the
// {"data": [...]} envelope the reporting surface expects.
var clickHouseQueries = map[string]string{
	"top_events": `
		SELECT event_name, count() AS events
		FROM events
		WHERE app_id = {app_id:String}
		  AND timestamp BETWEEN {date_from:String} AND {date_to:String}
		GROUP BY event_name
		ORDER BY events DESC
		FORMAT JSON`,
	"sessions_per_day": `
		SELECT toDate(timestamp) AS day, uniq(session_id) AS sessions
		FROM events
		WHERE app_id = {app_id:String}
		  AND timestamp BETWEEN {date_from:String} AND {date_to:String}
		GROUP BY day
		ORDER BY day
		FORMAT JSON`,
	"top_countries": `
		SELECT country_code, uniq(session_id) AS sessions
		FROM events
		WHERE app_id = {app_id:String}
		  AND timestamp BETWEEN {date_from:String} AND {date_to:String}
		GROUP BY country_code
		ORDER BY sessions DESC
		FORMAT JSON`,
}

// ClickHouseConfig configures the ClickHouse backend client
type ClickHouseConfig struct {
	// HTTPAddr is the HTTP interface used for named queries
	HTTPAddr string
	Database string
	Username string
	Password string
}

// ClickHouseClient writes event batches over the native protocol and runs
// named queries over the HTTP interface.
type ClickHouseClient struct {
	conn     database.ClickHouseNativeConn
	cfg      ClickHouseConfig
	http     *http.Client
	executor failsafe.Executor[*http.Response]
	logger   logging.Logger
}

// NewClickHouseClient creates a ClickHouse backend client.
func NewClickHouseClient(conn database.ClickHouseNativeConn, cfg ClickHouseConfig, logger logging.Logger) *ClickHouseClient {
	return &ClickHouseClient{
		conn:     conn,
		cfg:      cfg,
		http:     &http.Client{Timeout: 30 * time.Second},
		executor: clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
		logger:   logger,
	}
}

// Name identifies this backend in logs and health output.
func (c *ClickHouseClient) Name() string {
	return "clickhouse"
}

// Ping verifies connectivity over the native protocol.
func (c *ClickHouseClient) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// InsertEvents bulk-writes a batch using a native prepared batch. The
// events table uses ReplacingMergeTree keyed on the full event identity,
// so a retried batch deduplicates instead of double counting.
func (c *ClickHouseClient) InsertEvents(ctx context.Context, events []ingestion.TrackingEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO events (
			app_id, event_name, timestamp, session_id,
			os_name, os_version, locale, app_version, app_build_number,
			engine_name, engine_version, sdk_version,
			country_code, region_name, client_ip_address, user_agent,
			string_props, numeric_props, is_debug
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare events batch: %w", err)
	}

	for _, event := range events {
		if err := appendEvent(batch, event); err != nil {
			return fmt.Errorf("failed to append event to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send events batch: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"events": len(events),
	}).Debug("Inserted events batch into ClickHouse")

	return nil
}

// appendEvent maps one event onto the batch columns, matching the INSERT
// column order.
func appendEvent(batch database.ClickHouseBatch, event ingestion.TrackingEvent) error {
	return batch.Append(
		event.AppID,
		event.EventName,
		event.Timestamp,
		event.SessionID,
		event.OSName,
		event.OSVersion,
		event.Locale,
		event.AppVersion,
		event.AppBuildNumber,
		event.EngineName,
		event.EngineVersion,
		event.SdkVersion,
		event.CountryCode,
		event.RegionName,
		event.ClientIP,
		event.UserAgent,
		event.StringProps,
		event.NumericProps,
		event.IsDebug,
	)
}

// Query runs a named query over the HTTP interface and returns the raw
// FORMAT JSON envelope.
func (c *ClickHouseClient) Query(ctx context.Context, name string, args QueryArgs) ([]byte, error) {
	sql, ok := clickHouseQueries[name]
	if !ok {
		return nil, fmt.Errorf("unknown query: %s", name)
	}

	params := url.Values{}
	params.Set("database", c.cfg.Database)
	for _, arg := range args {
		// Timestamps take the quoted SQL form on the wire path, but
		// param binding wants the bare value
		if t, ok := arg.Value.(time.Time); ok {
			params.Set("param_"+arg.Name, t.UTC().Format("2006-01-02 15:04:05"))
			continue
		}
		formatted, present := formatValue(arg.Value)
		if !present {
			continue
		}
		params.Set("param_"+arg.Name, formatted)
	}

	endpoint := strings.TrimRight(c.cfg.HTTPAddr, "/") + "/?" + params.Encode()

	resp, err := clients.ExecuteHTTP(ctx, c.executor, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(sql))
		if err != nil {
			return nil, err
		}
		if c.cfg.Username != "" {
			req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
		}
		return c.http.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse query %s failed: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read clickhouse response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Backend: c.Name(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
