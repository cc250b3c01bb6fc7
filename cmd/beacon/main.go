package main

import (
	"context"
	"strings"
	"time"

	"beacon/internal/apps"
	"beacon/internal/backend"
	"beacon/internal/handlers"
	"beacon/internal/ingestion"
	"beacon/internal/metrics"
	"beacon/pkg/clients"
	"beacon/pkg/config"
	"beacon/pkg/database"
	"beacon/pkg/geoip"
	"beacon/pkg/logging"
	"beacon/pkg/monitoring"
	"beacon/pkg/server"
	"beacon/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("beacon")

	// Load environment variables
	config.LoadEnv(logger)

	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GetShortCommit(),
	}).Info("Starting Beacon (Telemetry Event Ingestion)")

	databaseURL := config.RequireEnv("DATABASE_URL")

	// Connect to the control-plane database for app identity lookups
	dbConfig := database.DefaultConfig()
	dbConfig.URL = databaseURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	cache := apps.NewCache(apps.NewPostgresStore(db), apps.CacheConfig{
		TTL:         config.GetEnvDuration("APP_CACHE_TTL", 120*time.Second),
		NegativeTTL: config.GetEnvDuration("APP_CACHE_NEGATIVE_TTL", 15*time.Second),
	})

	// Select the analytics backend: a Tinybird token wins over ClickHouse
	client := newBackendClient(logger)

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("beacon", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("beacon", version.Version, version.GitCommit)
	ingestMetrics := metrics.NewIngestMetrics(metricsCollector)

	// Ingestion pipeline: bounded buffer drained by a single flusher
	buffer := ingestion.NewBuffer(config.GetEnvInt("EVENT_BUFFER_CAPACITY", 10000))
	buffer.OnDrop = func(n int) {
		ingestMetrics.EventsDropped.WithLabelValues(metrics.CauseBufferFull).Add(float64(n))
	}

	flusher := ingestion.NewFlusher(buffer, client, ingestion.FlusherConfig{
		Interval:        config.GetEnvDuration("FLUSH_INTERVAL", 2*time.Second),
		InsertTimeout:   config.GetEnvDuration("FLUSH_INSERT_TIMEOUT", 15*time.Second),
		ShutdownTimeout: config.GetEnvDuration("FLUSH_SHUTDOWN_TIMEOUT", 10*time.Second),
		Retry:           clients.DefaultRetryConfig(),
	}, logger)
	flusher.OnFlush = func(n int, elapsed time.Duration, err error) {
		ingestMetrics.FlushDuration.WithLabelValues(client.Name()).Observe(elapsed.Seconds())
		ingestMetrics.BufferSize.WithLabelValues().Set(float64(buffer.Len()))
		if err != nil {
			ingestMetrics.BackendInserts.WithLabelValues(client.Name(), "error").Inc()
			ingestMetrics.EventsDropped.WithLabelValues(metrics.CauseFlushFailed).Add(float64(n))
		} else {
			ingestMetrics.BackendInserts.WithLabelValues(client.Name(), "success").Inc()
		}
	}
	flusher.Start()

	// Optional MMDB database for geo enrichment
	geoReader, err := geoip.NewReader(config.GetEnv("GEOIP_DATABASE_PATH", ""))
	if err != nil {
		logger.WithError(err).Fatal("Failed to open GeoIP database")
	}
	if geoReader.IsLoaded() {
		defer geoReader.Close()
		logger.WithField("path", geoReader.GetDatabasePath()).Info("GeoIP database loaded")
	} else {
		logger.Info("GeoIP database not configured - using CDN headers for location")
	}

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("backend", monitoring.BackendHealthCheck(client.Name(), client.Ping))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": databaseURL,
	}))

	// Setup HTTP server
	router := server.SetupServiceRouter(logger, "beacon", healthChecker, metricsCollector)

	eventsHandler := handlers.NewEventsHandler(
		logger,
		cache,
		ingestion.NewValidator(logger),
		ingestion.NewNormalizer(),
		buffer,
		geoip.NewLocator(geoReader),
		ingestMetrics,
	)
	eventsHandler.RegisterRoutes(router)

	logger.WithField("backend", client.Name()).Info("Beacon ready")

	serverConfig := server.DefaultConfig("beacon", "18080")
	if err := server.StartWithShutdown(serverConfig, router, logger, func(ctx context.Context) {
		// Drain whatever is still buffered before the process exits
		flusher.Close()
	}); err != nil {
		logger.WithError(err).Fatal("Server error")
	}
}

// newBackendClient selects the analytics backend at startup. The choice is
// immutable for the process lifetime; only one backend is ever active.
func newBackendClient(logger logging.Logger) backend.Client {
	if token := config.GetEnv("TINYBIRD_TOKEN", ""); token != "" {
		return backend.NewTinybirdClient(backend.TinybirdConfig{
			BaseURL:    config.GetEnv("TINYBIRD_BASE_URL", "https://api.tinybird.co"),
			Token:      token,
			DataSource: config.GetEnv("TINYBIRD_DATASOURCE", "events"),
		}, logger)
	}

	chConfig := database.DefaultClickHouseConfig()
	chConfig.Addr = strings.Split(config.RequireEnv("CLICKHOUSE_HOST"), ",")
	chConfig.Database = config.GetEnv("CLICKHOUSE_DB", "beacon")
	chConfig.Username = config.GetEnv("CLICKHOUSE_USER", "default")
	chConfig.Password = config.GetEnv("CLICKHOUSE_PASSWORD", "")
	chConfig.Debug = config.GetEnvBool("CLICKHOUSE_DEBUG", false)
	conn := database.MustConnectClickHouseNative(chConfig, logger)

	return backend.NewClickHouseClient(conn, backend.ClickHouseConfig{
		HTTPAddr: config.GetEnv("CLICKHOUSE_HTTP_ADDR", "http://localhost:8123"),
		Database: chConfig.Database,
		Username: chConfig.Username,
		Password: chConfig.Password,
	}, logger)
}
