package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fr0stylo/platesync/internal/ingest"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultStaleAfter = 15 * time.Minute
	minStaleAfter     = time.Minute
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	Import        ImportConfig
	Notify        NotifyConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	Driver    string
	Path      string
	DSN       string
	LogTiming bool
}

type ObservabilityConfig struct {
	Enabled           bool
	OTLPEndpoint      string
	OTLPTraceHeaders  map[string]string
	OTLPMetricHeaders map[string]string
	ServiceName       string
	ServiceVer        string
	SamplingRatio     float64
	MetricsConsole    bool
}

type ImportConfig struct {
	BatchSize       int
	ChunkBytes      int
	MaxBoundedBytes int64
	Precheck        bool
	AuditCap        int
	MaxRetries      int
	RetryBaseMS     int
	CallTimeoutMS   int
	InitialStatus   string
	// StaleAfter is how long a PENDING or PROCESSING job may go without an
	// update before startup recovery fails it.
	StaleAfter      time.Duration
}

type NotifyConfig struct {
	URL     string
	Token   string
	Secret  string
	Timeout time.Duration
}

func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("platesync_env", "")
	v.SetDefault("app_env", "")
	v.SetDefault("go_env", "")
	v.SetDefault("platesync_port", 8080)
	v.SetDefault("platesync_db_driver", DriverSQLite)
	v.SetDefault("platesync_db_path", "data/platesync")
	v.SetDefault("platesync_db_dsn", "")
	v.SetDefault("platesync_db_timing", false)
	v.SetDefault("platesync_otel_enabled", false)
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("otel_exporter_otlp_headers", "")
	v.SetDefault("otel_exporter_otlp_traces_headers", "")
	v.SetDefault("otel_exporter_otlp_metrics_headers", "")
	v.SetDefault("otel_service_name", "platesync")
	v.SetDefault("platesync_service_name", "platesync")
	v.SetDefault("platesync_version", "dev")
	v.SetDefault("otel_service_version", "")
	v.SetDefault("platesync_otel_sampling_ratio", 1.0)
	v.SetDefault("platesync_otel_metrics_console", false)
	v.SetDefault("platesync_import_batch_size", ingest.DefaultBatchSize)
	v.SetDefault("platesync_import_chunk_bytes", ingest.DefaultChunkSize)
	v.SetDefault("platesync_import_max_bounded_bytes", ingest.DefaultMaxBoundedBytes)
	v.SetDefault("platesync_import_precheck", true)
	v.SetDefault("platesync_import_audit_cap", ingest.DefaultAuditCap)
	v.SetDefault("platesync_import_max_retries", ingest.DefaultMaxRetries)
	v.SetDefault("platesync_import_retry_base_ms", ingest.DefaultRetryBase.Milliseconds())
	v.SetDefault("platesync_import_call_timeout_ms", ingest.DefaultCallTimeout.Milliseconds())
	v.SetDefault("platesync_import_initial_status", "AVAILABLE")
	v.SetDefault("platesync_import_stale_after_ms", defaultStaleAfter.Milliseconds())
	v.SetDefault("platesync_notify_url", "")
	v.SetDefault("platesync_notify_token", "")
	v.SetDefault("platesync_notify_secret", "")
	v.SetDefault("platesync_notify_timeout_ms", 10000)

	env := resolveEnvironment(v)
	port := v.GetInt("platesync_port")
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid PLATESYNC_PORT: %d", port)
	}

	driver := strings.ToLower(strings.TrimSpace(v.GetString("platesync_db_driver")))
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
	case DriverPostgres, "pg", "postgresql":
		driver = DriverPostgres
	default:
		return Config{}, fmt.Errorf("invalid PLATESYNC_DB_DRIVER: %q", driver)
	}

	samplingRatio := v.GetFloat64("platesync_otel_sampling_ratio")
	if samplingRatio < 0 {
		samplingRatio = 0
	}
	if samplingRatio > 1 {
		samplingRatio = 1
	}

	batchSize := v.GetInt("platesync_import_batch_size")
	if batchSize <= 0 {
		batchSize = ingest.DefaultBatchSize
	}
	if batchSize > ingest.MaxBatchSize {
		batchSize = ingest.MaxBatchSize
	}

	chunkBytes := v.GetInt("platesync_import_chunk_bytes")
	if chunkBytes < 1024 {
		chunkBytes = 1024
	}
	if chunkBytes > 4<<20 {
		chunkBytes = 4 << 20
	}

	maxRetries := v.GetInt("platesync_import_max_retries")
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxRetries > 10 {
		maxRetries = 10
	}

	staleAfter := time.Duration(v.GetInt64("platesync_import_stale_after_ms")) * time.Millisecond
	if staleAfter < minStaleAfter {
		staleAfter = minStaleAfter
	}

	serviceName := strings.TrimSpace(v.GetString("otel_service_name"))
	if serviceName == "" {
		serviceName = strings.TrimSpace(v.GetString("platesync_service_name"))
	}
	if serviceName == "" {
		serviceName = "platesync"
	}

	serviceVersion := strings.TrimSpace(v.GetString("platesync_version"))
	if serviceVersion == "" {
		serviceVersion = strings.TrimSpace(v.GetString("otel_service_version"))
	}
	if serviceVersion == "" {
		serviceVersion = "dev"
	}

	otlpEndpoint := strings.TrimSpace(v.GetString("otel_exporter_otlp_endpoint"))
	otlpCommonHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_headers"))
	otlpTraceHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_traces_headers"))
	otlpMetricHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_metrics_headers"))
	metricsConsole := v.GetBool("platesync_otel_metrics_console")
	otelEnabled := v.GetBool("platesync_otel_enabled") || otlpEndpoint != "" || metricsConsole

	cfg := Config{
		Environment: env,
		Server:      ServerConfig{Port: port},
		Database: DatabaseConfig{
			Driver:    driver,
			Path:      strings.TrimSpace(v.GetString("platesync_db_path")),
			DSN:       strings.TrimSpace(v.GetString("platesync_db_dsn")),
			LogTiming: v.GetBool("platesync_db_timing"),
		},
		Observability: ObservabilityConfig{
			Enabled:           otelEnabled,
			OTLPEndpoint:      otlpEndpoint,
			OTLPTraceHeaders:  mergeHeaderMaps(otlpCommonHeaders, otlpTraceHeaders),
			OTLPMetricHeaders: mergeHeaderMaps(otlpCommonHeaders, otlpMetricHeaders),
			ServiceName:       serviceName,
			ServiceVer:        serviceVersion,
			SamplingRatio:     samplingRatio,
			MetricsConsole:    metricsConsole,
		},
		Import: ImportConfig{
			BatchSize:       batchSize,
			ChunkBytes:      chunkBytes,
			MaxBoundedBytes: v.GetInt64("platesync_import_max_bounded_bytes"),
			Precheck:        v.GetBool("platesync_import_precheck"),
			AuditCap:        v.GetInt("platesync_import_audit_cap"),
			MaxRetries:      maxRetries,
			RetryBaseMS:     v.GetInt("platesync_import_retry_base_ms"),
			CallTimeoutMS:   v.GetInt("platesync_import_call_timeout_ms"),
			InitialStatus:   strings.ToUpper(strings.TrimSpace(v.GetString("platesync_import_initial_status"))),
			StaleAfter:      staleAfter,
		},
		Notify: NotifyConfig{
			URL:     strings.TrimSpace(v.GetString("platesync_notify_url")),
			Token:   strings.TrimSpace(v.GetString("platesync_notify_token")),
			Secret:  strings.TrimSpace(v.GetString("platesync_notify_secret")),
			Timeout: time.Duration(v.GetInt("platesync_notify_timeout_ms")) * time.Millisecond,
		},
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/platesync"
	}
	if cfg.Database.Driver == DriverPostgres && cfg.Database.DSN == "" {
		return Config{}, fmt.Errorf("PLATESYNC_DB_DSN is required when PLATESYNC_DB_DRIVER=postgres")
	}
	if cfg.Import.InitialStatus == "" {
		cfg.Import.InitialStatus = "AVAILABLE"
	}

	return cfg, nil
}

// ImportOptions maps import settings onto pipeline options. Unset values fall
// back to pipeline defaults.
func (c Config) ImportOptions() ingest.Options {
	opts := ingest.DefaultOptions()
	opts.BatchSize = c.Import.BatchSize
	opts.ChunkSize = c.Import.ChunkBytes
	opts.MaxBoundedBytes = c.Import.MaxBoundedBytes
	opts.Precheck = c.Import.Precheck
	opts.AuditCap = c.Import.AuditCap
	opts.Retry.MaxRetries = c.Import.MaxRetries
	opts.Retry.Base = time.Duration(c.Import.RetryBaseMS) * time.Millisecond
	opts.CallTimeout = time.Duration(c.Import.CallTimeoutMS) * time.Millisecond
	return opts
}

func parseOTLPHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mergeHeaderMaps(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func (c Config) IsLocalDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "local", "dev", "development", "test":
		return true
	default:
		return false
	}
}

func resolveEnvironment(v *viper.Viper) string {
	for _, key := range []string{"platesync_env", "app_env", "go_env"} {
		value := strings.TrimSpace(v.GetString(key))
		if value != "" {
			return strings.ToLower(value)
		}
	}
	return ""
}
