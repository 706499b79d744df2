package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/riskibarqy/teamsync/internal/platform/logging"
	"github.com/riskibarqy/teamsync/internal/platform/resilience"
)

const (
	GatewayREST     = "rest"
	GatewayPostgres = "postgres"
)

// Config stores runtime configuration for the sync daemon.
type Config struct {
	AppEnv         string
	ServiceName    string
	ServiceVersion string
	LogLevel       logging.Level

	LocalDBPath string

	SyncInterval       time.Duration
	SyncBatchSize      int
	SyncMaxAttempts    int
	SyncCallTimeout    time.Duration
	SyncCooldown       time.Duration
	SyncWorkers        int
	SyncRecentCapacity int

	GatewayKind                  string
	BackendRESTURL               string
	BackendAPIKey                string
	BackendAccessToken           string
	BackendTimeout               time.Duration
	BackendDBURL                 string
	BackendCircuitEnabled        bool
	BackendCircuitFailureCount   int
	BackendCircuitOpenTimeout    time.Duration
	BackendCircuitHalfOpenMaxReq int

	ProbeURL      string
	ProbeTimeout  time.Duration
	ProbeCacheTTL time.Duration

	StatusHTTPAddr     string
	StatusReadTimeout  time.Duration
	StatusWriteTimeout time.Duration
	StatusToken        string
	CORSAllowedOrigins []string

	UptraceEnabled             bool
	UptraceDSN                 string
	UptraceLogsEnabled         bool
	PyroscopeEnabled           bool
	PyroscopeServerAddress     string
	PyroscopeAppName           string
	PyroscopeAuthToken         string
	PyroscopeBasicAuthUser     string
	PyroscopeBasicAuthPassword string
	PyroscopeUploadRate        time.Duration
}

func Load() (Config, error) {
	appEnv, err := parseAppEnv(getEnv("APP_ENV", EnvDev))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:         appEnv,
		ServiceName:    getEnv("SERVICE_NAME", "teamsync"),
		ServiceVersion: getEnv("SERVICE_VERSION", "dev"),
		LogLevel:       logging.ParseLevel(getEnv("LOG_LEVEL", "info")),
		LocalDBPath:    strings.TrimSpace(getEnv("LOCAL_DB_PATH", "teamsync.db")),
	}

	if err := loadSync(&cfg); err != nil {
		return Config{}, err
	}
	if err := loadGateway(&cfg); err != nil {
		return Config{}, err
	}
	if err := loadProbe(&cfg); err != nil {
		return Config{}, err
	}
	if err := loadStatusAPI(&cfg); err != nil {
		return Config{}, err
	}
	if err := loadObservability(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadSync(cfg *Config) error {
	var err error

	if cfg.SyncInterval, err = parsePositiveDuration("SYNC_INTERVAL", "30s"); err != nil {
		return err
	}
	if cfg.SyncCallTimeout, err = parsePositiveDuration("SYNC_CALL_TIMEOUT", "12s"); err != nil {
		return err
	}

	if cfg.SyncCooldown, err = time.ParseDuration(getEnv("SYNC_COOLDOWN", "1s")); err != nil {
		return fmt.Errorf("parse SYNC_COOLDOWN: %w", err)
	}
	if cfg.SyncCooldown < 0 {
		return fmt.Errorf("SYNC_COOLDOWN must be >= 0")
	}

	if cfg.SyncBatchSize, err = parsePositiveInt("SYNC_BATCH_SIZE", 5); err != nil {
		return err
	}
	if cfg.SyncMaxAttempts, err = parsePositiveInt("SYNC_MAX_ATTEMPTS", 3); err != nil {
		return err
	}
	if cfg.SyncWorkers, err = parsePositiveInt("SYNC_DISPATCH_WORKERS", 1); err != nil {
		return err
	}
	if cfg.SyncRecentCapacity, err = parsePositiveInt("SYNC_RECENT_CAPACITY", 50); err != nil {
		return err
	}

	return nil
}

func loadGateway(cfg *Config) error {
	kind := strings.ToLower(strings.TrimSpace(getEnv("GATEWAY_KIND", GatewayREST)))
	switch kind {
	case GatewayREST, GatewayPostgres:
	default:
		return fmt.Errorf("invalid GATEWAY_KIND %q: valid values are %s, %s", kind, GatewayREST, GatewayPostgres)
	}
	cfg.GatewayKind = kind

	cfg.BackendRESTURL = strings.TrimSpace(getEnv("BACKEND_REST_URL", "http://localhost:54321"))
	cfg.BackendAPIKey = strings.TrimSpace(getEnv("BACKEND_API_KEY", ""))
	cfg.BackendAccessToken = strings.TrimSpace(getEnv("BACKEND_ACCESS_TOKEN", ""))
	cfg.BackendDBURL = strings.TrimSpace(getEnv("BACKEND_DB_URL", ""))
	if kind == GatewayREST && cfg.BackendRESTURL == "" {
		return fmt.Errorf("BACKEND_REST_URL is required when GATEWAY_KIND=%s", GatewayREST)
	}
	if kind == GatewayPostgres && cfg.BackendDBURL == "" {
		return fmt.Errorf("BACKEND_DB_URL is required when GATEWAY_KIND=%s", GatewayPostgres)
	}

	var err error
	if cfg.BackendTimeout, err = parsePositiveDuration("BACKEND_TIMEOUT", "10s"); err != nil {
		return err
	}

	if cfg.BackendCircuitEnabled, err = strconv.ParseBool(getEnv("BACKEND_CIRCUIT_ENABLED", "true")); err != nil {
		return fmt.Errorf("parse BACKEND_CIRCUIT_ENABLED: %w", err)
	}
	breaker := resilience.GatewayCircuitBreakerConfig(cfg.SyncInterval, cfg.SyncBatchSize)
	if cfg.BackendCircuitFailureCount, err = parsePositiveInt("BACKEND_CIRCUIT_FAILURE_COUNT", breaker.FailureThreshold); err != nil {
		return err
	}
	if cfg.BackendCircuitOpenTimeout, err = parsePositiveDuration("BACKEND_CIRCUIT_OPEN_TIMEOUT", breaker.OpenTimeout.String()); err != nil {
		return err
	}
	if cfg.BackendCircuitHalfOpenMaxReq, err = parsePositiveInt("BACKEND_CIRCUIT_HALF_OPEN_MAX_REQ", breaker.HalfOpenMaxReq); err != nil {
		return err
	}

	return nil
}

func loadProbe(cfg *Config) error {
	cfg.ProbeURL = strings.TrimSpace(getEnv("PROBE_URL", ""))

	var err error
	if cfg.ProbeTimeout, err = parsePositiveDuration("PROBE_TIMEOUT", "3s"); err != nil {
		return err
	}
	if cfg.ProbeCacheTTL, err = time.ParseDuration(getEnv("PROBE_CACHE_TTL", "5s")); err != nil {
		return fmt.Errorf("parse PROBE_CACHE_TTL: %w", err)
	}
	if cfg.ProbeCacheTTL < 0 {
		return fmt.Errorf("PROBE_CACHE_TTL must be >= 0")
	}

	return nil
}

func loadStatusAPI(cfg *Config) error {
	cfg.StatusHTTPAddr = strings.TrimSpace(getEnv("STATUS_HTTP_ADDR", ""))
	cfg.StatusToken = strings.TrimSpace(getEnv("STATUS_API_TOKEN", ""))
	cfg.CORSAllowedOrigins = splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "*"))
	if len(cfg.CORSAllowedOrigins) == 0 {
		return fmt.Errorf("CORS_ALLOWED_ORIGINS cannot be empty")
	}

	var err error
	if cfg.StatusReadTimeout, err = parsePositiveDuration("STATUS_READ_TIMEOUT", "10s"); err != nil {
		return err
	}
	// A waited trigger runs a full cycle inside the request.
	if cfg.StatusWriteTimeout, err = parsePositiveDuration("STATUS_WRITE_TIMEOUT", "90s"); err != nil {
		return err
	}

	return nil
}

func loadObservability(cfg *Config) error {
	var err error

	if cfg.UptraceEnabled, err = strconv.ParseBool(getEnv("UPTRACE_ENABLED", "false")); err != nil {
		return fmt.Errorf("parse UPTRACE_ENABLED: %w", err)
	}
	cfg.UptraceDSN = strings.TrimSpace(getEnv("UPTRACE_DSN", ""))
	if cfg.UptraceDSN == "" {
		cfg.UptraceDSN = parseUptraceDSNFromOTLPHeaders(getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""))
	}
	if cfg.UptraceEnabled && cfg.UptraceDSN == "" {
		return fmt.Errorf("UPTRACE_DSN is required when UPTRACE_ENABLED=true")
	}
	if cfg.UptraceLogsEnabled, err = strconv.ParseBool(getEnv("UPTRACE_LOGS_ENABLED", "true")); err != nil {
		return fmt.Errorf("parse UPTRACE_LOGS_ENABLED: %w", err)
	}

	if cfg.PyroscopeEnabled, err = strconv.ParseBool(getEnv("PYROSCOPE_ENABLED", "false")); err != nil {
		return fmt.Errorf("parse PYROSCOPE_ENABLED: %w", err)
	}
	cfg.PyroscopeServerAddress = strings.TrimSpace(getEnv("PYROSCOPE_SERVER_ADDRESS", ""))
	if cfg.PyroscopeEnabled && cfg.PyroscopeServerAddress == "" {
		return fmt.Errorf("PYROSCOPE_SERVER_ADDRESS is required when PYROSCOPE_ENABLED=true")
	}
	if cfg.PyroscopeUploadRate, err = parsePositiveDuration("PYROSCOPE_UPLOAD_RATE", "15s"); err != nil {
		return err
	}
	cfg.PyroscopeAuthToken = strings.TrimSpace(getEnv("PYROSCOPE_AUTH_TOKEN", ""))
	cfg.PyroscopeBasicAuthUser = strings.TrimSpace(getEnv("PYROSCOPE_BASIC_AUTH_USER", ""))
	cfg.PyroscopeBasicAuthPassword = strings.TrimSpace(getEnv("PYROSCOPE_BASIC_AUTH_PASSWORD", ""))
	cfg.PyroscopeAppName = strings.TrimSpace(getEnv("PYROSCOPE_APP_NAME", cfg.ServiceName))
	if cfg.PyroscopeEnabled && cfg.PyroscopeAppName == "" {
		return fmt.Errorf("PYROSCOPE_APP_NAME cannot be empty when PYROSCOPE_ENABLED=true")
	}

	return nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	value, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return value, nil
}

func parsePositiveInt(key string, fallback int) (int, error) {
	value, err := getEnvAsInt(key, fallback)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value < 1 {
		return 0, fmt.Errorf("%s must be >= 1", key)
	}
	return value, nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}

	return value
}

func getEnvAsInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	out, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}

	return out, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}

	return out
}

func parseUptraceDSNFromOTLPHeaders(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	items := strings.Split(raw, ",")
	for _, item := range items {
		parts := strings.SplitN(strings.TrimSpace(item), "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(parts[0]), "uptrace-dsn") {
			value := strings.TrimSpace(parts[1])
			return strings.Trim(value, "\"'")
		}
	}

	return ""
}

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"
)

func parseAppEnv(v string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(v))
	switch value {
	case EnvDev, EnvStage, EnvProd:
		return value, nil
	default:
		return "", fmt.Errorf("invalid APP_ENV %q: valid values are %s, %s, %s", v, EnvDev, EnvStage, EnvProd)
	}
}
