// Package config loads the process configuration from environment
// variables, following the getEnv-with-default idiom in the teacher's
// cmd/tarsy/main.go, generalised into a typed struct with its own loader
// rather than scattered getEnv calls in main.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/sentientmobilefurniture/sessiond/internal/httpapi"
	"github.com/sentientmobilefurniture/sessiond/internal/manager"
)

// Config is the full process configuration: manager.Config's session
// tunables (spec.md §6.4) plus the ambient HTTP/metrics/storage settings
// every deployment of this service needs.
type Config struct {
	Manager manager.Config
	HTTP    httpapi.Config

	HTTPAddr              string
	MetricsAddr           string
	DocumentStoreEndpoint string
	AgentRuntimeURL       string
	LogFormat             string // "json" or "text"
	LogLevel              string
}

// Load reads .env (if present) then the process environment, falling
// back to the defaults in spec.md §6.4 and this service's own ambient
// defaults for anything unset. envPath may be "" to skip loading a file.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	mgrCfg := manager.DefaultConfig()

	maxActive, err := getEnvInt("MAX_ACTIVE_SESSIONS", mgrCfg.MaxActive)
	if err != nil {
		return Config{}, err
	}
	maxRecent, err := getEnvInt("MAX_RECENT_SESSIONS", mgrCfg.MaxRecent)
	if err != nil {
		return Config{}, err
	}
	maxEventLog, err := getEnvInt("MAX_EVENT_LOG_SIZE", mgrCfg.MaxEventLog)
	if err != nil {
		return Config{}, err
	}
	idleTimeoutSeconds, err := getEnvInt("IDLE_TIMEOUT_SECONDS", int(mgrCfg.IdleTimeout/time.Second))
	if err != nil {
		return Config{}, err
	}
	agentMaxAttempts, err := getEnvInt("AGENT_MAX_ATTEMPTS", mgrCfg.AgentMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	heartbeatSeconds, err := getEnvInt("HEARTBEAT_INTERVAL_SECONDS", int(mgrCfg.HeartbeatInterval/time.Second))
	if err != nil {
		return Config{}, err
	}

	mgrCfg.MaxActive = maxActive
	mgrCfg.MaxRecent = maxRecent
	mgrCfg.MaxEventLog = maxEventLog
	mgrCfg.IdleTimeout = time.Duration(idleTimeoutSeconds) * time.Second
	mgrCfg.AgentMaxAttempts = agentMaxAttempts
	mgrCfg.HeartbeatInterval = time.Duration(heartbeatSeconds) * time.Second

	return Config{
		Manager:               mgrCfg,
		HTTP:                  httpapi.Config{HeartbeatInterval: mgrCfg.HeartbeatInterval},
		HTTPAddr:              getEnvString("HTTP_ADDR", ":8080"),
		MetricsAddr:           getEnvString("METRICS_ADDR", ":9090"),
		DocumentStoreEndpoint: getEnvString("DOCUMENT_STORE_ENDPOINT", "file:./sessiond.db"),
		AgentRuntimeURL:       getEnvString("AGENT_RUNTIME_URL", "http://localhost:9100"),
		LogFormat:             getEnvString("LOG_FORMAT", "json"),
		LogLevel:              getEnvString("LOG_LEVEL", "info"),
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
	return n, nil
}
