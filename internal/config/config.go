package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	defaultDataDir       = "."
	defaultListenAddress = ":8080"
	defaultDBFile        = "market-gateway.db"
)

// searchEngines lists the engines whose API keys may be supplied via
// <ENGINE>_API_KEYS environment variables when no database rows exist.
var searchEngines = []string{"tavily", "brave", "serper"}

// Configuration carries everything read from the environment. Components
// pull what they need through the typed getters.
type Configuration map[string]any

// ReadFromEnv builds the process configuration from environment variables,
// loading DATA_DIR/.env first when present.
func ReadFromEnv() Configuration {
	cfg := Configuration{}

	level := ParseLogLevel(os.Getenv("LOG_LEVEL"))
	cfg["log_level"] = level.String()
	SetLogLevel(level)

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	cfg["data_dir"] = dataDir

	if err := godotenv.Load(filepath.Join(dataDir, ".env")); err != nil {
		logrus.Debugf("No env file loaded from %s: %v", dataDir, err)
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, defaultDBFile)
	}
	cfg["db_path"] = dbPath

	listenAddress := os.Getenv("LISTEN_ADDRESS")
	if listenAddress == "" {
		listenAddress = defaultListenAddress
	}
	cfg["listen_address"] = listenAddress

	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg["api_key"] = apiKey
	}

	cfg["stats_buf_size"] = envUint("STATS_BUF_SIZE", 128)
	cfg["provider_timeout"] = envDurationSecs("PROVIDER_TIMEOUT_SECONDS", 10)
	cfg["quote_cache_ttl"] = envDurationSecs("QUOTE_CACHE_TTL_SECONDS", 3)
	cfg["kline_cache_ttl"] = envDurationSecs("KLINE_CACHE_TTL_SECONDS", 300)
	cfg["cache_max_entries"] = envInt("CACHE_MAX_ENTRIES", 1024)
	cfg["profiling_enabled"] = os.Getenv("ENABLE_PPROF") == "true"

	if blacklist := envList("WEBFETCH_BLACKLIST"); len(blacklist) > 0 {
		cfg["webfetch_blacklist"] = blacklist
	}

	for _, engine := range searchEngines {
		envVar := strings.ToUpper(engine) + "_API_KEYS"
		if keys := envList(envVar); len(keys) > 0 {
			logrus.Infof("%s found, %d key(s) available as fallback", envVar, len(keys))
			cfg[engine+"_api_keys"] = keys
		}
	}

	return cfg
}

func envList(name string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(name string, def int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		logrus.Errorf("Error parsing %s: %s. Setting to default.", name, err)
		return def
	}
	return v
}

func envUint(name string, def uint) uint {
	v := envInt(name, int(def))
	if v < 0 {
		return def
	}
	return uint(v)
}

func envDurationSecs(name string, defSecs int) time.Duration {
	return time.Duration(envInt(name, defSecs)) * time.Second
}

// Unmarshal unmarshals the configuration into the supplied struct.
func (c Configuration) Unmarshal(v any) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("error marshalling configuration: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("error unmarshalling configuration: %w", err)
	}

	return nil
}

func (c Configuration) DataDir() string {
	return c.GetString("data_dir", defaultDataDir)
}

func (c Configuration) DBPath() string {
	return c.GetString("db_path", filepath.Join(c.DataDir(), defaultDBFile))
}

func (c Configuration) ListenAddress() string {
	return c.GetString("listen_address", defaultListenAddress)
}

// EngineAPIKeys returns the environment-supplied fallback keys for a search
// engine, or nil when the variable was not set.
func (c Configuration) EngineAPIKeys(engine string) []string {
	return c.GetStringSlice(engine+"_api_keys", nil)
}

// GetInt safely extracts an int from the configuration, with a default fallback.
func (c Configuration) GetInt(key string, def int) int {
	if v, ok := c[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case int64:
			return int(val)
		case float64:
			return int(val)
		case uint:
			return int(val)
		}
	}
	return def
}

func (c Configuration) GetUint(key string, def uint) uint {
	v := c.GetInt(key, int(def))
	if v < 0 {
		return def
	}
	return uint(v)
}

func (c Configuration) GetDuration(key string, defSecs int) time.Duration {
	if v, ok := c[key]; ok {
		if val, ok := v.(time.Duration); ok {
			return val
		}
	}
	return time.Duration(defSecs) * time.Second
}

func (c Configuration) GetString(key string, def string) string {
	if v, ok := c[key]; ok {
		if val, ok := v.(string); ok {
			return val
		}
	}
	return def
}

// GetStringSlice safely extracts a string slice from the configuration, with
// a default fallback.
func (c Configuration) GetStringSlice(key string, def []string) []string {
	if v, ok := c[key]; ok {
		if val, ok := v.([]string); ok {
			return val
		}
	}
	return def
}

// GetBool safely extracts a bool from the configuration, with a default fallback.
func (c Configuration) GetBool(key string, def bool) bool {
	if v, ok := c[key]; ok {
		if val, ok := v.(bool); ok {
			return val
		}
	}
	return def
}

// ParseLogLevel converts a string to a logrus level, defaulting to Info.
func ParseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// SetLogLevel applies the level to the global logrus logger.
func SetLogLevel(level logrus.Level) {
	logrus.SetLevel(level)
}
