package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"wastewatch/internal/log"
)

type Config struct {
	// HTTP Server
	Port     string
	LogLevel string

	// Record store
	DataBackend  string
	SQLiteDBPath string
	PageSize     int
	CacheTTL     time.Duration

	// AMQP ingest queue, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// MQTT sensor readings, disabled when MQTTBroker is empty
	MQTTBroker   string
	MQTTTopic    string
	MQTTUsername string
	MQTTPassword string

	// Upstream live feed, disabled when FeedURL is empty
	FeedURL              string
	FeedReconnectDelay   time.Duration
	FeedHandshakeTimeout time.Duration

	// Sensor simulation
	SimulateSensors    bool
	SimulationInterval time.Duration

	// Google Sheets seed, skipped when GoogleSpreadsheetID is empty
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Optional seed file (JSON lines) and compartment layout (YAML)
	SeedFile         string
	CompartmentsFile string
}

func Load() *Config {
	cfg := &Config{
		Port:     getEnv("PORT", "8081"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/wastewatch.db"),
		PageSize:     getEnvInt("PAGE_SIZE", 15),
		CacheTTL:     getEnvDuration("CACHE_TTL", 5*time.Minute),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "wastewatch"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ingest_payloads"),

		MQTTBroker:   getEnv("MQTT_BROKER", ""),
		MQTTTopic:    getEnv("MQTT_TOPIC", "wastewatch/compartments"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		FeedURL:              getEnv("FEED_URL", ""),
		FeedReconnectDelay:   getEnvDuration("FEED_RECONNECT_DELAY", time.Second),
		FeedHandshakeTimeout: getEnvDuration("FEED_HANDSHAKE_TIMEOUT", 0),

		SimulateSensors:    getEnvBool("SIMULATE_SENSORS", true),
		SimulationInterval: getEnvDuration("SIMULATION_INTERVAL", time.Second),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Collections"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),

		SeedFile:         getEnv("SEED_FILE", ""),
		CompartmentsFile: getEnv("COMPARTMENTS_FILE", ""),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	switch c.DataBackend {
	case "memory":
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [memory sqlite]", c.DataBackend))
	}

	if c.PageSize < 1 || c.PageSize > 500 {
		errors = append(errors, fmt.Sprintf("invalid page size %d: must be between 1 and 500", c.PageSize))
	}
	if c.CacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must not be negative", c.CacheTTL))
	}

	if c.AMQPURL != "" {
		if err := checkScheme(c.AMQPURL, "amqp", "amqps"); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.MQTTBroker != "" && c.MQTTTopic == "" {
		errors = append(errors, "MQTT topic cannot be empty when MQTT broker is provided")
	}
	if c.MQTTPassword != "" && c.MQTTUsername == "" {
		errors = append(errors, "MQTT password given without MQTT username")
	}

	if c.FeedURL != "" {
		if err := checkScheme(c.FeedURL, "ws", "wss"); err != nil {
			errors = append(errors, fmt.Sprintf("invalid feed URL '%s': %v", c.FeedURL, err))
		}
	}
	if c.FeedReconnectDelay <= 0 {
		errors = append(errors, fmt.Sprintf("invalid feed reconnect delay %v: must be positive", c.FeedReconnectDelay))
	}
	if c.FeedHandshakeTimeout < 0 {
		errors = append(errors, fmt.Sprintf("invalid feed handshake timeout %v: must not be negative", c.FeedHandshakeTimeout))
	}

	if c.SimulateSensors {
		if c.SimulationInterval < 10*time.Millisecond {
			errors = append(errors, fmt.Sprintf("invalid simulation interval %v: must be at least 10ms", c.SimulationInterval))
		} else if c.SimulationInterval > time.Hour {
			errors = append(errors, fmt.Sprintf("invalid simulation interval %v: must be at most 1 hour", c.SimulationInterval))
		}
	}

	if c.GoogleSpreadsheetID != "" {
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided with GOOGLE_SPREADSHEET_ID")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	for _, f := range []struct{ name, path string }{
		{"seed", c.SeedFile},
		{"compartments", c.CompartmentsFile},
	} {
		if f.path == "" {
			continue
		}
		if _, err := os.Stat(f.path); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("%s file does not exist: %s", f.name, f.path))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func checkScheme(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme '%s' must be one of %v", u.Scheme, schemes)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
