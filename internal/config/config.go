// Package config loads engine settings from an optional .env file and the
// process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the engine's runtime settings.
type Config struct {
	// LedgerURL is the room-ledger gateway origin.
	LedgerURL string
	// LedgerToken is the session token authenticating ledger calls.
	LedgerToken string
	// PlayerAddress is the address the session acts as.
	PlayerAddress string

	// GatewayPort is the loopback port the local HTTP gateway listens on.
	GatewayPort int
	// GatewayToken protects the local gateway; empty disables auth.
	GatewayToken string

	// DBPath is the sqlite match-history database path.
	DBPath string

	// ScanCeiling is the highest room id the registry probes.
	ScanCeiling int
	// ScanBatch bounds concurrent outstanding reads during a registry scan.
	ScanBatch int

	// CommissionBps is the platform commission in basis points.
	CommissionBps int64

	// WatchInterval is the completion watcher's poll interval.
	WatchInterval time.Duration
	// WatchTimeout bounds how long a completion watch may run.
	WatchTimeout time.Duration

	// LogLevel is the slog level name for all subsystems.
	LogLevel string
}

// Load reads an optional .env file, then the environment, applying defaults
// for anything unset. A missing .env is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LedgerURL:     getEnv("LEDGER_URL", ""),
		LedgerToken:   getEnv("LEDGER_TOKEN", ""),
		PlayerAddress: getEnv("PLAYER_ADDRESS", ""),
		GatewayToken:  getEnv("GATEWAY_TOKEN", ""),
		DBPath:        getEnv("DB_PATH", "ggmonad.db"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.GatewayPort, err = getEnvInt("GATEWAY_PORT", 17890); err != nil {
		return nil, err
	}
	if cfg.ScanCeiling, err = getEnvInt("SCAN_CEILING", 50); err != nil {
		return nil, err
	}
	if cfg.ScanBatch, err = getEnvInt("SCAN_BATCH", 5); err != nil {
		return nil, err
	}
	bps, err := getEnvInt("COMMISSION_BPS", 1000)
	if err != nil {
		return nil, err
	}
	cfg.CommissionBps = int64(bps)
	if cfg.WatchInterval, err = getEnvDuration("WATCH_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.WatchTimeout, err = getEnvDuration("WATCH_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, value)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a duration like 5s or 2m, got %q", key, value)
	}
	return d, nil
}
