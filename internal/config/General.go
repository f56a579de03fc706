package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// BundleName is the identifier of the bundle this instance manages.
	BundleName string
	// AdminAddress is the administrator identity for gated operations.
	AdminAddress string

	// CycleInterval is the time between rebalance evaluation cycles.
	CycleInterval time.Duration
	// RebalanceCooldown is the minimum time between executed rebalances.
	RebalanceCooldown time.Duration
	// TimeHorizon is the holding period assumed when comparing strategy costs.
	TimeHorizon time.Duration

	// WebListenAddr is the bind address for the HTTP API and dashboard.
	WebListenAddr string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	BundleName, err = getEnv("BUNDLE_NAME")
	if err != nil {
		return err
	}

	AdminAddress, err = getEnv("ADMIN_ADDRESS")
	if err != nil {
		return err
	}

	CycleInterval, err = getEnvAsDuration("CYCLE_INTERVAL")
	if err != nil {
		return err
	}

	RebalanceCooldown, err = getEnvAsDuration("REBALANCE_COOLDOWN")
	if err != nil {
		return err
	}

	TimeHorizon, err = getEnvAsDuration("TIME_HORIZON")
	if err != nil {
		return err
	}

	WebListenAddr, err = getEnv("WEB_LISTEN_ADDR")
	if err != nil {
		return err
	}

	// Load database configuration
	if err := loadDatabaseConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("BundleName", BundleName).
		Dur("CycleInterval", CycleInterval).
		Dur("RebalanceCooldown", RebalanceCooldown).
		Str("WebListenAddr", WebListenAddr).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsDuration retrieves an environment variable as a time.Duration
// (e.g. "5m", "1h"). Returns error if not set or invalid.
func getEnvAsDuration(key string) (time.Duration, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid duration, got: " + valueStr)
	}
	return value, nil
}
