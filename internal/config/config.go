package config

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds process-level configuration. Detection tunables live in the
// policy file (see policy.go).
type Config struct {
	Addr          string
	DBPath        string
	PolicyPath    string
	SignaturePath string
	PcapPath      string
	Latitude      float64
	Longitude     float64
	MockMode      bool
	Debug         bool
}

// Load parses command line flags and environment variables to populate Config.
// Flags take precedence over environment variables.
func Load() *Config {
	cfg := &Config{}

	// Defaults and Environment Variables
	cfg.Addr = getEnv("FLOCKSENSE_ADDR", ":8080")
	cfg.DBPath = getEnv("FLOCKSENSE_DB", getDefaultDBPath())
	cfg.PolicyPath = getEnv("FLOCKSENSE_POLICY", "")
	cfg.SignaturePath = getEnv("FLOCKSENSE_SIGNATURES", "data/signatures.json")
	cfg.Latitude = getEnvFloat("FLOCKSENSE_LAT", 40.4168)
	cfg.Longitude = getEnvFloat("FLOCKSENSE_LNG", -3.7038)
	cfg.MockMode = getEnvBool("FLOCKSENSE_MOCK", false)

	// Command Line Flags (Override Env)
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to SQLite database")
	flag.StringVar(&cfg.PolicyPath, "policy", cfg.PolicyPath, "Path to detection policy YAML (empty for built-in defaults)")
	flag.StringVar(&cfg.SignaturePath, "signatures", cfg.SignaturePath, "Path to signature registry JSON")
	flag.StringVar(&cfg.PcapPath, "pcap", "", "Replay a WiFi capture file into the engine (empty to disable)")
	flag.Float64Var(&cfg.Latitude, "lat", cfg.Latitude, "Static Latitude")
	flag.Float64Var(&cfg.Longitude, "lng", cfg.Longitude, "Static Longitude")
	flag.BoolVar(&cfg.MockMode, "mock", cfg.MockMode, "Run in mock mode (synthetic sensor streams)")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable verbose debug logging")

	flag.Parse()

	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getDefaultDBPath returns the default database path in user's home directory.
// Creates the directory if it doesn't exist.
func getDefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Printf("Warning: Could not get user home directory, using current dir: %v", err)
		return "flocksense.db"
	}

	dir := filepath.Join(home, ".flocksense")
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("Warning: Could not create .flocksense directory, using current dir: %v", err)
		return "flocksense.db"
	}

	return filepath.Join(dir, "flocksense.db")
}
