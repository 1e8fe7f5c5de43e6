package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultTallierURL  = "http://localhost:9190"
	defaultLogLevel    = "info"
	defaultLogOutput   = "stdout"
	defaultDatadir     = ".recuento-station" // Prefixed with user's home directory
	defaultAuditPrefix = "estacion"
)

// Config holds the station configuration.
type Config struct {
	StationID string `mapstructure:"station"`
	Tallier   string `mapstructure:"tallier"`
	Datadir   string
	Log       LogConfig
	Breaker   BreakerConfig
	// One-shot operations; when none is set the station runs as a daemon.
	Submit   string `mapstructure:"submit"`
	Selftest bool   `mapstructure:"selftest"`
	Results  bool   `mapstructure:"results"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// BreakerConfig holds the circuit breaker tuning.
type BreakerConfig struct {
	Threshold      int           `mapstructure:"threshold"`      // Consecutive failures before opening
	InitialBackoff time.Duration `mapstructure:"initialBackoff"` // First open interval
	MaxBackoff     time.Duration `mapstructure:"maxBackoff"`     // Backoff growth cap
}

// loadConfig loads configuration from flags, environment variables, and
// defaults.
func loadConfig() (*Config, error) {
	v := viper.New()

	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := filepath.Join(userHomeDir, defaultDatadir)

	v.SetDefault("station", "M01")
	v.SetDefault("tallier", defaultTallierURL)
	v.SetDefault("datadir", defaultDatadirPath)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)
	v.SetDefault("breaker.threshold", 3)
	v.SetDefault("breaker.initialBackoff", 5*time.Second)
	v.SetDefault("breaker.maxBackoff", 5*time.Minute)

	flag.StringP("station", "s", "M01", "polling station identifier")
	flag.StringP("tallier", "t", defaultTallierURL, "tallier API base URL")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for keys and the outbox")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.Int("breaker.threshold", 3, "consecutive transport failures before the breaker opens")
	flag.Duration("breaker.initialBackoff", 5*time.Second, "initial breaker backoff")
	flag.Duration("breaker.maxBackoff", 5*time.Minute, "maximum breaker backoff")
	flag.String("submit", "", "submit one ballot for the given candidate and exit")
	flag.Bool("selftest", false, "run the end-to-end self test and exit")
	flag.Bool("results", false, "print the tallier aggregated results and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "recuento-station\n\n")
		fmt.Fprintf(os.Stderr, "Usage: recuento-station [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dashes (-) and dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, RECUENTO_STATION or RECUENTO_TALLIER\n")
	}

	flag.CommandLine.SortFlags = false
	flag.Parse()

	v.SetEnvPrefix("RECUENTO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}
