package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/recuento/recuento-node/db"
)

const (
	defaultAPIHost          = "0.0.0.0"
	defaultAPIPort          = 9190
	defaultLogLevel         = "info"
	defaultLogOutput        = "stdout"
	defaultDatadir          = ".recuento-tallier" // Prefixed with user's home directory
	defaultExpectedBallots  = 10_000_000
	defaultAuditPrefix      = "recuento"
	defaultRegisteredVoters = 0
)

// Config holds the tallier configuration.
type Config struct {
	API     APIConfig
	Log     LogConfig
	Tally   TallyConfig
	Datadir string
	DBType  string `mapstructure:"dbType"`
}

// APIConfig holds the API-specific configuration.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// TallyConfig holds the intake pipeline tuning.
type TallyConfig struct {
	ExpectedBallots  int    `mapstructure:"expectedBallots"`  // Replay prefilter sizing
	RegisteredVoters uint64 `mapstructure:"registeredVoters"` // Electoral roll size for turnout
	LazyEnrolment    bool   `mapstructure:"lazyEnrolment"`    // Accept signing keys from first submissions
	AuditDir         string `mapstructure:"auditDir"`         // Audit journal directory
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

	v.SetDefault("api.host", defaultAPIHost)
	v.SetDefault("api.port", defaultAPIPort)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)
	v.SetDefault("tally.expectedBallots", defaultExpectedBallots)
	v.SetDefault("tally.registeredVoters", defaultRegisteredVoters)
	v.SetDefault("tally.lazyEnrolment", false)
	v.SetDefault("datadir", defaultDatadirPath)
	v.SetDefault("dbType", db.TypePebble)

	flag.StringP("api.host", "h", defaultAPIHost, "API host")
	flag.IntP("api.port", "p", defaultAPIPort, "API port")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.Int("tally.expectedBallots", defaultExpectedBallots, "expected ballot population for the replay prefilter")
	flag.Uint64("tally.registeredVoters", defaultRegisteredVoters, "registered voters for turnout reporting")
	flag.Bool("tally.lazyEnrolment", false, "accept station signing keys carried in their first submission (weaker)")
	flag.String("tally.auditDir", "", "audit journal directory (defaults to <datadir>/audit)")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for database and key files")
	flag.String("dbType", db.TypePebble, fmt.Sprintf("database backend (%s, %s, %s)",
		db.TypePebble, db.TypeLevelDB, db.TypeInMemory))

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "recuento-tallier\n\n")
		fmt.Fprintf(os.Stderr, "Usage: recuento-tallier [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dashes (-) and dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, RECUENTO_API_HOST or RECUENTO_TALLY_REGISTEREDVOTERS\n")
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
	if cfg.Tally.AuditDir == "" {
		cfg.Tally.AuditDir = filepath.Join(cfg.Datadir, "audit")
	}
	return cfg, nil
}
