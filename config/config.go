// Package config loads server settings from the environment, an optional
// .env file and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

type Config struct {
	Port   int
	Store  string // sqlite | mongo
	DBPath string

	MongoURI      string
	MongoDatabase string
	// MongoTransactions needs a replica set.
	MongoTransactions bool

	LogLevel      logrus.Level
	DefaultLocale string

	// AuditInterval is how often pending situations are re-evaluated; 0 disables it.
	AuditInterval   time.Duration
	AuditWindowDays int

	CORSOrigins []string
	AutoApprove bool

	// PushGatewayURL, when set, receives the metrics registry after each audit run.
	PushGatewayURL string
}

// Load reads .env files (missing files are fine), then the environment,
// then args. args excludes the program name.
func Load(args []string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{
		Port:              getEnvAsInt("PORT", 8080),
		Store:             getEnv("STORE", StoreSQLite),
		DBPath:            getEnv("DB_PATH", "absence.db"),
		MongoURI:          getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:     getEnv("MONGODB_DATABASE", "absence"),
		MongoTransactions: getEnvAsBool("MONGODB_TRANSACTIONS", true),
		DefaultLocale:     getEnv("DEFAULT_LOCALE", "en"),
		AuditInterval:     getEnvAsDuration("AUDIT_INTERVAL", time.Hour),
		AuditWindowDays:   getEnvAsInt("AUDIT_WINDOW_DAYS", 90),
		CORSOrigins:       getEnvAsList("CORS_ORIGINS", []string{"*"}),
		AutoApprove:       getEnvAsBool("AUTO_APPROVE", false),
		PushGatewayURL:    getEnv("PUSHGATEWAY_URL", ""),
	}
	level := getEnv("LOG_LEVEL", "info")

	fsFlags := flag.NewFlagSet("server", flag.ContinueOnError)
	fsFlags.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fsFlags.StringVar(&cfg.Store, "store", cfg.Store, "Storage backend: sqlite|mongo")
	fsFlags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path (\":memory:\" for in-memory)")
	fsFlags.StringVar(&cfg.MongoURI, "mongo-uri", cfg.MongoURI, "MongoDB connection URI")
	fsFlags.StringVar(&level, "log-level", level, "Log level: debug|info|warn|error")
	fsFlags.DurationVar(&cfg.AuditInterval, "audit-interval", cfg.AuditInterval, "Pending situation audit interval (0 disables)")
	fsFlags.BoolVar(&cfg.AutoApprove, "auto-approve", cfg.AutoApprove, "Approve conflict-free submissions immediately")
	if err := fsFlags.Parse(args); err != nil {
		return nil, err
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg.LogLevel = lvl

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Store {
	case StoreSQLite:
		if c.DBPath == "" {
			return errors.New("DB_PATH is required for the sqlite store")
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.AuditInterval < 0 {
		return fmt.Errorf("invalid audit interval %s", c.AuditInterval)
	}
	if c.AuditWindowDays <= 0 {
		return fmt.Errorf("invalid audit window %d", c.AuditWindowDays)
	}
	return nil
}

// Logger builds the application logger.
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}

func getEnv(key string, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsBool(name string, defaultVal bool) bool {
	if val, err := strconv.ParseBool(getEnv(name, "")); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsInt(name string, defaultVal int) int {
	if val, err := strconv.Atoi(getEnv(name, "")); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	if val, err := time.ParseDuration(getEnv(name, "")); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsList(name string, defaultVal []string) []string {
	raw := getEnv(name, "")
	if raw == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
