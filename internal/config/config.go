package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	// StoreDriverMemory keeps everything in process. It has no catalog or cart
	// API, so it is only useful for tests and demos started with SEED_FILE.
	StoreDriverMemory   = "memory"
)

type Config struct {
	HTTPPort        string        `mapstructure:"HTTP_PORT"`
	StoreDriver     string        `mapstructure:"STORE_DRIVER"`
	SeedFile        string        `mapstructure:"SEED_FILE"`
	DBHost          string        `mapstructure:"DB_HOST"`
	DBPort          int           `mapstructure:"DB_PORT"`
	DBUser          string        `mapstructure:"DB_USER"`
	DBPassword      string        `mapstructure:"DB_PASSWORD"`
	DBName          string        `mapstructure:"DB_NAME"`
	MigrationsPath  string        `mapstructure:"MIGRATIONS_PATH"`
	RedisAddr       string        `mapstructure:"REDIS_ADDR"`
	KafkaBrokers    string        `mapstructure:"KAFKA_BROKERS"`
	InvoicesDir     string        `mapstructure:"INVOICES_DIR"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	InvoiceTimeout  time.Duration `mapstructure:"INVOICE_TIMEOUT"`
}

var defaults = map[string]interface{}{
	"HTTP_PORT":        "8080",
	"STORE_DRIVER":     StoreDriverPostgres,
	"SEED_FILE":        "",
	"DB_HOST":          "localhost",
	"DB_PORT":          5432,
	"DB_USER":          "postgres",
	"DB_PASSWORD":      "postgres",
	"DB_NAME":          "checkout",
	"MIGRATIONS_PATH":  "internal/repository/migrations",
	"REDIS_ADDR":       "",
	"KAFKA_BROKERS":    "",
	"INVOICES_DIR":     "invoices",
	"LOG_LEVEL":        "info",
	"REQUEST_TIMEOUT":  "30s",
	"SHUTDOWN_TIMEOUT": "10s",
	"INVOICE_TIMEOUT":  "10s",
}

// Load reads defaults, then the optional config file (.env or yaml), then the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}
	if c.SeedFile != "" && c.StoreDriver != StoreDriverMemory {
		return fmt.Errorf("SEED_FILE requires STORE_DRIVER=%s", StoreDriverMemory)
	}
	if c.RequestTimeout <= 0 || c.ShutdownTimeout <= 0 || c.InvoiceTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// Brokers splits KAFKA_BROKERS; an empty list disables the outbox publisher and invoice consumer.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
