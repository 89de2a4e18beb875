package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

type Config struct {
	HTTPPort string
	GRPCPort string

	StoreDriver          string
	MySQLDSN             string
	MySQLMaxOpenConns    int
	MySQLMaxIdleConns    int
	MySQLConnMaxLifetime time.Duration

	// empty disables idempotency keys and the analytics cache
	RedisAddr         string
	IdempotencyTTL    time.Duration
	AnalyticsCacheTTL time.Duration

	// empty disables stock events
	KafkaBrokers []string
	KafkaTopic   string

	RequestTimeout time.Duration

	LogLevel    string
	Environment string
	Version     string
}

// Load reads the configuration from the environment. Variables already set in
// the environment win over the ones in envFiles; missing files are skipped.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var errs []error
	cfg := Config{
		HTTPPort:    getEnv("PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "50051"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreMySQL)),
		MySQLDSN:    getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/inventory?parseTime=true"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		KafkaTopic:  getEnv("KAFKA_TOPIC", "inventory.stock-moved"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Environment: getEnv("ENVIRONMENT", "development"),
		Version:     getEnv("VERSION", "unknown"),
	}

	cfg.MySQLMaxOpenConns = getInt("MYSQL_MAX_OPEN_CONNS", 50, &errs)
	cfg.MySQLMaxIdleConns = getInt("MYSQL_MAX_IDLE_CONNS", 25, &errs)
	cfg.MySQLConnMaxLifetime = getDuration("MYSQL_CONN_MAX_LIFETIME", 5*time.Minute, &errs)
	cfg.IdempotencyTTL = getDuration("IDEMPOTENCY_TTL", 24*time.Hour, &errs)
	cfg.AnalyticsCacheTTL = getDuration("ANALYTICS_CACHE_TTL", 30*time.Second, &errs)
	cfg.RequestTimeout = getDuration("REQUEST_TIMEOUT", 10*time.Second, &errs)

	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	errs = append(errs, cfg.validate()...)
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() []error {
	var errs []error
	if c.StoreDriver != StoreMySQL && c.StoreDriver != StoreMemory {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMySQL, StoreMemory, c.StoreDriver))
	}
	if c.StoreDriver == StoreMySQL && c.MySQLDSN == "" {
		errs = append(errs, fmt.Errorf("MYSQL_DSN is required"))
	}
	if err := validatePort("PORT", c.HTTPPort); err != nil {
		errs = append(errs, err)
	}
	if err := validatePort("GRPC_PORT", c.GRPCPort); err != nil {
		errs = append(errs, err)
	}
	if c.MySQLMaxOpenConns < 1 {
		errs = append(errs, fmt.Errorf("MYSQL_MAX_OPEN_CONNS must be at least 1"))
	}
	if c.MySQLMaxIdleConns < 0 || c.MySQLMaxIdleConns > c.MySQLMaxOpenConns {
		errs = append(errs, fmt.Errorf("MYSQL_MAX_IDLE_CONNS must be between 0 and MYSQL_MAX_OPEN_CONNS"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive"))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}
	return errs
}

func validatePort(key, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("%s must be a port number, got %q", key, v)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be number: %w", key, err))
		return fallback
	}
	return i
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a duration: %w", key, err))
		return fallback
	}
	return d
}
