package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process-level configuration shared by the server and the
// reconciler.  Feature settings (settlement, rates, notifications,
// operator access, rate limiting, caching) have their own loaders.
//
// Required: APP_ENV, APP_PORT, DB_USER, DB_HOST, DB_PORT, DB_NAME,
// JWT_SECRET, ACCESS_TOKEN_TTL_MIN.  DB_PASS may be empty.
type Config struct {
	Env          string
	Port         string
	DBUser       string
	DBPass       string
	DBHost       string
	DBPort       string
	DBName       string
	JWTSecret    string // signs operator access tokens
	AccessTTLMin int

	DBMaxOpenConns    int           // DB_MAX_OPEN_CONNS, default 25
	DBMaxIdleConns    int           // DB_MAX_IDLE_CONNS, default 25
	DBConnMaxLifetime time.Duration // DB_CONN_MAX_LIFETIME, default 30m
	MigrateOnStart    bool          // DB_MIGRATE, apply embedded schema at boot
	ShutdownTimeout   time.Duration // SHUTDOWN_TIMEOUT, default 15s
}

// LoadDotEnv reads a .env file into the process environment when one is
// present.  Variables already set in the environment win.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: ignoring .env: %v", err)
	}
}

// Load reads the process configuration.  A missing required variable is
// fatal: neither binary can do anything useful without its database.
func Load() Config {
	return Config{
		Env:          must("APP_ENV"),
		Port:         must("APP_PORT"),
		DBUser:       must("DB_USER"),
		DBPass:       os.Getenv("DB_PASS"),
		DBHost:       must("DB_HOST"),
		DBPort:       must("DB_PORT"),
		DBName:       must("DB_NAME"),
		JWTSecret:    must("JWT_SECRET"),
		AccessTTLMin: mustInt("ACCESS_TOKEN_TTL_MIN"),

		DBMaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 25),
		DBConnMaxLifetime: envDur("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		MigrateOnStart:    envBool("DB_MIGRATE", false),
		ShutdownTimeout:   envDur("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

// IsProd reports whether the service runs in production.
func (c Config) IsProd() bool { return c.Env == "prod" || c.Env == "production" }

func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
