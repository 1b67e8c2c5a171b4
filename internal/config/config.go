// Package config loads server configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr             string        // listen address
	MongoURI         string        // empty: in-memory store
	MongoDB          string        // database name
	RedisAddr        string        // empty: no commit-stream broker
	JWTSecret        string        // empty: auth disabled
	SnapshotInterval time.Duration // how often open documents persist
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:             getenv("OTPAD_ADDR", "127.0.0.1:8080"),
		MongoURI:         os.Getenv("OTPAD_MONGO_URI"),
		MongoDB:          getenv("OTPAD_MONGO_DB", "otpad"),
		RedisAddr:        os.Getenv("OTPAD_REDIS_ADDR"),
		JWTSecret:        os.Getenv("OTPAD_JWT_SECRET"),
		SnapshotInterval: 30 * time.Second,
	}

	if v := os.Getenv("OTPAD_SNAPSHOT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("OTPAD_SNAPSHOT_INTERVAL: %w", err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("OTPAD_SNAPSHOT_INTERVAL must be positive, got %s", v)
		}
		cfg.SnapshotInterval = d
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
