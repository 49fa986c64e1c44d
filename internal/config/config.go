// Package config содержит логику чтения конфигурации маркетплейса услуг.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultRunAddress   = "localhost:8080"
	defaultSyncInterval = time.Minute
)

// Config содержит параметры конфигурации маркетплейса.
type Config struct {
	RunAddress          string        `env:"RUN_ADDRESS"`
	DatabaseURI         string        `env:"DATABASE_URI"`
	CatalogAddress      string        `env:"CATALOG_ADDRESS"`
	JWTSecret           string        `env:"JWT_SECRET"`
	CatalogSyncInterval time.Duration `env:"CATALOG_SYNC_INTERVAL"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	return parse(".env")
}

func parse(dotenvPath string) (*Config, error) {
	if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", dotenvPath, err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory storage when empty")
	flag.StringVar(&cfg.CatalogAddress, "c", "", "catalog system address")
	flag.StringVar(&cfg.JWTSecret, "k", "", "secret for signing tokens, random per process when empty")
	flag.DurationVar(&cfg.CatalogSyncInterval, "i", defaultSyncInterval, "catalog sync interval")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.CatalogAddress != "" {
		cfg.CatalogAddress = envCfg.CatalogAddress
	}
	if envCfg.JWTSecret != "" {
		cfg.JWTSecret = envCfg.JWTSecret
	}
	if envCfg.CatalogSyncInterval > 0 {
		cfg.CatalogSyncInterval = envCfg.CatalogSyncInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.CatalogSyncInterval <= 0 {
		cfg.CatalogSyncInterval = defaultSyncInterval
	}

	return cfg, nil
}
