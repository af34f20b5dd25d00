package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port      string `yaml:"port"`
		PublicURL string `yaml:"publicURL"`
	} `yaml:"server"`
	Host struct {
		Key string `yaml:"key"`
	} `yaml:"host"`
	Game struct {
		CodeLength   int    `yaml:"codeLength"`
		NameMaxLen   int    `yaml:"nameMaxLen"`
		IdleTimeout  string `yaml:"idleTimeout"`
		ReapInterval string `yaml:"reapInterval"`
	} `yaml:"game"`
	Quiz struct {
		ID   string `yaml:"id"`
		File string `yaml:"file"`
		TTL  string `yaml:"ttl"`
	} `yaml:"quiz"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Game.CodeLength = 6
	cfg.Game.NameMaxLen = 24
	cfg.Game.IdleTimeout = "2h"
	cfg.Game.ReapInterval = "1m"
	cfg.Quiz.ID = "sample"
	cfg.Quiz.TTL = "10m"
	cfg.Redis.TTL = "6h"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads YAML config from path on top of Default. A missing file yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.Host.Key == "" {
		return errors.New("host key must be set (host.key or --host-key)")
	}
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %q", c.Server.Port)
	}
	if c.Game.CodeLength < 4 {
		return fmt.Errorf("game.codeLength must be at least 4, got %d", c.Game.CodeLength)
	}
	if c.Quiz.ID == "" {
		return errors.New("quiz.id must be set")
	}
	for name, raw := range map[string]string{
		"game.idleTimeout":  c.Game.IdleTimeout,
		"game.reapInterval": c.Game.ReapInterval,
		"quiz.ttl":          c.Quiz.TTL,
		"redis.ttl":         c.Redis.TTL,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
