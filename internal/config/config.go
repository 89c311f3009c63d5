package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Questions QuestionsConfig `yaml:"questions"`
	Scorer    ScorerConfig    `yaml:"scorer"`
	NATS      NATSConfig      `yaml:"nats"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port           string   `yaml:"port" env:"PORT"`
	AllowedOrigins []string `yaml:"allowedOrigins" env:"FRONTEND_URL" envSeparator:","`
}

type SessionConfig struct {
	BreakDuration string `yaml:"breakDuration" env:"SESSION_BREAK_DURATION"`
	Retention     string `yaml:"retention" env:"SESSION_RETENTION"`
	IdleTimeout   string `yaml:"idleTimeout" env:"SESSION_IDLE_TIMEOUT"`
	SendBuffer    int    `yaml:"sendBuffer" env:"SESSION_SEND_BUFFER"`
	ScoreTimeout  string `yaml:"scoreTimeout" env:"SESSION_SCORE_TIMEOUT"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	// TTL bounds how long exported results stay readable from Redis.
	TTL      string `yaml:"ttl" env:"REDIS_TTL"`
}

type PostgresConfig struct {
	URL string `yaml:"url" env:"POSTGRES_URL"`
}

type QuestionsConfig struct {
	TTL string `yaml:"ttl" env:"QUESTIONS_TTL"`
}

type ScorerConfig struct {
	URL     string `yaml:"url" env:"SCORER_URL"`
	Token   string `yaml:"token" env:"SCORER_TOKEN"`
	Timeout string `yaml:"timeout" env:"SCORER_TIMEOUT"`
}

type NATSConfig struct {
	URL     string `yaml:"url" env:"NATS_URL"`
	Subject string `yaml:"subject" env:"NATS_SUBJECT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"LOG_PRETTY"`
}

// Defaults is the configuration used when neither file nor environment set a key.
func Defaults() Config {
	return Config{
		Server:    ServerConfig{Port: "3003", AllowedOrigins: []string{"*"}},
		Session:   SessionConfig{BreakDuration: "3s", Retention: "1h", IdleTimeout: "1h", SendBuffer: 64, ScoreTimeout: "30s"},
		Redis:     RedisConfig{TTL: "24h"},
		Questions: QuestionsConfig{TTL: "10m"},
		Scorer:    ScorerConfig{Timeout: "20s"},
		NATS:      NATSConfig{Subject: "interview.sessions.ended"},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads YAML config from path, then overlays environment variables.
// A missing file is not an error so env-only deployments work.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
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
