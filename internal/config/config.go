package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/cadastre-match/internal/db"
)

// Config is the process configuration
type Config struct {
	DB       db.Config
	HTTP     HTTPConfig
	Log      LogConfig
	Kafka    KafkaConfig
	Matching MatchingConfig
	Patterns PatternConfig
}

// HTTPConfig contains HTTP server settings
type HTTPConfig struct {
	Host   string
	Port   int `validate:"gt=0,lte=65535"`
	APIKey string
}

// Addr returns host:port
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig contains logger settings
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Pretty bool
}

// KafkaConfig configures the audit event stream. No brokers means audit
// events are only logged.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string `validate:"required_with=Brokers"`
}

// MatchingConfig tunes the engine
type MatchingConfig struct {
	WeightsFile      string
	AutoApplyEnabled bool
	CandidateLimit   int     `validate:"gt=0"`
	SearchRadiusKm   float64 `validate:"gt=0"`
}

// PatternConfig configures the pattern cache
type PatternConfig struct {
	CacheTTL time.Duration
}

var envPaths = []string{".env", "../.env", "../../.env"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "cadastre")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_CONN_MAX_LIFETIME", time.Hour)

	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("API_KEY", "")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_TOPIC", "property-match-audit")

	v.SetDefault("WEIGHTS_FILE", "")
	v.SetDefault("AUTO_APPLY_ENABLED", false)
	v.SetDefault("CANDIDATE_LIMIT", 10)
	v.SetDefault("SEARCH_RADIUS_KM", 0.1)

	v.SetDefault("PATTERN_CACHE_TTL", 15*time.Minute)
}

// Load reads .env files (first found wins, already-set variables are kept),
// then the environment, then an optional YAML config file
func Load(configFile string) (*Config, error) {
	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
			break
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DB: db.Config{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetString("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			Name:            v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		HTTP: HTTPConfig{
			Host:   v.GetString("HTTP_HOST"),
			Port:   v.GetInt("HTTP_PORT"),
			APIKey: v.GetString("API_KEY"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("LOG_LEVEL")),
			Pretty: v.GetBool("LOG_PRETTY"),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(v.GetString("KAFKA_BROKERS")),
			AuditTopic: v.GetString("AUDIT_TOPIC"),
		},
		Matching: MatchingConfig{
			WeightsFile:      v.GetString("WEIGHTS_FILE"),
			AutoApplyEnabled: v.GetBool("AUTO_APPLY_ENABLED"),
			CandidateLimit:   v.GetInt("CANDIDATE_LIMIT"),
			SearchRadiusKm:   v.GetFloat64("SEARCH_RADIUS_KM"),
		},
		Patterns: PatternConfig{
			CacheTTL: v.GetDuration("PATTERN_CACHE_TTL"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
