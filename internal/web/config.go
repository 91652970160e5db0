package web

import (
	"time"

	"github.com/cadastre-match/internal/config"
)

// Config represents the web server configuration
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Features FeatureConfig
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	APIKey string // empty disables authentication
}

// FeatureConfig contains feature toggles
type FeatureConfig struct {
	AutoApplyEnabled bool
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "0.0.0.0:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// ConfigFrom derives the web configuration from the application configuration
func ConfigFrom(cfg *config.Config) *Config {
	c := DefaultConfig()
	c.Server.Addr = cfg.HTTP.Addr()
	c.Auth.APIKey = cfg.HTTP.APIKey
	c.Features.AutoApplyEnabled = cfg.Matching.AutoApplyEnabled
	return c
}
