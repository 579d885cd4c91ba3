package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Runtime holds process settings read from the environment. Flags in cmd/*
// override these.
type Runtime struct {
	APIBaseURL   string        `env:"XPF_API_BASE_URL"  envDefault:"http://localhost:3000"`
	DataDir      string        `env:"XPF_DATA_DIR"      envDefault:"./data"`
	ConfigDir    string        `env:"XPF_CONFIG_DIR"    envDefault:"./configs"`
	UserID       string        `env:"XPF_USER_ID"`
	RefreshEvery time.Duration `env:"XPF_REFRESH_EVERY" envDefault:"30s"`
	HTTPTimeout  time.Duration `env:"XPF_HTTP_TIMEOUT"  envDefault:"10s"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadRuntime parses Runtime from the environment.
func LoadRuntime() (Runtime, error) {
	var rt Runtime
	if err := ParseEnv(&rt); err != nil {
		return rt, err
	}
	if rt.RefreshEvery <= 0 {
		rt.RefreshEvery = 30 * time.Second
	}
	if rt.HTTPTimeout <= 0 {
		rt.HTTPTimeout = 10 * time.Second
	}
	return rt, nil
}
