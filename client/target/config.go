package target

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config configures the mock target server.
type Config struct {
	Listen   string        `mapstructure:"serve-target" validate:"omitempty,hostname_port"`
	Email    string        `mapstructure:"target-email" validate:"required,email"`
	Password string        `mapstructure:"target-password" validate:"required"`
	Secret   string        `mapstructure:"target-secret" validate:"required,min=8"`
	TokenTTL time.Duration `mapstructure:"target-token-ttl" validate:"gt=0"`
}

func DefaultConfig() *Config {
	return &Config{
		Email:    "admin@example.com",
		Password: "changeme",
		Secret:   "stackload-insecure-dev-secret",
		TokenTTL: time.Hour,
	}
}

func (c *Config) Validate() error {
	return validate.Struct(c)
}
