package scenario

import (
	"github.com/go-playground/validator/v10"
)

const (
	// PolicyGuarded serializes login and logout so at most one /login call
	// runs while the shared token is unset.
	PolicyGuarded = "guarded"

	// PolicyShared checks, calls and writes the shared token without mutual
	// exclusion. Concurrent logins may happen and the last response wins.
	PolicyShared = "shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds the login credentials and task mix of the user scenario.
type Config struct {
	Email        string `mapstructure:"email" validate:"required,email"`
	Password     string `mapstructure:"password" validate:"required"`
	HealthWeight int    `mapstructure:"health-weight" validate:"gte=1"`
	UsersWeight  int    `mapstructure:"users-weight" validate:"gte=1"`
	TokenPolicy  string `mapstructure:"token-policy" validate:"oneof=guarded shared"`
	ReloginOn401 bool   `mapstructure:"relogin-on-401"`
}

func DefaultConfig() *Config {
	return &Config{
		Email:        "admin@example.com",
		Password:     "changeme",
		HealthWeight: 2,
		UsersWeight:  1,
		TokenPolicy:  PolicyGuarded,
	}
}

func (c *Config) Validate() error {
	return validate.Struct(c)
}
