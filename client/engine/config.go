package engine

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds the engine parameters of a load test run.
type Config struct {
	Host          string        `mapstructure:"host" validate:"required,url"`
	Users         int           `mapstructure:"users" validate:"gte=1"`
	SpawnRate     float64       `mapstructure:"spawn-rate" validate:"gt=0"`
	RunFor        time.Duration `mapstructure:"duration" validate:"gte=0"`
	MinWait       time.Duration `mapstructure:"min-wait" validate:"gte=0"`
	MaxWait       time.Duration `mapstructure:"max-wait" validate:"gtefield=MinWait"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RPS           float64       `mapstructure:"rps" validate:"gte=0"`
	StopTimeout   time.Duration `mapstructure:"stop-timeout" validate:"gt=0"`
	ProgressEvery time.Duration `mapstructure:"progress-interval" validate:"gte=0"`
	ProgressBar   bool          `mapstructure:"progress-bar"`
	ColorMode     string        `mapstructure:"color" validate:"oneof=auto always never"`

	// Thresholds for coloring
	WarnP95 int     `mapstructure:"warn-p95" validate:"gte=0"`
	CritP95 int     `mapstructure:"crit-p95" validate:"gtefield=WarnP95"`
	WarnErr float64 `mapstructure:"warn-error-rate" validate:"gte=0"`
	CritErr float64 `mapstructure:"crit-error-rate" validate:"gtefield=WarnErr"`

	LogLevel  string `mapstructure:"log-level" validate:"oneof=debug info warn error none"`
	LogFormat string `mapstructure:"log-format" validate:"oneof=text json"`

	MetricsListen     string        `mapstructure:"metrics-listen" validate:"omitempty,hostname_port"`
	PollTargetMetrics bool          `mapstructure:"poll-target-metrics"`
	TargetMetricsPath string        `mapstructure:"target-metrics-path" validate:"startswith=/"`
	PollInterval      time.Duration `mapstructure:"poll-interval" validate:"gt=0"`
	PollFamilies      []string      `mapstructure:"poll-families" validate:"dive,required"`

	Debug bool `mapstructure:"debug"`
}

// DefaultConfig returns a Config with default values. Think time defaults
// to 1s..5s per user.
func DefaultConfig() *Config {
	return &Config{
		Host:              "http://localhost:3000",
		Users:             10,
		SpawnRate:         1,
		MinWait:           time.Second,
		MaxWait:           5 * time.Second,
		Timeout:           10 * time.Second,
		StopTimeout:       10 * time.Second,
		ProgressEvery:     30 * time.Second,
		ColorMode:         "auto",
		WarnP95:           300,
		CritP95:           600,
		WarnErr:           0.5,
		CritErr:           1.0,
		LogLevel:          "info",
		LogFormat:         "text",
		TargetMetricsPath: "/metrics",
		PollInterval:      5 * time.Second,
		PollFamilies:      []string{"http_requests_total"},
	}
}

// Validate checks the struct tags of the configuration.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// UseColor resolves the color mode against the environment and the terminal.
func (c *Config) UseColor() bool {
	switch strings.ToLower(c.ColorMode) {
	case "always":
		return true
	case "never":
		return false
	}

	return os.Getenv("NO_COLOR") == "" && IsTTY()
}
