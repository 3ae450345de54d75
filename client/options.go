package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/croessner/stackload/client/engine"
	"github.com/croessner/stackload/client/scenario"
	"github.com/croessner/stackload/client/target"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "stackload"

type options struct {
	Engine   *engine.Config
	Scenario *scenario.Config
	Target   *target.Config
}

func newFlagSet(e *engine.Config, s *scenario.Config, t *target.Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("stackload", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.String("config", "", "Optional YAML file with the same keys as the flags")

	fs.String("host", e.Host, "Base URL of the target")
	fs.Int("users", e.Users, "Number of simulated users")
	fs.Float64("spawn-rate", e.SpawnRate, "Users started per second")
	fs.Duration("duration", e.RunFor, "Total run time (0=until interrupted)")
	fs.Duration("min-wait", e.MinWait, "Minimum think time between tasks")
	fs.Duration("max-wait", e.MaxWait, "Maximum think time between tasks")
	fs.Duration("timeout", e.Timeout, "HTTP request timeout")
	fs.Float64("rps", e.RPS, "Global cap on task executions per second (0=unlimited)")
	fs.Duration("stop-timeout", e.StopTimeout, "Time each user gets for on_stop after the run ends")
	fs.Duration("progress-interval", e.ProgressEvery, "Progress report interval (0=off)")
	fs.Bool("progress-bar", e.ProgressBar, "Render a progress bar (TTY only)")
	fs.String("color", e.ColorMode, "Color output: auto|always|never")

	// Thresholds & Coloring
	fs.Int("warn-p95", e.WarnP95, "P95 threshold (ms) for yellow output")
	fs.Int("crit-p95", e.CritP95, "P95 threshold (ms) for red output")
	fs.Float64("warn-error-rate", e.WarnErr, "Warn threshold for error rate in %")
	fs.Float64("crit-error-rate", e.CritErr, "Critical threshold for error rate in %")

	fs.String("log-level", e.LogLevel, "Log level: debug|info|warn|error|none")
	fs.String("log-format", e.LogFormat, "Log format: text|json")

	// Metrics
	fs.String("metrics-listen", e.MetricsListen, "Serve client metrics on this address (empty=off)")
	fs.Bool("poll-target-metrics", e.PollTargetMetrics, "Scrape the Prometheus endpoint of the target during the run")
	fs.String("target-metrics-path", e.TargetMetricsPath, "Path of the Prometheus endpoint of the target")
	fs.Duration("poll-interval", e.PollInterval, "Target metrics scrape interval")
	fs.StringSlice("poll-families", e.PollFamilies, "Metric families summarised from the target")

	// Scenario
	fs.String("email", s.Email, "Login email")
	fs.String("password", s.Password, "Login password")
	fs.Int("health-weight", s.HealthWeight, "Weight of the health task")
	fs.Int("users-weight", s.UsersWeight, "Weight of the users task")
	fs.String("token-policy", s.TokenPolicy, "Shared token handling: guarded|shared")
	fs.Bool("relogin-on-401", s.ReloginOn401, "Log in again when /users rejects the shared token")

	// Mock target
	fs.String("serve-target", t.Listen, "Run the mock target on this address instead of a load test")
	fs.String("target-email", t.Email, "Email accepted by the mock target")
	fs.String("target-password", t.Password, "Password accepted by the mock target")
	fs.String("target-secret", t.Secret, "HS256 secret of the mock target")
	fs.Duration("target-token-ttl", t.TokenTTL, "Lifetime of tokens issued by the mock target")

	fs.Bool("debug", e.Debug, "Enable debug output (including FX logs)")

	return fs
}

// loadOptions merges defaults, config file, environment (STACKLOAD_*) and
// flags, in increasing order of precedence, and validates the result.
func loadOptions(args []string) (*options, error) {
	opts := &options{
		Engine:   engine.DefaultConfig(),
		Scenario: scenario.DefaultConfig(),
		Target:   target.DefaultConfig(),
	}

	fs := newFlagSet(opts.Engine, opts.Scenario, opts.Target)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))

	for _, cfg := range []any{opts.Engine, opts.Scenario, opts.Target} {
		if err := v.Unmarshal(cfg, hook); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	err := errors.Join(opts.Engine.Validate(), opts.Scenario.Validate())
	if opts.Target.Listen != "" {
		err = errors.Join(err, opts.Target.Validate())
	}

	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return opts, nil
}
