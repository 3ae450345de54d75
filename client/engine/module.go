package engine

import (
	"context"
	"log/slog"
	"os"

	"github.com/croessner/stackload/client/log"
	"go.uber.org/fx"
)

// Module provides the fx module for the load engine. A Scenario must be
// provided by the caller.
var Module = fx.Module("engine",
	fx.Provide(
		NewLogger,
		NewExporter,
		NewStatsCollector,
		NewHTTPClient,
		NewPacerFromConfig,
		NewMetricsPollerFromConfig,
		NewApp,
	),
	fx.Invoke(registerExporter),
)

// NewLogger builds the run logger from the configuration.
func NewLogger(cfg *Config) (*slog.Logger, error) {
	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}

	return log.New(os.Stderr, log.Options{
		Level:    level,
		Format:   cfg.LogFormat,
		UseColor: cfg.UseColor(),
		Instance: "stackload",
	})
}

// NewStatsCollector provides a StatsCollector feeding the exporter.
func NewStatsCollector(exporter *Exporter) StatsCollector {
	return NewDefaultStatsCollector(exporter)
}

// NewPacerFromConfig provides an optional Pacer based on the configuration.
func NewPacerFromConfig(cfg *Config, collector StatsCollector) *Pacer {
	if cfg.RPS <= 0 {
		return nil
	}

	collector.SetTargetRPS(cfg.RPS)

	return NewPacer(cfg.RPS)
}

func registerExporter(lifecycle fx.Lifecycle, exporter *Exporter) {
	lifecycle.Append(fx.Hook{
		OnStart: exporter.Start,
		OnStop: func(ctx context.Context) error {
			return exporter.Stop(ctx)
		},
	})
}
