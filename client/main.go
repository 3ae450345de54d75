package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/croessner/stackload/client/engine"
	"github.com/croessner/stackload/client/scenario"
	"github.com/croessner/stackload/client/target"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func main() {
	opts, err := loadOptions(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	engine.InitColorStyles(opts.Engine.UseColor())

	if opts.Target.Listen != "" {
		if err = serveTarget(opts); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		return
	}

	fx.New(appOptions(opts)...).Run()
}

func appOptions(opts *options) []fx.Option {
	return []fx.Option{
		fx.Supply(opts.Engine, opts.Scenario),
		fx.WithLogger(func() fxevent.Logger {
			if opts.Engine.Debug {
				return &fxevent.ConsoleLogger{W: os.Stderr}
			}

			return fxevent.NopLogger
		}),
		engine.Module,
		scenario.Module,
		fx.Invoke(runApp),
	}
}

// serveTarget runs the mock target until SIGINT or SIGTERM.
func serveTarget(opts *options) error {
	logger, err := engine.NewLogger(opts.Engine)
	if err != nil {
		return err
	}

	if !opts.Engine.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return target.New(opts.Target, logger).ListenAndServe(ctx, opts.Target.Listen)
}

func runApp(lifecycle fx.Lifecycle, app *engine.App, shared *scenario.Scenario, shutdown fx.Shutdowner) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(done)

				if err := app.Run(ctx); err != nil {
					app.Logger.Error("Load test failed", slog.String("error", err.Error()))
				}

				_ = shutdown.Shutdown()
			}()

			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			app.Stop()

			select {
			case <-done:
			case <-stopCtx.Done():
				cancel()
				<-done
			}

			printStats(app, shared)

			return nil
		},
	})
}

func printStats(app *engine.App, shared *scenario.Scenario) {
	stats := app.Collector.Snapshot()

	if app.Config.ProgressBar && engine.IsTTY() {
		fmt.Print("\x1b[2J\x1b[3J\x1b[H")
	}

	fmt.Printf("Done in %s\n\n", stats.Elapsed)

	engine.PrintReport(os.Stdout, stats)

	if halted := app.Halted(); halted > 0 {
		fmt.Printf("\nhalted_users=%d (on_start failed)\n", halted)
	}

	if shared.Token().IsSet() {
		fmt.Println("shared_token=still set (no user completed on_stop)")
	}

	if of := app.Collector.Overflow(); of > 0 {
		fmt.Printf("latency_overflow(>60000ms)=%d\n", of)
	}

	if stats.Total.Requests > 0 && engine.IsTTY() {
		width, _ := engine.TermSize()

		fmt.Println()
		engine.PrintLatencyHistogram(os.Stdout, stats, app.Collector.Buckets(), width)
		fmt.Println()
	}
}
