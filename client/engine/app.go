package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// User is one simulated client. OnStart runs once before the task loop and
// OnStop once after it. A failing OnStart halts the user without OnStop.
type User interface {
	OnStart(ctx context.Context) error
	OnStop(ctx context.Context) error
	Tasks() *TaskSet
}

// Scenario creates the users of a run.
type Scenario interface {
	NewUser(id string, client *HTTPClient) (User, error)
}

type App struct {
	Config        *Config
	Scenario      Scenario
	Collector     StatsCollector
	Client        *HTTPClient
	Pacer         *Pacer
	MetricsPoller *MetricsPoller
	Logger        *slog.Logger

	startTime time.Time
	active    atomic.Int64
	halted    atomic.Int64
	stopChan  chan struct{}
	stopOnce  sync.Once
}

func NewApp(cfg *Config, scenario Scenario, collector StatsCollector, client *HTTPClient, pacer *Pacer, poller *MetricsPoller, logger *slog.Logger) *App {
	return &App{
		Config:        cfg,
		Scenario:      scenario,
		Collector:     collector,
		Client:        client,
		Pacer:         pacer,
		MetricsPoller: poller,
		Logger:        logger,
		startTime:     time.Now(),
		stopChan:      make(chan struct{}),
	}
}

// Stop ends all task loops. Users still run OnStop.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
	})
}

// Halted returns the number of users whose OnStart failed.
func (a *App) Halted() int64 {
	return a.halted.Load()
}

// Run spawns the configured users at the spawn rate and blocks until every
// user has finished its OnStop.
func (a *App) Run(ctx context.Context) error {
	a.startTime = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.Config.RunFor > 0 {
		var cancelTimeout context.CancelFunc

		runCtx, cancelTimeout = context.WithTimeout(runCtx, a.Config.RunFor)
		defer cancelTimeout()
	}

	go func() {
		select {
		case <-a.stopChan:
			cancel()
		case <-runCtx.Done():
		}
	}()

	if a.Config.ProgressEvery > 0 || a.Config.ProgressBar {
		go a.progressLoop(runCtx)
	}

	if a.MetricsPoller != nil {
		go a.MetricsPoller.Run(runCtx)
	}

	a.Logger.Info("Starting load test",
		slog.String("host", a.Config.Host),
		slog.Int("users", a.Config.Users),
		slog.Float64("spawn_rate", a.Config.SpawnRate),
		slog.Duration("duration", a.Config.RunFor))

	limiter := rate.NewLimiter(rate.Limit(a.Config.SpawnRate), 1)

	var group errgroup.Group

	for range a.Config.Users {
		if err := limiter.Wait(runCtx); err != nil {
			break
		}

		id := ksuid.New().String()

		group.Go(func() error {
			return a.runUser(runCtx, id)
		})
	}

	if runCtx.Err() == nil {
		a.Logger.Info("All users spawned", slog.Int("users", a.Config.Users))
	}

	err := group.Wait()

	if a.Client != nil {
		a.Client.Stop()
	}

	return err
}

func (a *App) runUser(ctx context.Context, id string) error {
	logger := a.Logger.With(slog.String("user_id", id))

	user, err := a.Scenario.NewUser(id, a.Client)
	if err != nil {
		return fmt.Errorf("create user %s: %w", id, err)
	}

	if err = user.OnStart(ctx); err != nil {
		if ctx.Err() == nil {
			a.halted.Add(1)
			a.Collector.AddTaskError("on_start", err)
			logger.Error("User halted in on_start", slog.String("error", err.Error()))
		}

		return nil
	}

	a.Collector.SetUsers(a.active.Add(1))

	defer func() {
		a.Collector.SetUsers(a.active.Add(-1))
	}()

	a.taskLoop(ctx, user, logger)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.StopTimeout)
	defer cancel()

	if err = user.OnStop(stopCtx); err != nil && !isRecorded(err) {
		a.Collector.AddTaskError("on_stop", err)
		logger.Warn("on_stop failed", slog.String("error", err.Error()))
	}

	return nil
}

func (a *App) taskLoop(ctx context.Context, user User, logger *slog.Logger) {
	tasks := user.Tasks()
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	for ctx.Err() == nil {
		if a.Pacer != nil {
			if err := a.Pacer.Wait(ctx); err != nil {
				return
			}
		}

		task := tasks.Pick(rng)

		err := task.Run(ctx)
		switch {
		case err == nil, ctx.Err() != nil:
		case errors.Is(err, ErrStopUser):
			logger.Debug("User stopped by task", slog.String("task", task.Name))

			return
		case isRecorded(err):
		default:
			a.Collector.AddTaskError(task.Name, err)
			logger.Warn("Task failed", slog.String("task", task.Name), slog.String("error", err.Error()))
		}

		wait := ThinkTime(rng, a.Config.MinWait, a.Config.MaxWait)
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			return
		}
	}
}

// isRecorded reports errors that the HTTP client already counted.
func isRecorded(err error) bool {
	var reqErr *RequestError

	return errors.As(err, &reqErr)
}

func (a *App) progressLoop(ctx context.Context) {
	if a.Config.ProgressBar && IsTTY() {
		a.renderInteractiveLoop(ctx)

		return
	}

	if a.Config.ProgressEvery <= 0 {
		return
	}

	ticker := time.NewTicker(a.Config.ProgressEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			line := ProgressLine(a.Collector.Snapshot())
			if a.MetricsPoller != nil {
				line += " " + a.MetricsPoller.GetLine()
			}

			a.Logger.Info(line)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) renderInteractiveLoop(ctx context.Context) {
	fmt.Print("\x1b[2J\x1b[3J\x1b[H")
	fmt.Println("Running load test...")

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mline := ""
			if a.MetricsPoller != nil {
				mline = a.MetricsPoller.GetLine()
			}

			renderProgressBar(os.Stdout, a.Collector.Snapshot(), a.Config, mline)
		case <-ctx.Done():
			return
		}
	}
}
