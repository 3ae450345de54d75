package scenario

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/croessner/stackload/client/engine"
)

// User is one simulated client. It logs in on start, alternates between the
// health and users tasks and logs out on stop.
type User struct {
	id      string
	cfg     *Config
	session *Session
	client  Requester
	tasks   *engine.TaskSet
	logger  *slog.Logger
}

func newUser(id string, cfg *Config, session *Session, client Requester, logger *slog.Logger) (*User, error) {
	u := &User{
		id:      id,
		cfg:     cfg,
		session: session,
		client:  client,
		logger:  logger.With(slog.String("user_id", id)),
	}

	tasks, err := engine.NewTaskSet(
		engine.Task{Name: "health", Weight: cfg.HealthWeight, Run: u.Health},
		engine.Task{Name: "users", Weight: cfg.UsersWeight, Run: u.Users},
	)
	if err != nil {
		return nil, err
	}

	u.tasks = tasks

	return u, nil
}

func (u *User) OnStart(ctx context.Context) error {
	return u.session.Login(ctx, u.client)
}

func (u *User) OnStop(ctx context.Context) error {
	return u.session.Logout(ctx, u.client)
}

func (u *User) Tasks() *engine.TaskSet {
	return u.tasks
}

// Health hits the application server only; it never sends credentials.
func (u *User) Health(ctx context.Context) error {
	_, err := u.client.Do(ctx, engine.Request{Method: http.MethodGet, Path: "/healthz"})

	return err
}

// Users exercises token lookup, user query and activity logging on the
// target with the shared bearer token.
func (u *User) Users(ctx context.Context) error {
	token := u.session.Token().Get()

	resp, err := u.client.Do(ctx, engine.Request{
		Method: http.MethodGet,
		Path:   "/users",
		Header: bearer(token),
	})
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusUnauthorized || !u.cfg.ReloginOn401 {
		return nil
	}

	if token != "" && !u.session.Token().CompareAndClear(token) {
		return nil
	}

	u.logger.Info("Token rejected, logging in again")

	return u.session.Login(ctx, u.client)
}

var _ engine.User = (*User)(nil)
