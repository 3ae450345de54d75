// Package scenario implements the simulated user of a load test run: one
// login shared by every user, then a 2:1 mix of health checks and
// authenticated user listings, and a logout when the user stops.
package scenario

import (
	"log/slog"

	"github.com/croessner/stackload/client/engine"
)

// Scenario creates users that share one Session and therefore one token.
type Scenario struct {
	cfg     *Config
	session *Session
	logger  *slog.Logger
}

func NewScenario(cfg *Config, logger *slog.Logger) *Scenario {
	return &Scenario{
		cfg:     cfg,
		session: NewSession(cfg, &Token{}, logger),
		logger:  logger,
	}
}

func (s *Scenario) NewUser(id string, client *engine.HTTPClient) (engine.User, error) {
	u, err := newUser(id, s.cfg, s.session, client, s.logger)
	if err != nil {
		return nil, err
	}

	return u, nil
}

// Token exposes the shared token, e.g. for the final report.
func (s *Scenario) Token() *Token {
	return s.session.Token()
}

var _ engine.Scenario = (*Scenario)(nil)
