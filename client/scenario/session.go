package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/croessner/stackload/client/engine"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMissingToken is returned when a login response has no data.token or
// carries null for it.
var ErrMissingToken = errors.New("login response has no data.token")

// Requester sends one request against the target. *engine.HTTPClient
// implements it.
type Requester interface {
	Do(ctx context.Context, req engine.Request) (*engine.Response, error)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Data *struct {
		Token jsoniter.RawMessage `json:"token"`
	} `json:"data"`
}

// Session performs the login and logout transitions of the shared token.
type Session struct {
	cfg    *Config
	token  *Token
	logger *slog.Logger

	// flight is held across check, call and write under PolicyGuarded.
	flight sync.Mutex
}

func NewSession(cfg *Config, token *Token, logger *slog.Logger) *Session {
	return &Session{cfg: cfg, token: token, logger: logger}
}

func (s *Session) Token() *Token {
	return s.token
}

func (s *Session) guard() func() {
	if s.cfg.TokenPolicy != PolicyGuarded {
		return func() {}
	}

	s.flight.Lock()

	return s.flight.Unlock
}

// Login posts the credentials when no token is set yet and stores data.token
// from the response. Nothing is stored on failure or when the response holds
// an empty token; the user then runs its tasks without one.
func (s *Session) Login(ctx context.Context, r Requester) error {
	defer s.guard()()

	if s.token.IsSet() {
		return nil
	}

	body, err := json.Marshal(credentials{Email: s.cfg.Email, Password: s.cfg.Password})
	if err != nil {
		return err
	}

	resp, err := r.Do(ctx, engine.Request{
		Method: http.MethodPost,
		Path:   "/login",
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
	})
	if err != nil {
		return err
	}

	s.logger.Debug("Login response", slog.Int("status", resp.StatusCode), slog.String("body", string(resp.Body)))

	token, err := decodeToken(resp.Body)
	if err != nil {
		return fmt.Errorf("login (HTTP %d): %w", resp.StatusCode, err)
	}

	s.logger.Debug("Token", slog.String("token", token))

	if token == "" {
		return nil
	}

	s.token.Set(token)

	return nil
}

// Logout posts the bearer token when one is set and clears it afterwards,
// whatever the outcome of the call.
func (s *Session) Logout(ctx context.Context, r Requester) error {
	defer s.guard()()

	token := s.token.Get()
	if token == "" {
		return nil
	}

	defer s.token.Clear()

	_, err := r.Do(ctx, engine.Request{
		Method: http.MethodPost,
		Path:   "/logout",
		Header: bearer(token),
	})

	return err
}

// decodeToken returns data.token as text. A string is taken as is, any other
// JSON value by its literal form, so 42 becomes "42".
func decodeToken(body []byte) (string, error) {
	var payload loginResponse

	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}

	if payload.Data == nil {
		return "", ErrMissingToken
	}

	raw := bytes.TrimSpace(payload.Data.Token)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ErrMissingToken
	}

	if raw[0] != '"' {
		return string(raw), nil
	}

	var token string

	if err := json.Unmarshal(raw, &token); err != nil {
		return "", fmt.Errorf("decode login token: %w", err)
	}

	return token, nil
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}
