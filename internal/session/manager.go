// Package session owns the authenticated browser of one worker and replaces
// it when it expires, crashes or has served enough items.
package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

// DefaultRotationThreshold is the number of items served before a proactive rotation.
const DefaultRotationThreshold = 50

var (
	// ErrAuthenticationFailed means the login flow ended on a login surface.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrNotStarted is returned when the manager has no live browser.
	ErrNotStarted = errors.New("session not started")
)

// State is the authentication state of the session.
type State int

// Session states.
const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config wires a Manager.
type Config struct {
	Launcher          recovery.Launcher
	Login             recovery.LoginForm
	Matcher           LoginMatcher
	RotationThreshold int
	Logger            *zap.Logger
	// OnRotate is invoked after every successful rotation.
	OnRotate func(reason string)
}

// Manager owns exactly one browser at a time. It is not safe for concurrent use.
type Manager struct {
	launcher  recovery.Launcher
	login     recovery.LoginForm
	matcher   LoginMatcher
	threshold int
	logger    *zap.Logger
	onRotate  func(string)

	browser   recovery.Browser
	state     State
	processed int
}

// NewManager validates cfg and returns an idle manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Launcher == nil {
		return nil, errors.New("session: launcher is required")
	}
	if cfg.Login.URL == "" {
		return nil, errors.New("session: login url is required")
	}
	if cfg.Login.Username == "" || cfg.Login.Password == "" {
		return nil, errors.New("session: credentials are required")
	}
	threshold := cfg.RotationThreshold
	if threshold <= 0 {
		threshold = DefaultRotationThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		launcher:  cfg.Launcher,
		login:     cfg.Login,
		matcher:   cfg.Matcher,
		threshold: threshold,
		logger:    logger,
		onRotate:  cfg.OnRotate,
		state:     StateUnauthenticated,
	}, nil
}

// Start launches the first browser and authenticates it.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.launch(ctx); err != nil {
		return err
	}
	return m.Authenticate(ctx)
}

func (m *Manager) launch(ctx context.Context) error {
	b, err := m.launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	m.browser = b
	m.state = StateUnauthenticated
	m.processed = 0
	return nil
}

// Authenticate drives the login form on the current browser.
func (m *Manager) Authenticate(ctx context.Context) error {
	if m.browser == nil {
		return ErrNotStarted
	}
	m.state = StateAuthenticating
	location, err := m.browser.SubmitLogin(ctx, m.login)
	if err != nil {
		m.state = StateUnauthenticated
		return fmt.Errorf("authenticate: %w", err)
	}
	if m.matcher.IsLogin(location) {
		m.state = StateUnauthenticated
		return fmt.Errorf("%w: still on %s", ErrAuthenticationFailed, location)
	}
	m.state = StateAuthenticated
	m.logger.Info("session authenticated")
	return nil
}

// MarkExpired records that a navigation was bounced to the login page.
func (m *Manager) MarkExpired() {
	if m.state == StateAuthenticated {
		m.state = StateExpired
	}
}

// Rotate replaces the browser with a fresh, authenticated one. Errors closing
// the old browser are logged and ignored.
func (m *Manager) Rotate(ctx context.Context, reason string) error {
	m.logger.Info("rotating session",
		zap.String("reason", reason),
		zap.Int("items_since_rotation", m.processed),
	)
	m.release()
	if err := m.launch(ctx); err != nil {
		return fmt.Errorf("rotate: %w", err)
	}
	if err := m.Authenticate(ctx); err != nil {
		return fmt.Errorf("rotate: %w", err)
	}
	if m.onRotate != nil {
		m.onRotate(reason)
	}
	return nil
}

func (m *Manager) release() {
	if m.browser == nil {
		return
	}
	if err := m.browser.Close(); err != nil {
		m.logger.Warn("closing browser failed", zap.Error(err))
	}
	m.browser = nil
	m.state = StateUnauthenticated
}

// Processed counts one item served by the current browser.
func (m *Manager) Processed() {
	m.processed++
}

// ItemsSinceRotation returns how many items the current browser served.
func (m *Manager) ItemsSinceRotation() int {
	return m.processed
}

// DueForRotation reports whether the proactive threshold is reached.
func (m *Manager) DueForRotation() bool {
	return m.processed >= m.threshold
}

// Browser returns the live browser, or nil before Start.
func (m *Manager) Browser() recovery.Browser {
	return m.browser
}

// State returns the current authentication state.
func (m *Manager) State() State {
	return m.state
}

// Close releases the browser.
func (m *Manager) Close() error {
	if m.browser == nil {
		return nil
	}
	err := m.browser.Close()
	m.browser = nil
	m.state = StateUnauthenticated
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
