package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

type mockBrowser struct {
	mock.Mock
}

func (m *mockBrowser) Navigate(ctx context.Context, url string) (string, error) {
	args := m.Called(ctx, url)
	return args.String(0), args.Error(1)
}

func (m *mockBrowser) Text(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockBrowser) SubmitLogin(ctx context.Context, form recovery.LoginForm) (string, error) {
	args := m.Called(ctx, form)
	return args.String(0), args.Error(1)
}

func (m *mockBrowser) Close() error {
	return m.Called().Error(0)
}

type queueLauncher struct {
	browsers []recovery.Browser
	err      error
	launched int
}

func (l *queueLauncher) Launch(context.Context) (recovery.Browser, error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.launched >= len(l.browsers) {
		return nil, errors.New("no more browsers")
	}
	b := l.browsers[l.launched]
	l.launched++
	return b, nil
}

var testLogin = recovery.LoginForm{
	URL:              "https://app.example.com/login",
	Username:         "user",
	Password:         "secret",
	UsernameSelector: "#user",
	PasswordSelector: "#pass",
	SubmitSelector:   "#submit",
}

func newManager(t *testing.T, launcher recovery.Launcher, onRotate func(string)) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Launcher:          launcher,
		Login:             testLogin,
		Matcher:           NewLoginMatcher(),
		RotationThreshold: 2,
		OnRotate:          onRotate,
	})
	require.NoError(t, err)
	return m
}

func TestNewManagerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewManager(Config{Login: testLogin})
	require.Error(t, err)

	_, err = NewManager(Config{Launcher: &queueLauncher{}, Login: recovery.LoginForm{URL: "x"}})
	require.ErrorContains(t, err, "credentials")

	m, err := NewManager(Config{Launcher: &queueLauncher{}, Login: testLogin})
	require.NoError(t, err)
	assert.Equal(t, DefaultRotationThreshold, m.threshold)
	assert.Equal(t, StateUnauthenticated, m.State())
}

func TestStartAuthenticates(t *testing.T) {
	t.Parallel()

	b := &mockBrowser{}
	b.On("SubmitLogin", mock.Anything, testLogin).Return("https://app.example.com/home", nil).Once()

	m := newManager(t, &queueLauncher{browsers: []recovery.Browser{b}}, nil)
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateAuthenticated, m.State())
	assert.Same(t, b, m.Browser())
	b.AssertExpectations(t)
}

func TestAuthenticateStillOnLogin(t *testing.T) {
	t.Parallel()

	b := &mockBrowser{}
	b.On("SubmitLogin", mock.Anything, testLogin).Return("https://app.example.com/login?error=1", nil)

	m := newManager(t, &queueLauncher{browsers: []recovery.Browser{b}}, nil)
	err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, StateUnauthenticated, m.State())
}

func TestAuthenticateWithoutBrowser(t *testing.T) {
	t.Parallel()

	m := newManager(t, &queueLauncher{}, nil)
	require.ErrorIs(t, m.Authenticate(context.Background()), ErrNotStarted)
}

func TestStartLaunchFailure(t *testing.T) {
	t.Parallel()

	m := newManager(t, &queueLauncher{err: errors.New("no chrome")}, nil)
	require.ErrorContains(t, m.Start(context.Background()), "no chrome")
}

func TestMarkExpiredAndReauthenticate(t *testing.T) {
	t.Parallel()

	b := &mockBrowser{}
	b.On("SubmitLogin", mock.Anything, testLogin).Return("https://app.example.com/home", nil).Twice()

	m := newManager(t, &queueLauncher{browsers: []recovery.Browser{b}}, nil)
	require.NoError(t, m.Start(context.Background()))

	m.MarkExpired()
	assert.Equal(t, StateExpired, m.State())

	require.NoError(t, m.Authenticate(context.Background()))
	assert.Equal(t, StateAuthenticated, m.State())
	b.AssertExpectations(t)
}

func TestRotateReleasesOldBrowserEvenOnCloseError(t *testing.T) {
	t.Parallel()

	first := &mockBrowser{}
	first.On("SubmitLogin", mock.Anything, testLogin).Return("https://app.example.com/home", nil)
	first.On("Close").Return(errors.New("already dead")).Once()

	second := &mockBrowser{}
	second.On("SubmitLogin", mock.Anything, testLogin).Return("https://app.example.com/home", nil)

	var reasons []string
	m := newManager(t, &queueLauncher{browsers: []recovery.Browser{first, second}}, func(r string) {
		reasons = append(reasons, r)
	})
	require.NoError(t, m.Start(context.Background()))

	m.Processed()
	m.Processed()
	require.True(t, m.DueForRotation())

	require.NoError(t, m.Rotate(context.Background(), "threshold"))
	assert.Same(t, second, m.Browser())
	assert.Equal(t, 0, m.ItemsSinceRotation())
	assert.False(t, m.DueForRotation())
	assert.Equal(t, []string{"threshold"}, reasons)
	first.AssertExpectations(t)
}

func TestRotateFailsWhenRelaunchFails(t *testing.T) {
	t.Parallel()

	first := &mockBrowser{}
	first.On("SubmitLogin", mock.Anything, testLogin).Return("https://app.example.com/home", nil)
	first.On("Close").Return(nil)

	m := newManager(t, &queueLauncher{browsers: []recovery.Browser{first}}, nil)
	require.NoError(t, m.Start(context.Background()))

	err := m.Rotate(context.Background(), "crash")
	require.Error(t, err)
	assert.Nil(t, m.Browser())
	assert.Equal(t, StateUnauthenticated, m.State())
}

func TestClose(t *testing.T) {
	t.Parallel()

	b := &mockBrowser{}
	b.On("SubmitLogin", mock.Anything, testLogin).Return("https://app.example.com/home", nil)
	b.On("Close").Return(nil).Once()

	m := newManager(t, &queueLauncher{browsers: []recovery.Browser{b}}, nil)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Nil(t, m.Browser())
	b.AssertExpectations(t)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "expired", StateExpired.String())
	assert.Equal(t, "state(9)", State(9).String())
}
