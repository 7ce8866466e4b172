package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/thread-recovery/internal/checkpoint"
	"github.com/JakeFAU/thread-recovery/internal/extract"
	"github.com/JakeFAU/thread-recovery/internal/journal"
	"github.com/JakeFAU/thread-recovery/internal/recovery"
	"github.com/JakeFAU/thread-recovery/internal/session"
)

type step int

const (
	stepOK step = iota
	stepLogin
	stepCrash
	stepBroken
)

// site scripts the remote application shared by every browser instance.
type site struct {
	mu        sync.Mutex
	steps     map[string][]step
	calls     map[string]int
	visited   []string
	logins    int
	failLogin func(n int) bool
}

func newSite(steps map[string][]step) *site {
	if steps == nil {
		steps = map[string][]step{}
	}
	return &site{steps: steps, calls: map[string]int{}}
}

func (s *site) next(id string) step {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visited = append(s.visited, id)
	n := s.calls[id]
	s.calls[id]++
	if n < len(s.steps[id]) {
		return s.steps[id][n]
	}
	return stepOK
}

func (s *site) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visited...)
}

func (s *site) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

type fakeBrowser struct {
	site    *site
	current string
	closed  bool
}

func (b *fakeBrowser) Navigate(_ context.Context, url string) (string, error) {
	id := path.Base(url)
	b.current = id
	switch b.site.next(id) {
	case stepLogin:
		return "https://app.test/login?next=/threads/" + id, nil
	case stepCrash:
		return "", fmt.Errorf("navigate: %w: target closed", recovery.ErrTransportClosed)
	case stepBroken:
		return "", errors.New("net::ERR_CONNECTION_RESET")
	default:
		return url, nil
	}
}

func (b *fakeBrowser) Text(context.Context) (string, error) {
	return fmt.Sprintf("Jane Doe 10:42 AM\nThread %s first message body", b.current), nil
}

func (b *fakeBrowser) SubmitLogin(context.Context, recovery.LoginForm) (string, error) {
	b.site.mu.Lock()
	defer b.site.mu.Unlock()
	b.site.logins++
	if b.site.failLogin != nil && b.site.failLogin(b.site.logins) {
		return "https://app.test/login?error=1", nil
	}
	return "https://app.test/home", nil
}

func (b *fakeBrowser) Close() error {
	b.closed = true
	return nil
}

type fakeLauncher struct {
	site     *site
	mu       sync.Mutex
	browsers []*fakeBrowser
	err      error
}

func (l *fakeLauncher) Launch(context.Context) (recovery.Browser, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := &fakeBrowser{site: l.site}
	l.browsers = append(l.browsers, b)
	return b, nil
}

func (l *fakeLauncher) Launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.browsers)
}

type sliceInventory []string

func (s sliceInventory) Enumerate(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

type countingStore struct {
	*checkpoint.Store
	mu    sync.Mutex
	saves []int
}

func (c *countingStore) Save(record *recovery.ProgressRecord) error {
	c.mu.Lock()
	c.saves = append(c.saves, record.Len())
	c.mu.Unlock()
	return c.Store.Save(record)
}

type harness struct {
	dir      string
	site     *site
	launcher *fakeLauncher
	global   *checkpoint.Store
	local    *countingStore
	results  *journal.ResultJournal
	failures *journal.FailureJournal
}

type option func(cfg *Config, deps *Deps, sessCfg *session.Config)

func newHarness(t *testing.T, dir string, ids []string, steps map[string][]step, opts ...option) (*Worker, *harness) {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	cfg := Config{Index: 1, Total: 1}
	s := newSite(steps)
	launcher := &fakeLauncher{site: s}
	sessCfg := session.Config{
		Launcher: launcher,
		Login: recovery.LoginForm{
			URL:      "https://app.test/login",
			Username: "user",
			Password: "secret",
		},
		Matcher: session.NewLoginMatcher(),
	}
	pipeline, err := extract.NewPipeline("https://app.test/threads/{id}", session.NewLoginMatcher(), nil)
	require.NoError(t, err)
	deps := Deps{Inventory: sliceInventory(ids), Extractor: pipeline}

	for _, opt := range opts {
		opt(&cfg, &deps, &sessCfg)
	}

	global, err := checkpoint.NewStore(filepath.Join(dir, "checkpoint.json"), nil)
	require.NoError(t, err)
	localStore, err := checkpoint.NewStore(filepath.Join(dir, checkpoint.LocalFileName(cfg.Index)), nil)
	require.NoError(t, err)
	local := &countingStore{Store: localStore}
	results, err := journal.OpenResults(filepath.Join(dir, journal.ResultsFileName(cfg.Index)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = results.Close() })
	failures, err := journal.OpenFailures(filepath.Join(dir, journal.FailuresFileName(cfg.Index)))
	require.NoError(t, err)

	mgr, err := session.NewManager(sessCfg)
	require.NoError(t, err)

	deps.GlobalCheckpoint = global
	deps.LocalCheckpoint = local
	deps.Session = mgr
	deps.Results = results
	deps.Failures = failures

	w, err := New(cfg, deps)
	require.NoError(t, err)
	return w, &harness{
		dir:      dir,
		site:     s,
		launcher: launcher,
		global:   global,
		local:    local,
		results:  results,
		failures: failures,
	}
}
