// Package browser implements recovery.Browser on top of headless Chrome via chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

const defaultNavigationTimeout = 45 * time.Second

// Config controls how browsers are launched and driven.
type Config struct {
	Headless          bool
	UserAgent         string
	ExecPath          string
	NavigationTimeout time.Duration
	Settle            time.Duration
}

// Launcher starts one Chrome process per Launch call.
type Launcher struct {
	cfg    Config
	logger *zap.Logger
}

// NewLauncher returns a chromedp-backed recovery.Launcher.
func NewLauncher(cfg Config, logger *zap.Logger) *Launcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{cfg: cfg, logger: logger}
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	headless := any(false)
	if l.cfg.Headless {
		headless = "new"
	}
	opts = append(opts,
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("enable-automation", false),
	)
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

// Launch starts Chrome and opens a single tab. The browser lives until Close,
// independent of ctx.
func (l *Launcher) Launch(ctx context.Context) (recovery.Browser, error) {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	allocCtx, allocCancel := chromedp.NewExecAllocator(rootCtx, l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	b := &Browser{
		cfg:           l.cfg,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		rootCancel:    rootCancel,
	}

	// The first Run starts the Chrome process under the context it is given,
	// so it must run on browserCtx itself. Startup is bounded by canceling
	// the root instead of deriving a deadline.
	timer := time.AfterFunc(l.cfg.NavigationTimeout, rootCancel)
	stop := forwardCancel(ctx, rootCancel)
	err := chromedp.Run(browserCtx)
	canceled := !stop()
	timedOut := !timer.Stop()
	switch {
	case timedOut:
		err = fmt.Errorf("no browser within %s: %w", l.cfg.NavigationTimeout, context.DeadlineExceeded)
	case canceled:
		err = ctx.Err()
	}
	if err != nil {
		rootCancel()
		_ = b.Close()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	l.logger.Debug("browser launched", zap.Bool("headless", l.cfg.Headless))
	return b, nil
}

// Browser is one Chrome instance with a single tab.
type Browser struct {
	cfg           Config
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	rootCancel    context.CancelFunc
}

// Navigate loads url and returns the final location.
func (b *Browser) Navigate(ctx context.Context, url string) (string, error) {
	var location string
	err := b.run(ctx,
		b.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(b.cfg.Settle),
		chromedp.Location(&location),
	)
	if err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	return location, nil
}

// Text returns document.body.innerText of the current page.
func (b *Browser) Text(ctx context.Context) (string, error) {
	var text string
	if err := b.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text)); err != nil {
		return "", fmt.Errorf("read page text: %w", err)
	}
	return text, nil
}

// SubmitLogin fills the login form and returns the location after submission.
func (b *Browser) SubmitLogin(ctx context.Context, form recovery.LoginForm) (string, error) {
	var location string
	err := b.run(ctx,
		b.networkSetupAction(),
		chromedp.Navigate(form.URL),
		chromedp.WaitVisible(form.UsernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(form.UsernameSelector, form.Username, chromedp.ByQuery),
		chromedp.SendKeys(form.PasswordSelector, form.Password, chromedp.ByQuery),
		chromedp.Click(form.SubmitSelector, chromedp.ByQuery),
		chromedp.Sleep(b.cfg.Settle),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
	)
	if err != nil {
		return "", fmt.Errorf("submit login: %w", err)
	}
	return location, nil
}

// Close tears down the tab and the Chrome process.
func (b *Browser) Close() error {
	if b == nil {
		return nil
	}
	b.browserCancel()
	b.allocCancel()
	if b.rootCancel != nil {
		b.rootCancel()
	}
	return nil
}

func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(b.browserCtx, b.cfg.NavigationTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	err := chromedp.Run(taskCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && isTransportFailure(b.browserCtx, err) {
		return fmt.Errorf("%w: %w", recovery.ErrTransportClosed, err)
	}
	return err
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

var transportMarkers = []string{
	"target closed",
	"websocket",
	"connection refused",
	"broken pipe",
	"browser has disconnected",
	"session closed",
}

// isTransportFailure reports whether err means the browser itself is gone
// rather than the page misbehaving.
func isTransportFailure(browserCtx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if browserCtx != nil && browserCtx.Err() != nil {
		return true
	}
	if errors.Is(err, chromedp.ErrChannelClosed) ||
		errors.Is(err, chromedp.ErrInvalidTarget) ||
		errors.Is(err, chromedp.ErrInvalidContext) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transportMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// forwardCancel propagates cancellation from parent to a derived browser
// context without tying the browser's lifetime to parent. The returned stop
// reports false when cancel has already been triggered; after it returns,
// cancel is never called.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() bool {
	if parent == nil {
		return func() bool { return true }
	}
	return context.AfterFunc(parent, cancel)
}
