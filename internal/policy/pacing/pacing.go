// Package pacing spaces out work against the remote application: a fixed
// pause between consecutive items and a token bucket over navigations.
package pacing

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

// Pacer enforces the fixed inter-item delay.
type Pacer struct {
	delay time.Duration
}

// NewPacer returns a Pacer sleeping delay between items.
func NewPacer(delay time.Duration) *Pacer {
	return &Pacer{delay: delay}
}

// Pause waits for the configured delay or until ctx is done.
func (p *Pacer) Pause(ctx context.Context) {
	if p == nil || p.delay <= 0 {
		return
	}
	timer := time.NewTimer(p.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Config controls the navigation limiter.
type Config struct {
	RPS   float64
	Burst int
}

// NewLimiter builds a token bucket; a non-positive RPS disables limiting.
func NewLimiter(cfg Config) *rate.Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(r, burst)
}

// Throttle wraps browser so every navigation and login submission first
// takes a token from limiter.
func Throttle(browser recovery.Browser, limiter *rate.Limiter) recovery.Browser {
	if limiter == nil {
		return browser
	}
	return &throttled{Browser: browser, limiter: limiter}
}

type throttled struct {
	recovery.Browser
	limiter *rate.Limiter
}

func (t *throttled) wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("navigation rate limit: %w", err)
	}
	return nil
}

func (t *throttled) Navigate(ctx context.Context, url string) (string, error) {
	if err := t.wait(ctx); err != nil {
		return "", err
	}
	return t.Browser.Navigate(ctx, url)
}

func (t *throttled) SubmitLogin(ctx context.Context, form recovery.LoginForm) (string, error) {
	if err := t.wait(ctx); err != nil {
		return "", err
	}
	return t.Browser.SubmitLogin(ctx, form)
}

// ThrottledLauncher wraps every launched browser with one shared limiter so
// the budget survives rotations.
type ThrottledLauncher struct {
	Launcher recovery.Launcher
	Limiter  *rate.Limiter
}

// Launch implements recovery.Launcher.
func (l ThrottledLauncher) Launch(ctx context.Context) (recovery.Browser, error) {
	b, err := l.Launcher.Launch(ctx)
	if err != nil {
		return nil, err
	}
	return Throttle(b, l.Limiter), nil
}
