// Package token holds the upstream API bearer token and keeps it fresh.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"countyscrape/internal/metrics"
)

// RefreshFunc fetches a fresh bearer token from upstream.
type RefreshFunc func(ctx context.Context) (string, error)

// ErrNoRefreshFunc is returned by Refresh when no fetcher is registered.
var ErrNoRefreshFunc = errors.New("token: no refresh function registered")

// Provider hands out the current bearer token. Reads never block on a
// refresh in flight, and a failed refresh keeps the previous token so
// in-flight scrapes can keep using it until it actually expires.
type Provider struct {
	mu        sync.RWMutex
	value     string
	refreshes int64
	failures  int64

	refresh RefreshFunc
	logger  *slog.Logger

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New returns a Provider seeded with initial, which may be empty when
// the token will arrive through Refresh or a capture hook.
func New(initial string, refresh RefreshFunc, logger *slog.Logger) *Provider {
	return &Provider{value: initial, refresh: refresh, logger: logger}
}

// Get returns the current token, empty when none is held yet.
func (p *Provider) Get() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Set replaces the current token. Capture hooks and manual seeding use
// this directly.
func (p *Provider) Set(value string) {
	p.mu.Lock()
	p.value = value
	p.mu.Unlock()
}

// Refresh fetches a new token once. On failure the old token stays in
// place and the failure counter is bumped.
func (p *Provider) Refresh(ctx context.Context) error {
	if p.refresh == nil {
		return ErrNoRefreshFunc
	}
	value, err := p.refresh(ctx)
	if err != nil {
		p.mu.Lock()
		p.failures++
		p.mu.Unlock()
		metrics.RecordTokenRefresh(false)
		p.logWarn("token_refresh_failed", "error", err.Error())
		return err
	}
	p.mu.Lock()
	p.value = value
	p.refreshes++
	p.mu.Unlock()
	metrics.RecordTokenRefresh(true)
	p.logInfo("token_refreshed")
	return nil
}

// StartAutoRefresh refreshes immediately and then on every interval.
// Calling it while a refresher is already running is a no-op.
func (p *Provider) StartAutoRefresh(interval time.Duration) error {
	if p.refresh == nil {
		return ErrNoRefreshFunc
	}
	if interval <= 0 {
		return fmt.Errorf("token: invalid refresh interval %s", interval)
	}

	p.cronMu.Lock()
	defer p.cronMu.Unlock()
	if p.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc("@every "+interval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = p.Refresh(ctx)
	}); err != nil {
		return fmt.Errorf("token: schedule refresh: %w", err)
	}
	c.Start()
	p.cron = c
	p.logInfo("token_auto_refresh_started", "interval", interval.String())

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = p.Refresh(ctx)
	}()
	return nil
}

// StopAutoRefresh halts the periodic refresh, waiting briefly for a
// refresh already in flight. Safe to call repeatedly and before
// StartAutoRefresh.
func (p *Provider) StopAutoRefresh() {
	p.cronMu.Lock()
	defer p.cronMu.Unlock()
	if p.cron == nil {
		return
	}
	stopCtx := p.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
	}
	p.cron = nil
	p.logInfo("token_auto_refresh_stopped")
}

// Counts reports lifetime successful refreshes and failures.
func (p *Provider) Counts() (refreshes, failures int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.refreshes, p.failures
}

func (p *Provider) logInfo(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Provider) logWarn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
