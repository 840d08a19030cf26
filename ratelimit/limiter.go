// Package ratelimit throttles model calls per client with fixed windows.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// UnknownClient 无法识别客户端地址时使用的 key
const UnknownClient = "unknown"

// Limiter is advisory backpressure in front of the model call.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

type entry struct {
	count   int
	resetAt time.Time
}

// Window is an in-memory fixed-window limiter. The check and the increment
// happen under one lock, so concurrent requests for a key never over-admit.
type Window struct {
	mu      sync.Mutex
	entries map[string]*entry
	quota   int
	window  time.Duration
	now     func() time.Time
}

type Option func(*Window)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

func NewWindow(quota int, window time.Duration, opts ...Option) *Window {
	w := &Window{
		entries: make(map[string]*entry),
		quota:   quota,
		window:  window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Window) Allow(_ context.Context, key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	e, ok := w.entries[key]
	if !ok || now.After(e.resetAt) {
		w.entries[key] = &entry{count: 1, resetAt: now.Add(w.window)}
		return true
	}

	if e.count >= w.quota {
		return false
	}
	e.count++
	return true
}

// Sweep 删除所有已过期的窗口，返回删除数量
func (w *Window) Sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	removed := 0
	for key, e := range w.entries {
		if now.After(e.resetAt) {
			delete(w.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Run sweeps on a fixed interval, independent of traffic, until ctx is done.
func (w *Window) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// KeyFromForwarded 取 X-Forwarded-For 的第一个地址
func KeyFromForwarded(header string) string {
	first, _, _ := strings.Cut(header, ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return UnknownClient
	}
	return first
}

type clientKeyCtx struct{}

// WithClientKey records the caller's limiter key on ctx. Limited operations
// prefer it over their configured default key.
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, clientKeyCtx{}, key)
}

// ClientKey 返回 ctx 上的限流 key，没有时返回 fallback
func ClientKey(ctx context.Context, fallback string) string {
	if key, ok := ctx.Value(clientKeyCtx{}).(string); ok && key != "" {
		return key
	}
	return fallback
}
