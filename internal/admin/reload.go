package admin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mixproxy/proxyadmin/internal/logging"
	"github.com/mixproxy/proxyadmin/internal/metrics"
	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
	"github.com/mixproxy/proxyadmin/internal/store"
	"go.uber.org/zap"
)

// ReloadResult represents the outcome of a config reload.
type ReloadResult struct {
	Success    bool      `json:"success"`
	Timestamp  time.Time `json:"timestamp"`
	Revision   string    `json:"revision,omitempty"`
	Error      string    `json:"error,omitempty"`
	Violations []string  `json:"violations,omitempty"`
}

// Notifier tells the proxy runtime to pick up a configuration.
type Notifier interface {
	Notify(ctx context.Context, cfg proxyconfig.Config) error
}

// Reloader validates the stored configuration and hands it to the proxy. It
// keeps a bounded history of outcomes.
type Reloader struct {
	source   ConfigSource
	validate func(proxyconfig.Config) proxyconfig.Violations
	notifier Notifier
	metrics  *metrics.Collector
	limit    int

	mu      sync.Mutex
	history []ReloadResult
	now     func() time.Time
}

// NewReloader creates a Reloader. notifier and m may be nil; limit <= 0 keeps
// the last 50 results.
func NewReloader(source ConfigSource, validate func(proxyconfig.Config) proxyconfig.Violations, notifier Notifier, m *metrics.Collector, limit int) *Reloader {
	if limit <= 0 {
		limit = 50
	}
	return &Reloader{
		source:   source,
		validate: validate,
		notifier: notifier,
		metrics:  m,
		limit:    limit,
		now:      time.Now,
	}
}

// Reload reads the stored configuration and applies it.
func (r *Reloader) Reload(ctx context.Context) ReloadResult {
	cfg, _, err := r.source.Snapshot(ctx)
	if err != nil {
		return r.record(ReloadResult{
			Timestamp: r.now(),
			Error:     fmt.Sprintf("config load failed: %v", err),
		})
	}
	return r.Apply(ctx, cfg)
}

// Apply validates cfg and notifies the proxy. It is also the watcher's
// change callback.
func (r *Reloader) Apply(ctx context.Context, cfg proxyconfig.Config) ReloadResult {
	result := ReloadResult{
		Timestamp: r.now(),
		Revision:  store.FormatRevision(r.source.Revision()),
	}

	if vs := r.validate(cfg); len(vs) > 0 {
		result.Error = "invalid configuration"
		result.Violations = vs.Messages()
		return r.record(result)
	}

	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, cfg); err != nil {
			result.Error = fmt.Sprintf("proxy notify failed: %v", err)
			return r.record(result)
		}
	}

	result.Success = true
	return r.record(result)
}

func (r *Reloader) record(result ReloadResult) ReloadResult {
	r.mu.Lock()
	r.history = appendReloadHistory(r.history, result, r.limit)
	r.mu.Unlock()

	r.metrics.RecordReload(result.Success, result.Timestamp)
	if result.Success {
		logging.Info("config reloaded", zap.String("revision", result.Revision))
	} else {
		logging.Warn("config reload failed",
			zap.String("error", result.Error),
			zap.Strings("violations", result.Violations),
		)
	}
	return result
}

// History returns the recorded results, oldest first.
func (r *Reloader) History() []ReloadResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReloadResult{}, r.history...)
}

// appendReloadHistory appends a result and keeps the last limit entries.
func appendReloadHistory(history []ReloadResult, result ReloadResult, limit int) []ReloadResult {
	history = append(history, result)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}
