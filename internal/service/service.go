// Package service is the entry point other layers use to read, edit and
// persist the proxy configuration. Every write goes through the validator.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mixproxy/proxyadmin/internal/logging"
	"github.com/mixproxy/proxyadmin/internal/metrics"
	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
	"go.uber.org/zap"
)

// Fetcher supplies the current configuration.
type Fetcher interface {
	Fetch(ctx context.Context) (proxyconfig.Config, error)
}

// Submitter persists a configuration.
type Submitter interface {
	Submit(ctx context.Context, cfg proxyconfig.Config) error
}

// ListToggler switches a list on or off for a scope. The empty scope is the
// root domain.
type ListToggler interface {
	SetListEnabled(ctx context.Context, kind proxyconfig.ListKind, scope string, enabled bool) error
}

// SubmitError is returned by Save when the configuration was valid but could
// not be persisted.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string { return "failed to update config" }

func (e *SubmitError) Unwrap() error { return e.Err }

// Options tunes a Service.
type Options struct {
	// StrictTotalCapacity also requires every pool's full capacity sum,
	// inactive backends included, to be 1.
	StrictTotalCapacity bool
	Metrics             *metrics.Collector
	Logger              *zap.Logger
}

// Service validates and persists configuration changes.
type Service struct {
	fetcher   Fetcher
	submitter Submitter
	lists     ListToggler
	validator proxyconfig.Validator
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// New creates a Service. lists may be nil when list toggling is not needed.
func New(fetcher Fetcher, submitter Submitter, lists ListToggler, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Named("service")
	}
	return &Service{
		fetcher:   fetcher,
		submitter: submitter,
		lists:     lists,
		validator: proxyconfig.Validator{StrictTotalCapacity: opts.StrictTotalCapacity},
		metrics:   opts.Metrics,
		logger:    logger,
	}
}

// Load returns the current configuration from the fetcher.
func (s *Service) Load(ctx context.Context) (proxyconfig.Config, error) {
	cfg, err := s.fetcher.Fetch(ctx)
	if err != nil {
		s.logger.Warn("config load failed", zap.Error(err))
		return proxyconfig.Config{}, err
	}
	return cfg, nil
}

// Validate runs the validator with the service's options.
func (s *Service) Validate(cfg proxyconfig.Config) proxyconfig.Violations {
	return s.validator.Validate(cfg)
}

// Save validates cfg and submits it. An invalid configuration is never
// submitted; the returned *proxyconfig.ValidationError lists every violation.
func (s *Service) Save(ctx context.Context, cfg proxyconfig.Config) error {
	if vs := s.validator.Validate(cfg); len(vs) > 0 {
		s.metrics.RecordSave(metrics.SaveInvalid, len(vs))
		s.logger.Info("config rejected",
			zap.Int("violations", len(vs)),
			zap.Strings("messages", vs.Messages()),
		)
		return vs.Err()
	}

	if err := s.submitter.Submit(ctx, cfg); err != nil {
		s.metrics.RecordSave(metrics.SaveFailed, 0)
		s.logger.Error("config submit failed", zap.Error(err))
		return &SubmitError{Err: err}
	}

	s.metrics.RecordSave(metrics.SaveOK, 0)
	s.logger.Info("config saved",
		zap.String("hostname", cfg.Hostname),
		zap.Int("load_balancers", len(cfg.LoadBalancers)),
		zap.Bool("root", cfg.Root != nil),
	)
	return nil
}

// Update loads the configuration, applies edits in order and saves the
// result. Nothing is submitted if an edit fails or the result is invalid.
func (s *Service) Update(ctx context.Context, edits ...proxyconfig.Edit) (proxyconfig.Config, error) {
	cfg, err := s.Load(ctx)
	if err != nil {
		return proxyconfig.Config{}, err
	}
	next, err := proxyconfig.Apply(cfg, edits...)
	if err != nil {
		return cfg, fmt.Errorf("apply edits: %w", err)
	}
	if err := s.Save(ctx, next); err != nil {
		return cfg, err
	}
	return next, nil
}

// ErrNoListToggler is returned by SetListEnabled when the service was built
// without a ListToggler.
var ErrNoListToggler = errors.New("list toggling not configured")

// SetListEnabled switches kind on or off for scope. Enabling a list first
// disables the complementary one so both are never on together.
func (s *Service) SetListEnabled(ctx context.Context, kind proxyconfig.ListKind, scope string, enabled bool) error {
	if s.lists == nil {
		return ErrNoListToggler
	}
	log := s.logger.With(zap.String("kind", kind.String()), zap.String("scope", scope), zap.Bool("enabled", enabled))

	if enabled {
		other := kind.Complement()
		if err := s.lists.SetListEnabled(ctx, other, scope, false); err != nil {
			log.Warn("disabling complementary list failed", zap.Error(err))
			return err
		}
		s.metrics.RecordListToggle(other.String(), false)
	}
	if err := s.lists.SetListEnabled(ctx, kind, scope, enabled); err != nil {
		log.Warn("list toggle failed", zap.Error(err))
		return err
	}
	s.metrics.RecordListToggle(kind.String(), enabled)
	log.Info("list toggled")
	return nil
}
