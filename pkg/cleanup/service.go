// Package cleanup reclaims sandbox resources left behind by finished or
// abandoned deployments.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/eb-adutwum/interius/pkg/config"
	"github.com/eb-adutwum/interius/pkg/sandbox"
)

// SandboxManager is the slice of the sandbox harness the sweep needs.
type SandboxManager interface {
	Registry() *sandbox.Registry
	Live(ctx context.Context, projectID string) bool
	Teardown(ctx context.Context, projectID string)
}

// Service periodically sweeps the sandbox registry: deployments older than
// the retention TTL whose container is no longer running get torn down and
// their host directory removed, freeing the port for new projects.
//
// The sweep is idempotent and safe to run alongside active launches: the
// per-project registry lock serializes it against the harness.
type Service struct {
	config    config.RetentionConfig
	sandboxes SandboxManager
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new retention sweep service.
func NewService(cfg config.RetentionConfig, sandboxes SandboxManager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config:    cfg,
		sandboxes: sandboxes,
		logger:    logger.With("component", "cleanup"),
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started",
		"sandbox_ttl", s.config.SandboxTTL,
		"interval", s.config.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one retention pass and returns the number of sandboxes removed.
func (s *Service) Sweep(ctx context.Context) int {
	registry := s.sandboxes.Registry()
	cutoff := time.Now().Add(-s.config.SandboxTTL)

	removed := 0
	for _, meta := range registry.List() {
		if ctx.Err() != nil {
			return removed
		}
		if meta.StartedAt.After(cutoff) {
			continue
		}
		if s.sandboxes.Live(ctx, meta.ProjectID) {
			continue
		}

		lock := registry.Lock(meta.ProjectID)
		lock.Lock()
		s.sandboxes.Teardown(ctx, meta.ProjectID)
		err := registry.Remove(meta.ProjectID)
		lock.Unlock()

		if err != nil {
			s.logger.Error("Retention: sandbox removal failed",
				"project_id", meta.ProjectID, "error", err)
			continue
		}
		removed++
		s.logger.Info("Retention: removed stale sandbox",
			"project_id", meta.ProjectID,
			"started_at", meta.StartedAt,
			"host_port", meta.HostPort)
	}
	return removed
}
