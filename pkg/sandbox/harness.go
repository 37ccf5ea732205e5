package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eb-adutwum/interius/pkg/masking"
	"github.com/eb-adutwum/interius/pkg/models"
	"github.com/eb-adutwum/interius/pkg/normalizer"
)

// containerPort is the fixed port the ASGI runner listens on inside every
// sandbox container; the harness publishes an allocated host port onto it.
const containerPort = 9000

const (
	entrypointFileName   = "container_entrypoint.sh"
	requirementsFileName = "requirements.txt"
	bootstrapLogFileName = "sandbox.log"
	sandboxMode          = "sandbox"

	// sandboxSecret is a fixed throwaway secret for generated apps that read
	// SECRET_KEY. Sandboxes are ephemeral and never exposed publicly.
	sandboxSecret = "interius-sandbox-secret"

	logTailLines = 200
	maxLogBytes  = 8192
)

// baseRequirements are always installed regardless of the plan's dependency
// list; the runner cannot start without them.
var baseRequirements = []string{"fastapi", "sqlmodel", "uvicorn[standard]"}

// Config holds the sandbox harness settings. Zero values fall back to
// defaults; only non-default deployments need to set anything.
type Config struct {
	HostRoot       string
	ContainerRoot  string
	Image          string
	Workdir        string
	PublicHost     string
	PortRangeStart int
	PortRangeEnd   int
	Binary         string
	ReadyDeadline  time.Duration
	// Raw skips the source normalizer when materializing the bundle.
	Raw bool
}

func (c *Config) applyDefaults() {
	if c.HostRoot == "" {
		c.HostRoot = ".sandbox_data"
	}
	if c.ContainerRoot == "" {
		c.ContainerRoot = "/sandbox"
	}
	if c.Image == "" {
		c.Image = "python:3.11-slim"
	}
	if c.Workdir == "" {
		c.Workdir = c.ContainerRoot
	}
	if c.PublicHost == "" {
		c.PublicHost = "127.0.0.1"
	}
	if c.PortRangeStart == 0 {
		c.PortRangeStart = 9100
	}
	if c.PortRangeEnd == 0 {
		c.PortRangeEnd = 9199
	}
	if c.ReadyDeadline == 0 {
		c.ReadyDeadline = 30 * time.Second
	}
}

// Harness launches, probes, and tears down per-project sandbox containers.
type Harness struct {
	cfg      Config
	registry *Registry
	ports    *PortAllocator
	runtime  containerRuntime
	masker   *masking.Masker
	logger   *slog.Logger
}

// NewHarness wires the registry, port allocator, and container CLI. A
// missing container CLI fails construction: the harness cannot degrade.
func NewHarness(cfg Config, logger *slog.Logger) (*Harness, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := NewRegistry(cfg.HostRoot, logger)
	if err != nil {
		return nil, err
	}
	ports, err := NewPortAllocator(registry, cfg.PortRangeStart, cfg.PortRangeEnd)
	if err != nil {
		return nil, err
	}
	runtime, err := newDockerCLI(cfg.Binary)
	if err != nil {
		return nil, err
	}
	return &Harness{
		cfg:      cfg,
		registry: registry,
		ports:    ports,
		runtime:  runtime,
		masker:   masking.NewMasker(),
		logger:   logger.With("component", "sandbox-harness"),
	}, nil
}

// Registry exposes the underlying registry for status queries.
func (h *Harness) Registry() *Registry { return h.registry }

// Metadata returns the recorded runtime metadata for a project, or nil when
// the project has never been sandboxed.
func (h *Harness) Metadata(projectID string) *RuntimeMetadata {
	return h.registry.Get(projectID)
}

// BaseURL returns the host-side URL of a running sandbox.
func (h *Harness) BaseURL(meta *RuntimeMetadata) string {
	return fmt.Sprintf("http://%s:%d", h.cfg.PublicHost, meta.HostPort)
}

// Launch materializes the bundle, starts the container, and waits for the
// HTTP surface to come up. Any prior container for the project is
// force-removed first — stale metadata must never block a restart. The
// returned metadata is valid even when the wait fails, so callers can still
// collect logs.
func (h *Harness) Launch(ctx context.Context, projectID string, code models.GeneratedCode) (*RuntimeMetadata, error) {
	lock := h.registry.Lock(projectID)
	lock.Lock()
	defer lock.Unlock()

	containerName := "interius-sandbox-" + projectID
	h.removeContainer(ctx, containerName)

	dir := h.registry.ProjectDir(projectID)
	prior := h.registry.Get(projectID)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to reset sandbox dir %s: %w", dir, err)
	}
	if err := h.materialize(ctx, dir, code); err != nil {
		return nil, err
	}
	if prior != nil {
		// The wipe removed the metadata file; restore it so port reuse and
		// a crash between here and Save keep working.
		if err := h.registry.Save(prior); err != nil {
			return nil, err
		}
	}

	hostPort, err := h.ports.Allocate(projectID)
	if err != nil {
		return nil, err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox dir %s: %w", dir, err)
	}

	containerID, err := h.runtime.run(ctx, commandTimeout,
		"run", "-d",
		"--name", containerName,
		"-v", absDir+":"+h.cfg.ContainerRoot,
		"-w", h.cfg.Workdir,
		"-p", fmt.Sprintf("%d:%d", hostPort, containerPort),
		h.cfg.Image,
		"sh", h.cfg.ContainerRoot+"/"+entrypointFileName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start sandbox container: %w", err)
	}

	meta := &RuntimeMetadata{
		ProjectID:     projectID,
		ContainerName: containerName,
		HostPort:      hostPort,
		Mode:          sandboxMode,
		HostDir:       absDir,
		StartedAt:     time.Now().UTC(),
		ContainerID:   containerID,
	}
	if err := h.registry.Save(meta); err != nil {
		return nil, err
	}
	h.logger.Info("sandbox container started",
		"project_id", projectID, "container", containerName, "host_port", hostPort)

	if err := h.WaitForSandbox(ctx, meta); err != nil {
		return meta, err
	}
	return meta, nil
}

// WaitForSandbox polls the container's /docs page until any 2xx/3xx
// response or the configured deadline.
func (h *Harness) WaitForSandbox(ctx context.Context, meta *RuntimeMetadata) error {
	deadline := time.Now().Add(h.cfg.ReadyDeadline)
	target := h.BaseURL(meta) + "/docs"
	client := &http.Client{Timeout: 2 * time.Second}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("failed to build readiness request: %w", err)
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 400 {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("sandbox for project %s did not become ready within %s", meta.ProjectID, h.cfg.ReadyDeadline)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Live reports whether the project's container is currently running.
func (h *Harness) Live(ctx context.Context, projectID string) bool {
	meta := h.registry.Get(projectID)
	if meta == nil {
		return false
	}
	out, err := h.runtime.run(ctx, inspectTimeout, "inspect", "-f", "{{.State.Running}}", meta.ContainerName)
	return err == nil && strings.TrimSpace(out) == "true"
}

// Logs returns the container log tail concatenated with the bootstrap log,
// truncated to a bounded size from the end. Credentials the generated app
// prints during startup are masked: log excerpts end up in failure reports
// and persisted artifacts.
func (h *Harness) Logs(ctx context.Context, projectID string) string {
	meta := h.registry.Get(projectID)
	if meta == nil {
		return ""
	}
	var parts []string
	if out, err := h.runtime.run(ctx, inspectTimeout,
		"logs", "--tail", fmt.Sprintf("%d", logTailLines), meta.ContainerName); err == nil && out != "" {
		parts = append(parts, out)
	}
	if raw, err := os.ReadFile(filepath.Join(meta.HostDir, bootstrapLogFileName)); err == nil && len(raw) > 0 {
		parts = append(parts, strings.TrimSpace(string(raw)))
	}
	combined := strings.Join(parts, "\n")
	if len(combined) > maxLogBytes {
		combined = combined[len(combined)-maxLogBytes:]
	}
	return h.masker.Mask(combined)
}

// Teardown force-removes the project's container. The host directory and
// metadata survive so the next launch can reuse the port and the operator
// can inspect the bundle.
func (h *Harness) Teardown(ctx context.Context, projectID string) {
	meta := h.registry.Get(projectID)
	if meta == nil {
		return
	}
	h.removeContainer(ctx, meta.ContainerName)
}

func (h *Harness) removeContainer(ctx context.Context, containerName string) {
	if _, err := h.runtime.run(ctx, commandTimeout, "rm", "-f", containerName); err != nil {
		h.logger.Debug("container removal skipped", "container", containerName, "error", err)
	}
}

// materialize writes the normalized bundle plus runtime support files into
// the project directory.
func (h *Harness) materialize(ctx context.Context, dir string, code models.GeneratedCode) error {
	if !h.cfg.Raw {
		code = normalizer.NormalizeBundle(ctx, code)
	}
	for _, file := range code.Files {
		rel := models.SanitizeRelativePath(file.Path)
		if rel == "" {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create sandbox path %s: %w", target, err)
		}
		if err := os.WriteFile(target, []byte(file.Content), 0o644); err != nil {
			return fmt.Errorf("failed to write sandbox file %s: %w", target, err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, requirementsFileName),
		[]byte(renderRequirements(code.Dependencies)), 0o644); err != nil {
		return fmt.Errorf("failed to write requirements: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(renderEnvFile()), 0o644); err != nil {
		return fmt.Errorf("failed to write env file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, entrypointFileName),
		[]byte(renderEntrypoint(h.cfg.ContainerRoot)), 0o755); err != nil {
		return fmt.Errorf("failed to write entrypoint: %w", err)
	}
	return nil
}

// renderRequirements merges the plan's dependencies with the base set and
// renders a sorted requirements.txt.
func renderRequirements(dependencies []string) string {
	seen := make(map[string]struct{})
	var deps []string
	for _, dep := range append(append([]string{}, baseRequirements...), dependencies...) {
		trimmed := strings.TrimSpace(dep)
		if trimmed == "" {
			continue
		}
		// The base set already covers the bare uvicorn spelling.
		if trimmed == "uvicorn" {
			trimmed = "uvicorn[standard]"
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		deps = append(deps, trimmed)
	}
	sort.Strings(deps)
	return strings.Join(deps, "\n") + "\n"
}

// renderEnvFile gives every launch fresh SQLite paths so stale data from a
// prior deployment never leaks into the new one.
func renderEnvFile() string {
	dbFile := fmt.Sprintf("data_%s.db", uuid.NewString()[:8])
	return strings.Join([]string{
		"DATABASE_URL=sqlite:///./" + dbFile,
		"SQLALCHEMY_DATABASE_URL=sqlite:///./" + dbFile,
		"SQLITE_PATH=./" + dbFile,
		"SECRET_KEY=" + sandboxSecret,
	}, "\n") + "\n"
}

// renderEntrypoint produces the POSIX bootstrap script: install
// dependencies, detect the application module, start the ASGI runner.
func renderEntrypoint(containerRoot string) string {
	return fmt.Sprintf(`#!/bin/sh
set -e
cd %[1]s
pip install -q -r %[2]s >> %[3]s 2>&1
if [ -f app/main.py ]; then
    MODULE="app.main:app"
elif [ -f main.py ]; then
    MODULE="main:app"
else
    CANDIDATE=$(grep -rl "FastAPI()" . --include="*.py" | head -n 1)
    MODULE="$(echo "$CANDIDATE" | sed 's|^\./||; s|/|.|g; s|\.py$||'):app"
fi
exec uvicorn "$MODULE" --host 0.0.0.0 --port %[4]d >> %[3]s 2>&1
`, containerRoot, requirementsFileName, bootstrapLogFileName, containerPort)
}
