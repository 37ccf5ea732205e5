// Package sandbox manages per-project ephemeral containers that serve a
// generated backend on an allocated host port. The filesystem is the source
// of truth: every project directory under the sandbox root carries a
// .sandbox-runtime.json metadata file, and the in-memory registry is rebuilt
// by scanning on startup.
package sandbox

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MetadataFileName is the per-project runtime metadata file.
const MetadataFileName = ".sandbox-runtime.json"

// RuntimeMetadata records one project's sandbox runtime state.
type RuntimeMetadata struct {
	ProjectID     string    `json:"project_id"`
	ContainerName string    `json:"container_name"`
	HostPort      int       `json:"host_port"`
	Mode          string    `json:"mode"`
	HostDir       string    `json:"host_dir"`
	StartedAt     time.Time `json:"started_at"`
	ContainerID   string    `json:"container_id,omitempty"`
}

// Registry tracks sandbox runtime metadata for every project under one host
// root. All mutations go through the filesystem first; the in-memory map is
// a cache. A per-project mutex serializes harness operations so concurrent
// runs for the same project cannot race on the container or host directory.
type Registry struct {
	root   string
	logger *slog.Logger

	mu       sync.Mutex
	projects map[string]*RuntimeMetadata
	locks    map[string]*sync.Mutex
}

// NewRegistry creates the host root if needed and rebuilds state from the
// metadata files already on disk.
func NewRegistry(root string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root %s: %w", root, err)
	}
	r := &Registry{
		root:     root,
		logger:   logger.With("component", "sandbox-registry"),
		projects: make(map[string]*RuntimeMetadata),
		locks:    make(map[string]*sync.Mutex),
	}
	if err := r.scan(); err != nil {
		return nil, err
	}
	return r, nil
}

// Root returns the host root directory the registry manages.
func (r *Registry) Root() string { return r.root }

// ProjectDir returns the host directory for one project's bundle.
func (r *Registry) ProjectDir(projectID string) string {
	return filepath.Join(r.root, projectID)
}

func (r *Registry) scan() error {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return fmt.Errorf("failed to scan sandbox root %s: %w", r.root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		metaPath := filepath.Join(r.root, entry.Name(), MetadataFileName)
		raw, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}
		var meta RuntimeMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			r.logger.Warn("ignoring unreadable sandbox metadata", "path", metaPath, "error", err)
			continue
		}
		if meta.ProjectID == "" {
			meta.ProjectID = entry.Name()
		}
		r.projects[meta.ProjectID] = &meta
	}
	r.logger.Info("sandbox registry initialized", "root", r.root, "projects", len(r.projects))
	return nil
}

// Lock returns the mutex serializing sandbox operations for one project.
func (r *Registry) Lock(projectID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[projectID] = lock
	}
	return lock
}

// Get returns the project's runtime metadata, or nil when none is recorded.
func (r *Registry) Get(projectID string) *RuntimeMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.projects[projectID]
	if !ok {
		return nil
	}
	copied := *meta
	return &copied
}

// List returns a snapshot of every project's runtime metadata.
func (r *Registry) List() []*RuntimeMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*RuntimeMetadata, 0, len(r.projects))
	for _, meta := range r.projects {
		copied := *meta
		all = append(all, &copied)
	}
	return all
}

// Remove deletes the project's host directory and drops it from the cache,
// freeing its port for reallocation.
func (r *Registry) Remove(projectID string) error {
	if err := os.RemoveAll(r.ProjectDir(projectID)); err != nil {
		return fmt.Errorf("failed to remove sandbox dir for %s: %w", projectID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.projects, projectID)
	return nil
}

// Save persists the metadata to the project directory and updates the cache.
func (r *Registry) Save(meta *RuntimeMetadata) error {
	if meta == nil || meta.ProjectID == "" {
		return fmt.Errorf("sandbox metadata requires a project ID")
	}
	dir := r.ProjectDir(meta.ProjectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create sandbox dir %s: %w", dir, err)
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sandbox metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFileName), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write sandbox metadata: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *meta
	r.projects[meta.ProjectID] = &copied
	return nil
}

// AllocatedPorts returns host ports recorded for every project except the
// given one. Port allocation uses this to avoid colliding with neighbors
// while still allowing a project to reuse its own port.
func (r *Registry) AllocatedPorts(excludeProjectID string) map[int]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ports := make(map[int]string)
	for id, meta := range r.projects {
		if id == excludeProjectID || meta.HostPort == 0 {
			continue
		}
		ports[meta.HostPort] = id
	}
	return ports
}
