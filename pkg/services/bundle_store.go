package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eb-adutwum/interius/pkg/models"
)

// bundleRefPrefix namespaces bundle handles so artifact readers can tell a
// handle apart from other string content.
const bundleRefPrefix = "sha256:"

// storedBundle is the canonical on-disk form of a code bundle. The handle is
// the sha-256 of this JSON encoding, so identical bundles share storage.
type storedBundle struct {
	Files        []models.CodeFile `json:"files"`
	Dependencies []string          `json:"dependencies"`
}

// BundleStore is a content-addressed filesystem store for generated code
// bundles. Artifacts persist a bundle handle instead of inlining file
// contents; the handle loads the exact files and dependencies back.
type BundleStore struct {
	root string
}

// NewBundleStore creates the store root if needed.
func NewBundleStore(root string) (*BundleStore, error) {
	if root == "" {
		return nil, fmt.Errorf("bundle store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bundle store root: %w", err)
	}
	return &BundleStore{root: root}, nil
}

// Store writes the bundle and returns its content-addressed handle. Storing
// the same files and dependencies twice returns the same handle without
// rewriting.
func (s *BundleStore) Store(files []models.CodeFile, dependencies []string) (string, error) {
	bundle := storedBundle{Files: files, Dependencies: dependencies}
	if bundle.Files == nil {
		bundle.Files = []models.CodeFile{}
	}
	if bundle.Dependencies == nil {
		bundle.Dependencies = []string{}
	}

	encoded, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("failed to encode bundle: %w", err)
	}

	sum := sha256.Sum256(encoded)
	digest := hex.EncodeToString(sum[:])
	path := s.bundlePath(digest)

	if _, err := os.Stat(path); err == nil {
		return bundleRefPrefix + digest, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create bundle directory: %w", err)
	}

	// Write-then-rename so a concurrent reader never sees a partial bundle.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".bundle-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp bundle file: %w", err)
	}
	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close bundle file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to finalize bundle: %w", err)
	}

	return bundleRefPrefix + digest, nil
}

// Load resolves a handle back to its files and dependencies.
func (s *BundleStore) Load(ref string) (models.GeneratedCode, error) {
	digest, ok := strings.CutPrefix(ref, bundleRefPrefix)
	if !ok || digest == "" {
		return models.GeneratedCode{}, fmt.Errorf("%w: malformed bundle ref %q", ErrInvalidInput, ref)
	}
	for _, r := range digest {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return models.GeneratedCode{}, fmt.Errorf("%w: malformed bundle ref %q", ErrInvalidInput, ref)
		}
	}

	data, err := os.ReadFile(s.bundlePath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return models.GeneratedCode{}, fmt.Errorf("%w: bundle %s", ErrNotFound, ref)
		}
		return models.GeneratedCode{}, fmt.Errorf("failed to read bundle %s: %w", ref, err)
	}

	var bundle storedBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return models.GeneratedCode{}, fmt.Errorf("failed to decode bundle %s: %w", ref, err)
	}

	return models.GeneratedCode{Files: bundle.Files, Dependencies: bundle.Dependencies}, nil
}

// bundlePath shards bundles into two-character prefix directories.
func (s *BundleStore) bundlePath(digest string) string {
	prefix := digest
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(s.root, prefix, digest+".json")
}
