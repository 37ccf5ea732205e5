package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"time"
)

const (
	openAPITimeout  = 10 * time.Second
	endpointTimeout = 5 * time.Second

	// maxProbedEndpoints bounds the per-evaluation smoke sweep.
	maxProbedEndpoints = 12
)

var pathParam = regexp.MustCompile(`\{[^}]*\}`)

// fallbackOnlyPaths are the routes a shell application serves when the
// generated routes failed to import.
var fallbackOnlyPaths = map[string]struct{}{
	"/": {}, "/health": {}, "/ready": {},
}

// EndpointFailure is one failed smoke probe.
type EndpointFailure struct {
	Path    string
	Message string
}

// FetchOpenAPI retrieves and decodes the served /openapi.json, returning the
// declared paths.
func FetchOpenAPI(ctx context.Context, baseURL string) (map[string]json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, openAPITimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/openapi.json", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build openapi request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch openapi spec: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openapi endpoint returned status %d", resp.StatusCode)
	}

	var spec struct {
		Paths map[string]json.RawMessage `json:"paths"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to decode openapi spec: %w", err)
	}
	return spec.Paths, nil
}

// IsFallbackSpec reports whether the served spec looks like a shell app:
// paths missing, empty, or limited to health/ready endpoints. A fallback
// spec means the generated routes failed to import, which blocks release.
func IsFallbackSpec(paths map[string]json.RawMessage) bool {
	if len(paths) == 0 {
		return true
	}
	for path := range paths {
		if _, ok := fallbackOnlyPaths[path]; !ok {
			return false
		}
	}
	return true
}

// ProbeEndpoints issues best-effort GET probes against up to
// maxProbedEndpoints declared routes, substituting blank values for path
// parameters. HTTP 5xx and connection-level failures are reported; 4xx is
// acceptable (auth and validation rejections are healthy behavior).
func ProbeEndpoints(ctx context.Context, baseURL string, paths map[string]json.RawMessage) []EndpointFailure {
	ordered := make([]string, 0, len(paths))
	for path := range paths {
		ordered = append(ordered, path)
	}
	sort.Strings(ordered)
	if len(ordered) > maxProbedEndpoints {
		ordered = ordered[:maxProbedEndpoints]
	}

	var failures []EndpointFailure
	for _, path := range ordered {
		if err := probeEndpoint(ctx, baseURL, path); err != nil {
			failures = append(failures, EndpointFailure{Path: path, Message: err.Error()})
		}
	}
	return failures
}

func probeEndpoint(ctx context.Context, baseURL, path string) error {
	ctx, cancel := context.WithTimeout(ctx, endpointTimeout)
	defer cancel()

	target := baseURL + pathParam.ReplaceAllString(path, "")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
