package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Per-command timeouts. Every container command must finish or be killed;
// a wedged Docker daemon must not wedge the pipeline.
const (
	inspectTimeout = 10 * time.Second
	commandTimeout = 30 * time.Second
)

// containerRuntime abstracts the Docker-compatible CLI so harness tests can
// substitute a recorder.
type containerRuntime interface {
	run(ctx context.Context, timeout time.Duration, args ...string) (string, error)
}

// dockerCLI shells out to a Docker-compatible binary.
type dockerCLI struct {
	binary string
}

// newDockerCLI resolves the container CLI binary. Its absence is a
// non-recoverable configuration error, not a per-run failure.
func newDockerCLI(binary string) (*dockerCLI, error) {
	if binary == "" {
		binary = "docker"
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("container CLI %q not found: %w", binary, err)
	}
	return &dockerCLI{binary: resolved}, nil
}

func (d *dockerCLI) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.binary, args...)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		if ctx.Err() != nil {
			return text, fmt.Errorf("container command %q timed out: %w", args[0], ctx.Err())
		}
		return text, fmt.Errorf("container command %q failed: %s: %w", args[0], text, err)
	}
	return text, nil
}
