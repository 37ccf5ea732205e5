// Package testrunner implements the deterministic evaluation step of the
// repair loop: a syntax check over every generated Python file, then — when
// a sandbox is available — a live startup and endpoint smoke check against
// the real container.
package testrunner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eb-adutwum/interius/pkg/models"
	"github.com/eb-adutwum/interius/pkg/pysrc"
	"github.com/eb-adutwum/interius/pkg/sandbox"
)

const patchReason = "Deterministic tests failed for this file"

// Harness is the sandbox surface the runner needs. *sandbox.Harness is the
// production implementation.
type Harness interface {
	Launch(ctx context.Context, projectID string, code models.GeneratedCode) (*sandbox.RuntimeMetadata, error)
	BaseURL(meta *sandbox.RuntimeMetadata) string
	Logs(ctx context.Context, projectID string) string
	Live(ctx context.Context, projectID string) bool
}

// Runner evaluates a generated bundle. With a nil harness only the syntax
// check runs.
type Runner struct {
	harness Harness
	logger  *slog.Logger
}

func New(harness Harness, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{harness: harness, logger: logger.With("component", "test-runner")}
}

// Evaluate runs the deterministic checks over the bundle and reports every
// failure with synthesized patch requests. It never returns an error: an
// unrunnable check is itself a failure.
func (r *Runner) Evaluate(ctx context.Context, code models.GeneratedCode, projectID string) models.TestRunReport {
	checksRun := []string{models.CheckSyntax}
	failures := syntaxCheck(ctx, code.Files)

	if r.harness != nil && projectID != "" && hasMainModule(code.Files) {
		checksRun = append(checksRun, models.CheckImportSmoke, models.CheckEndpointSmoke)
		failures = append(failures, r.liveSandboxCheck(ctx, code, projectID)...)
	}

	report := models.TestRunReport{
		ChecksRun:     checksRun,
		Failures:      failures,
		Warnings:      []string{},
		PatchRequests: buildPatchRequests(failures),
	}
	report.Passed = !hasBlockingFailure(failures)
	r.logger.Info("evaluation complete",
		"project_id", projectID, "passed", report.Passed, "failures", len(failures))
	return report
}

// SandboxLive reports container liveness for the repair loop's post-pass
// recheck.
func (r *Runner) SandboxLive(ctx context.Context, projectID string) bool {
	if r.harness == nil || projectID == "" {
		return false
	}
	return r.harness.Live(ctx, projectID)
}

// syntaxCheck parses every .py file and reports parse errors with file and
// line.
func syntaxCheck(ctx context.Context, files []models.CodeFile) []models.TestFailure {
	var failures []models.TestFailure
	for _, file := range files {
		if !strings.HasSuffix(file.Path, ".py") {
			continue
		}
		src, err := pysrc.Parse(ctx, file.Path, file.Content)
		if err != nil {
			failures = append(failures, models.TestFailure{
				Check:     models.CheckSyntax,
				Message:   fmt.Sprintf("Failed to parse file: %v", err),
				FilePath:  file.Path,
				Patchable: true,
			})
			continue
		}
		if synErr := src.SyntaxError(); synErr != nil {
			failures = append(failures, models.TestFailure{
				Check:      models.CheckSyntax,
				Message:    "invalid syntax",
				FilePath:   file.Path,
				LineNumber: models.IntPtr(synErr.Line),
				Patchable:  true,
			})
		}
		src.Close()
	}
	return failures
}

// liveSandboxCheck materializes the bundle into the project's container,
// waits for readiness, and smoke-probes the served routes. Container logs
// are appended to the first failure message so the implementer sees the
// actual traceback.
func (r *Runner) liveSandboxCheck(ctx context.Context, code models.GeneratedCode, projectID string) []models.TestFailure {
	meta, err := r.harness.Launch(ctx, projectID, code)
	if err != nil {
		return []models.TestFailure{r.withLogs(ctx, projectID, models.TestFailure{
			Check:      models.CheckImportSmoke,
			Message:    fmt.Sprintf("Sandbox startup failed: %v", err),
			FilePath:   "app/main.py",
			LineNumber: models.IntPtr(1),
			Patchable:  true,
		})}
	}

	baseURL := r.harness.BaseURL(meta)
	paths, err := sandbox.FetchOpenAPI(ctx, baseURL)
	if err != nil {
		return []models.TestFailure{r.withLogs(ctx, projectID, models.TestFailure{
			Check:     models.CheckEndpointSmoke,
			Message:   fmt.Sprintf("Failed to fetch the served OpenAPI spec: %v", err),
			FilePath:  "app/main.py",
			Patchable: true,
		})}
	}
	if sandbox.IsFallbackSpec(paths) {
		return []models.TestFailure{r.withLogs(ctx, projectID, models.TestFailure{
			Check: models.CheckEndpointSmoke,
			Message: "The sandbox served a fallback application without the generated routes. " +
				"The app package most likely failed to import.",
			FilePath:  "app/main.py",
			Patchable: true,
		})}
	}

	var failures []models.TestFailure
	for i, probe := range sandbox.ProbeEndpoints(ctx, baseURL, paths) {
		failure := models.TestFailure{
			Check:     models.CheckEndpointSmoke,
			Message:   fmt.Sprintf("GET %s failed: %s", probe.Path, probe.Message),
			Patchable: true,
		}
		if i == 0 {
			failure = r.withLogs(ctx, projectID, failure)
		}
		failures = append(failures, failure)
	}
	return failures
}

func (r *Runner) withLogs(ctx context.Context, projectID string, failure models.TestFailure) models.TestFailure {
	logs := strings.TrimSpace(r.harness.Logs(ctx, projectID))
	if logs != "" {
		failure.Message = failure.Message + "\n\nContainer logs:\n" + logs
	}
	return failure
}

func hasMainModule(files []models.CodeFile) bool {
	for _, file := range files {
		if file.Path == "app/main.py" {
			return true
		}
	}
	return false
}

// buildPatchRequests groups patchable failures by file into one request per
// file.
func buildPatchRequests(failures []models.TestFailure) []models.FilePatchRequest {
	byPath := make(map[string][]string)
	var order []string
	for _, failure := range failures {
		if !failure.Patchable || failure.FilePath == "" {
			continue
		}
		loc := ""
		if failure.LineNumber != nil {
			loc = fmt.Sprintf(" (line %d)", *failure.LineNumber)
		}
		if _, seen := byPath[failure.FilePath]; !seen {
			order = append(order, failure.FilePath)
		}
		byPath[failure.FilePath] = append(byPath[failure.FilePath],
			fmt.Sprintf("Fix %s failure%s: %s", failure.Check, loc, failure.Message))
	}

	requests := make([]models.FilePatchRequest, 0, len(order))
	for _, path := range order {
		requests = append(requests, models.FilePatchRequest{
			Path:         path,
			Reason:       patchReason,
			Instructions: byPath[path],
		})
	}
	return requests
}

func hasBlockingFailure(failures []models.TestFailure) bool {
	for _, failure := range failures {
		if failure.Patchable || failure.Check == models.CheckSyntax {
			return true
		}
	}
	return false
}
