package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eb-adutwum/interius/pkg/models"
)

// Evaluator runs the deterministic runtime checks over a bundle. The
// sandbox-backed implementation lives in pkg/testrunner.
type Evaluator interface {
	Evaluate(ctx context.Context, code models.GeneratedCode, projectID string) models.TestRunReport
	SandboxLive(ctx context.Context, projectID string) bool
}

// Patcher regenerates selected files from patch requests. ImplementerAgent
// is the production implementation.
type Patcher interface {
	PatchFiles(ctx context.Context, architecture *models.SystemArchitecture, currentCode models.GeneratedCode,
		patchRequests []models.FilePatchRequest, issuesByFile map[string][]string) (models.GeneratedCode, error)
}

const fallbackRepairReason = "Runtime repair loop found startup or endpoint smoke failures"
const escalationRepairReason = "Escalated runtime repair after sandbox-backed checks still failed"

// fallbackRepairTargets are tried in order when a failure names no file.
var fallbackRepairTargets = []string{
	"app/routes.py", "app/main.py", "app/schemas.py", "app/models.py", "app/service.py", "app/services.py",
}

// RepairAgent is the bounded runtime repair loop: targeted per-file patches
// until the deterministic checks pass, then broader escalation passes. The
// total number of patch passes never exceeds maxIterations plus
// escalationIterations.
type RepairAgent struct {
	patcher              Patcher
	evaluator            Evaluator
	maxIterations        int
	escalationIterations int
	logger               *slog.Logger
}

func NewRepairAgent(patcher Patcher, evaluator Evaluator, maxIterations, escalationIterations int, logger *slog.Logger) *RepairAgent {
	if maxIterations <= 0 {
		maxIterations = 3
	}
	if escalationIterations < 0 {
		escalationIterations = 2
	}
	return &RepairAgent{
		patcher:              patcher,
		evaluator:            evaluator,
		maxIterations:        maxIterations,
		escalationIterations: escalationIterations,
		logger:               componentLogger(logger, "repair-agent"),
	}
}

func (a *RepairAgent) Run(ctx context.Context, input models.RepairContext) (*models.RepairReport, error) {
	currentCode := input.Code
	attempts := 0
	repaired := false
	var affectedFiles []string

	latest := a.evaluateWithLiveness(ctx, currentCode, input.ProjectID)
	if latest.Passed {
		return passedReport(currentCode, latest, 0, false, nil,
			"Runtime repair checks passed without additional repairs."), nil
	}

	for attempts < a.maxIterations {
		patchRequests, issueMap := a.buildRepairRequests(input, currentCode, latest)
		if len(patchRequests) == 0 {
			break
		}
		attempts++
		repaired = true
		affectedFiles = appendPaths(affectedFiles, patchRequests)

		a.logger.Info("targeted repair pass", "attempt", attempts, "patches", len(patchRequests))
		patched, err := a.patcher.PatchFiles(ctx, input.Architecture, currentCode, patchRequests, issueMap)
		if err != nil {
			return nil, fmt.Errorf("repair pass %d: %w", attempts, err)
		}
		currentCode = patched

		latest = a.evaluateWithLiveness(ctx, currentCode, input.ProjectID)
		if latest.Passed {
			return passedReport(currentCode, latest, attempts, true, affectedFiles,
				fmt.Sprintf("Repair loop fixed runtime issues in %d pass(es).", attempts)), nil
		}
	}

	escalations := 0
	for escalations < a.escalationIterations {
		patchRequests := buildEscalationRequests(currentCode.Files, latest.Failures, affectedFiles)
		if len(patchRequests) == 0 {
			break
		}
		escalations++
		attempts++
		repaired = true
		affectedFiles = appendPaths(affectedFiles, patchRequests)

		a.logger.Info("escalated repair pass", "attempt", attempts)
		patched, err := a.patcher.PatchFiles(ctx, input.Architecture, currentCode, patchRequests, reviewIssueMap(input))
		if err != nil {
			return nil, fmt.Errorf("escalated repair pass %d: %w", attempts, err)
		}
		currentCode = patched

		latest = a.evaluateWithLiveness(ctx, currentCode, input.ProjectID)
		if latest.Passed {
			return passedReport(currentCode, latest, attempts, true, affectedFiles,
				fmt.Sprintf("Repair loop fixed runtime issues in %d pass(es), including escalated sandbox fixes.", attempts)), nil
		}
	}

	summary := "Runtime issues remain and no repairable files could be identified."
	if repaired {
		summary = fmt.Sprintf("Repair loop exhausted after %d pass(es) and runtime issues remain.", attempts)
	}
	return &models.RepairReport{
		Passed:        false,
		Repaired:      repaired,
		Attempts:      attempts,
		AffectedFiles: affectedFiles,
		Failures:      latest.Failures,
		Warnings:      latest.Warnings,
		PatchRequests: latest.PatchRequests,
		FinalCode:     currentCode.Files,
		Summary:       summary,
	}, nil
}

// evaluateWithLiveness runs the deterministic checks, then confirms the
// sandbox container is still running after a pass. A container that died
// after validation is a failure, not a success.
func (a *RepairAgent) evaluateWithLiveness(ctx context.Context, code models.GeneratedCode, projectID string) models.TestRunReport {
	report := a.evaluator.Evaluate(ctx, code, projectID)
	if !report.Passed || projectID == "" {
		return report
	}
	if a.evaluator.SandboxLive(ctx, projectID) {
		return report
	}
	report.Passed = false
	report.Failures = append(report.Failures, models.TestFailure{
		Check:      models.CheckImportSmoke,
		Message:    "Sandbox validation passed but the container was not still running afterward. Restart and fix the runtime lifecycle before release.",
		FilePath:   "app/main.py",
		LineNumber: models.IntPtr(1),
		Patchable:  true,
	})
	return report
}

func (a *RepairAgent) buildRepairRequests(input models.RepairContext, currentCode models.GeneratedCode, report models.TestRunReport) ([]models.FilePatchRequest, map[string][]string) {
	return mergePatchRequests(
		report.PatchRequests,
		fallbackPatchRequests(currentCode.Files, report.Failures),
	), reviewIssueMap(input)
}

// reviewIssueMap groups reviewer issue descriptions by file for patch
// prompts.
func reviewIssueMap(input models.RepairContext) map[string][]string {
	issueMap := make(map[string][]string)
	if input.ReviewReport == nil {
		return issueMap
	}
	for _, issue := range input.ReviewReport.Issues {
		path := strings.TrimSpace(issue.FilePath)
		if path == "" {
			continue
		}
		issueMap[path] = append(issueMap[path], fmt.Sprintf("[%s] %s", issue.Severity, issue.Description))
	}
	return issueMap
}

// selectFallbackPath picks the file to patch for a failure that names none.
func selectFallbackPath(files []models.CodeFile, failure models.TestFailure) string {
	if failure.FilePath != "" {
		return failure.FilePath
	}
	existing := make(map[string]struct{}, len(files))
	for _, file := range files {
		existing[file.Path] = struct{}{}
	}
	for _, candidate := range fallbackRepairTargets {
		if _, ok := existing[candidate]; ok {
			return candidate
		}
	}
	if len(files) > 0 {
		return files[0].Path
	}
	return ""
}

func fallbackPatchRequests(files []models.CodeFile, failures []models.TestFailure) []models.FilePatchRequest {
	byPath := make(map[string][]string)
	var order []string
	for _, failure := range failures {
		path := selectFallbackPath(files, failure)
		if path == "" {
			continue
		}
		loc := ""
		if failure.LineNumber != nil {
			loc = fmt.Sprintf(" (line %d)", *failure.LineNumber)
		}
		if _, ok := byPath[path]; !ok {
			order = append(order, path)
		}
		byPath[path] = append(byPath[path], fmt.Sprintf("Fix %s failure%s: %s", failure.Check, loc, failure.Message))
	}
	requests := make([]models.FilePatchRequest, 0, len(order))
	for _, path := range order {
		requests = append(requests, models.FilePatchRequest{
			Path:         path,
			Reason:       fallbackRepairReason,
			Instructions: byPath[path],
		})
	}
	return requests
}

// buildEscalationRequests widens the repair scope: every affected file is
// regenerated against the full remaining failure list.
func buildEscalationRequests(files []models.CodeFile, failures []models.TestFailure, affectedFiles []string) []models.FilePatchRequest {
	var targets []string
	for _, path := range affectedFiles {
		if trimmed := strings.TrimSpace(path); trimmed != "" {
			targets = append(targets, trimmed)
		}
	}
	if len(targets) == 0 {
		for _, failure := range failures {
			if selected := selectFallbackPath(files, failure); selected != "" && !containsString(targets, selected) {
				targets = append(targets, selected)
			}
		}
	}
	if len(targets) == 0 {
		for _, file := range files {
			if strings.TrimSpace(file.Path) != "" {
				targets = append(targets, file.Path)
			}
			if len(targets) == 3 {
				break
			}
		}
	}
	if len(targets) == 0 {
		return nil
	}

	instructions := []string{
		"Resolve the remaining sandbox startup, container-log, and endpoint smoke failures together. " +
			"Do not preserve the broken implementation if a more direct rewrite is needed.",
	}
	for _, failure := range failures {
		loc := ""
		if failure.LineNumber != nil {
			loc = fmt.Sprintf(" (line %d)", *failure.LineNumber)
		}
		instructions = append(instructions, fmt.Sprintf("Remaining %s failure%s: %s", failure.Check, loc, failure.Message))
	}

	requests := make([]models.FilePatchRequest, 0, len(targets))
	for _, path := range targets {
		requests = append(requests, models.FilePatchRequest{
			Path:         path,
			Reason:       escalationRepairReason,
			Instructions: instructions,
		})
	}
	return requests
}

func mergePatchRequests(collections ...[]models.FilePatchRequest) []models.FilePatchRequest {
	var merged []models.FilePatchRequest
	seen := make(map[string]struct{})
	for _, collection := range collections {
		for _, request := range collection {
			key := patchKey(request)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, request)
		}
	}
	return merged
}

func appendPaths(paths []string, requests []models.FilePatchRequest) []string {
	for _, request := range requests {
		if request.Path != "" && !containsString(paths, request.Path) {
			paths = append(paths, request.Path)
		}
	}
	return paths
}

func passedReport(code models.GeneratedCode, report models.TestRunReport, attempts int, repaired bool, affectedFiles []string, summary string) *models.RepairReport {
	return &models.RepairReport{
		Passed:         true,
		FullyValidated: len(report.Warnings) == 0,
		Repaired:       repaired,
		Attempts:       attempts,
		AffectedFiles:  affectedFiles,
		Failures:       []models.TestFailure{},
		Warnings:       report.Warnings,
		PatchRequests:  []models.FilePatchRequest{},
		FinalCode:      code.Files,
		Summary:        summary,
	}
}
