package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eb-adutwum/interius/pkg/agent/prompt"
	"github.com/eb-adutwum/interius/pkg/llm"
	"github.com/eb-adutwum/interius/pkg/models"
	"github.com/eb-adutwum/interius/pkg/validator"
)

// validatorSuggestion is appended to the review whenever deterministic
// failures are merged in.
const validatorSuggestion = "Deterministic validator found unresolved cross-file import or function-contract issues. Fix those before approval."

// ReviewerAgent reviews the generated bundle for security and correctness.
// The deterministic validator's findings are merged into the LLM's report;
// any validator failure forces rejection regardless of the LLM's opinion.
type ReviewerAgent struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewReviewerAgent(client llm.Client, logger *slog.Logger) *ReviewerAgent {
	return &ReviewerAgent{llm: client, logger: componentLogger(logger, "reviewer-agent")}
}

func (a *ReviewerAgent) Run(ctx context.Context, code models.GeneratedCode) (*models.ReviewReport, error) {
	var builder strings.Builder
	builder.WriteString("Files to Review:\n")
	for _, file := range code.Files {
		fmt.Fprintf(&builder, "\n--- %s ---\n%s\n", file.Path, file.Content)
	}

	var report models.ReviewReport
	if err := a.llm.GenerateStructured(ctx, prompt.Reviewer, builder.String(), reviewSchema, &report); err != nil {
		return nil, fmt.Errorf("reviewer agent: %w", err)
	}

	validatorReport := validator.Validate(ctx, code)
	merged := MergeDeterministicReport(&report, validatorReport)
	a.logger.Info("review complete",
		"approved", merged.Approved,
		"security_score", merged.SecurityScore,
		"issues", len(merged.Issues))
	return merged, nil
}

// MergeDeterministicReport folds a deterministic test report into a review.
// With no failures only warnings carry over; with failures every failure
// becomes a high-severity issue, patch requests are adopted, and the review
// is forced to approved=false with security_score capped at 6.
func MergeDeterministicReport(review *models.ReviewReport, deterministic models.TestRunReport) *models.ReviewReport {
	if len(deterministic.Failures) == 0 {
		for _, warning := range deterministic.Warnings {
			if !containsString(review.Suggestions, warning) {
				review.Suggestions = append(review.Suggestions, warning)
			}
		}
		return review
	}

	type issueKey struct {
		path        string
		description string
		line        int
	}
	existingIssues := make(map[issueKey]struct{})
	for _, issue := range review.Issues {
		key := issueKey{path: issue.FilePath, description: issue.Description}
		if issue.LineNumber != nil {
			key.line = *issue.LineNumber
		}
		existingIssues[key] = struct{}{}
	}
	existingPatches := make(map[string]struct{})
	for _, request := range review.PatchRequests {
		existingPatches[patchKey(request)] = struct{}{}
	}

	for _, failure := range deterministic.Failures {
		key := issueKey{path: failure.FilePath, description: failure.Message}
		if failure.LineNumber != nil {
			key.line = *failure.LineNumber
		}
		if _, dup := existingIssues[key]; !dup {
			review.Issues = append(review.Issues, models.Issue{
				Severity:    models.SeverityHigh,
				Description: failure.Message,
				FilePath:    failure.FilePath,
				LineNumber:  failure.LineNumber,
			})
			existingIssues[key] = struct{}{}
		}
		if failure.FilePath != "" && !containsString(review.AffectedFiles, failure.FilePath) {
			review.AffectedFiles = append(review.AffectedFiles, failure.FilePath)
		}
	}

	for _, request := range deterministic.PatchRequests {
		if _, dup := existingPatches[patchKey(request)]; dup {
			continue
		}
		review.PatchRequests = append(review.PatchRequests, request)
		existingPatches[patchKey(request)] = struct{}{}
	}

	for _, warning := range deterministic.Warnings {
		if !containsString(review.Suggestions, warning) {
			review.Suggestions = append(review.Suggestions, warning)
		}
	}
	if !containsString(review.Suggestions, validatorSuggestion) {
		review.Suggestions = append(review.Suggestions, validatorSuggestion)
	}

	review.Approved = false
	if review.SecurityScore > 6 {
		review.SecurityScore = 6
	}
	return review
}

func patchKey(request models.FilePatchRequest) string {
	return request.Path + "\x00" + request.Reason + "\x00" + strings.Join(request.Instructions, "\x00")
}
