// Package orchestrator drives one generation run through its stages:
// requirements, architecture, implementation, the review loop, and the
// runtime repair loop. Each run is a lazy event producer — the caller
// consumes events one at a time and cancellation aborts the run at the next
// emission point.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eb-adutwum/interius/pkg/models"
)

// Runtime modes.
const (
	RuntimeModeSandbox  = "sandbox"
	RuntimeModeLocalCLI = "local_cli"
)

// Start stages.
const (
	StartStageRequirements = "requirements"
	StartStageImplementer  = "implementer"
)

// Stage agent interfaces; pkg/agent provides the production implementations.
type (
	RequirementsRunner interface {
		Run(ctx context.Context, prompt string) (*models.ProjectCharter, error)
	}
	ArchitectureRunner interface {
		Run(ctx context.Context, charter *models.ProjectCharter) (*models.SystemArchitecture, error)
	}
	Implementer interface {
		Run(ctx context.Context, architecture *models.SystemArchitecture) (models.GeneratedCode, error)
		PatchFiles(ctx context.Context, architecture *models.SystemArchitecture, currentCode models.GeneratedCode,
			patchRequests []models.FilePatchRequest, issuesByFile map[string][]string) (models.GeneratedCode, error)
	}
	Reviewer interface {
		Run(ctx context.Context, code models.GeneratedCode) (*models.ReviewReport, error)
	}
	Repairer interface {
		Run(ctx context.Context, input models.RepairContext) (*models.RepairReport, error)
	}
)

// SandboxCleaner tears down a project's container. Cancellation must leave
// no running container behind.
type SandboxCleaner interface {
	Teardown(ctx context.Context, projectID string)
}

// Config bounds the review loop. Zero values take the defaults.
type Config struct {
	MaxReviewIterations int
	// TrustScoreThreshold is the minimum security score an approved review
	// needs before the pipeline accepts it.
	TrustScoreThreshold int
}

func (c *Config) applyDefaults() {
	if c.MaxReviewIterations <= 0 {
		c.MaxReviewIterations = 3
	}
	if c.TrustScoreThreshold <= 0 {
		c.TrustScoreThreshold = 7
	}
}

// Options selects the runtime mode and optional resume point of one run.
type Options struct {
	RuntimeMode          string
	StartStage           string
	CharterOverride      *models.ProjectCharter
	ArchitectureOverride *models.SystemArchitecture
}

// Pipeline wires the stage agents, persistence, and the sandbox cleaner.
type Pipeline struct {
	requirements RequirementsRunner
	architecture ArchitectureRunner
	implementer  Implementer
	reviewer     Reviewer
	repairer     Repairer
	store        RunStore
	sandboxes    SandboxCleaner
	cfg          Config
	logger       *slog.Logger
}

func New(
	requirements RequirementsRunner,
	architecture ArchitectureRunner,
	implementer Implementer,
	reviewer Reviewer,
	repairer Repairer,
	store RunStore,
	sandboxes SandboxCleaner,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		requirements: requirements,
		architecture: architecture,
		implementer:  implementer,
		reviewer:     reviewer,
		repairer:     repairer,
		store:        store,
		sandboxes:    sandboxes,
		cfg:          cfg,
		logger:       logger.With("component", "orchestrator"),
	}
}

// Run starts one pipeline run and returns its event stream. The channel is
// unbuffered: the run only advances while the caller keeps receiving, and it
// closes after the terminal event. Cancelling the context aborts the run at
// the next emission point and tears down the project's sandbox container.
func (p *Pipeline) Run(ctx context.Context, projectID, runID uuid.UUID, prompt string, opts Options) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		em := &emitter{ctx: ctx, events: events}
		if !p.run(ctx, em, projectID, runID, prompt, opts) {
			p.logger.Info("pipeline run aborted", "run_id", runID)
			p.teardownSandbox(projectID)
		}
	}()
	return events
}

// run returns false only when the caller cancelled; every other outcome
// terminates the stream with a completed or error event.
func (p *Pipeline) run(ctx context.Context, em *emitter, projectID, runID uuid.UUID, prompt string, opts Options) bool {
	if !em.send(Event{Status: StatusStarting, Message: "Initializing pipeline..."}) {
		return false
	}
	p.updateStatusSafely(ctx, runID, models.RunStatusRunning)

	architecture, ok, aborted := p.initialStages(ctx, em, runID, prompt, opts)
	if aborted {
		return false
	}
	if !ok {
		return true
	}

	if !em.send(Event{Status: StatusImplementer, Message: "Generating source code..."}) {
		return false
	}
	code, err := p.implementer.Run(ctx, architecture)
	if err != nil {
		return p.fail(ctx, em, runID, fmt.Errorf("implementer stage: %w", err))
	}
	if err := p.saveCodeArtifact(ctx, runID, "implementer", code); err != nil {
		return p.fail(ctx, em, runID, err)
	}
	if !em.send(Event{Status: StatusImplementerDone, FilesCount: len(code.Files), Artifact: code}) {
		return false
	}

	completion, aborted := p.reviewLoop(ctx, em, runID, architecture, &code)
	if aborted {
		return false
	}

	if normalizeRuntimeMode(opts.RuntimeMode) == RuntimeModeLocalCLI {
		completion.RuntimeMode = RuntimeModeLocalCLI
		completion.Approved = true
		completion.addSuggestion("Skipped backend Docker sandbox repair for CLI local runtime mode. The CLI will validate startup locally.")
		if !em.send(Event{
			Status:   StatusCompleted,
			Message:  "Review completed. Skipping backend sandbox repair for CLI local runtime mode.",
			Artifact: completion,
		}) {
			return false
		}
		p.updateStatusSafely(ctx, runID, models.RunStatusCompleted)
		return true
	}

	return p.repairPhase(ctx, em, projectID, runID, architecture, &code, completion)
}

// initialStages runs requirements + architecture, or validates and applies
// the resume overrides. ok=false means a terminal error event was emitted.
func (p *Pipeline) initialStages(ctx context.Context, em *emitter, runID uuid.UUID, prompt string, opts Options) (architecture *models.SystemArchitecture, ok, aborted bool) {
	switch normalizeStartStage(opts.StartStage) {
	case StartStageRequirements:
		if !em.send(Event{Status: StatusRequirements, Message: "Analyzing requirements..."}) {
			return nil, false, true
		}
		charter, err := p.requirements.Run(ctx, prompt)
		if err != nil {
			return nil, false, !p.fail(ctx, em, runID, fmt.Errorf("requirements stage: %w", err))
		}
		if err := p.saveArtifact(ctx, runID, "requirements", charter); err != nil {
			return nil, false, !p.fail(ctx, em, runID, err)
		}
		if !em.send(Event{Status: StatusRequirementsDone, Artifact: charter}) {
			return nil, false, true
		}

		if !em.send(Event{Status: StatusArchitecture, Message: "Designing system architecture..."}) {
			return nil, false, true
		}
		architecture, err = p.architecture.Run(ctx, charter)
		if err != nil {
			return nil, false, !p.fail(ctx, em, runID, fmt.Errorf("architecture stage: %w", err))
		}
		if err := p.saveArtifact(ctx, runID, "architecture", architecture); err != nil {
			return nil, false, !p.fail(ctx, em, runID, err)
		}
		if !em.send(Event{Status: StatusArchitectureDone, Artifact: architecture}) {
			return nil, false, true
		}
		return architecture, true, false

	case StartStageImplementer:
		if opts.ArchitectureOverride == nil {
			return nil, false, !p.fail(ctx, em, runID,
				fmt.Errorf("architecture_override is required when starting from implementer"))
		}
		// Checkpoint events keep resumed streams shaped like full runs.
		if opts.CharterOverride != nil {
			if !em.send(Event{Status: StatusRequirementsDone, Artifact: opts.CharterOverride}) {
				return nil, false, true
			}
		}
		if !em.send(Event{Status: StatusArchitectureDone, Artifact: opts.ArchitectureOverride}) {
			return nil, false, true
		}
		return opts.ArchitectureOverride, true, false

	default:
		return nil, false, !p.fail(ctx, em, runID,
			fmt.Errorf("unsupported start_stage: %s", opts.StartStage))
	}
}

// reviewLoop runs bounded review passes with targeted regeneration. A
// reviewer exception degrades the run instead of failing it: the implementer
// output is still released.
func (p *Pipeline) reviewLoop(ctx context.Context, em *emitter, runID uuid.UUID, architecture *models.SystemArchitecture, code *models.GeneratedCode) (Completion, bool) {
	completion := defaultCompletion(*code)

	for attempt := 1; attempt <= p.cfg.MaxReviewIterations; attempt++ {
		if !em.send(Event{Status: StatusReviewer, Message: "Reviewing generated code..."}) {
			return completion, true
		}

		review, err := p.reviewer.Run(ctx, *code)
		if err != nil {
			return p.degradedReview(em, *code, attempt, err)
		}
		completion = completionFromReview(review, *code)
		stage := fmt.Sprintf("reviewer_pass_%d", attempt)
		if err := p.saveReviewArtifact(ctx, runID, stage, completion); err != nil {
			return p.degradedReview(em, *code, attempt, err)
		}

		meetsTrust := review.SecurityScore >= p.cfg.TrustScoreThreshold
		accepted := review.Approved && meetsTrust
		message := "Review pass found blocking issues."
		if review.Approved {
			message = "Review pass accepted."
		}
		if !em.send(Event{
			Status:              StatusReviewPass,
			Message:             message,
			Attempt:             attempt,
			IssuesCount:         len(review.Issues),
			AffectedFiles:       review.AffectedFiles,
			SecurityScore:       review.SecurityScore,
			Approved:            boolPtr(review.Approved),
			MeetsTrustThreshold: boolPtr(meetsTrust),
		}) {
			return completion, true
		}

		if accepted {
			return completion, !p.emitReviewerDone(em, completion, attempt)
		}
		if review.Approved && !meetsTrust {
			p.logger.Info("review approved below trust threshold, requesting targeted fixes",
				"attempt", attempt, "security_score", review.SecurityScore, "threshold", p.cfg.TrustScoreThreshold)
		}

		if len(review.FinalCode) > 0 {
			*code = models.GeneratedCode{Files: review.FinalCode, Dependencies: code.Dependencies}
			completion.FinalCode = code.Files
			if !em.send(Event{
				Status:        StatusRevision,
				Message:       "Reviewer applied fixes and is re-checking the updated code.",
				Attempt:       attempt,
				IssuesCount:   len(review.Issues),
				AffectedFiles: review.AffectedFiles,
				SecurityScore: review.SecurityScore,
			}) {
				return completion, true
			}
			continue
		}

		issueMap := issueDescriptionsByFile(review)
		patchRequests := review.PatchRequests
		if len(patchRequests) == 0 {
			patchRequests = synthesizeReviewPatches(review, issueMap)
		}
		if len(patchRequests) == 0 {
			p.logger.Info("review found issues but nothing to patch, ending review loop", "attempt", attempt)
			return completion, !p.emitReviewerDone(em, completion, attempt)
		}

		patched, err := p.implementer.PatchFiles(ctx, architecture, *code, patchRequests, issueMap)
		if err != nil {
			return p.degradedReview(em, *code, attempt, err)
		}
		*code = patched
		completion.FinalCode = code.Files
		if !em.send(Event{
			Status:        StatusRevision,
			Message:       "Reviewer requested targeted fixes. Regenerating affected files and re-checking.",
			Attempt:       attempt,
			IssuesCount:   len(review.Issues),
			AffectedFiles: requestPaths(patchRequests),
			SecurityScore: review.SecurityScore,
		}) {
			return completion, true
		}
	}

	p.logger.Warn("code not approved after all review passes", "passes", p.cfg.MaxReviewIterations)
	return completion, !p.emitReviewerDone(em, completion, p.cfg.MaxReviewIterations)
}

// repairPhase delegates to the repair agent. The pipeline always releases
// the latest bundle; a failed or crashed repair only downgrades the
// completion message.
func (p *Pipeline) repairPhase(ctx context.Context, em *emitter, projectID, runID uuid.UUID, architecture *models.SystemArchitecture, code *models.GeneratedCode, completion Completion) bool {
	if !em.send(Event{Status: StatusRepairer, Message: "Running runtime repair checks on the generated API..."}) {
		return false
	}

	reviewReport := completion.toReviewReport()
	var repair models.RepairReport
	result, err := p.repairer.Run(ctx, models.RepairContext{
		Architecture: architecture,
		Code:         *code,
		ReviewReport: &reviewReport,
		ProjectID:    projectID.String(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Warn("repair stage failed, continuing with latest generated code", "error", err)
		repair = models.RepairReport{
			Failures:      []models.TestFailure{},
			Warnings:      []string{fmt.Sprintf("Repair stage failed: %v", err)},
			PatchRequests: []models.FilePatchRequest{},
			AffectedFiles: []string{},
			Summary:       fmt.Sprintf("Repair stage failed: %v. Returning latest generated code.", err),
			FinalCode:     code.Files,
		}
	} else {
		repair = *result
		*code = models.GeneratedCode{Files: repair.FinalCode, Dependencies: code.Dependencies}
		for attempt := 1; attempt <= repair.Attempts; attempt++ {
			if !em.send(Event{
				Status:        StatusRepairRevision,
				Message:       "Repair is applying sandbox-driven fixes from container logs and endpoint smoke checks.",
				Attempt:       attempt,
				IssuesCount:   len(repair.Failures),
				AffectedFiles: repair.AffectedFiles,
			}) {
				return false
			}
			stage := fmt.Sprintf("repairer_pass_%d", attempt)
			if err := p.saveRepairArtifact(ctx, runID, stage, repair, code.Dependencies); err != nil {
				p.logger.Warn("failed to persist repair pass artifact", "stage", stage, "error", err)
			}
		}
	}
	if err := p.saveRepairArtifact(ctx, runID, "repairer_final", repair, code.Dependencies); err != nil {
		p.logger.Warn("failed to persist final repair artifact", "error", err)
	}

	completion.FinalCode = code.Files
	completion.Repair = &repair
	completion.Approved = repair.Passed
	completion.ArtifactsReleased = len(completion.FinalCode) > 0
	completion.addSuggestion(repair.Summary)
	if completion.Approved && !repair.FullyValidated {
		completion.addSuggestion("The generated API is deployable and artifacts are released, but some endpoint smoke checks still reported warnings.")
	}

	if !em.send(Event{
		Status:        StatusRepairerDone,
		Message:       repair.Summary,
		Attempt:       repair.Attempts,
		IssuesCount:   len(repair.Failures),
		AffectedFiles: repair.AffectedFiles,
		Artifact:      repair,
	}) {
		return false
	}

	message := "Pipeline finished successfully!"
	if !completion.Approved {
		completion.addSuggestion("Artifacts are being returned even though runtime validation still reports blocking issues. Review the generated files before deployment.")
		message = "Pipeline finished with generated artifacts, but runtime validation still reported blocking issues."
	} else if !repair.FullyValidated {
		message = "Pipeline finished with deployable artifacts and runtime warnings."
	}
	if !em.send(Event{Status: StatusCompleted, Message: message, Artifact: completion}) {
		return false
	}
	p.updateStatusSafely(ctx, runID, models.RunStatusCompleted)
	return true
}

// fail emits the terminal error event and marks the run failed. The return
// value reports whether the event was delivered (false = cancelled).
func (p *Pipeline) fail(ctx context.Context, em *emitter, runID uuid.UUID, err error) bool {
	p.logger.Error("pipeline error", "run_id", runID, "error", err)
	delivered := em.send(Event{Status: StatusError, Message: err.Error()})
	p.updateStatusSafely(ctx, runID, models.RunStatusFailed)
	return delivered
}

func (p *Pipeline) emitReviewerDone(em *emitter, completion Completion, attempt int) bool {
	return em.send(Event{
		Status:        StatusReviewerDone,
		Message:       "Review completed.",
		Attempt:       attempt,
		IssuesCount:   len(completion.Issues),
		AffectedFiles: completion.AffectedFiles,
		SecurityScore: completion.SecurityScore,
		Artifact:      completion,
	})
}

func (p *Pipeline) degradedReview(em *emitter, code models.GeneratedCode, attempt int, cause error) (Completion, bool) {
	p.logger.Warn("reviewer stage failed, continuing with implementer output", "error", cause)
	completion := Completion{
		Approved:      false,
		Issues:        []models.Issue{},
		Suggestions:   []string{fmt.Sprintf("Reviewer failed: %v. Returning implementer output.", cause)},
		SecurityScore: 5,
		AffectedFiles: []string{},
		PatchRequests: []models.FilePatchRequest{},
		FinalCode:     code.Files,
		Dependencies:  code.Dependencies,
	}
	delivered := em.send(Event{
		Status:        StatusReviewerDone,
		Message:       "Reviewer failed; returning generated code without review approval.",
		Attempt:       attempt,
		SecurityScore: completion.SecurityScore,
		Artifact:      completion,
	})
	return completion, !delivered
}

// teardownSandbox removes the project's container after a cancelled run,
// using a fresh context because the run's own context is already dead.
func (p *Pipeline) teardownSandbox(projectID uuid.UUID) {
	if p.sandboxes == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p.sandboxes.Teardown(ctx, projectID.String())
}

func defaultCompletion(code models.GeneratedCode) Completion {
	return Completion{
		Approved:      true,
		Issues:        []models.Issue{},
		Suggestions:   []string{},
		SecurityScore: 7,
		AffectedFiles: []string{},
		PatchRequests: []models.FilePatchRequest{},
		FinalCode:     code.Files,
		Dependencies:  code.Dependencies,
	}
}

func completionFromReview(review *models.ReviewReport, code models.GeneratedCode) Completion {
	return Completion{
		Approved:      review.Approved,
		Issues:        review.Issues,
		Suggestions:   review.Suggestions,
		SecurityScore: review.SecurityScore,
		AffectedFiles: review.AffectedFiles,
		PatchRequests: review.PatchRequests,
		FinalCode:     code.Files,
		Dependencies:  code.Dependencies,
	}
}

func (c *Completion) toReviewReport() models.ReviewReport {
	return models.ReviewReport{
		Issues:        c.Issues,
		Suggestions:   c.Suggestions,
		SecurityScore: c.SecurityScore,
		Approved:      c.Approved,
		AffectedFiles: c.AffectedFiles,
		PatchRequests: c.PatchRequests,
		FinalCode:     c.FinalCode,
	}
}

func issueDescriptionsByFile(review *models.ReviewReport) map[string][]string {
	issueMap := make(map[string][]string)
	for _, issue := range review.Issues {
		path := strings.TrimSpace(issue.FilePath)
		if path == "" {
			continue
		}
		issueMap[path] = append(issueMap[path], fmt.Sprintf("[%s] %s", issue.Severity, issue.Description))
	}
	return issueMap
}

// synthesizeReviewPatches builds minimal patch requests from affected files
// and per-file issues when the reviewer supplied none.
func synthesizeReviewPatches(review *models.ReviewReport, issueMap map[string][]string) []models.FilePatchRequest {
	var targeted []string
	seen := make(map[string]struct{})
	addPath := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		if _, dup := seen[path]; dup {
			return
		}
		seen[path] = struct{}{}
		targeted = append(targeted, path)
	}
	for _, path := range review.AffectedFiles {
		addPath(path)
	}
	for _, issue := range review.Issues {
		addPath(issue.FilePath)
	}

	requests := make([]models.FilePatchRequest, 0, len(targeted))
	for _, path := range targeted {
		instructions := issueMap[path]
		if len(instructions) == 0 {
			instructions = []string{"Fix the reviewer-reported issues while preserving existing behavior."}
		}
		requests = append(requests, models.FilePatchRequest{
			Path:         path,
			Reason:       "Reviewer reported issues in this file",
			Instructions: instructions,
		})
	}
	return requests
}

func requestPaths(requests []models.FilePatchRequest) []string {
	paths := make([]string, 0, len(requests))
	for _, request := range requests {
		if request.Path != "" {
			paths = append(paths, request.Path)
		}
	}
	return paths
}

func normalizeRuntimeMode(mode string) string {
	normalized := strings.ToLower(strings.TrimSpace(mode))
	if normalized == "" {
		return RuntimeModeSandbox
	}
	return normalized
}

func normalizeStartStage(stage string) string {
	normalized := strings.ToLower(strings.TrimSpace(stage))
	if normalized == "" {
		return StartStageRequirements
	}
	return normalized
}
