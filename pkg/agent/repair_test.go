package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eb-adutwum/interius/pkg/models"
)

type stubEvaluator struct {
	reports   []models.TestRunReport
	index     int
	live      bool
	liveCalls int
}

func (s *stubEvaluator) Evaluate(_ context.Context, _ models.GeneratedCode, _ string) models.TestRunReport {
	if s.index >= len(s.reports) {
		return s.reports[len(s.reports)-1]
	}
	report := s.reports[s.index]
	s.index++
	return report
}

func (s *stubEvaluator) SandboxLive(_ context.Context, _ string) bool {
	s.liveCalls++
	return s.live
}

type stubPatcher struct {
	calls [][]models.FilePatchRequest
}

func (s *stubPatcher) PatchFiles(_ context.Context, _ *models.SystemArchitecture, currentCode models.GeneratedCode,
	patchRequests []models.FilePatchRequest, _ map[string][]string) (models.GeneratedCode, error) {
	s.calls = append(s.calls, patchRequests)
	return currentCode, nil
}

func failingReport(path string) models.TestRunReport {
	return models.TestRunReport{
		Failures: []models.TestFailure{{
			Check:     models.CheckEndpointSmoke,
			Message:   "GET /todos returned 500",
			FilePath:  path,
			Patchable: true,
		}},
		PatchRequests: []models.FilePatchRequest{{
			Path:         path,
			Reason:       fallbackRepairReason,
			Instructions: []string{"Fix endpoint_smoke failure: GET /todos returned 500"},
		}},
	}
}

func repairInput() models.RepairContext {
	return models.RepairContext{
		Architecture: &models.SystemArchitecture{},
		Code: models.GeneratedCode{Files: []models.CodeFile{
			{Path: "app/main.py", Content: "main"},
			{Path: "app/routes.py", Content: "routes"},
		}},
		ProjectID: "proj-1",
	}
}

func TestRepairAgentPassesWithoutRepairs(t *testing.T) {
	evaluator := &stubEvaluator{reports: []models.TestRunReport{{Passed: true}}, live: true}
	agent := NewRepairAgent(&stubPatcher{}, evaluator, 3, 2, nil)

	report, err := agent.Run(context.Background(), repairInput())
	require.NoError(t, err)

	assert.True(t, report.Passed)
	assert.True(t, report.FullyValidated)
	assert.False(t, report.Repaired)
	assert.Equal(t, 0, report.Attempts)
	assert.Equal(t, "Runtime repair checks passed without additional repairs.", report.Summary)
}

func TestRepairAgentTargetedRepairFixes(t *testing.T) {
	evaluator := &stubEvaluator{
		reports: []models.TestRunReport{
			failingReport("app/routes.py"),
			{Passed: true},
		},
		live: true,
	}
	patcher := &stubPatcher{}
	agent := NewRepairAgent(patcher, evaluator, 3, 2, nil)

	report, err := agent.Run(context.Background(), repairInput())
	require.NoError(t, err)

	assert.True(t, report.Passed)
	assert.True(t, report.Repaired)
	assert.Equal(t, 1, report.Attempts)
	assert.Contains(t, report.AffectedFiles, "app/routes.py")
	assert.Equal(t, "Repair loop fixed runtime issues in 1 pass(es).", report.Summary)
	require.Len(t, patcher.calls, 1)
	assert.Equal(t, "app/routes.py", patcher.calls[0][0].Path)
}

func TestRepairAgentEscalatesAfterTargetedFailure(t *testing.T) {
	evaluator := &stubEvaluator{
		reports: []models.TestRunReport{
			failingReport("app/routes.py"),
			failingReport("app/routes.py"),
			{Passed: true},
		},
		live: true,
	}
	patcher := &stubPatcher{}
	agent := NewRepairAgent(patcher, evaluator, 1, 2, nil)

	report, err := agent.Run(context.Background(), repairInput())
	require.NoError(t, err)

	assert.True(t, report.Passed)
	assert.True(t, report.Repaired)
	assert.Equal(t, 2, report.Attempts)
	assert.Contains(t, report.AffectedFiles, "app/routes.py")
	assert.Contains(t, report.Summary, "including escalated sandbox fixes")
	require.Len(t, patcher.calls, 2)
	assert.Equal(t, escalationRepairReason, patcher.calls[1][0].Reason)
	assert.Contains(t, patcher.calls[1][0].Instructions[1], "GET /todos returned 500")
}

func TestRepairAgentFlagsDeadContainerAfterPassingChecks(t *testing.T) {
	evaluator := &stubEvaluator{reports: []models.TestRunReport{{Passed: true}}, live: false}
	patcher := &stubPatcher{}
	agent := NewRepairAgent(patcher, evaluator, 1, 0, nil)

	report, err := agent.Run(context.Background(), repairInput())
	require.NoError(t, err)

	assert.False(t, report.Passed)
	require.NotEmpty(t, report.Failures)
	assert.Contains(t, report.Failures[0].Message, "not still running afterward")
	assert.Equal(t, "app/main.py", report.Failures[0].FilePath)
	// Liveness failures are repairable: the loop patched the entrypoint.
	require.Len(t, patcher.calls, 1)
	assert.Equal(t, "app/main.py", patcher.calls[0][0].Path)
}

func TestRepairAgentSkipsLivenessWithoutProject(t *testing.T) {
	evaluator := &stubEvaluator{reports: []models.TestRunReport{{Passed: true}}, live: false}
	agent := NewRepairAgent(&stubPatcher{}, evaluator, 3, 2, nil)

	input := repairInput()
	input.ProjectID = ""
	report, err := agent.Run(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, report.Passed)
	assert.Zero(t, evaluator.liveCalls)
}

func TestRepairAgentExhaustsWithinBudget(t *testing.T) {
	evaluator := &stubEvaluator{reports: []models.TestRunReport{failingReport("app/routes.py")}, live: true}
	patcher := &stubPatcher{}
	agent := NewRepairAgent(patcher, evaluator, 3, 2, nil)

	report, err := agent.Run(context.Background(), repairInput())
	require.NoError(t, err)

	assert.False(t, report.Passed)
	assert.True(t, report.Repaired)
	assert.Equal(t, 5, report.Attempts)
	assert.Len(t, patcher.calls, 5)
	assert.Contains(t, report.Summary, "exhausted after 5 pass(es)")
	assert.NotEmpty(t, report.FinalCode)
}
