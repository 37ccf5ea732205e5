package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eb-adutwum/interius/pkg/agent"
	"github.com/eb-adutwum/interius/pkg/models"
	"github.com/eb-adutwum/interius/pkg/orchestrator"
	"github.com/eb-adutwum/interius/pkg/sandbox"
	"github.com/eb-adutwum/interius/pkg/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePipeline struct {
	events    []orchestrator.Event
	lastRunID uuid.UUID
	prompt    string
	opts      orchestrator.Options
}

func (f *fakePipeline) Run(_ context.Context, _, runID uuid.UUID, prompt string, opts orchestrator.Options) <-chan orchestrator.Event {
	f.lastRunID = runID
	f.prompt = prompt
	f.opts = opts
	out := make(chan orchestrator.Event)
	go func() {
		defer close(out)
		for _, event := range f.events {
			out <- event
		}
	}()
	return out
}

type fakeRouter struct {
	decision *agent.InterfaceDecision
	err      error
	lastIn   string
}

func (f *fakeRouter) Run(_ context.Context, input string) (*agent.InterfaceDecision, error) {
	f.lastIn = input
	return f.decision, f.err
}

type fakeRunStore struct {
	runs      map[uuid.UUID]*models.RunRecord
	created   []*models.RunRecord
	artifacts map[uuid.UUID][]models.ArtifactRecord
	bundle    models.GeneratedCode
	bundleErr error
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{
		runs:      map[uuid.UUID]*models.RunRecord{},
		artifacts: map[uuid.UUID][]models.ArtifactRecord{},
	}
}

func (f *fakeRunStore) CreateRun(_ context.Context, projectID uuid.UUID, prompt string) (*models.RunRecord, error) {
	run := &models.RunRecord{
		ID:        uuid.New(),
		ProjectID: projectID,
		Status:    models.RunStatusPending,
		Prompt:    models.TruncatePrompt(prompt),
	}
	f.runs[run.ID] = run
	f.created = append(f.created, run)
	return run, nil
}

func (f *fakeRunStore) GetRun(_ context.Context, runID uuid.UUID, withArtifacts bool) (*models.RunRecord, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", services.ErrNotFound, runID)
	}
	out := *run
	if withArtifacts {
		out.Artifacts = f.artifacts[runID]
	}
	return &out, nil
}

func (f *fakeRunStore) ListArtifacts(_ context.Context, runID uuid.UUID) ([]models.ArtifactRecord, error) {
	return f.artifacts[runID], nil
}

func (f *fakeRunStore) ListRunsForProject(_ context.Context, projectID uuid.UUID, _ int) ([]models.RunRecord, error) {
	out := []models.RunRecord{}
	for _, run := range f.runs {
		if run.ProjectID == projectID {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (f *fakeRunStore) LatestBundle(_ context.Context, _ uuid.UUID) (models.GeneratedCode, error) {
	if f.bundleErr != nil {
		return models.GeneratedCode{}, f.bundleErr
	}
	return f.bundle, nil
}

type fakeSandboxes struct {
	meta      *sandbox.RuntimeMetadata
	launchErr error
	live      bool
	teardowns []string
	launched  []string
}

func (f *fakeSandboxes) Launch(_ context.Context, projectID string, _ models.GeneratedCode) (*sandbox.RuntimeMetadata, error) {
	f.launched = append(f.launched, projectID)
	return f.meta, f.launchErr
}

func (f *fakeSandboxes) BaseURL(meta *sandbox.RuntimeMetadata) string {
	return fmt.Sprintf("http://127.0.0.1:%d", meta.HostPort)
}

func (f *fakeSandboxes) Live(_ context.Context, _ string) bool { return f.live }

func (f *fakeSandboxes) Logs(_ context.Context, _ string) string { return "" }

func (f *fakeSandboxes) Teardown(_ context.Context, projectID string) {
	f.teardowns = append(f.teardowns, projectID)
}

func (f *fakeSandboxes) Metadata(_ string) *sandbox.RuntimeMetadata { return f.meta }

type apiFixture struct {
	server    *Server
	pipeline  *fakePipeline
	router    *fakeRouter
	runs      *fakeRunStore
	sandboxes *fakeSandboxes
	engine    *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		pipeline: &fakePipeline{},
		router: &fakeRouter{decision: &agent.InterfaceDecision{
			Intent:                agent.IntentPipelineRequest,
			ShouldTriggerPipeline: true,
			AssistantReply:        "Starting generation pipeline.",
		}},
		runs:      newFakeRunStore(),
		sandboxes: &fakeSandboxes{},
	}
	f.server = NewServer(nil, f.runs, f.pipeline, f.router, f.sandboxes, nil)
	f.engine = f.server.Routes()
	return f
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func TestRouteInterfacePromptReturnsDecision(t *testing.T) {
	f := newAPIFixture(t)
	f.router.decision = &agent.InterfaceDecision{
		Intent:                agent.IntentSocial,
		ShouldTriggerPipeline: false,
		AssistantReply:        "You're welcome!",
	}

	rec := f.do(http.MethodPost, "/api/v1/interface", `{"prompt": "thanks!"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"social"`)
	assert.Contains(t, rec.Body.String(), "You're welcome!")
	assert.Equal(t, "thanks!", f.router.lastIn)
}

func TestRouteInterfacePromptFailsOpen(t *testing.T) {
	f := newAPIFixture(t)
	f.router.decision = nil
	f.router.err = errors.New("model unavailable")

	rec := f.do(http.MethodPost, "/api/v1/interface", `{"prompt": "Build a todo API"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"should_trigger_pipeline":true`)
	assert.Contains(t, rec.Body.String(), "Build a todo API")
}

func TestGenerateStreamsPipelineEvents(t *testing.T) {
	f := newAPIFixture(t)
	f.pipeline.events = []orchestrator.Event{
		{Status: orchestrator.StatusStarting, Message: "Initializing pipeline..."},
		{Status: orchestrator.StatusCompleted, Message: "Pipeline finished successfully!"},
	}

	projectID := uuid.New()
	rec := f.do(http.MethodPost, "/api/v1/projects/"+projectID.String()+"/generate",
		`{"prompt": "Build a todo API"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, body, `"intent_routed"`)
	assert.Contains(t, body, `"starting"`)
	assert.Contains(t, body, "Pipeline finished successfully!")

	// Every event reaches the response in pipeline order, not just the ones
	// emitted before the run starts.
	routed := strings.Index(body, `"intent_routed"`)
	starting := strings.Index(body, `"starting"`)
	finished := strings.Index(body, "Pipeline finished successfully!")
	assert.True(t, routed < starting && starting < finished)

	// The run was persisted before the pipeline started
	require.Len(t, f.runs.created, 1)
	assert.Equal(t, projectID, f.runs.created[0].ProjectID)
	assert.Equal(t, f.runs.created[0].ID, f.pipeline.lastRunID)
	assert.Equal(t, "Build a todo API", f.pipeline.prompt)
}

func TestGenerateUsesRoutedPrompt(t *testing.T) {
	f := newAPIFixture(t)
	f.router.decision = &agent.InterfaceDecision{
		Intent:                agent.IntentPipelineRequest,
		ShouldTriggerPipeline: true,
		AssistantReply:        "On it.",
		PipelinePrompt:        "Build a REST API for todos with due dates",
	}

	rec := f.do(http.MethodPost, "/api/v1/projects/"+uuid.NewString()+"/generate",
		`{"prompt": "todo app pls"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Build a REST API for todos with due dates", f.pipeline.prompt)
}

func TestGenerateChatOnlyShortCircuits(t *testing.T) {
	f := newAPIFixture(t)
	f.router.decision = &agent.InterfaceDecision{
		Intent:                agent.IntentSocial,
		ShouldTriggerPipeline: false,
		AssistantReply:        "Hello! What would you like to build?",
	}

	rec := f.do(http.MethodPost, "/api/v1/projects/"+uuid.NewString()+"/generate",
		`{"prompt": "hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `"chat_reply"`)
	assert.Contains(t, body, `"chat_only"`)
	assert.Empty(t, f.runs.created, "chat-only messages must not create runs")
}

func TestGenerateForwardsOptions(t *testing.T) {
	f := newAPIFixture(t)

	body := `{
		"prompt": "Build a todo API",
		"runtime_mode": "local_cli",
		"start_stage": "implementer",
		"architecture_override": {"design_document": "## Design", "mermaid_diagram": "flowchart TD"}
	}`
	rec := f.do(http.MethodPost, "/api/v1/projects/"+uuid.NewString()+"/generate", body)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "local_cli", f.pipeline.opts.RuntimeMode)
	assert.Equal(t, "implementer", f.pipeline.opts.StartStage)
	require.NotNil(t, f.pipeline.opts.ArchitectureOverride)
	assert.Equal(t, "## Design", f.pipeline.opts.ArchitectureOverride.DesignDocument)
}

func TestGenerateRejectsBadInput(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/projects/not-a-uuid/generate", `{"prompt": "x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/projects/"+uuid.NewString()+"/generate", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/runs/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunReturnsArtifacts(t *testing.T) {
	f := newAPIFixture(t)
	run, err := f.runs.CreateRun(context.Background(), uuid.New(), "artifact run")
	require.NoError(t, err)
	f.runs.artifacts[run.ID] = []models.ArtifactRecord{
		{ID: 1, RunID: run.ID, Stage: "requirements", Content: []byte(`{"project_name":"todo"}`)},
	}

	rec := f.do(http.MethodGet, "/api/v1/runs/"+run.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"requirements"`)
	assert.Contains(t, rec.Body.String(), "artifact run")
}

func TestDeploySandboxWithoutBundle(t *testing.T) {
	f := newAPIFixture(t)
	f.runs.bundleErr = fmt.Errorf("%w: no code bundle", services.ErrNotFound)

	rec := f.do(http.MethodPost, "/api/v1/sandbox/deploy/"+uuid.NewString(), "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "No generated code found")
	assert.Empty(t, f.sandboxes.launched)
}

func TestDeploySandboxSuccess(t *testing.T) {
	f := newAPIFixture(t)
	projectID := uuid.New()
	f.runs.bundle = models.GeneratedCode{
		Files: []models.CodeFile{
			{Path: "app/main.py", Content: "app = None\n"},
			{Path: "app/routes.py", Content: "router = None\n"},
		},
	}
	f.sandboxes.meta = &sandbox.RuntimeMetadata{ProjectID: projectID.String(), HostPort: 9101}

	rec := f.do(http.MethodPost, "/api/v1/sandbox/deploy/"+projectID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `"deployed"`)
	assert.Contains(t, body, "2 files written")
	assert.Contains(t, body, "http://127.0.0.1:9101/docs")
	assert.Equal(t, []string{projectID.String()}, f.sandboxes.launched)
}

func TestDeploySandboxNotReadyStillDeployed(t *testing.T) {
	f := newAPIFixture(t)
	f.runs.bundle = models.GeneratedCode{Files: []models.CodeFile{{Path: "app/main.py"}}}
	f.sandboxes.meta = &sandbox.RuntimeMetadata{HostPort: 9102}
	f.sandboxes.launchErr = errors.New("sandbox did not become ready")

	rec := f.do(http.MethodPost, "/api/v1/sandbox/deploy/"+uuid.NewString(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deployed"`)
}

func TestDeploySandboxHardFailure(t *testing.T) {
	f := newAPIFixture(t)
	f.runs.bundle = models.GeneratedCode{Files: []models.CodeFile{{Path: "app/main.py"}}}
	f.sandboxes.meta = nil
	f.sandboxes.launchErr = errors.New("sandbox port range [9100, 9199] exhausted")

	rec := f.do(http.MethodPost, "/api/v1/sandbox/deploy/"+uuid.NewString(), "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to start sandbox")
}

func TestSandboxStatus(t *testing.T) {
	f := newAPIFixture(t)
	projectID := uuid.New()

	// No metadata
	rec := f.do(http.MethodGet, "/api/v1/sandbox/status/"+projectID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stopped"`)

	// Metadata but container dead
	f.sandboxes.meta = &sandbox.RuntimeMetadata{HostPort: 9103}
	f.sandboxes.live = false
	rec = f.do(http.MethodGet, "/api/v1/sandbox/status/"+projectID.String(), "")
	assert.Contains(t, rec.Body.String(), `"stopped"`)

	// Running
	f.sandboxes.live = true
	rec = f.do(http.MethodGet, "/api/v1/sandbox/status/"+projectID.String(), "")
	body := rec.Body.String()
	assert.Contains(t, body, `"running"`)
	assert.Contains(t, body, "http://127.0.0.1:9103/docs")
}

func TestTeardownSandbox(t *testing.T) {
	f := newAPIFixture(t)
	projectID := uuid.New()

	rec := f.do(http.MethodDelete, "/api/v1/sandbox/"+projectID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stopped"`)
	assert.Equal(t, []string{projectID.String()}, f.sandboxes.teardowns)
}
