// Package models defines the typed artifacts exchanged between pipeline
// stages: the project charter, system architecture, generated code bundle,
// review and test reports, and the repair outcome.
package models

// Issue severity levels, ordered from least to most serious.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Deterministic check identifiers reported in TestFailure.Check.
const (
	CheckSyntax        = "syntax"
	CheckImportSmoke   = "import_smoke"
	CheckEndpointSmoke = "endpoint_smoke"
)

// EntityField is a single field of a charter entity.
type EntityField struct {
	Name     string `json:"name"`
	Type     string `json:"field_type"`
	Required bool   `json:"required"`
}

// Entity is a data entity extracted from the user's requirements.
type Entity struct {
	Name   string        `json:"name"`
	Fields []EntityField `json:"fields"`
}

// Endpoint describes one REST endpoint the generated backend must expose.
type Endpoint struct {
	Method      string `json:"method"` // GET, POST, PUT, PATCH, DELETE
	Path        string `json:"path"`
	Description string `json:"description"`
}

// ProjectCharter is the structured requirements artifact produced by the
// requirements agent. A charter without at least one entity and one endpoint
// is rejected before the pipeline proceeds.
type ProjectCharter struct {
	ProjectName   string     `json:"project_name"`
	Description   string     `json:"description"`
	Entities      []Entity   `json:"entities"`
	Endpoints     []Endpoint `json:"endpoints"`
	BusinessRules []string   `json:"business_rules"`
	AuthRequired  bool       `json:"auth_required"`
}

// SystemArchitecture is the design artifact produced by the architecture
// agent: a human-readable design document plus machine-usable summaries the
// implementer consumes.
type SystemArchitecture struct {
	DesignDocument   string   `json:"design_document"`
	MermaidDiagram   string   `json:"mermaid_diagram"`
	Components       []string `json:"components"`
	DataModelSummary []string `json:"data_model_summary"`
	EndpointSummary  []string `json:"endpoint_summary"`
}

// CodeFile is one generated source file. Paths are relative, forward-slash,
// and live under app/.
type CodeFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// PlannedCodeFile is one entry of the implementer's file plan.
type PlannedCodeFile struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose"`
}

// CodeGenerationPlan is the small structured plan the implementer produces
// before per-file generation, avoiding giant JSON-with-code payloads.
type CodeGenerationPlan struct {
	Files        []PlannedCodeFile `json:"files"`
	Dependencies []string          `json:"dependencies"`
}

// GeneratedCode is the code bundle artifact: an ordered file list plus the
// pip dependencies the generated backend needs.
type GeneratedCode struct {
	Files        []CodeFile `json:"files"`
	Dependencies []string   `json:"dependencies"`
}

// File returns the file with the given path, or nil.
func (g *GeneratedCode) File(path string) *CodeFile {
	for i := range g.Files {
		if g.Files[i].Path == path {
			return &g.Files[i]
		}
	}
	return nil
}

// Paths returns the bundle's file paths in order.
func (g *GeneratedCode) Paths() []string {
	paths := make([]string, 0, len(g.Files))
	for _, f := range g.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// Issue is a single reviewer or validator finding.
type Issue struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
	FilePath    string `json:"file_path"`
	LineNumber  *int   `json:"line_number,omitempty"`
}

// FilePatchRequest is a file-scoped regeneration instruction. An empty
// instruction list makes the request inert — the repair loop only acts on
// requests that carry concrete directives.
type FilePatchRequest struct {
	Path         string   `json:"path"`
	Reason       string   `json:"reason"`
	Instructions []string `json:"instructions"`
}

// ReviewReport is the reviewer agent's artifact, optionally merged with the
// deterministic validator's findings before the orchestrator acts on it.
type ReviewReport struct {
	Issues        []Issue            `json:"issues"`
	Suggestions   []string           `json:"suggestions"`
	SecurityScore int                `json:"security_score"` // 1..10
	Approved      bool               `json:"approved"`
	AffectedFiles []string           `json:"affected_files"`
	PatchRequests []FilePatchRequest `json:"patch_requests"`
	FinalCode     []CodeFile         `json:"final_code,omitempty"`
}

// TestFailure is one deterministic check failure. Patchable failures feed
// the repair loop; non-patchable ones only block release.
type TestFailure struct {
	Check      string `json:"check"` // syntax, import_smoke, endpoint_smoke
	Message    string `json:"message"`
	FilePath   string `json:"file_path,omitempty"`
	LineNumber *int   `json:"line_number,omitempty"`
	Patchable  bool   `json:"patchable"`
}

// TestRunReport aggregates one evaluation pass over a bundle.
type TestRunReport struct {
	Passed        bool               `json:"passed"`
	ChecksRun     []string           `json:"checks_run"`
	Failures      []TestFailure      `json:"failures"`
	Warnings      []string           `json:"warnings"`
	PatchRequests []FilePatchRequest `json:"patch_requests"`
}

// RepairContext carries everything the repair loop needs for one run.
type RepairContext struct {
	Architecture *SystemArchitecture `json:"architecture"`
	Code         GeneratedCode       `json:"code"`
	ReviewReport *ReviewReport       `json:"review_report,omitempty"`
	ProjectID    string              `json:"project_id,omitempty"`
}

// RepairReport is the repair loop's terminal artifact. Passed gates the
// release verdict but never blocks artifact return; FullyValidated
// distinguishes a clean pass from passing-with-warnings.
type RepairReport struct {
	Passed         bool               `json:"passed"`
	FullyValidated bool               `json:"fully_validated"`
	Repaired       bool               `json:"repaired"`
	Attempts       int                `json:"attempts"`
	AffectedFiles  []string           `json:"affected_files"`
	Failures       []TestFailure      `json:"failures"`
	Warnings       []string           `json:"warnings"`
	PatchRequests  []FilePatchRequest `json:"patch_requests"`
	FinalCode      []CodeFile         `json:"final_code"`
	Summary        string             `json:"summary"`
}

// IntPtr is a convenience for optional line numbers.
func IntPtr(v int) *int { return &v }
