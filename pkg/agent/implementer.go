package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eb-adutwum/interius/pkg/agent/prompt"
	"github.com/eb-adutwum/interius/pkg/llm"
	"github.com/eb-adutwum/interius/pkg/models"
)

// requiredPlanPaths are always present in a normalized plan, in this order.
var requiredPlanPaths = []string{
	"app/main.py",
	"app/database.py",
	"app/models.py",
	"app/schemas.py",
	"app/routes.py",
}

var baselineDependencies = []string{"fastapi", "sqlmodel", "uvicorn"}

var authKeywords = []string{"auth", "jwt", "token", "login", "signup", "user"}

// maxPlannedFiles caps the normalized plan size.
const maxPlannedFiles = 8

// ImplementerAgent generates the code bundle in two steps: a small
// structured file plan, then per-file plain-text generation. This avoids a
// single giant JSON response containing long code strings.
type ImplementerAgent struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewImplementerAgent(client llm.Client, logger *slog.Logger) *ImplementerAgent {
	return &ImplementerAgent{llm: client, logger: componentLogger(logger, "implementer-agent")}
}

// Run plans the file set and generates every planned file.
func (a *ImplementerAgent) Run(ctx context.Context, architecture *models.SystemArchitecture) (models.GeneratedCode, error) {
	pkg := architecturePackage(architecture)
	plan := a.generatePlan(ctx, pkg, architecture)

	files := make([]models.CodeFile, 0, len(plan.Files))
	for _, entry := range plan.Files {
		content, err := a.generateFileContent(ctx, pkg, plan, entry)
		if err != nil {
			return models.GeneratedCode{}, fmt.Errorf("generate %s: %w", entry.Path, err)
		}
		files = append(files, models.CodeFile{Path: entry.Path, Content: stripFences(content)})
	}
	return models.GeneratedCode{Files: files, Dependencies: plan.Dependencies}, nil
}

// PatchFiles regenerates only the requested files using reviewer guidance
// and reuses every other generated file unchanged. File order is preserved
// and dependencies are never altered.
func (a *ImplementerAgent) PatchFiles(
	ctx context.Context,
	architecture *models.SystemArchitecture,
	currentCode models.GeneratedCode,
	patchRequests []models.FilePatchRequest,
	issuesByFile map[string][]string,
) (models.GeneratedCode, error) {
	if len(currentCode.Files) == 0 {
		return currentCode, nil
	}
	pkg := architecturePackage(architecture)

	currentMap := make(map[string]models.CodeFile, len(currentCode.Files))
	for _, file := range currentCode.Files {
		if file.Path != "" {
			currentMap[file.Path] = file
		}
	}

	plan := models.CodeGenerationPlan{
		Dependencies: append([]string(nil), currentCode.Dependencies...),
	}
	for _, file := range currentCode.Files {
		plan.Files = append(plan.Files, models.PlannedCodeFile{
			Path:    file.Path,
			Purpose: "Existing generated backend source file",
		})
	}

	patchByPath := make(map[string]models.FilePatchRequest)
	var patchOrder []string
	for _, req := range patchRequests {
		path := models.SanitizeRelativePath(req.Path)
		if path == "" {
			continue
		}
		if _, exists := currentMap[path]; !exists {
			continue
		}
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "Reviewer requested fixes"
		}
		instructions := make([]string, 0, len(req.Instructions))
		for _, instruction := range req.Instructions {
			if trimmed := strings.TrimSpace(instruction); trimmed != "" {
				instructions = append(instructions, trimmed)
			}
		}
		if _, seen := patchByPath[path]; !seen {
			patchOrder = append(patchOrder, path)
		}
		patchByPath[path] = models.FilePatchRequest{Path: path, Reason: reason, Instructions: instructions}
	}
	if len(patchByPath) == 0 {
		return currentCode, nil
	}

	updated := make(map[string]models.CodeFile, len(currentMap))
	for path, file := range currentMap {
		updated[path] = file
	}
	for _, path := range patchOrder {
		request := patchByPath[path]
		entry := models.PlannedCodeFile{Path: path, Purpose: "Backend source file"}
		for _, planned := range plan.Files {
			if planned.Path == path {
				entry = planned
				break
			}
		}
		content, err := a.patchFileContent(ctx, pkg, plan, entry, currentMap[path].Content, request, issuesByFile[path])
		if err != nil {
			return models.GeneratedCode{}, fmt.Errorf("patch %s: %w", path, err)
		}
		updated[path] = models.CodeFile{Path: path, Content: stripFences(content)}
	}

	out := models.GeneratedCode{Dependencies: append([]string(nil), currentCode.Dependencies...)}
	for _, file := range currentCode.Files {
		if replacement, ok := updated[file.Path]; ok {
			out.Files = append(out.Files, replacement)
		}
	}
	return out, nil
}

// generatePlan asks for a structured plan, falls back to the deterministic
// default on LLM failure, and normalizes the result either way.
func (a *ImplementerAgent) generatePlan(ctx context.Context, pkg string, architecture *models.SystemArchitecture) models.CodeGenerationPlan {
	var plan models.CodeGenerationPlan
	if err := a.llm.GenerateStructured(ctx, prompt.ImplementerPlan, pkg, planSchema, &plan); err != nil {
		a.logger.Warn("plan generation failed, using deterministic fallback", "error", err)
		plan = fallbackPlan(architecture)
	}
	return normalizePlan(plan, architecture)
}

func (a *ImplementerAgent) generateFileContent(ctx context.Context, pkg string, plan models.CodeGenerationPlan, entry models.PlannedCodeFile) (string, error) {
	userPrompt := fmt.Sprintf(
		"%s\n\nPlanned Files:\n%s\n\nDependencies: %s\n\n"+
			"Generate this file now:\nPath: %s\nPurpose: %s\n\n"+
			"Return only the complete file content.",
		pkg, planFileList(plan), planDependencies(plan), entry.Path, entry.Purpose)
	return a.llm.GenerateText(ctx, prompt.ImplementerFile, userPrompt, 0.15)
}

func (a *ImplementerAgent) patchFileContent(
	ctx context.Context,
	pkg string,
	plan models.CodeGenerationPlan,
	entry models.PlannedCodeFile,
	currentContent string,
	request models.FilePatchRequest,
	fileIssues []string,
) (string, error) {
	userPrompt := fmt.Sprintf(
		"%s\n\nPlanned Files:\n%s\n\nDependencies: %s\n\n"+
			"Regenerate this file to address reviewer feedback.\nPath: %s\nPurpose: %s\n\n"+
			"Current File Content:\n%s\n\n"+
			"Reviewer Reason:\n- %s\n\n"+
			"Reviewer Issues For This File:\n%s\n\n"+
			"Reviewer Patch Instructions:\n%s\n\n"+
			"Return only the complete updated file content.",
		pkg, planFileList(plan), planDependencies(plan), entry.Path, entry.Purpose,
		currentContent, request.Reason, bulletList(fileIssues), bulletList(request.Instructions))
	return a.llm.GenerateText(ctx, prompt.ImplementerPatch, userPrompt, 0.1)
}

// fallbackPlan is the deterministic plan used when the LLM cannot produce
// one: the five standard files, plus app/auth.py when the architecture text
// mentions authentication.
func fallbackPlan(architecture *models.SystemArchitecture) models.CodeGenerationPlan {
	var parts []string
	if architecture != nil {
		parts = append(parts, architecture.DesignDocument, architecture.MermaidDiagram)
		parts = append(parts, architecture.Components...)
		parts = append(parts, architecture.EndpointSummary...)
	}
	text := strings.ToLower(strings.Join(parts, " "))
	authRequired := containsAny(text, authKeywords)

	plan := models.CodeGenerationPlan{
		Files: []models.PlannedCodeFile{
			{Path: "app/main.py", Purpose: "FastAPI app entrypoint and router registration"},
			{Path: "app/database.py", Purpose: "SQLModel engine and session dependency"},
			{Path: "app/models.py", Purpose: "SQLModel database models"},
			{Path: "app/schemas.py", Purpose: "Pydantic/SQLModel request and response schemas"},
			{Path: "app/routes.py", Purpose: "API CRUD endpoints and request handling"},
		},
		Dependencies: append([]string(nil), baselineDependencies...),
	}
	if authRequired {
		plan.Files = append(plan.Files, models.PlannedCodeFile{
			Path: "app/auth.py", Purpose: "Authentication helpers and dependencies",
		})
		plan.Dependencies = append(plan.Dependencies, "python-jose[cryptography]", "passlib[bcrypt]")
	}
	return plan
}

// normalizePlan sanitizes paths, enforces the app/ prefix and the file cap,
// re-adds the required files, and guarantees baseline dependencies.
func normalizePlan(plan models.CodeGenerationPlan, architecture *models.SystemArchitecture) models.CodeGenerationPlan {
	fallback := fallbackPlan(architecture)
	fallbackByPath := make(map[string]models.PlannedCodeFile, len(fallback.Files))
	for _, file := range fallback.Files {
		fallbackByPath[file.Path] = file
	}

	var normalized []models.PlannedCodeFile
	seen := make(map[string]struct{})
	for _, entry := range plan.Files {
		path := models.SanitizeRelativePath(entry.Path)
		if path == "" {
			continue
		}
		if _, dup := seen[path]; dup {
			continue
		}
		if !strings.HasPrefix(path, "app/") {
			continue
		}
		purpose := strings.TrimSpace(entry.Purpose)
		if purpose == "" {
			purpose = "Backend source file"
		}
		normalized = append(normalized, models.PlannedCodeFile{Path: path, Purpose: purpose})
		seen[path] = struct{}{}
		if len(normalized) >= maxPlannedFiles {
			break
		}
	}

	for _, required := range requiredPlanPaths {
		if _, ok := seen[required]; !ok {
			normalized = append(normalized, fallbackByPath[required])
			seen[required] = struct{}{}
		}
	}

	designText := ""
	if architecture != nil {
		designText = strings.ToLower(architecture.DesignDocument)
	}
	if _, hasAuth := seen["app/auth.py"]; !hasAuth {
		if authEntry, planned := fallbackByPath["app/auth.py"]; planned &&
			containsAny(designText, []string{"auth", "jwt", "login", "token"}) {
			normalized = append(normalized, authEntry)
		}
	}

	var deps []string
	for _, dep := range plan.Dependencies {
		if trimmed := strings.TrimSpace(dep); trimmed != "" {
			deps = append(deps, trimmed)
		}
	}
	if len(deps) == 0 {
		deps = append(deps, fallback.Dependencies...)
	} else {
		for _, dep := range fallback.Dependencies {
			if !containsString(deps, dep) {
				deps = append(deps, dep)
			}
		}
	}
	return models.CodeGenerationPlan{Files: normalized, Dependencies: deps}
}

// architecturePackage renders the architecture artifact as the shared
// prompt preamble.
func architecturePackage(architecture *models.SystemArchitecture) string {
	if architecture == nil {
		architecture = &models.SystemArchitecture{}
	}
	return fmt.Sprintf(
		"Architecture Package:\n\n"+
			"Design Document (Markdown):\n%s\n\n"+
			"Mermaid Diagram:\n%s\n\n"+
			"Components:\n%s\n\n"+
			"Data Model Summary:\n%s\n\n"+
			"Endpoint Summary:\n%s",
		architecture.DesignDocument,
		architecture.MermaidDiagram,
		bulletList(architecture.Components),
		bulletList(architecture.DataModelSummary),
		bulletList(architecture.EndpointSummary))
}

func planFileList(plan models.CodeGenerationPlan) string {
	lines := make([]string, 0, len(plan.Files))
	for _, file := range plan.Files {
		lines = append(lines, fmt.Sprintf("- %s: %s", file.Path, file.Purpose))
	}
	return strings.Join(lines, "\n")
}

func planDependencies(plan models.CodeGenerationPlan) string {
	if len(plan.Dependencies) == 0 {
		return strings.Join(baselineDependencies, ", ")
	}
	return strings.Join(plan.Dependencies, ", ")
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- (none)"
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "- "+item)
	}
	return strings.Join(lines, "\n")
}

// stripFences removes a leading/trailing markdown fence when the model
// leaked one despite instructions.
func stripFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return content
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return content
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
