// Package normalizer stabilizes known LLM output footguns in generated
// Python sources before they reach the sandbox. Every rewrite is
// conservative: it must not change semantics for valid code, it is
// idempotent, and any rewrite that would break parsing is discarded.
package normalizer

import (
	"context"
	"sort"
	"strings"

	"github.com/eb-adutwum/interius/pkg/models"
	"github.com/eb-adutwum/interius/pkg/pysrc"
)

// NormalizeBundle returns a normalized copy of the bundle: per-file rewrites
// first, then the cross-file passes (schema-bootstrap dedupe, router-prefix
// dedupe) and the exceptions-module synthesis.
func NormalizeBundle(ctx context.Context, code models.GeneratedCode) models.GeneratedCode {
	out := models.GeneratedCode{
		Files:        make([]models.CodeFile, len(code.Files)),
		Dependencies: append([]string(nil), code.Dependencies...),
	}
	copy(out.Files, code.Files)

	for i := range out.Files {
		if strings.HasSuffix(out.Files[i].Path, ".py") {
			out.Files[i].Content = NormalizeFile(ctx, out.Files[i].Path, out.Files[i].Content)
		}
	}

	dedupeSchemaBootstrap(ctx, &out)
	dedupeRouterPrefixes(ctx, &out)
	ensureExceptionsModule(&out)
	return out
}

// NormalizeFile applies the per-file rewrites in order, discarding any step
// whose output no longer parses.
func NormalizeFile(ctx context.Context, path, source string) string {
	steps := []func(ctx context.Context, path, source string) string{
		aliasDatetimeCollisions,
		rewriteFieldArguments,
		removeDuplicateFieldIndexes,
		addAuthCompatibilityAliases,
		exportRouterListAggregate,
	}
	current := source
	for _, step := range steps {
		current = guardParse(ctx, path, current, step(ctx, path, current))
	}
	return current
}

// guardParse keeps a rewrite only when its output still parses.
func guardParse(ctx context.Context, path, current, candidate string) string {
	if candidate == current {
		return current
	}
	file, err := pysrc.Parse(ctx, path, candidate)
	if err != nil {
		return current
	}
	defer file.Close()
	if file.SyntaxError() != nil {
		return current
	}
	return candidate
}

// edit is one byte-range replacement against the original source.
type edit struct {
	start, end uint32
	text       string
}

// splice applies non-overlapping edits, last-to-first so earlier offsets
// stay valid.
func splice(source string, edits []edit) string {
	if len(edits) == 0 {
		return source
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	out := source
	for _, e := range edits {
		out = out[:e.start] + e.text + out[e.end:]
	}
	return out
}

const exceptionsModule = `"""Shared application exceptions."""


class AppError(Exception):
    """Base class for application errors."""


class NotFoundError(AppError):
    pass


class ConflictError(AppError):
    pass


class UnauthorizedError(AppError):
    pass


class ForbiddenError(AppError):
    pass


class ValidationFailedError(AppError):
    pass
`

// ensureExceptionsModule adds app/exceptions.py when the bundle lacks it.
// Generated code routinely imports from it without generating it.
func ensureExceptionsModule(code *models.GeneratedCode) {
	if code.File("app/exceptions.py") != nil {
		return
	}
	code.Files = append(code.Files, models.CodeFile{
		Path:    "app/exceptions.py",
		Content: exceptionsModule,
	})
}
