package normalizer

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/eb-adutwum/interius/pkg/models"
	"github.com/eb-adutwum/interius/pkg/pysrc"
)

// dedupeSchemaBootstrap strips `SQLModel.metadata.create_all(...)` from
// app/main.py when app/database.py already bootstraps the schema. The call
// statement is replaced with `pass` so enclosing bodies stay valid.
func dedupeSchemaBootstrap(ctx context.Context, code *models.GeneratedCode) {
	if !hasCreateAll(ctx, code.File("app/database.py")) {
		return
	}
	main := code.File("app/main.py")
	if main == nil || !hasCreateAll(ctx, main) {
		return
	}

	file, err := pysrc.Parse(ctx, main.Path, main.Content)
	if err != nil {
		return
	}
	defer file.Close()

	var edits []edit
	pysrc.Walk(file.Root(), func(n *sitter.Node) bool {
		if n.Type() != "expression_statement" {
			return true
		}
		found := false
		pysrc.Walk(n, func(inner *sitter.Node) bool {
			if inner.Type() == "call" && isCreateAll(file, inner) {
				found = true
			}
			return !found
		})
		if found {
			edits = append(edits, edit{n.StartByte(), n.EndByte(), "pass"})
			return false
		}
		return true
	})
	main.Content = guardParse(ctx, main.Path, main.Content, splice(main.Content, edits))
}

// dedupeRouterPrefixes removes the `prefix=` keyword from include_router
// calls in app/main.py when the router declares the same prefix itself,
// which would otherwise double every route path.
func dedupeRouterPrefixes(ctx context.Context, code *models.GeneratedCode) {
	prefixes := collectRouterPrefixes(ctx, code)
	if len(prefixes) == 0 {
		return
	}
	main := code.File("app/main.py")
	if main == nil {
		return
	}
	file, err := pysrc.Parse(ctx, main.Path, main.Content)
	if err != nil {
		return
	}
	defer file.Close()

	var edits []edit
	pysrc.Walk(file.Root(), func(n *sitter.Node) bool {
		if n.Type() != "call" {
			return true
		}
		recv, callee := file.CallCallee(n)
		if callee != "include_router" || recv == "" {
			return true
		}
		kw := keywordNode(file, n, "prefix")
		if kw == nil {
			return true
		}
		includePrefix, ok := file.StringValue(kw.ChildByFieldName("value"))
		if !ok || includePrefix == "" {
			return true
		}
		args := file.PositionalArgs(n)
		if len(args) == 0 {
			return true
		}
		if declared, ok := prefixes[routerArgName(file, args[0])]; ok && declared == includePrefix {
			edits = append(edits, removeArgument(n.ChildByFieldName("arguments"), kw))
		}
		return true
	})
	main.Content = guardParse(ctx, main.Path, main.Content, splice(main.Content, edits))
}

// collectRouterPrefixes maps router variable names to their declared
// APIRouter prefix across the whole bundle.
func collectRouterPrefixes(ctx context.Context, code *models.GeneratedCode) map[string]string {
	prefixes := make(map[string]string)
	for _, codeFile := range code.Files {
		if pysrc.ModuleName(codeFile.Path) == "" {
			continue
		}
		file, err := pysrc.Parse(ctx, codeFile.Path, codeFile.Content)
		if err != nil {
			continue
		}
		for _, node := range file.TopLevel() {
			if node.Type() != "expression_statement" {
				continue
			}
			for i := 0; i < int(node.NamedChildCount()); i++ {
				assign := node.NamedChild(i)
				if assign.Type() != "assignment" {
					continue
				}
				left := assign.ChildByFieldName("left")
				right := assign.ChildByFieldName("right")
				if left == nil || right == nil || left.Type() != "identifier" || right.Type() != "call" {
					continue
				}
				if _, callee := file.CallCallee(right); callee != "APIRouter" {
					continue
				}
				if prefix, ok := file.StringValue(file.KeywordValue(right, "prefix")); ok && prefix != "" {
					prefixes[file.Text(left)] = prefix
				}
			}
		}
		file.Close()
	}
	return prefixes
}

// routerArgName extracts the router variable name from the first
// include_router argument, handling both `router` and `routes.router`.
func routerArgName(file *pysrc.File, arg *sitter.Node) string {
	switch arg.Type() {
	case "identifier":
		return file.Text(arg)
	case "attribute":
		return file.Text(arg.ChildByFieldName("attribute"))
	}
	return ""
}

func hasCreateAll(ctx context.Context, codeFile *models.CodeFile) bool {
	if codeFile == nil {
		return false
	}
	file, err := pysrc.Parse(ctx, codeFile.Path, codeFile.Content)
	if err != nil {
		return false
	}
	defer file.Close()
	found := false
	pysrc.Walk(file.Root(), func(n *sitter.Node) bool {
		if n.Type() == "call" && isCreateAll(file, n) {
			found = true
		}
		return !found
	})
	return found
}

// isCreateAll matches `SQLModel.metadata.create_all(...)`.
func isCreateAll(file *pysrc.File, call *sitter.Node) bool {
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != "attribute" {
		return false
	}
	if file.Text(fn.ChildByFieldName("attribute")) != "create_all" {
		return false
	}
	obj := fn.ChildByFieldName("object")
	if obj == nil || obj.Type() != "attribute" {
		return false
	}
	return file.Text(obj.ChildByFieldName("attribute")) == "metadata" &&
		file.Text(obj.ChildByFieldName("object")) == "SQLModel"
}
