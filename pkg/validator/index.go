package validator

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/eb-adutwum/interius/pkg/models"
	"github.com/eb-adutwum/interius/pkg/pysrc"
)

// functionSignature records the callable contract of one top-level function.
type functionSignature struct {
	path              string
	name              string
	keywordParams     map[string]struct{}
	acceptsVarKeyword bool
}

// moduleInfo is the per-module symbol index built during the first pass.
type moduleInfo struct {
	path                  string
	exports               map[string]struct{}
	functions             map[string]*functionSignature
	routerPrefixes        map[string]string
	hasCreateAll          bool
	explicitIndexedFields map[string]struct{}
}

// buildModuleIndex parses every Python file and extracts its exported
// symbols, function signatures, router prefixes, schema-bootstrap calls,
// and explicit Index(...) declarations. Files that fail to parse produce a
// syntax failure and are excluded from the index.
func buildModuleIndex(ctx context.Context, code models.GeneratedCode) (map[string]*moduleInfo, []models.TestFailure) {
	modules := make(map[string]*moduleInfo)
	var failures []models.TestFailure

	for _, codeFile := range code.Files {
		moduleName := pysrc.ModuleName(codeFile.Path)
		if moduleName == "" {
			continue
		}
		file, err := pysrc.Parse(ctx, codeFile.Path, codeFile.Content)
		if err != nil {
			continue
		}
		if synErr := file.SyntaxError(); synErr != nil {
			failures = append(failures, models.TestFailure{
				Check:      models.CheckSyntax,
				Message:    "Syntax error: invalid syntax",
				FilePath:   codeFile.Path,
				LineNumber: models.IntPtr(synErr.Line),
				Patchable:  true,
			})
			file.Close()
			continue
		}

		info := &moduleInfo{
			path:                  codeFile.Path,
			exports:               make(map[string]struct{}),
			functions:             make(map[string]*functionSignature),
			routerPrefixes:        make(map[string]string),
			explicitIndexedFields: make(map[string]struct{}),
		}

		for _, node := range file.TopLevel() {
			switch node.Type() {
			case "function_definition":
				name := file.Text(node.ChildByFieldName("name"))
				info.exports[name] = struct{}{}
				info.functions[name] = extractSignature(file, node, codeFile.Path, name)
			case "class_definition":
				info.exports[file.Text(node.ChildByFieldName("name"))] = struct{}{}
			case "expression_statement":
				indexAssignment(file, node, info)
			}
		}

		pysrc.Walk(file.Root(), func(n *sitter.Node) bool {
			if n.Type() != "call" {
				return true
			}
			if isCreateAllCall(file, n) {
				info.hasCreateAll = true
			}
			if _, callee := file.CallCallee(n); callee == "Index" {
				args := file.PositionalArgs(n)
				for _, arg := range args[min(1, len(args)):] {
					if value, ok := file.StringValue(arg); ok {
						info.explicitIndexedFields[value] = struct{}{}
					}
				}
			}
			return true
		})

		modules[moduleName] = info
		file.Close()
	}

	return modules, failures
}

// indexAssignment records exports from top-level assignments, plus router
// prefixes from `X = APIRouter(prefix="...")` declarations.
func indexAssignment(file *pysrc.File, stmt *sitter.Node, info *moduleInfo) {
	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		assign := stmt.NamedChild(i)
		if assign.Type() != "assignment" {
			continue
		}
		left := assign.ChildByFieldName("left")
		if left == nil || left.Type() != "identifier" {
			continue
		}
		target := file.Text(left)
		info.exports[target] = struct{}{}

		right := assign.ChildByFieldName("right")
		if right == nil || right.Type() != "call" {
			continue
		}
		if _, callee := file.CallCallee(right); callee != "APIRouter" {
			continue
		}
		if prefixNode := file.KeywordValue(right, "prefix"); prefixNode != nil {
			if prefix, ok := file.StringValue(prefixNode); ok {
				info.routerPrefixes[target] = prefix
			}
		}
	}
}

// extractSignature collects a function's accepted keyword-style parameter
// names and whether it takes **kwargs.
func extractSignature(file *pysrc.File, fn *sitter.Node, path, name string) *functionSignature {
	sig := &functionSignature{
		path:          path,
		name:          name,
		keywordParams: make(map[string]struct{}),
	}
	params := fn.ChildByFieldName("parameters")
	if params == nil {
		return sig
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		param := params.NamedChild(i)
		switch param.Type() {
		case "identifier":
			sig.keywordParams[file.Text(param)] = struct{}{}
		case "default_parameter", "typed_default_parameter":
			if nameNode := param.ChildByFieldName("name"); nameNode != nil {
				sig.keywordParams[file.Text(nameNode)] = struct{}{}
			}
		case "typed_parameter":
			if inner := firstIdentifier(param); inner != nil {
				sig.keywordParams[file.Text(inner)] = struct{}{}
			}
		case "list_splat_pattern":
			if inner := firstIdentifier(param); inner != nil {
				sig.keywordParams[file.Text(inner)] = struct{}{}
			}
		case "dictionary_splat_pattern":
			sig.acceptsVarKeyword = true
		}
	}
	return sig
}

func firstIdentifier(n *sitter.Node) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == "identifier" {
			return child
		}
	}
	return nil
}

// isCreateAllCall matches `SQLModel.metadata.create_all(...)`.
func isCreateAllCall(file *pysrc.File, call *sitter.Node) bool {
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

// annotationReferencesName reports whether a type annotation textually
// references the given identifier, e.g. a field `date` annotated `date`.
func annotationReferencesName(file *pysrc.File, annotation *sitter.Node, target string) bool {
	if annotation == nil {
		return false
	}
	found := false
	pysrc.Walk(annotation, func(n *sitter.Node) bool {
		if n.Type() == "identifier" && file.Text(n) == target {
			found = true
			return false
		}
		return !found
	})
	return found
}
