// Package pysrc wraps tree-sitter parsing of generated Python sources.
// The validator and the source normalizer both work on these trees; neither
// ever executes the generated code.
package pysrc

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// File is one parsed Python source file.
type File struct {
	Path   string
	Source []byte
	Tree   *sitter.Tree
}

// SyntaxError locates the first parse error in a file.
type SyntaxError struct {
	Path string
	Line int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: invalid syntax", e.Path, e.Line)
}

// Parse parses Python source. Parsing itself never fails on malformed input;
// use (*File).SyntaxError to detect error nodes in the tree.
func Parse(ctx context.Context, path, content string) (*File, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	src := []byte(content)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &File{Path: path, Source: src, Tree: tree}, nil
}

// Close releases the underlying tree.
func (f *File) Close() {
	if f.Tree != nil {
		f.Tree.Close()
	}
}

// Root returns the module node.
func (f *File) Root() *sitter.Node { return f.Tree.RootNode() }

// Text returns the source text covered by a node.
func (f *File) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(f.Source[n.StartByte():n.EndByte()])
}

// SyntaxError returns the first error in the parse tree, or nil when the
// file parses cleanly.
func (f *File) SyntaxError() *SyntaxError {
	if !f.Root().HasError() {
		return nil
	}
	var found *sitter.Node
	Walk(f.Root(), func(n *sitter.Node) bool {
		if found != nil {
			return false
		}
		if n.Type() == "ERROR" || n.IsMissing() {
			found = n
			return false
		}
		return n.HasError()
	})
	line := 1
	if found != nil {
		line = Line(found)
	}
	return &SyntaxError{Path: f.Path, Line: line}
}

// Line returns the 1-based line of a node.
func Line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// Walk visits every node depth-first. The callback's return controls
// descent into children.
func Walk(n *sitter.Node, fn func(n *sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		Walk(n.Child(i), fn)
	}
}

// TopLevel returns the module's direct named children, unwrapping
// decorated_definition so callers see the definition itself.
func (f *File) TopLevel() []*sitter.Node {
	root := f.Root()
	nodes := make([]*sitter.Node, 0, root.NamedChildCount())
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child.Type() == "decorated_definition" {
			if def := child.ChildByFieldName("definition"); def != nil {
				nodes = append(nodes, def)
				continue
			}
		}
		nodes = append(nodes, child)
	}
	return nodes
}

// ModuleName converts a bundle path like app/routes.py to a dotted module
// name like app.routes. Returns "" for non-Python paths.
func ModuleName(path string) string {
	normalized := strings.TrimLeft(strings.ReplaceAll(strings.TrimSpace(path), "\\", "/"), "/")
	if !strings.HasSuffix(normalized, ".py") {
		return ""
	}
	normalized = strings.TrimSuffix(normalized, ".py")
	normalized = strings.TrimSuffix(normalized, "/__init__")
	return strings.ReplaceAll(normalized, "/", ".")
}

// CallCallee splits a call node's function into (receiver text, attribute
// name) for attribute calls, or ("", name) for plain-name calls.
func (f *File) CallCallee(call *sitter.Node) (receiver, name string) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return "", ""
	}
	switch fn.Type() {
	case "identifier":
		return "", f.Text(fn)
	case "attribute":
		obj := fn.ChildByFieldName("object")
		attr := fn.ChildByFieldName("attribute")
		return f.Text(obj), f.Text(attr)
	}
	return "", ""
}

// KeywordArgs returns the call's keyword argument names in order, including
// duplicates.
func (f *File) KeywordArgs(call *sitter.Node) []string {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	var names []string
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() != "keyword_argument" {
			continue
		}
		if nameNode := arg.ChildByFieldName("name"); nameNode != nil {
			names = append(names, f.Text(nameNode))
		}
	}
	return names
}

// KeywordValue returns the value node of a named keyword argument, or nil.
func (f *File) KeywordValue(call *sitter.Node, keyword string) *sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() != "keyword_argument" {
			continue
		}
		nameNode := arg.ChildByFieldName("name")
		if nameNode != nil && f.Text(nameNode) == keyword {
			return arg.ChildByFieldName("value")
		}
	}
	return nil
}

// PositionalArgs returns the call's positional argument nodes in order.
func (f *File) PositionalArgs(call *sitter.Node) []*sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	var out []*sitter.Node
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		switch arg.Type() {
		case "keyword_argument", "dictionary_splat", "list_splat", "comment":
			continue
		}
		out = append(out, arg)
	}
	return out
}

// StringValue unquotes a Python string literal node. Returns ("", false)
// when the node is not a plain string.
func (f *File) StringValue(n *sitter.Node) (string, bool) {
	if n == nil || n.Type() != "string" {
		return "", false
	}
	raw := f.Text(n)
	for _, quote := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(raw, quote) && strings.HasSuffix(raw, quote) && len(raw) >= 2*len(quote) {
			return raw[len(quote) : len(raw)-len(quote)], true
		}
	}
	// Prefixed strings (f"", r"") are not treated as plain literals.
	return "", false
}
