package normalizer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/eb-adutwum/interius/pkg/pysrc"
)

var datetimeNames = map[string]struct{}{"date": {}, "time": {}, "datetime": {}}

// aliasDatetimeCollisions rewrites `from datetime import date` to
// `date as date_type` when a model field is itself named `date`, then
// renames every bare type use accordingly. Pydantic cannot resolve an
// annotation that shadows its own field name.
func aliasDatetimeCollisions(ctx context.Context, path, source string) string {
	file, err := pysrc.Parse(ctx, path, source)
	if err != nil {
		return source
	}
	defer file.Close()

	// Bare datetime-family imports, keyed by name.
	importedNodes := make(map[string]*sitter.Node)
	var importRanges [][2]uint32
	root := file.Root()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		if stmt.Type() != "import_from_statement" && stmt.Type() != "import_statement" {
			continue
		}
		importRanges = append(importRanges, [2]uint32{stmt.StartByte(), stmt.EndByte()})
		if stmt.Type() != "import_from_statement" {
			continue
		}
		moduleNode := stmt.ChildByFieldName("module_name")
		if moduleNode == nil || file.Text(moduleNode) != "datetime" {
			continue
		}
		for j := 0; j < int(stmt.NamedChildCount()); j++ {
			child := stmt.NamedChild(j)
			if child.StartByte() == moduleNode.StartByte() {
				continue
			}
			if child.Type() != "dotted_name" && child.Type() != "identifier" {
				continue
			}
			name := file.Text(child)
			if _, ok := datetimeNames[name]; ok {
				importedNodes[name] = child
			}
		}
	}
	if len(importedNodes) == 0 {
		return source
	}

	// A collision is a field annotated with its own name: `date: date = ...`.
	colliding := make(map[string]struct{})
	pysrc.Walk(root, func(n *sitter.Node) bool {
		if n.Type() != "assignment" {
			return true
		}
		left := n.ChildByFieldName("left")
		annotation := n.ChildByFieldName("type")
		if left == nil || annotation == nil || left.Type() != "identifier" {
			return true
		}
		name := file.Text(left)
		if _, imported := importedNodes[name]; !imported {
			return true
		}
		referenced := false
		pysrc.Walk(annotation, func(a *sitter.Node) bool {
			if a.Type() == "identifier" && file.Text(a) == name {
				referenced = true
			}
			return !referenced
		})
		if referenced {
			colliding[name] = struct{}{}
		}
		return true
	})
	if len(colliding) == 0 {
		return source
	}

	inImport := func(n *sitter.Node) bool {
		for _, r := range importRanges {
			if n.StartByte() >= r[0] && n.EndByte() <= r[1] {
				return true
			}
		}
		return false
	}

	var edits []edit
	for name := range colliding {
		node := importedNodes[name]
		edits = append(edits, edit{node.StartByte(), node.EndByte(), name + " as " + name + "_type"})
	}
	pysrc.Walk(root, func(n *sitter.Node) bool {
		if n.Type() != "identifier" {
			return true
		}
		name := file.Text(n)
		if _, ok := colliding[name]; !ok {
			return true
		}
		if inImport(n) || isAttributeName(n) || isKeywordName(n) || isAssignLeft(n) {
			return true
		}
		edits = append(edits, edit{n.StartByte(), n.EndByte(), name + "_type"})
		return true
	})
	return splice(source, edits)
}

// rewriteFieldArguments fixes SQLModel Field calls: `pattern=` becomes
// `regex=`, and when `sa_column=Column(...)` is present the column owns the
// schema flags, so `nullable=` is dropped and `foreign_key`/`primary_key`/
// `index` move into the Column constructor.
func rewriteFieldArguments(ctx context.Context, path, source string) string {
	file, err := pysrc.Parse(ctx, path, source)
	if err != nil {
		return source
	}
	defer file.Close()

	var edits []edit
	needsForeignKeyImport := false

	pysrc.Walk(file.Root(), func(n *sitter.Node) bool {
		if n.Type() != "call" {
			return true
		}
		if _, callee := file.CallCallee(n); callee != "Field" {
			return true
		}
		args := n.ChildByFieldName("arguments")
		if args == nil {
			return true
		}

		if nameNode := keywordNameNode(file, n, "pattern"); nameNode != nil {
			edits = append(edits, edit{nameNode.StartByte(), nameNode.EndByte(), "regex"})
		}

		saColumn := file.KeywordValue(n, "sa_column")
		if saColumn == nil {
			return true
		}
		var columnArgs *sitter.Node
		if saColumn.Type() == "call" {
			if _, callee := file.CallCallee(saColumn); callee == "Column" {
				columnArgs = saColumn.ChildByFieldName("arguments")
			}
		}

		if kw := keywordNode(file, n, "nullable"); kw != nil {
			edits = append(edits, removeArgument(args, kw))
		}
		if kw := keywordNode(file, n, "foreign_key"); kw != nil && columnArgs != nil {
			target := file.KeywordValue(n, "foreign_key")
			edits = append(edits, removeArgument(args, kw))
			if anchor := firstPositional(file, saColumn); anchor != nil {
				edits = append(edits, edit{anchor.EndByte(), anchor.EndByte(), ", ForeignKey(" + file.Text(target) + ")"})
				needsForeignKeyImport = true
			}
		}
		for _, flag := range []string{"primary_key", "index"} {
			kw := keywordNode(file, n, flag)
			if kw == nil || columnArgs == nil {
				continue
			}
			edits = append(edits, removeArgument(args, kw))
			if anchor := firstPositional(file, saColumn); anchor != nil {
				edits = append(edits, edit{anchor.EndByte(), anchor.EndByte(), ", " + file.Text(kw)})
			}
		}
		return true
	})

	if needsForeignKeyImport {
		edits = append(edits, ensureSQLAlchemyImport(file, "ForeignKey")...)
	}
	return splice(source, edits)
}

// removeDuplicateFieldIndexes drops `index=True` from a Field when the
// module already declares an explicit Index(...) for the same column.
// Creating the same index twice fails at startup.
func removeDuplicateFieldIndexes(ctx context.Context, path, source string) string {
	file, err := pysrc.Parse(ctx, path, source)
	if err != nil {
		return source
	}
	defer file.Close()

	explicit := make(map[string]struct{})
	pysrc.Walk(file.Root(), func(n *sitter.Node) bool {
		if n.Type() != "call" {
			return true
		}
		if _, callee := file.CallCallee(n); callee != "Index" {
			return true
		}
		args := file.PositionalArgs(n)
		if len(args) < 2 {
			return true
		}
		for _, arg := range args[1:] {
			if value, ok := file.StringValue(arg); ok {
				explicit[value] = struct{}{}
			}
		}
		return true
	})
	if len(explicit) == 0 {
		return source
	}

	var edits []edit
	pysrc.Walk(file.Root(), func(n *sitter.Node) bool {
		if n.Type() != "assignment" {
			return true
		}
		left := n.ChildByFieldName("left")
		right := n.ChildByFieldName("right")
		if left == nil || right == nil || left.Type() != "identifier" || right.Type() != "call" {
			return true
		}
		if _, indexed := explicit[file.Text(left)]; !indexed {
			return true
		}
		if _, callee := file.CallCallee(right); callee != "Field" {
			return true
		}
		if kw := keywordNode(file, right, "index"); kw != nil {
			edits = append(edits, removeArgument(right.ChildByFieldName("arguments"), kw))
		}
		return true
	})
	return splice(source, edits)
}

var keywordOnlyAccessToken = regexp.MustCompile(`def\s+create_access_token\s*\(\s*\*`)

// addAuthCompatibilityAliases appends the aliases generated route code
// commonly expects from app/auth.py: get_password_hash, current_user, and a
// positional-call-tolerant create_access_token wrapper.
func addAuthCompatibilityAliases(ctx context.Context, path, source string) string {
	if path != "app/auth.py" {
		return source
	}
	file, err := pysrc.Parse(ctx, path, source)
	if err != nil {
		return source
	}
	functions, assigned := topLevelNames(file)
	file.Close()

	has := func(name string) bool {
		if _, ok := functions[name]; ok {
			return true
		}
		_, ok := assigned[name]
		return ok
	}

	out := source
	var appends []string
	if _, ok := functions["hash_password"]; ok && !has("get_password_hash") {
		appends = append(appends, "get_password_hash = hash_password")
	}
	if _, ok := functions["get_current_user"]; ok && !has("current_user") {
		appends = append(appends, "current_user = get_current_user")
	}
	if _, ok := functions["create_access_token"]; ok &&
		keywordOnlyAccessToken.MatchString(out) &&
		!strings.Contains(out, "_sandbox_create_access_token_impl") {
		out = strings.Replace(out, "def create_access_token(", "def _sandbox_create_access_token_impl(", 1)
		appends = append(appends,
			"def create_access_token(subject=None, expires_delta=None):\n"+
				"    if subject is None:\n"+
				"        raise ValueError(\"create_access_token requires a subject\")\n"+
				"    return _sandbox_create_access_token_impl(subject=subject, expires_delta=expires_delta)")
	}
	if len(appends) == 0 {
		return out
	}
	return strings.TrimRight(out, "\n") + "\n\n\n" + strings.Join(appends, "\n\n\n") + "\n"
}

// exportRouterListAggregate gives app/routes.py an importable api_router
// when the generated module only exposes a router_list.
func exportRouterListAggregate(ctx context.Context, path, source string) string {
	if path != "app/routes.py" {
		return source
	}
	file, err := pysrc.Parse(ctx, path, source)
	if err != nil {
		return source
	}
	_, assigned := topLevelNames(file)
	file.Close()

	if _, ok := assigned["router_list"]; !ok {
		return source
	}
	if _, ok := assigned["api_router"]; ok {
		return source
	}
	if !strings.Contains(source, "APIRouter") {
		return source
	}
	aggregate := "api_router = APIRouter()\n" +
		"for _router in router_list:\n" +
		"    api_router.include_router(_router)\n\n\n" +
		"def get_router():\n" +
		"    return api_router\n"
	return strings.TrimRight(source, "\n") + "\n\n\n" + aggregate
}

// --- node helpers ---

func isAttributeName(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil || parent.Type() != "attribute" {
		return false
	}
	attr := parent.ChildByFieldName("attribute")
	return attr != nil && attr.StartByte() == n.StartByte()
}

func isKeywordName(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil || parent.Type() != "keyword_argument" {
		return false
	}
	name := parent.ChildByFieldName("name")
	return name != nil && name.StartByte() == n.StartByte()
}

func isAssignLeft(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil || parent.Type() != "assignment" {
		return false
	}
	left := parent.ChildByFieldName("left")
	return left != nil && left.StartByte() == n.StartByte()
}

// keywordNode returns the keyword_argument node with the given name.
func keywordNode(file *pysrc.File, call *sitter.Node, keyword string) *sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() != "keyword_argument" {
			continue
		}
		if name := arg.ChildByFieldName("name"); name != nil && file.Text(name) == keyword {
			return arg
		}
	}
	return nil
}

// keywordNameNode returns the name node of a keyword argument.
func keywordNameNode(file *pysrc.File, call *sitter.Node, keyword string) *sitter.Node {
	if kw := keywordNode(file, call, keyword); kw != nil {
		return kw.ChildByFieldName("name")
	}
	return nil
}

func firstPositional(file *pysrc.File, call *sitter.Node) *sitter.Node {
	args := file.PositionalArgs(call)
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

// removeArgument produces the edit deleting one argument together with the
// comma separating it from its neighbor.
func removeArgument(args *sitter.Node, target *sitter.Node) edit {
	var prev, next *sitter.Node
	for i := 0; i < int(args.NamedChildCount()); i++ {
		child := args.NamedChild(i)
		if child.StartByte() == target.StartByte() {
			if i+1 < int(args.NamedChildCount()) {
				next = args.NamedChild(i + 1)
			}
			break
		}
		prev = child
	}
	switch {
	case prev != nil:
		return edit{prev.EndByte(), target.EndByte(), ""}
	case next != nil:
		return edit{target.StartByte(), next.StartByte(), ""}
	default:
		return edit{target.StartByte(), target.EndByte(), ""}
	}
}

// ensureSQLAlchemyImport extends (or creates) the sqlalchemy import line.
func ensureSQLAlchemyImport(file *pysrc.File, symbol string) []edit {
	root := file.Root()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		if stmt.Type() != "import_from_statement" {
			continue
		}
		moduleNode := stmt.ChildByFieldName("module_name")
		if moduleNode == nil || file.Text(moduleNode) != "sqlalchemy" {
			continue
		}
		if strings.Contains(file.Text(stmt), symbol) {
			return nil
		}
		return []edit{{stmt.EndByte(), stmt.EndByte(), ", " + symbol}}
	}
	return []edit{{0, 0, fmt.Sprintf("from sqlalchemy import %s\n", symbol)}}
}

// topLevelNames returns the module's top-level function names and assigned
// names.
func topLevelNames(file *pysrc.File) (functions, assigned map[string]struct{}) {
	functions = make(map[string]struct{})
	assigned = make(map[string]struct{})
	for _, node := range file.TopLevel() {
		switch node.Type() {
		case "function_definition":
			functions[file.Text(node.ChildByFieldName("name"))] = struct{}{}
		case "expression_statement":
			for i := 0; i < int(node.NamedChildCount()); i++ {
				child := node.NamedChild(i)
				if child.Type() != "assignment" {
					continue
				}
				if left := child.ChildByFieldName("left"); left != nil && left.Type() == "identifier" {
					assigned[file.Text(left)] = struct{}{}
				}
			}
		}
	}
	return functions, assigned
}
