// Package validator performs whole-bundle static consistency checks over
// generated Python sources: cross-file symbol resolution, function-contract
// verification, ORM misuse detection, and duplicate schema bootstraps.
// Its verdict carries no subjective judgment; it is merged into the
// reviewer's report and forces rejection whenever a failure exists.
package validator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/eb-adutwum/interius/pkg/models"
	"github.com/eb-adutwum/interius/pkg/pysrc"
)

// PatchReason is the reason attached to every validator-synthesized patch
// request.
const PatchReason = "Deterministic validator found unresolved imports or incompatible function contracts"

// Validate runs the two-pass static analysis and returns an import_smoke
// test report. It never executes the generated code and never errors; parse
// failures surface as syntax failures in the report.
func Validate(ctx context.Context, code models.GeneratedCode) models.TestRunReport {
	modules, failures := buildModuleIndex(ctx, code)

	dependencies := make(map[string]struct{})
	for _, dep := range code.Dependencies {
		if trimmed := strings.TrimSpace(dep); trimmed != "" {
			dependencies[trimmed] = struct{}{}
		}
	}

	for _, codeFile := range code.Files {
		moduleName := pysrc.ModuleName(codeFile.Path)
		if moduleName == "" {
			continue
		}
		info, ok := modules[moduleName]
		if !ok {
			continue // syntax failure already recorded
		}
		file, err := pysrc.Parse(ctx, codeFile.Path, codeFile.Content)
		if err != nil {
			continue
		}
		checker := &fileChecker{
			file:         file,
			path:         codeFile.Path,
			module:       info,
			modules:      modules,
			dependencies: dependencies,
		}
		failures = append(failures, checker.run()...)
		file.Close()
	}

	failures = append(failures, checkDuplicateBootstrap(modules)...)
	failures = dedupeFailures(failures)

	return models.TestRunReport{
		Passed:        len(failures) == 0,
		ChecksRun:     []string{models.CheckSyntax, models.CheckImportSmoke},
		Failures:      failures,
		Warnings:      []string{},
		PatchRequests: synthesizePatchRequests(failures),
	}
}

// fileChecker holds the per-file usage-pass state.
type fileChecker struct {
	file         *pysrc.File
	path         string
	module       *moduleInfo
	modules      map[string]*moduleInfo
	dependencies map[string]struct{}

	// import bindings
	moduleAliases         map[string]string   // local name -> dotted module
	directImports         map[string][2]string // local name -> (module, symbol)
	sqlmodelFieldSymbols  map[string]struct{}
	sqlmodelModuleAliases map[string]struct{}

	failures []models.TestFailure
}

func (c *fileChecker) run() []models.TestFailure {
	c.moduleAliases = make(map[string]string)
	c.directImports = make(map[string][2]string)
	c.sqlmodelFieldSymbols = make(map[string]struct{})
	c.sqlmodelModuleAliases = make(map[string]struct{})

	c.collectImports()
	c.checkTableClasses()
	c.walkUsages()
	c.checkEmailStr()
	return c.failures
}

func (c *fileChecker) fail(message string, line int) {
	failure := models.TestFailure{
		Check:     models.CheckImportSmoke,
		Message:   message,
		FilePath:  c.path,
		Patchable: true,
	}
	if line > 0 {
		failure.LineNumber = models.IntPtr(line)
	}
	c.failures = append(c.failures, failure)
}

// collectImports builds the file's import bindings, distinguishing module
// aliases from direct symbol imports, and flags direct imports of symbols
// the target module does not export.
func (c *fileChecker) collectImports() {
	root := c.file.Root()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		switch stmt.Type() {
		case "import_statement":
			c.collectPlainImport(stmt)
		case "import_from_statement":
			c.collectFromImport(stmt)
		}
	}
}

func (c *fileChecker) collectPlainImport(stmt *sitter.Node) {
	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		child := stmt.NamedChild(i)
		var name, alias string
		switch child.Type() {
		case "dotted_name":
			// `import app.x` is referenced as `app.x.Sym`, so the binding
			// key is the full dotted path.
			name = c.file.Text(child)
			alias = name
		case "aliased_import":
			name = c.file.Text(child.ChildByFieldName("name"))
			alias = c.file.Text(child.ChildByFieldName("alias"))
		default:
			continue
		}
		if name == "sqlmodel" {
			c.sqlmodelModuleAliases[alias] = struct{}{}
		}
		if strings.HasPrefix(name, "app.") {
			if _, ok := c.modules[name]; ok {
				c.moduleAliases[alias] = name
			}
		}
	}
}

func (c *fileChecker) collectFromImport(stmt *sitter.Node) {
	moduleNode := stmt.ChildByFieldName("module_name")
	if moduleNode == nil {
		return
	}
	sourceModule := c.file.Text(moduleNode)

	type importedName struct{ name, alias string }
	var names []importedName
	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		child := stmt.NamedChild(i)
		if sameNode(child, moduleNode) {
			continue
		}
		switch child.Type() {
		case "dotted_name", "identifier":
			text := c.file.Text(child)
			names = append(names, importedName{name: text, alias: text})
		case "aliased_import":
			names = append(names, importedName{
				name:  c.file.Text(child.ChildByFieldName("name")),
				alias: c.file.Text(child.ChildByFieldName("alias")),
			})
		case "wildcard_import":
			return
		}
	}

	if sourceModule == "sqlmodel" {
		for _, n := range names {
			if n.name == "Field" {
				c.sqlmodelFieldSymbols[n.alias] = struct{}{}
			}
		}
	}
	if !strings.HasPrefix(sourceModule, "app") {
		return
	}

	if target, ok := c.modules[sourceModule]; ok {
		for _, n := range names {
			if _, exported := target.exports[n.name]; !exported {
				c.fail(fmt.Sprintf("Imported symbol `%s` does not exist in `%s`.", n.name, sourceModule), pysrc.Line(stmt))
			}
			c.directImports[n.alias] = [2]string{sourceModule, n.name}
		}
		return
	}
	// `from app import routes` style: the imported names may be modules.
	for _, n := range names {
		candidate := sourceModule + "." + n.name
		if _, ok := c.modules[candidate]; ok {
			c.moduleAliases[n.alias] = candidate
		}
	}
}

// checkTableClasses verifies every `table=True` model declares a primary
// key through at least one Field(..., primary_key=True).
func (c *fileChecker) checkTableClasses() {
	for _, node := range c.file.TopLevel() {
		if node.Type() != "class_definition" {
			continue
		}
		if !c.classHasTableTrue(node) {
			continue
		}
		body := node.ChildByFieldName("body")
		if body == nil {
			continue
		}
		hasPrimaryKey := false
		for i := 0; i < int(body.NamedChildCount()); i++ {
			stmt := body.NamedChild(i)
			assign := childAssignment(stmt)
			if assign == nil {
				continue
			}
			right := assign.ChildByFieldName("right")
			if right == nil || right.Type() != "call" || !c.isFieldCall(right) {
				continue
			}
			if value := c.file.KeywordValue(right, "primary_key"); value != nil && c.file.Text(value) == "True" {
				hasPrimaryKey = true
				break
			}
		}
		if !hasPrimaryKey {
			className := c.file.Text(node.ChildByFieldName("name"))
			c.fail(fmt.Sprintf(
				"SQLModel table `%s` is missing a primary key. Add `primary_key=True` to at least one `Field(...)`.",
				className), pysrc.Line(node))
		}
	}
}

func (c *fileChecker) classHasTableTrue(class *sitter.Node) bool {
	superclasses := class.ChildByFieldName("superclasses")
	if superclasses == nil {
		return false
	}
	for i := 0; i < int(superclasses.NamedChildCount()); i++ {
		arg := superclasses.NamedChild(i)
		if arg.Type() != "keyword_argument" {
			continue
		}
		name := c.file.Text(arg.ChildByFieldName("name"))
		value := c.file.Text(arg.ChildByFieldName("value"))
		if name == "table" && value == "True" {
			return true
		}
	}
	return false
}

// walkUsages performs the main AST walk: attribute reads against module
// aliases, local-function call contracts, ORM result-handling patterns,
// Field keyword rules, and duplicated router prefixes.
func (c *fileChecker) walkUsages() {
	pysrc.Walk(c.file.Root(), func(n *sitter.Node) bool {
		switch n.Type() {
		case "assignment":
			c.checkAnnotatedAssignment(n)
		case "attribute":
			c.checkModuleAttribute(n)
		case "call":
			c.checkCall(n)
		case "subscript":
			c.checkScalarSubscript(n)
		}
		return true
	})
}

// checkAnnotatedAssignment flags fields whose name collides with their own
// type annotation (a Pydantic startup failure, e.g. `date: date`).
func (c *fileChecker) checkAnnotatedAssignment(assign *sitter.Node) {
	left := assign.ChildByFieldName("left")
	annotation := assign.ChildByFieldName("type")
	if left == nil || annotation == nil || left.Type() != "identifier" {
		return
	}
	target := c.file.Text(left)
	if annotationReferencesName(c.file, annotation, target) {
		c.fail(fmt.Sprintf(
			"Field name `%s` clashes with its type annotation. Alias imported datetime-like types (for example `date as date_type`) or rename the field to avoid Pydantic startup failures.",
			target), pysrc.Line(assign))
	}
}

// checkModuleAttribute verifies `module.Attr` reads resolve to exported
// symbols of the aliased local module.
func (c *fileChecker) checkModuleAttribute(attr *sitter.Node) {
	obj := attr.ChildByFieldName("object")
	if obj == nil || (obj.Type() != "identifier" && obj.Type() != "attribute") {
		return
	}
	targetModule, ok := c.moduleAliases[c.file.Text(obj)]
	if !ok {
		return
	}
	if isAssignmentTarget(attr) || isCallFunction(attr) {
		return // writes, and call callees handled by the contract check
	}
	info := c.modules[targetModule]
	if info == nil {
		return
	}
	name := c.file.Text(attr.ChildByFieldName("attribute"))
	if _, exported := info.exports[name]; !exported {
		c.fail(fmt.Sprintf("Attribute reference uses missing symbol `%s.%s`.", targetModule, name), pysrc.Line(attr))
	}
}

func (c *fileChecker) checkCall(call *sitter.Node) {
	recv, callee := c.file.CallCallee(call)

	if callee == "include_router" && recv != "" {
		c.checkIncludeRouter(call)
	}
	if callee == "scalar_one" {
		c.checkScalarOne(call)
	}
	if c.isFieldCall(call) {
		c.checkFieldCall(call)
	}
	c.checkLocalFunctionCall(call, recv, callee)
}

// checkIncludeRouter flags `app.include_router(R, prefix=P)` when R already
// declares the same non-root prefix.
func (c *fileChecker) checkIncludeRouter(call *sitter.Node) {
	prefixNode := c.file.KeywordValue(call, "prefix")
	includePrefix, ok := c.file.StringValue(prefixNode)
	if !ok || includePrefix == "" {
		return
	}
	args := c.file.PositionalArgs(call)
	if len(args) == 0 {
		return
	}
	routerPrefix := c.resolveRouterPrefix(args[0])
	if routerPrefix != "" && routerPrefix == includePrefix && includePrefix != "/" {
		c.fail(fmt.Sprintf(
			"Router prefix is duplicated: `%s` is declared both in the router and in `include_router(...)`. Keep the prefix in exactly one place.",
			routerPrefix), pysrc.Line(call))
	}
}

func (c *fileChecker) resolveRouterPrefix(routerArg *sitter.Node) string {
	switch routerArg.Type() {
	case "attribute":
		obj := routerArg.ChildByFieldName("object")
		if obj == nil {
			return ""
		}
		targetModule, ok := c.moduleAliases[c.file.Text(obj)]
		if !ok {
			return ""
		}
		if info := c.modules[targetModule]; info != nil {
			return info.routerPrefixes[c.file.Text(routerArg.ChildByFieldName("attribute"))]
		}
	case "identifier":
		ref, ok := c.directImports[c.file.Text(routerArg)]
		if !ok {
			return ""
		}
		if info := c.modules[ref[0]]; info != nil {
			return info.routerPrefixes[ref[1]]
		}
	}
	return ""
}

// checkScalarOne flags `session.exec(...).scalar_one()`, which the sandbox
// runtime's SQLModel result type does not support.
func (c *fileChecker) checkScalarOne(call *sitter.Node) {
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != "attribute" {
		return
	}
	execCall := fn.ChildByFieldName("object")
	if execCall == nil || execCall.Type() != "call" {
		return
	}
	if _, inner := c.file.CallCallee(execCall); inner == "exec" {
		c.fail("SQLModel result handling uses `session.exec(...).scalar_one()`, which is incompatible with the sandbox runtime. Use a supported pattern such as `.one()`, `.first()`, or `.one_or_none()` depending on intent.", pysrc.Line(call))
	}
}

// checkScalarSubscript flags `.one()[0]` / `.first()[0]` on exec results,
// which raises TypeError on scalar selects.
func (c *fileChecker) checkScalarSubscript(subscript *sitter.Node) {
	value := subscript.ChildByFieldName("value")
	if value == nil || value.Type() != "call" {
		return
	}
	_, callee := c.file.CallCallee(value)
	if callee != "one" && callee != "first" {
		return
	}
	fn := value.ChildByFieldName("function")
	if fn == nil || fn.Type() != "attribute" {
		return
	}
	execCall := fn.ChildByFieldName("object")
	if execCall == nil || execCall.Type() != "call" {
		return
	}
	if _, inner := c.file.CallCallee(execCall); inner == "exec" {
		c.fail("Calling `.one()[0]` or `.first()[0]` on `session.exec(...)` result throws a TypeError when selecting single scalar columns like `func.count()`. Omit the `[0]` subscript.", pysrc.Line(subscript))
	}
}

// isFieldCall reports whether a call is SQLModel's Field constructor, either
// directly imported or referenced through a sqlmodel module alias.
func (c *fileChecker) isFieldCall(call *sitter.Node) bool {
	recv, callee := c.file.CallCallee(call)
	if recv == "" {
		_, ok := c.sqlmodelFieldSymbols[callee]
		return ok
	}
	if callee != "Field" {
		return false
	}
	_, ok := c.sqlmodelModuleAliases[recv]
	return ok
}

// checkFieldCall enforces the Field keyword rules: no duplicates, no
// `pattern`, no primary_key/index/foreign_key alongside sa_column, and no
// `index=True` when the module also declares an explicit Index for the
// same column.
func (c *fileChecker) checkFieldCall(call *sitter.Node) {
	line := pysrc.Line(call)
	seen := make(map[string]struct{})
	for _, kw := range c.file.KeywordArgs(call) {
		if _, dup := seen[kw]; dup {
			c.fail(fmt.Sprintf("SQLModel Field declares keyword argument `%s` multiple times. A keyword argument cannot be repeated.", kw), line)
		}
		seen[kw] = struct{}{}
	}

	has := func(name string) bool { _, ok := seen[name]; return ok }

	if has("pattern") {
		c.fail("SQLModel Field uses unsupported keyword `pattern`; use `regex` instead.", line)
	}
	if has("primary_key") && has("sa_column") {
		c.fail("SQLModel Field cannot declare both `primary_key` and `sa_column`; move `primary_key=True` into the SQLAlchemy Column.", line)
	}
	if has("index") && has("sa_column") {
		c.fail("SQLModel Field cannot declare both `index` and `sa_column`; move `index=True` into the SQLAlchemy Column.", line)
	}
	if has("foreign_key") && has("sa_column") {
		c.fail("SQLModel Field cannot declare both `foreign_key` and `sa_column`; move the foreign key constraint into the SQLAlchemy Column with `ForeignKey(...)`.", line)
	}
	if has("index") {
		if fieldName := annotatedTargetOf(c.file, call); fieldName != "" {
			if _, explicit := c.module.explicitIndexedFields[fieldName]; explicit {
				c.fail(fmt.Sprintf(
					"Field `%s` declares `index=True` and also has an explicit SQLAlchemy `Index(...)` declaration. Keep the index in exactly one place to avoid duplicate index creation at startup.",
					fieldName), line)
			}
		}
	}
}

// checkLocalFunctionCall verifies keyword arguments against the declared
// signature of the resolved local function.
func (c *fileChecker) checkLocalFunctionCall(call *sitter.Node, recv, callee string) {
	var targetModule, targetFunction string
	if recv != "" {
		if moduleName, ok := c.moduleAliases[recv]; ok {
			targetModule, targetFunction = moduleName, callee
		}
	} else if ref, ok := c.directImports[callee]; ok {
		targetModule, targetFunction = ref[0], ref[1]
	}
	if targetModule == "" || targetFunction == "" {
		return
	}
	info := c.modules[targetModule]
	if info == nil {
		return
	}

	signature, ok := info.functions[targetFunction]
	if !ok {
		if _, exported := info.exports[targetFunction]; !exported {
			c.fail(fmt.Sprintf("Call references missing symbol `%s.%s`.", targetModule, targetFunction), pysrc.Line(call))
		}
		return
	}
	if signature.acceptsVarKeyword {
		return
	}

	invalid := make(map[string]struct{})
	for _, kw := range c.file.KeywordArgs(call) {
		if _, declared := signature.keywordParams[kw]; !declared {
			invalid[kw] = struct{}{}
		}
	}
	if len(invalid) == 0 {
		return
	}
	names := make([]string, 0, len(invalid))
	for name := range invalid {
		names = append(names, name)
	}
	sort.Strings(names)
	c.fail(fmt.Sprintf("Call to `%s.%s` uses unsupported keyword(s): %s",
		targetModule, targetFunction, strings.Join(names, ", ")), pysrc.Line(call))
}

// checkEmailStr requires an email-validation dependency whenever the file
// references EmailStr.
func (c *fileChecker) checkEmailStr() {
	used := false
	pysrc.Walk(c.file.Root(), func(n *sitter.Node) bool {
		if n.Type() == "identifier" && c.file.Text(n) == "EmailStr" {
			used = true
			return false
		}
		return !used
	})
	if !used {
		return
	}
	for dep := range c.dependencies {
		if dep == "email-validator" || strings.HasPrefix(dep, "pydantic[email]") {
			return
		}
	}
	c.fail("Generated code uses `EmailStr` but dependencies do not include `email-validator` or `pydantic[email]`.", 1)
}

// checkDuplicateBootstrap flags schema creation running in both app.database
// and app.main.
func checkDuplicateBootstrap(modules map[string]*moduleInfo) []models.TestFailure {
	database := modules["app.database"]
	main := modules["app.main"]
	if database == nil || main == nil || !database.hasCreateAll || !main.hasCreateAll {
		return nil
	}
	return []models.TestFailure{{
		Check:      models.CheckImportSmoke,
		Message:    "Schema initialization runs in both `app.database` and `app.main` via `SQLModel.metadata.create_all(...)`. Keep startup schema creation in exactly one place to avoid duplicate index/table creation on boot.",
		FilePath:   main.path,
		LineNumber: models.IntPtr(1),
		Patchable:  true,
	}}
}

func dedupeFailures(failures []models.TestFailure) []models.TestFailure {
	type key struct {
		path    string
		message string
		line    int
	}
	seen := make(map[key]struct{})
	deduped := make([]models.TestFailure, 0, len(failures))
	for _, failure := range failures {
		k := key{path: failure.FilePath, message: failure.Message}
		if failure.LineNumber != nil {
			k.line = *failure.LineNumber
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		deduped = append(deduped, failure)
	}
	return deduped
}

// synthesizePatchRequests builds one patch request per failing file with the
// distinct failure messages as instructions.
func synthesizePatchRequests(failures []models.TestFailure) []models.FilePatchRequest {
	var order []string
	byPath := make(map[string][]string)
	for _, failure := range failures {
		path := strings.TrimSpace(failure.FilePath)
		if path == "" {
			continue
		}
		if _, ok := byPath[path]; !ok {
			order = append(order, path)
		}
		byPath[path] = append(byPath[path], failure.Message)
	}
	requests := make([]models.FilePatchRequest, 0, len(order))
	for _, path := range order {
		requests = append(requests, models.FilePatchRequest{
			Path:         path,
			Reason:       PatchReason,
			Instructions: byPath[path],
		})
	}
	return requests
}

// --- shared node helpers ---

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte()
}

// childAssignment unwraps an expression_statement to its assignment child.
func childAssignment(stmt *sitter.Node) *sitter.Node {
	if stmt.Type() == "assignment" {
		return stmt
	}
	if stmt.Type() != "expression_statement" {
		return nil
	}
	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		if child := stmt.NamedChild(i); child.Type() == "assignment" {
			return child
		}
	}
	return nil
}

// isCallFunction reports whether the node is the function of a call.
func isCallFunction(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil || parent.Type() != "call" {
		return false
	}
	return sameNode(parent.ChildByFieldName("function"), n)
}

// isAssignmentTarget reports whether the attribute node is being written to.
func isAssignmentTarget(attr *sitter.Node) bool {
	parent := attr.Parent()
	if parent == nil || parent.Type() != "assignment" {
		return false
	}
	return sameNode(parent.ChildByFieldName("left"), attr)
}

// annotatedTargetOf returns the field name when the call is the value of an
// annotated assignment like `name: str = Field(...)`.
func annotatedTargetOf(file *pysrc.File, call *sitter.Node) string {
	parent := call.Parent()
	if parent == nil || parent.Type() != "assignment" {
		return ""
	}
	if parent.ChildByFieldName("type") == nil {
		return ""
	}
	left := parent.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return ""
	}
	if !sameNode(parent.ChildByFieldName("right"), call) {
		return ""
	}
	return file.Text(left)
}
