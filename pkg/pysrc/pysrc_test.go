package pysrc

import (
	"context"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, content string) *File {
	t.Helper()
	file, err := Parse(context.Background(), "app/test.py", content)
	require.NoError(t, err)
	t.Cleanup(file.Close)
	return file
}

func TestSyntaxErrorDetection(t *testing.T) {
	clean := parse(t, "def ok():\n    return 1\n")
	assert.Nil(t, clean.SyntaxError())

	broken := parse(t, "def ok():\n    return 1\n\ndef broken(:\n    pass\n")
	synErr := broken.SyntaxError()
	require.NotNil(t, synErr)
	assert.GreaterOrEqual(t, synErr.Line, 3)
}

func TestModuleName(t *testing.T) {
	assert.Equal(t, "app.routes", ModuleName("app/routes.py"))
	assert.Equal(t, "app.api.tasks", ModuleName("app/api/tasks.py"))
	assert.Equal(t, "app", ModuleName("app/__init__.py"))
	assert.Equal(t, "app.main", ModuleName(`app\main.py`))
	assert.Equal(t, "", ModuleName("requirements.txt"))
	assert.Equal(t, "", ModuleName(""))
}

func TestTopLevelUnwrapsDecorators(t *testing.T) {
	file := parse(t, `@router.get("/tasks")
def list_tasks():
    return []

class Task:
    pass
`)
	nodes := file.TopLevel()
	require.Len(t, nodes, 2)
	assert.Equal(t, "function_definition", nodes[0].Type())
	assert.Equal(t, "list_tasks", file.Text(nodes[0].ChildByFieldName("name")))
	assert.Equal(t, "class_definition", nodes[1].Type())
}

func TestCallCallee(t *testing.T) {
	file := parse(t, "service.list_tasks(db)\nFastAPI()\n")

	var calls []*sitter.Node
	Walk(file.Root(), func(n *sitter.Node) bool {
		if n.Type() == "call" {
			calls = append(calls, n)
		}
		return true
	})
	require.Len(t, calls, 2)

	recv, name := file.CallCallee(calls[0])
	assert.Equal(t, "service", recv)
	assert.Equal(t, "list_tasks", name)

	recv, name = file.CallCallee(calls[1])
	assert.Equal(t, "", recv)
	assert.Equal(t, "FastAPI", name)
}

func TestKeywordHelpers(t *testing.T) {
	file := parse(t, `Field(default=None, primary_key=True, default=0)`)

	var call *sitter.Node
	Walk(file.Root(), func(n *sitter.Node) bool {
		if n.Type() == "call" && call == nil {
			call = n
		}
		return true
	})
	require.NotNil(t, call)

	assert.Equal(t, []string{"default", "primary_key", "default"}, file.KeywordArgs(call))

	value := file.KeywordValue(call, "primary_key")
	require.NotNil(t, value)
	assert.Equal(t, "True", file.Text(value))
	assert.Nil(t, file.KeywordValue(call, "index"))
}

func TestPositionalArgsAndStringValue(t *testing.T) {
	file := parse(t, `Index("ix_task_owner", "owner_id", unique=True)`)

	var call *sitter.Node
	Walk(file.Root(), func(n *sitter.Node) bool {
		if n.Type() == "call" && call == nil {
			call = n
		}
		return true
	})
	require.NotNil(t, call)

	args := file.PositionalArgs(call)
	require.Len(t, args, 2)

	name, ok := file.StringValue(args[0])
	require.True(t, ok)
	assert.Equal(t, "ix_task_owner", name)

	field, ok := file.StringValue(args[1])
	require.True(t, ok)
	assert.Equal(t, "owner_id", field)
}

func TestStringValueRejectsNonLiterals(t *testing.T) {
	file := parse(t, `fn(f"prefix{x}", name)`)

	var call *sitter.Node
	Walk(file.Root(), func(n *sitter.Node) bool {
		if n.Type() == "call" && call == nil {
			call = n
		}
		return true
	})
	require.NotNil(t, call)

	args := file.PositionalArgs(call)
	require.Len(t, args, 2)
	for _, arg := range args {
		_, ok := file.StringValue(arg)
		assert.False(t, ok)
	}
}
