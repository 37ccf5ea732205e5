package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eb-adutwum/interius/pkg/models"
)

func bundle(files map[string]string, deps ...string) models.GeneratedCode {
	code := models.GeneratedCode{Dependencies: deps}
	// Stable order keeps failure ordering deterministic across runs.
	for _, path := range []string{"app/main.py", "app/database.py", "app/models.py", "app/schemas.py", "app/service.py", "app/routes.py", "app/auth.py"} {
		if content, ok := files[path]; ok {
			code.Files = append(code.Files, models.CodeFile{Path: path, Content: content})
		}
	}
	return code
}

func TestValidatePassesCleanBundle(t *testing.T) {
	code := bundle(map[string]string{
		"app/service.py": `def list_tasks(db, limit=10):
    return []
`,
		"app/routes.py": `from app.service import list_tasks

def handler(db):
    return list_tasks(db, limit=5)
`,
	})

	report := Validate(context.Background(), code)

	assert.True(t, report.Passed)
	assert.Empty(t, report.Failures)
	assert.Empty(t, report.PatchRequests)
	assert.Equal(t, []string{"syntax", "import_smoke"}, report.ChecksRun)
}

func TestValidateReportsSyntaxError(t *testing.T) {
	code := bundle(map[string]string{
		"app/main.py": "def broken(:\n    pass\n",
	})

	report := Validate(context.Background(), code)

	require.False(t, report.Passed)
	require.Len(t, report.Failures, 1)
	failure := report.Failures[0]
	assert.Equal(t, models.CheckSyntax, failure.Check)
	assert.Equal(t, "Syntax error: invalid syntax", failure.Message)
	assert.Equal(t, "app/main.py", failure.FilePath)
	require.NotNil(t, failure.LineNumber)
	assert.Equal(t, 1, *failure.LineNumber)
}

func TestValidateFlagsMissingImportedSymbol(t *testing.T) {
	code := bundle(map[string]string{
		"app/models.py": `class Task:
    pass
`,
		"app/routes.py": `from app.models import Task, TaskRead

def handler():
    return Task()
`,
	})

	report := Validate(context.Background(), code)

	require.False(t, report.Passed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "Imported symbol `TaskRead` does not exist in `app.models`.", report.Failures[0].Message)
	assert.Equal(t, "app/routes.py", report.Failures[0].FilePath)
}

func TestValidateFlagsMissingModuleAttribute(t *testing.T) {
	code := bundle(map[string]string{
		"app/schemas.py": `class TaskCreate:
    pass
`,
		"app/routes.py": `import app.schemas

def handler():
    return app.schemas.TaskUpdate()
`,
	})

	report := Validate(context.Background(), code)

	require.False(t, report.Passed)
	messages := failureMessages(report)
	assert.Contains(t, messages, "Call references missing symbol `app.schemas.TaskUpdate`.")
}

func TestValidateFlagsKeywordContractDrift(t *testing.T) {
	// The classic drift: routes call service helpers with keyword arguments
	// the signatures never declared.
	code := bundle(map[string]string{
		"app/service.py": `def list_tasks(db, status=None, limit=20):
    return []
`,
		"app/routes.py": `from app import service

def handler(db):
    return service.list_tasks(db, session=db, due_date_before="2026-01-01")
`,
	})

	report := Validate(context.Background(), code)

	require.False(t, report.Passed)
	require.Len(t, report.Failures, 1)
	message := report.Failures[0].Message
	assert.Equal(t, "Call to `app.service.list_tasks` uses unsupported keyword(s): due_date_before, session", message)
	assert.Contains(t, message, "session")
	assert.Contains(t, message, "due_date_before")

	require.Len(t, report.PatchRequests, 1)
	patch := report.PatchRequests[0]
	assert.Equal(t, "app/routes.py", patch.Path)
	assert.Equal(t, PatchReason, patch.Reason)
	require.Len(t, patch.Instructions, 1)
	assert.Contains(t, patch.Instructions[0], "due_date_before")
}

func TestValidateAcceptsVarKeyword(t *testing.T) {
	code := bundle(map[string]string{
		"app/service.py": `def create_task(db, **kwargs):
    return None
`,
		"app/routes.py": `from app import service

def handler(db):
    return service.create_task(db, title="x", anything="goes")
`,
	})

	report := Validate(context.Background(), code)
	assert.True(t, report.Passed)
}

func TestValidateFlagsDuplicateBootstrap(t *testing.T) {
	code := bundle(map[string]string{
		"app/database.py": `from sqlmodel import SQLModel, create_engine

engine = create_engine("sqlite://")

def init_db():
    SQLModel.metadata.create_all(engine)
`,
		"app/main.py": `from sqlmodel import SQLModel
from app.database import engine

SQLModel.metadata.create_all(engine)
`,
	})

	report := Validate(context.Background(), code)

	require.False(t, report.Passed)
	require.Len(t, report.Failures, 1)
	failure := report.Failures[0]
	assert.Equal(t, "app/main.py", failure.FilePath)
	require.NotNil(t, failure.LineNumber)
	assert.Equal(t, 1, *failure.LineNumber)
	assert.Contains(t, failure.Message, "app.database")
	assert.Contains(t, failure.Message, "app.main")
}

func TestValidateFieldKeywordRules(t *testing.T) {
	code := bundle(map[string]string{
		"app/models.py": `from sqlmodel import SQLModel, Field

class Task(SQLModel, table=True):
    id: int = Field(default=None, primary_key=True)
    slug: str = Field(pattern="^[a-z]+$")
    email: str = Field(index=True, sa_column=None)
`,
	})

	report := Validate(context.Background(), code)

	require.False(t, report.Passed)
	messages := failureMessages(report)
	assert.Contains(t, messages, "SQLModel Field uses unsupported keyword `pattern`; use `regex` instead.")
	assert.Contains(t, messages, "SQLModel Field cannot declare both `index` and `sa_column`; move `index=True` into the SQLAlchemy Column.")
}

func TestValidateFlagsDuplicateIndexDeclaration(t *testing.T) {
	code := bundle(map[string]string{
		"app/models.py": `from sqlmodel import SQLModel, Field
from sqlalchemy import Index

class Task(SQLModel, table=True):
    id: int = Field(default=None, primary_key=True)
    owner_id: int = Field(index=True)

Index("ix_task_owner_id", "owner_id")
`,
	})

	report := Validate(context.Background(), code)

	require.False(t, report.Passed)
	messages := failureMessages(report)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "owner_id")
	assert.Contains(t, messages[0], "index=True")
}

func TestValidateFlagsMissingPrimaryKey(t *testing.T) {
	code := bundle(map[string]string{
		"app/models.py": `from sqlmodel import SQLModel, Field

class Task(SQLModel, table=True):
    title: str = Field(default="")
`,
	})

	report := Validate(context.Background(), code)

	require.False(t, report.Passed)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Message, "Task")
	assert.Contains(t, report.Failures[0].Message, "primary key")
}

func TestValidateFlagsScalarOne(t *testing.T) {
	code := bundle(map[string]string{
		"app/service.py": `def count_tasks(session):
    return session.exec(query).scalar_one()
`,
	})

	report := Validate(context.Background(), code)

	require.False(t, report.Passed)
	assert.Contains(t, report.Failures[0].Message, "scalar_one")
}

func TestValidateFlagsScalarSubscript(t *testing.T) {
	code := bundle(map[string]string{
		"app/service.py": `def count_tasks(session):
    return session.exec(query).one()[0]
`,
	})

	report := Validate(context.Background(), code)

	require.False(t, report.Passed)
	assert.Contains(t, report.Failures[0].Message, "TypeError")
}

func TestValidateFlagsDuplicateRouterPrefix(t *testing.T) {
	code := bundle(map[string]string{
		"app/routes.py": `from fastapi import APIRouter

router = APIRouter(prefix="/tasks")
`,
		"app/main.py": `from fastapi import FastAPI
from app import routes

app = FastAPI()
app.include_router(routes.router, prefix="/tasks")
`,
	})

	report := Validate(context.Background(), code)

	require.False(t, report.Passed)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Message, "/tasks")
	assert.Equal(t, "app/main.py", report.Failures[0].FilePath)
}

func TestValidateAllowsRootPrefixTwice(t *testing.T) {
	code := bundle(map[string]string{
		"app/routes.py": `from fastapi import APIRouter

router = APIRouter(prefix="/")
`,
		"app/main.py": `from fastapi import FastAPI
from app import routes

app = FastAPI()
app.include_router(routes.router, prefix="/")
`,
	})

	report := Validate(context.Background(), code)
	assert.True(t, report.Passed)
}

func TestValidateEmailStrRequiresDependency(t *testing.T) {
	source := map[string]string{
		"app/schemas.py": `from pydantic import EmailStr

class UserCreate:
    email: EmailStr
`,
	}

	report := Validate(context.Background(), bundle(source, "fastapi", "sqlmodel"))
	require.False(t, report.Passed)
	assert.Contains(t, report.Failures[0].Message, "email-validator")

	report = Validate(context.Background(), bundle(source, "fastapi", "email-validator"))
	assert.True(t, report.Passed)

	report = Validate(context.Background(), bundle(source, "fastapi", "pydantic[email]"))
	assert.True(t, report.Passed)
}

func TestValidateFlagsFieldNameTypeCollision(t *testing.T) {
	code := bundle(map[string]string{
		"app/schemas.py": `from datetime import date

class TaskCreate:
    date: date
`,
	})

	report := Validate(context.Background(), code)

	require.False(t, report.Passed)
	assert.Contains(t, report.Failures[0].Message, "date")
	assert.Contains(t, report.Failures[0].Message, "type annotation")
}

func TestValidateDedupesRepeatedFailures(t *testing.T) {
	code := bundle(map[string]string{
		"app/service.py": `def get_task(db, task_id):
    return None
`,
		"app/routes.py": `from app import service

def a(db):
    return service.get_task(db, task_id=1, session=db)

def b(db):
    return service.get_task(db, task_id=2, session=db)
`,
	})

	report := Validate(context.Background(), code)

	require.False(t, report.Passed)
	// Different lines stay distinct; the patch request carries both.
	assert.Len(t, report.Failures, 2)
	require.Len(t, report.PatchRequests, 1)
	assert.Equal(t, "app/routes.py", report.PatchRequests[0].Path)
}

func failureMessages(report models.TestRunReport) []string {
	messages := make([]string, 0, len(report.Failures))
	for _, failure := range report.Failures {
		messages = append(messages, failure.Message)
	}
	return messages
}
