package normalizer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eb-adutwum/interius/pkg/models"
	"github.com/eb-adutwum/interius/pkg/pysrc"
)

func TestNormalizeFileAliasesDatetimeImports(t *testing.T) {
	source := "from datetime import datetime, date\n" +
		"from sqlmodel import SQLModel, Field\n\n" +
		"class Expense(SQLModel, table=True):\n" +
		"    date: date = Field(default_factory=date.today)\n" +
		"    created_at: datetime = Field(default_factory=datetime.utcnow)\n"

	out := NormalizeFile(context.Background(), "app/models.py", source)

	assert.Contains(t, out, "from datetime import datetime, date as date_type")
	assert.Contains(t, out, "date: date_type = Field(default_factory=date_type.today)")
	assert.Contains(t, out, "created_at: datetime = Field(default_factory=datetime.utcnow)")
}

func TestNormalizeFileDoesNotDuplicateSaColumnBlocks(t *testing.T) {
	source := "from sqlmodel import SQLModel, Field, Column\n" +
		"from sqlalchemy import Text\n\n" +
		"class Todo(SQLModel, table=True):\n" +
		"    description: str | None = Field(\n" +
		"        default=None,\n" +
		"        sa_column=Column(Text, nullable=True),\n" +
		"    )\n"

	out := NormalizeFile(context.Background(), "app/models.py", source)

	assert.Equal(t, 1, strings.Count(out, "description: str | None = Field("))
	assert.Equal(t, 1, strings.Count(out, "sa_column=Column(Text, nullable=True)"))
}

func TestNormalizeFileMovesForeignKeyIntoSaColumn(t *testing.T) {
	source := "from sqlalchemy import Column\n" +
		"from sqlalchemy.dialects.postgresql import UUID as PG_UUID\n" +
		"from sqlmodel import SQLModel, Field\n\n" +
		"class Note(SQLModel, table=True):\n" +
		"    owner_id: str = Field(foreign_key='user.id', sa_column=Column(PG_UUID(as_uuid=True), nullable=False))\n"

	out := NormalizeFile(context.Background(), "app/models.py", source)

	assert.Contains(t, out, "from sqlalchemy import Column, ForeignKey")
	assert.Contains(t, out, "owner_id: str = Field(sa_column=Column(PG_UUID(as_uuid=True), ForeignKey('user.id'), nullable=False))")
	assert.NotContains(t, out, "foreign_key='user.id'")
}

func TestNormalizeFileRewritesPatternToRegex(t *testing.T) {
	source := "from sqlmodel import SQLModel, Field\n\n" +
		"class User(SQLModel, table=True):\n" +
		"    id: int = Field(default=None, primary_key=True)\n" +
		"    slug: str = Field(pattern='^[a-z]+$')\n"

	out := NormalizeFile(context.Background(), "app/models.py", source)

	assert.Contains(t, out, "slug: str = Field(regex='^[a-z]+$')")
	assert.NotContains(t, out, "pattern=")
}

func TestNormalizeFileRemovesDuplicateFieldIndexes(t *testing.T) {
	source := "from sqlalchemy import Index\n" +
		"from sqlmodel import SQLModel, Field\n\n" +
		"class User(SQLModel, table=True):\n" +
		"    __table_args__ = (Index('ix_users_email', 'email', unique=True),)\n" +
		"    email: str = Field(default='', index=True)\n"

	out := NormalizeFile(context.Background(), "app/models.py", source)

	assert.Contains(t, out, "Index('ix_users_email', 'email', unique=True)")
	assert.Contains(t, out, "email: str = Field(default='')")
	assert.NotContains(t, out, "index=True")
}

func TestNormalizeFileAddsAuthCompatibilityAliases(t *testing.T) {
	source := "def hash_password(password: str) -> str:\n" +
		"    return password\n\n" +
		"def create_access_token(*, subject: str, expires_delta=None):\n" +
		"    return subject\n\n" +
		"def get_current_user():\n" +
		"    return None\n"

	out := NormalizeFile(context.Background(), "app/auth.py", source)

	assert.Contains(t, out, "get_password_hash = hash_password")
	assert.Contains(t, out, "current_user = get_current_user")
	assert.Contains(t, out, "def _sandbox_create_access_token_impl(*, subject: str, expires_delta=None):")
	assert.Contains(t, out, "def create_access_token(subject=None, expires_delta=None):")
}

func TestNormalizeFileExportsRouterListAggregate(t *testing.T) {
	source := "from fastapi import APIRouter\n\n" +
		"auth_router = APIRouter(prefix='/auth')\n" +
		"expenses_router = APIRouter(prefix='/expenses')\n" +
		"router_list = [auth_router, expenses_router]\n"

	out := NormalizeFile(context.Background(), "app/routes.py", source)

	assert.Contains(t, out, "api_router = APIRouter()")
	assert.Contains(t, out, "for _router in router_list:")
	assert.Contains(t, out, "def get_router():")
	assert.Contains(t, out, "return api_router")
}

func TestNormalizeBundleDedupesSchemaBootstrap(t *testing.T) {
	code := models.GeneratedCode{Files: []models.CodeFile{
		{Path: "app/database.py", Content: "from sqlmodel import SQLModel\n" +
			"def init_db(engine):\n" +
			"    SQLModel.metadata.create_all(engine)\n"},
		{Path: "app/main.py", Content: "from sqlmodel import SQLModel\n" +
			"from app.database import engine\n\n" +
			"def on_startup():\n" +
			"    SQLModel.metadata.create_all(engine)\n"},
	}}

	out := NormalizeBundle(context.Background(), code)

	main := out.File("app/main.py")
	require.NotNil(t, main)
	assert.NotContains(t, main.Content, "SQLModel.metadata.create_all(engine)")

	database := out.File("app/database.py")
	require.NotNil(t, database)
	assert.Contains(t, database.Content, "SQLModel.metadata.create_all(engine)")
}

func TestNormalizeBundleDedupesRouterPrefixes(t *testing.T) {
	code := models.GeneratedCode{Files: []models.CodeFile{
		{Path: "app/routes.py", Content: "from fastapi import APIRouter\n" +
			"auth_router = APIRouter(prefix=\"/auth\")\n" +
			"expenses_router = APIRouter(prefix=\"/expenses\")\n"},
		{Path: "app/main.py", Content: "from fastapi import FastAPI\n" +
			"from app.routes import auth_router, expenses_router\n" +
			"app = FastAPI()\n" +
			"app.include_router(auth_router, prefix=\"/auth\", tags=[\"auth\"])\n" +
			"app.include_router(expenses_router, prefix=\"/expenses\", tags=[\"expenses\"])\n"},
	}}

	out := NormalizeBundle(context.Background(), code)

	main := out.File("app/main.py")
	require.NotNil(t, main)
	assert.Contains(t, main.Content, "app.include_router(auth_router, tags=[\"auth\"])")
	assert.Contains(t, main.Content, "app.include_router(expenses_router, tags=[\"expenses\"])")
	assert.NotContains(t, main.Content, "prefix=\"/auth\"")
	assert.NotContains(t, main.Content, "prefix=\"/expenses\"")
}

func TestNormalizeBundleSynthesizesExceptionsModule(t *testing.T) {
	code := models.GeneratedCode{Files: []models.CodeFile{
		{Path: "app/main.py", Content: "app = None\n"},
	}}

	out := NormalizeBundle(context.Background(), code)

	exceptions := out.File("app/exceptions.py")
	require.NotNil(t, exceptions)
	assert.Contains(t, exceptions.Content, "class NotFoundError")

	// An existing module is never overwritten.
	again := NormalizeBundle(context.Background(), out)
	assert.Equal(t, exceptions.Content, again.File("app/exceptions.py").Content)
}

func TestNormalizeFileIsParsePreservingAndIdempotent(t *testing.T) {
	sources := map[string]string{
		"app/models.py": "from datetime import date\n" +
			"from sqlmodel import SQLModel, Field\n\n" +
			"class Expense(SQLModel, table=True):\n" +
			"    id: int = Field(default=None, primary_key=True)\n" +
			"    date: date = Field(default_factory=date.today)\n" +
			"    slug: str = Field(pattern='^[a-z]+$')\n",
		"app/auth.py": "def hash_password(p):\n    return p\n",
		"app/routes.py": "from fastapi import APIRouter\n" +
			"router_list = [APIRouter(prefix='/x')]\n",
	}
	for path, source := range sources {
		once := NormalizeFile(context.Background(), path, source)

		file, err := pysrc.Parse(context.Background(), path, once)
		require.NoError(t, err)
		assert.Nil(t, file.SyntaxError(), "normalized %s must parse", path)
		file.Close()

		assert.Equal(t, once, NormalizeFile(context.Background(), path, once), "path %s", path)
	}
}

func TestNormalizeFileKeepsBrokenSourceUntouched(t *testing.T) {
	source := "def broken(:\n    pass\n"
	assert.Equal(t, source, NormalizeFile(context.Background(), "app/main.py", source))
}
