package services

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eb-adutwum/interius/pkg/models"
)

func newTestBundleStore(t *testing.T) *BundleStore {
	t.Helper()
	store, err := NewBundleStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestBundleStoreRoundTrip(t *testing.T) {
	store := newTestBundleStore(t)

	files := []models.CodeFile{
		{Path: "app/main.py", Content: "from fastapi import FastAPI\napp = FastAPI()\n"},
		{Path: "app/models.py", Content: "from sqlmodel import SQLModel\n"},
	}
	deps := []string{"fastapi", "sqlmodel"}

	ref, err := store.Store(files, deps)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "sha256:"))

	code, err := store.Load(ref)
	require.NoError(t, err)
	assert.Equal(t, files, code.Files)
	assert.Equal(t, deps, code.Dependencies)
}

func TestBundleStoreDeduplicatesIdenticalBundles(t *testing.T) {
	store := newTestBundleStore(t)

	files := []models.CodeFile{{Path: "app/main.py", Content: "app = None\n"}}

	ref1, err := store.Store(files, []string{"fastapi"})
	require.NoError(t, err)
	ref2, err := store.Store(files, []string{"fastapi"})
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)

	// Different dependencies produce a different handle
	ref3, err := store.Store(files, []string{"fastapi", "httpx"})
	require.NoError(t, err)
	assert.NotEqual(t, ref1, ref3)
}

func TestBundleStoreEmptyBundle(t *testing.T) {
	store := newTestBundleStore(t)

	ref, err := store.Store(nil, nil)
	require.NoError(t, err)

	code, err := store.Load(ref)
	require.NoError(t, err)
	assert.Empty(t, code.Files)
	assert.Empty(t, code.Dependencies)
}

func TestBundleStoreLoadErrors(t *testing.T) {
	store := newTestBundleStore(t)

	_, err := store.Load("not-a-ref")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = store.Load("sha256:../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = store.Load("sha256:" + strings.Repeat("ab", 32))
	assert.True(t, errors.Is(err, ErrNotFound))
}
