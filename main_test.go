package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinechat/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GOOGLE_GEMINI_API_KEY", "GEMINI_EMBEDDING_API_KEY", "SUPABASE_URL", "SUPABASE_KEY",
		"DATABASE_URL", "RETRIEVAL_BACKEND", "HISTORY_BACKEND", "RELAY_BRIDGE", "GENERATION_PROVIDER",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewAppWiresLocalBackends(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "docs.json", `[{"id":"1","content":"Malla curricular","embedding":[1,0]}]`)
	path := writeFile(t, dir, "config.json", `{
		"embedding": {"dimension": 2},
		"history": {"backend": "sqlite"},
		"databases": {"sqlite": {"dsn": "history.db"}},
		"retrieval": {"backend": "memory", "seed_file": "docs.json"}
	}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "memory", a.retriever.Backend())
	assert.Zero(t, a.registry.Count())
	assert.FileExists(t, filepath.Join(dir, "history.db"))
}

func TestNewAppDegradesWithoutVectorCredentials(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "config.json", `{"retrieval": {"backend": "supabase"}}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "none", a.retriever.Backend())
}

func TestNewAppFailsOnMissingSeedFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "config.json", `{"retrieval": {"backend": "memory", "seed_file": "missing.json"}}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	_, err = newApp(context.Background(), cfg)
	require.Error(t, err)
}

func TestOpenSQL(t *testing.T) {
	_, err := openSQL("mysql", nil)
	require.Error(t, err)

	dsn := filepath.Join(t.TempDir(), "h.db")
	db, err := openSQL("sqlite", map[string]config.DatabaseConfig{"sqlite3": {DSN: dsn}})
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestRunChecksReportsMissingCredentials(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "config.json", `{"retrieval": {"backend": "supabase"}}`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	var out bytes.Buffer
	failed := runChecks(context.Background(), &out, cfg)

	assert.Zero(t, failed)
	assert.Contains(t, out.String(), "GOOGLE_GEMINI_API_KEY")
	assert.Contains(t, out.String(), "SUPABASE_KEY")
	assert.Contains(t, out.String(), "not set")
}

func TestRunChecksPingsSQLHistory(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{
		"history": {"backend": "sqlite"},
		"databases": {"sqlite": {"dsn": "doctor.db"}}
	}`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	var out bytes.Buffer
	assert.Zero(t, runChecks(context.Background(), &out, cfg))
	assert.Contains(t, out.String(), "[ok]   sqlite history")
}
