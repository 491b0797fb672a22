package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbot/internal/routing"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestRoutesMigratesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.json")
	legacy := `{
	  "source_groups": [{"id": -100, "name": "HQ"}],
	  "target_groups": [
	    {"id": -1, "name": "Team A", "source_id": -100},
	    {"id": -2, "name": "Team B", "source_id": -100, "topic_id": 7},
	    {"id": -3, "name": "Team C"}
	  ]
	}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	out := execute(t, "routes", "--file", path)
	assert.Contains(t, out, "HQ")
	assert.Contains(t, out, "-2/7")
	assert.Contains(t, out, "unlinked")
	assert.Contains(t, out, "1 sources, 3 targets, 1 unlinked")
	assert.Contains(t, out, "run again with --write")

	out = execute(t, "routes", "--file", path, "--write")
	assert.Contains(t, out, "document rewritten")

	doc, migrated, err := routing.FileStore{Path: path}.Load()
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.Len(t, doc.Targets, 3)

	routesWrite = false
	out = execute(t, "routes", "--file", path)
	assert.NotContains(t, out, "--write")
}
