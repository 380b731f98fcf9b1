package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpineclim/climsync/internal/backlog"
	"github.com/alpineclim/climsync/internal/obstore"
)

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestRootRegistersSubcommands(t *testing.T) {
	root := NewRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"reconcile", "sweep", "stations", "backlog", "upsert", "prune", "export", "serve", "token", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestReconcileCommandFlags(t *testing.T) {
	root := NewRootCmd()
	rec, _, err := root.Find([]string{"reconcile"})
	require.NoError(t, err)
	for _, want := range []string{"missing", "stations", "logdir", "dry-run", "max-dates-per-id", "soft-exit"} {
		assert.NotNil(t, rec.Flags().Lookup(want), "missing flag --%s", want)
	}
}

func TestReconcileCommandAcceptsStationsPath(t *testing.T) {
	t.Setenv("CLIMSYNC_BASIC_AUTH_B64", "dGVzdDp0ZXN0")
	dir := t.TempDir()

	stationsPath := filepath.Join(dir, "stations.json")
	require.NoError(t, os.WriteFile(stationsPath,
		[]byte(`[{"id": "38002401", "nom": "Col de Porte"}]`), 0o644))

	// Empty backlog: the pass exits clean without touching the network.
	_, _, err := runCommand(t, "reconcile",
		"--missing", filepath.Join(dir, "missing_observations.json"),
		"--stations", stationsPath,
		"--logdir", filepath.Join(dir, "logs"))
	require.NoError(t, err)
}

func TestSweepCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing_observations.json")
	require.NoError(t, backlog.Save(path, []backlog.Entry{
		{ID: 38002401, Dates: []string{"2000-01-01"}},
	}))

	out, _, err := runCommand(t, "sweep", "--path", path, "--days", "11")
	require.NoError(t, err)
	assert.Contains(t, out, "[sweep]")
	assert.Contains(t, out, "removed_old=1")

	entries, recovered := backlog.Load(path)
	assert.False(t, recovered)
	assert.Empty(t, entries)
}

func TestSweepCommandDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing_observations.json")
	require.NoError(t, backlog.Save(path, []backlog.Entry{
		{ID: 38002401, Dates: []string{"2000-01-01"}},
	}))

	_, _, err := runCommand(t, "sweep", "--path", path, "--days", "11", "--dry-run")
	require.NoError(t, err)

	entries, _ := backlog.Load(path)
	assert.Len(t, entries, 1)
}

func TestBacklogCommandEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing_observations.json")

	out, _, err := runCommand(t, "backlog", "--missing", path)
	require.NoError(t, err)
	assert.Contains(t, out, "backlog empty")
}

func TestBacklogCommandTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing_observations.json")
	require.NoError(t, backlog.Save(path, []backlog.Entry{
		{ID: 38002401, Dates: []string{"2025-05-01", "2025-05-03"}},
		{ID: 73004003, Dates: []string{"2025-05-02"}},
	}))

	out, _, err := runCommand(t, "backlog", "--missing", path)
	require.NoError(t, err)
	assert.Contains(t, out, "38002401")
	assert.Contains(t, out, "2025-05-01")
	assert.Contains(t, out, "2025-05-03")
	assert.Contains(t, out, "73004003")
}

func TestBacklogCommandWarnsOnCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing_observations.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	out, errOut, err := runCommand(t, "backlog", "--missing", path)
	require.NoError(t, err)
	assert.Contains(t, out, "backlog empty")
	assert.Contains(t, errOut, "unreadable")
}

func TestPruneCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "obs.db")
	store, err := obstore.Open(dbPath)
	require.NoError(t, err)
	_, err = store.Upsert([]obstore.Row{
		{"id": int64(1), "date": "2025-05-01"},
		{"id": int64(2), "date": "2025-05-01", "expires_at": float64(1750000000)},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Without --yes nothing is deleted.
	out, _, err := runCommand(t, "prune", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "found 1 records")
	assert.Contains(t, out, "--yes")

	out, _, err = runCommand(t, "prune", "--db", dbPath, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 1 records")

	store, err = obstore.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "climsync "))
}
