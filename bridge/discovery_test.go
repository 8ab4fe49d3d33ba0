package bridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExecutable(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
}

// TEST140: An explicit override wins and is never followed by a fallback
func Test140_override(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "custom-node")
	writeExecutable(t, bin)

	path, err := FindRuntime(RuntimeConfig{Override: bin, Candidates: []string{"sh"}})
	require.NoError(t, err)
	assert.Equal(t, bin, path)

	_, err = FindRuntime(RuntimeConfig{Override: filepath.Join(dir, "absent"), Candidates: []string{"sh"}})
	assert.ErrorIs(t, err, &Error{Type: ErrorTypeRuntimeNotFound})

	notExec := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(notExec, []byte("x"), 0o644))
	_, err = FindRuntime(RuntimeConfig{Override: notExec, Candidates: []string{"sh"}})
	assert.Error(t, err)
}

// TEST141: An override naming a PATH entry is resolved through PATH
func Test141_override_in_path(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, filepath.Join(dir, "extipc-test-node"))
	t.Setenv("PATH", dir)

	path, err := FindRuntime(RuntimeConfig{Override: "extipc-test-node"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "extipc-test-node"), path)
}

// TEST142: The bundled distribution comes before PATH candidates
func Test142_bundle_dir(t *testing.T) {
	bundle := t.TempDir()
	node := filepath.Join(bundle, "usr", "bin", "node")
	writeExecutable(t, node)

	pathDir := t.TempDir()
	writeExecutable(t, filepath.Join(pathDir, "node"))
	t.Setenv("PATH", pathDir)

	path, err := FindRuntime(RuntimeConfig{BundleDir: bundle, Candidates: []string{"node"}})
	require.NoError(t, err)
	assert.Equal(t, node, path)

	path, err = FindRuntime(RuntimeConfig{BundleDir: t.TempDir(), Candidates: []string{"node"}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pathDir, "node"), path, "empty bundle falls through to PATH")
}

// TEST143: Candidates are tried in order
func Test143_candidates_order(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, filepath.Join(dir, "node"))
	writeExecutable(t, filepath.Join(dir, "extipc-node"))
	t.Setenv("PATH", dir)

	path, err := FindRuntime(RuntimeConfig{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "extipc-node"), path)

	t.Setenv("PATH", t.TempDir())
	_, err = FindRuntime(RuntimeConfig{})
	assert.ErrorIs(t, err, &Error{Type: ErrorTypeRuntimeNotFound})
}

// TEST144: Pid files round-trip and tolerate missing files
func Test144_pid_file(t *testing.T) {
	pf := PidFile{Path: filepath.Join(t.TempDir(), "nested", "host.pid")}
	_, err := pf.Read()
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, pf.Remove())

	require.NoError(t, pf.Write(4242))
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	require.NoError(t, os.WriteFile(pf.Path, []byte("garbage"), 0o600))
	_, err = pf.Read()
	assert.Error(t, err)
	killed, err := pf.KillStale()
	assert.NoError(t, err)
	assert.False(t, killed)
	_, err = os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(err), "invalid pid file is cleaned up")
}
