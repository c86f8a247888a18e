package exec

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateManifest(t *testing.T) {
	step := Step{
		ID:      "build-test",
		Image:   "rust:1.71",
		Cmd:     []string{".github/scripts/ci-test.sh"},
		Workdir: "/tmp/run/binding",
		Env:     map[string]string{"RUSTUP_TOOLCHAIN": "nightly-2020-07-08"},
	}
	result := &Result{ExitCode: 1, Duration: 2 * time.Second}

	m := CreateManifest("run-1", RunnerLocal, step, result)
	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, "build-test", m.StepID)
	assert.Equal(t, RunnerLocal, m.Runner)
	assert.Empty(t, m.Image, "image only recorded for docker steps")
	assert.Equal(t, 1, m.ExitCode)
	assert.Equal(t, "2s", m.Duration)
	assert.Equal(t, "nightly-2020-07-08", m.Env["RUSTUP_TOOLCHAIN"])

	m = CreateManifest("run-1", RunnerDocker, step, result)
	assert.Equal(t, "rust:1.71", m.Image)
}

func TestSaveManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "manifests")
	m := CreateManifest("run-2", RunnerLocal, Step{ID: "compare", Cmd: []string{"compare.sh"}}, &Result{})
	m.InputHashes["Cargo.toml"] = "blake3:abc"

	path, err := SaveManifest(m, dir)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "_compare.json"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded RunManifest
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, "run-2", loaded.RunID)
	assert.Equal(t, "blake3:abc", loaded.InputHashes["Cargo.toml"])
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("mmtk = { path = '/x' }\n"), 0600))
	require.NoError(t, os.WriteFile(b, []byte("mmtk = { path = '/y' }\n"), 0600))

	ha, err := HashFile(a)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ha, "blake3:"))
	assert.Len(t, ha, len("blake3:")+64)

	again, err := HashFile(a)
	require.NoError(t, err)
	assert.Equal(t, ha, again)

	hb, err := HashFile(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)

	_, err = HashFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
