package manifest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
)

const bindingManifest = `[package]
name = "mmtk_jikesrvm"
version = "0.0.1"
edition = "2018"

# Metadata for the JikesRVM repository
[package.metadata.jikesrvm]
jikesrvm_repo = "https://github.com/mmtk/jikesrvm.git"

[lib]
crate-type = ["cdylib"]

[dependencies]
libc = "0.2"
lazy_static = "1.1"
mmtk = { git = "https://github.com/mmtk/mmtk-core.git", rev = "3d7bd2a", features = ["nogc"] }
log = "*"

[features]
default = []
nogc = ["mmtk/nogc"]
`

func linesExcept(content []byte, skip int) [][]byte {
	lines := bytes.SplitAfter(content, []byte("\n"))
	return append(lines[:skip:skip], lines[skip+1:]...)
}

func indexOf(content []byte, prefix string) int {
	for i, l := range bytes.SplitAfter(content, []byte("\n")) {
		if bytes.HasPrefix(l, []byte(prefix)) {
			return i
		}
	}
	return -1
}

func TestRewrite_InlineTable(t *testing.T) {
	in := []byte(bindingManifest)
	out, changed, err := Rewrite(in, "mmtk/Cargo.toml", "mmtk", "/tmp/run/src/core")
	require.NoError(t, err)
	assert.True(t, changed)

	idx := indexOf(in, "mmtk = ")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, linesExcept(in, idx), linesExcept(out, idx), "every other line is byte-identical")

	got := bytes.SplitAfter(out, []byte("\n"))[idx]
	assert.Equal(t, `mmtk = { path = "/tmp/run/src/core", features = ["nogc"] }`+"\n", string(got))
}

func TestRewrite_VersionString(t *testing.T) {
	in := []byte("[dependencies]\n  mmtk   = \"0.4\"  # pinned\nlibc = \"0.2\"\n")
	out, changed, err := Rewrite(in, "Cargo.toml", "mmtk", "/core")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "[dependencies]\n  mmtk = { path = \"/core\" }  # pinned\nlibc = \"0.2\"\n", string(out))
}

func TestRewrite_KeepsTrailingComment(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "inline table",
			line: `mmtk = { git = "https://github.com/mmtk/mmtk-core.git", rev = "abc" } # pinned by CI`,
			want: `mmtk = { path = "/w/core" } # pinned by CI`,
		},
		{
			name: "hash inside a string",
			line: `mmtk = { git = "https://example.com/core.git#frag", rev = 'a#b' }	# see #42`,
			want: `mmtk = { path = "/w/core" }	# see #42`,
		},
		{
			name: "no comment",
			line: `mmtk = { git = "https://example.com/core.git#frag" }`,
			want: `mmtk = { path = "/w/core" }`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := Rewrite([]byte("[dependencies]\n"+tt.line+"\n"), "Cargo.toml", "mmtk", "/w/core")
			require.NoError(t, err)
			assert.Equal(t, "[dependencies]\n"+tt.want+"\n", string(out))
		})
	}
}

func TestRewrite_PreservesCRLF(t *testing.T) {
	in := []byte("[package]\r\nname = \"b\"\r\n\r\n[dependencies]\r\nmmtk = \"0.4\"\r\nlibc = \"0.2\"\r\n")
	out, _, err := Rewrite(in, "Cargo.toml", "mmtk", "/core")
	require.NoError(t, err)
	assert.Equal(t, "[package]\r\nname = \"b\"\r\n\r\n[dependencies]\r\nmmtk = { path = \"/core\" }\r\nlibc = \"0.2\"\r\n", string(out))
}

func TestRewrite_IgnoresOtherSections(t *testing.T) {
	in := []byte("[dev-dependencies]\nmmtk = \"0.1\"\n\n[dependencies]\nmmtk = \"0.4\"\n")
	out, _, err := Rewrite(in, "Cargo.toml", "mmtk", "/core")
	require.NoError(t, err)
	assert.Equal(t, "[dev-dependencies]\nmmtk = \"0.1\"\n\n[dependencies]\nmmtk = { path = \"/core\" }\n", string(out))
}

func TestRewrite_AlreadyPointingAtPath(t *testing.T) {
	in := []byte("[dependencies]\nmmtk = { path = \"/core\" }\n")
	out, changed, err := Rewrite(in, "Cargo.toml", "mmtk", "/core")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, in, out)

	_, _, err = Rewrite(in, "Cargo.toml", "mmtk", "/elsewhere")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeOverrideAlreadyLocal))
}

func TestRewrite_UnrecognizedShapes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    errors.ErrorCode
	}{
		{name: "not toml", content: "[dependencies\nmmtk = ", code: errors.ErrCodeOverrideManifestRead},
		{name: "no dependencies table", content: "[package]\nname = \"x\"\n", code: errors.ErrCodeOverrideShape},
		{name: "dependency missing", content: "[dependencies]\nlibc = \"0.2\"\n", code: errors.ErrCodeOverrideShape},
		{name: "table form", content: "[dependencies.mmtk]\ngit = \"https://github.com/mmtk/mmtk-core.git\"\n", code: errors.ErrCodeOverrideShape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Rewrite([]byte(tt.content), "Cargo.toml", "mmtk", "/core")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.code), "got %v", err)
			assert.Equal(t, errors.KindOverride, errors.KindOf(err))
		})
	}
}

func TestApplyOverride(t *testing.T) {
	root := t.TempDir()
	bindingDir := filepath.Join(root, "binding")
	coreDir := filepath.Join(root, "core")
	require.NoError(t, os.MkdirAll(filepath.Join(bindingDir, "mmtk"), 0750))
	require.NoError(t, os.MkdirAll(coreDir, 0750))

	manifestPath := filepath.Join(bindingDir, "mmtk", "Cargo.toml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(bindingManifest), 0640))

	binding := domain.MaterializedSource{Slot: domain.SlotBranchBinding, Dir: bindingDir}
	core := domain.MaterializedSource{Slot: domain.SlotBranchCore, Dir: coreDir}
	spec := DependencySpec{Manifest: "mmtk/Cargo.toml", Dependency: "mmtk"}

	patch, err := ApplyOverride(binding, core, spec)
	require.NoError(t, err)
	assert.True(t, patch.Changed)
	assert.Equal(t, coreDir, patch.Path)

	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `mmtk = { path = "`+coreDir+`", features = ["nogc"] }`)

	info, err := os.Stat(manifestPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	again, err := ApplyOverride(binding, core, spec)
	require.NoError(t, err)
	assert.False(t, again.Changed)
}

func TestApplyOverride_RejectsCoreSlot(t *testing.T) {
	_, err := ApplyOverride(
		domain.MaterializedSource{Slot: domain.SlotCore, Dir: t.TempDir()},
		domain.MaterializedSource{Slot: domain.SlotCore, Dir: t.TempDir()},
		DependencySpec{Manifest: "Cargo.toml", Dependency: "mmtk"},
	)
	assert.Error(t, err)
}

func TestApplyOverride_MissingManifest(t *testing.T) {
	_, err := ApplyOverride(
		domain.MaterializedSource{Slot: domain.SlotBinding, Dir: t.TempDir()},
		domain.MaterializedSource{Slot: domain.SlotCore, Dir: t.TempDir()},
		DependencySpec{Manifest: "mmtk/Cargo.toml", Dependency: "mmtk"},
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeOverrideManifestRead))
}
