package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, root, name, metadata string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if metadata != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFileName), []byte(metadata), 0o644))
	}
}

func TestDefaultRoots(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	roots := DefaultRoots("/work/app")
	assert.Equal(t, filepath.Join("/work/app", ".agents", "skills"), roots.Workspace)
	assert.Equal(t, filepath.Join(home, ".agents", "skills"), roots.Global)
}

func TestDiscover_MergePrefersWorkspace(t *testing.T) {
	ws := t.TempDir()
	global := t.TempDir()
	writeSkill(t, ws, "deploy", "---\ndescription: workspace deploy\n---\n")
	writeSkill(t, ws, "lint", "")
	writeSkill(t, global, "deploy", "---\ndescription: global deploy\n---\n")
	writeSkill(t, global, "review", "---\ndescription: review code\n---\n")
	require.NoError(t, os.WriteFile(filepath.Join(global, "README.md"), []byte("not a skill"), 0o644))

	got, err := NewScanner(Roots{Workspace: ws, Global: global}, nil).Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Skill{
		{Name: "deploy", Description: "workspace deploy", Source: SourceWorkspace},
		{Name: "lint", Description: "lint", Source: SourceWorkspace},
		{Name: "review", Description: "review code", Source: SourceGlobal},
	}, got)
}

func TestDiscover_MissingRootsYieldEmpty(t *testing.T) {
	base := t.TempDir()
	got, err := NewScanner(Roots{Workspace: filepath.Join(base, "nope"), Global: ""}, nil).Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDiscover_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewScanner(Roots{Workspace: t.TempDir()}, nil).Discover(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMerge_UniqueNames(t *testing.T) {
	ws := []Skill{{Name: "a", Source: SourceWorkspace}, {Name: "b", Source: SourceWorkspace}}
	gl := []Skill{{Name: "b", Source: SourceGlobal}, {Name: "c", Source: SourceGlobal}, {Name: "a", Source: SourceGlobal}}
	got := Merge(ws, gl)
	names := make([]string, 0, len(got))
	for _, s := range got {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
	assert.Equal(t, SourceWorkspace, got[1].Source)
}
