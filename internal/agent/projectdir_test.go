package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, root string, rel ...string) {
	t.Helper()
	for _, r := range rel {
		p := filepath.Join(root, filepath.FromSlash(r))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o644))
	}
}

func TestProjectDir_NextAppInMonorepo(t *testing.T) {
	root := t.TempDir()
	touch(t, root,
		"package.json",
		"apps/web/package.json",
		"apps/web/src/app/(shop)/cart/page.tsx",
		"apps/legacy/package.json",
		"apps/legacy/src/App.jsx",
		"node_modules/pkg/src/app/page.tsx",
	)
	assert.Equal(t, filepath.Join(root, "apps", "web"), WorkspaceProjects{Root: root}.ProjectDir())
}

func TestProjectDir_PatternOrderWins(t *testing.T) {
	root := t.TempDir()
	touch(t, root,
		"a/package.json",
		"a/src/App.tsx",
		"z/package.json",
		"z/src/pages/index.jsx",
	)
	assert.Equal(t, filepath.Join(root, "z"), WorkspaceProjects{Root: root}.ProjectDir())
}

func TestProjectDir_FallsBackToRoot(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "README.md", ".next/src/app/page.tsx")
	assert.Equal(t, filepath.Clean(root), WorkspaceProjects{Root: root}.ProjectDir())
}

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"**/src/app/**/page.tsx", "src/app/page.tsx", true},
		{"**/src/app/**/page.tsx", "web/src/app/a/b/page.tsx", true},
		{"**/src/app/**/page.tsx", "web/src/app/page.jsx", false},
		{"**/src/App.tsx", "x/y/src/App.tsx", true},
		{"**/src/App.tsx", "src/app.tsx", false},
		{"**/src/app/layout.tsx", "src/app/nested/layout.tsx", false},
		{"**/src/pages/**/index.jsx", "apps/web/src/pages/blog/index.jsx", true},
		{"**/src/pages/**/index.jsx", "src/pages/index.tsx", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, matchGlob(c.pattern, c.name), c.pattern+" "+c.name)
	}
}
