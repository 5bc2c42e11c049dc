package permission

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidPath(t *testing.T) {
	root := "/home/dev/project"

	tests := []struct {
		name      string
		candidate string
		expected  bool
	}{
		{"current directory", ".", true},
		{"relative file", "src/main.go", true},
		{"dot slash", "./src/main.go", true},
		{"absolute inside", "/home/dev/project/src/main.go", true},
		{"root itself", "/home/dev/project", true},
		{"inner dotdot stays inside", "src/../README.md", true},
		{"parent", "..", false},
		{"escape", "../other/file", false},
		{"deep escape", "src/../../etc/passwd", false},
		{"absolute outside", "/etc/passwd", false},
		{"sibling prefix", "/home/dev/project-other/file", false},
		{"home", "~/.ssh/id_rsa", false},
		{"home bare", "~", false},
		{"nul byte", "src/\x00evil", false},
		{"wildcard", "*/secrets", false},
		{"brace", "{a,b}/file", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsValidPath(tt.candidate, root))
		})
	}
}

func TestIsValidPath_NulInRoot(t *testing.T) {
	assert.False(t, IsValidPath("file", "/home/dev\x00/project"))
}

// Whenever the relative path from the root to the resolved candidate
// starts with "..", the candidate is rejected.
func TestIsValidPath_Containment(t *testing.T) {
	roots := []string{"/", "/a", "/a/b", "/srv/app"}
	candidates := []string{
		".", "..", "../x", "x/../..", "x/../../y", "/a", "/a/b/c", "/srv", "/srv/app/../app2",
		"a/b/../../c", "./.", "x/./y", "/",
	}

	for _, root := range roots {
		for _, c := range candidates {
			t.Run(fmt.Sprintf("%s|%s", root, c), func(t *testing.T) {
				resolved := c
				if !filepath.IsAbs(resolved) {
					resolved = filepath.Join(root, c)
				}
				rel, err := filepath.Rel(root, filepath.Clean(resolved))
				if err == nil && len(rel) >= 2 && rel[:2] == ".." {
					assert.False(t, IsValidPath(c, root))
				}
				if c == "." {
					assert.True(t, IsValidPath(c, root))
				}
			})
		}
	}
}

func TestRelativePath(t *testing.T) {
	rel, ok := RelativePath("/repo/src/a.go", "/repo")
	assert.True(t, ok)
	assert.Equal(t, "src/a.go", rel)

	rel, ok = RelativePath(".", "/repo")
	assert.True(t, ok)
	assert.Equal(t, ".", rel)

	_, ok = RelativePath("../x", "/repo")
	assert.False(t, ok)
}
