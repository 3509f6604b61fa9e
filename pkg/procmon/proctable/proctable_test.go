//go:build linux
// +build linux

package proctable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestFS_Parent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "101", "stat"), []byte("101 (zygote 64) S 1 1 1 0 -1 4194560 0 0 0 0 0 0 0 0 20 0 1 0\n"))

	fs := FS{Root: root}
	ppid, ok := fs.Parent(101)
	require.True(t, ok)
	assert.Equal(t, 1, ppid)
}

func TestFS_Parent_Missing(t *testing.T) {
	fs := FS{Root: t.TempDir()}
	_, ok := fs.Parent(404)
	assert.False(t, ok)
}

func TestFS_Commandline(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "200", "cmdline"), []byte("com.example.app\x00--flag\x00"))

	fs := FS{Root: root}
	cmd, ok := fs.Commandline(200)
	require.True(t, ok)
	assert.Equal(t, "com.example.app", cmd)
}

func TestFS_UID(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "400"), 0755))

	fs := FS{Root: root}
	uid, ok := fs.UID(400)
	require.True(t, ok)
	assert.Equal(t, os.Getuid(), uid)
}

func TestFS_MountNS(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "500", "ns", "mnt"), []byte("placeholder"))

	fs := FS{Root: root}
	ns, ok := fs.MountNS(500)
	require.True(t, ok)
	assert.NotZero(t, ns.Ino)
}

func TestFS_Threads(t *testing.T) {
	root := t.TempDir()
	for _, tid := range []string{"300", "351", "352"} {
		writeFile(t, filepath.Join(root, "300", "task", tid, ".keep"), nil)
	}

	fs := FS{Root: root}
	tids, err := fs.Threads(300)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{300, 351, 352}, tids)
}
