package objecthash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashFileDeterministic(t *testing.T) {
	d1 := HashFile("hello", []byte("x"))
	d2 := HashFile("hello", []byte("x"))
	require.Equal(t, d1, d2)

	d3 := HashFile("other", []byte("x"))
	require.NotEqual(t, d1, d3, "prefix must include the name to avoid collisions")
}

func TestHashDirectoryExcludesSymlinks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("A"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(dir, "a"), filepath.Join(dir, "link")))

	d1, err := HashDirectory(dir, 0)
	require.NoError(t, err)

	// removing the symlink must not change the hash, since symlinks are
	// excluded from the canonical content hash.
	require.NoError(t, os.Remove(filepath.Join(dir, "link")))
	d2, err := HashDirectory(dir, 0)
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestHashDirectoryOrderIndependent(t *testing.T) {
	dirA := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dirA, "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "a"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "b", "c"), []byte("2"), 0o644))

	dirB := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "a"), []byte("1"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dirB, "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "b", "c"), []byte("2"), 0o644))

	d1, err := HashDirectory(dirA, 0)
	require.NoError(t, err)
	d2, err := HashDirectory(dirB, 0)
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestComputeObjectPathStable(t *testing.T) {
	p1, err := ComputeObjectPath("/store", "hello", "", nil, 0)
	require.NoError(t, err)
	p2, err := ComputeObjectPath("/store", "hello", "", nil, 0)
	require.NoError(t, err)
	require.Equal(t, p1, p2)

	p3, err := ComputeObjectPath("/store", "hello", "", []string{"/store/dep"}, 0)
	require.NoError(t, err)
	require.NotEqual(t, p1, p3, "adding a reference must change the identifier")
}
