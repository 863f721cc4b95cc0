package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndGetRefs(t *testing.T) {
	root := t.TempDir()
	r, err := Open(root)
	require.NoError(t, err)

	obj := filepath.Join(root, "abc-hello")
	require.NoError(t, r.Register(obj, nil))
	require.True(t, r.Exists(obj))

	refs, err := r.GetRefs(obj)
	require.NoError(t, err)
	require.Empty(t, refs)

	dep := filepath.Join(root, "def-dep")
	require.NoError(t, r.Register(dep, nil))
	require.NoError(t, r.Register(obj, []string{dep}))

	refs, err = r.GetRefs(obj)
	require.NoError(t, err)
	require.Equal(t, []string{dep}, refs)
}

func TestRegisterIdempotentAcrossReload(t *testing.T) {
	root := t.TempDir()
	r, err := Open(root)
	require.NoError(t, err)

	obj := filepath.Join(root, "abc-hello")
	require.NoError(t, r.Register(obj, nil))
	require.NoError(t, r.StoreHash(obj, "sha256:deadbeef"))

	r2, err := Open(root)
	require.NoError(t, err)
	require.True(t, r2.Exists(obj))
	hash, err := r2.GetHash(obj)
	require.NoError(t, err)
	require.Equal(t, "sha256:deadbeef", hash)
}

func TestAddRootRequiresExistingEntry(t *testing.T) {
	root := t.TempDir()
	r, err := Open(root)
	require.NoError(t, err)

	missing := filepath.Join(root, "missing-object")
	err = r.AddRoot(missing)
	require.Error(t, err)
	require.Empty(t, r.Roots())
}

func TestAddRootAndRemove(t *testing.T) {
	root := t.TempDir()
	r, err := Open(root)
	require.NoError(t, err)

	obj := filepath.Join(root, "abc-hello")
	require.NoError(t, r.Register(obj, nil))
	require.NoError(t, r.AddRoot(obj))
	require.Contains(t, r.Roots(), obj)

	require.NoError(t, r.Remove(obj))
	require.False(t, r.Exists(obj))
	require.NotContains(t, r.Roots(), obj)
}

func TestRemoveRootOfAbsentPathIsSuccess(t *testing.T) {
	root := t.TempDir()
	r, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, r.RemoveRoot(filepath.Join(root, "nope")))
}
