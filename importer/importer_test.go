package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nixstore/nixstore/registry"
	"github.com/nixstore/nixstore/storeconfig"
)

func newTestImporter(t *testing.T) (*Importer, string) {
	t.Helper()
	root := t.TempDir()
	storeRoot := filepath.Join(root, "store")
	require.NoError(t, os.MkdirAll(storeRoot, 0o755))

	cfg := storeconfig.Default()
	cfg.Store.StorePath = storeRoot

	reg, err := registry.Open(storeRoot)
	require.NoError(t, err)

	return New(cfg, reg), storeRoot
}

func TestImportFileIsDeterministic(t *testing.T) {
	im, root := newTestImporter(t)
	ctx := context.Background()

	src := filepath.Join(root, "..", "hello")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	p1, err := im.Import(ctx, src, "hello", nil)
	require.NoError(t, err)

	p2, err := im.Import(ctx, src, "hello", nil)
	require.NoError(t, err)

	require.Equal(t, p1, p2)

	data, err := os.ReadFile(filepath.Join(p1, "bin", "hello"))
	require.NoError(t, err)
	require.Equal(t, "x", string(data))
}

func TestImportSealsReadOnly(t *testing.T) {
	im, root := newTestImporter(t)
	ctx := context.Background()

	src := filepath.Join(root, "..", "hello2")
	require.NoError(t, os.WriteFile(src, []byte("y"), 0o644))

	objPath, err := im.Import(ctx, src, "hello2", nil)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(objPath, "bin", "hello2"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0), info.Mode().Perm()&0o222)
}

func TestImportRejectsUnregisteredDep(t *testing.T) {
	im, root := newTestImporter(t)
	ctx := context.Background()

	src := filepath.Join(root, "..", "hello3")
	require.NoError(t, os.WriteFile(src, []byte("z"), 0o644))

	_, err := im.Import(ctx, src, "hello3", []string{filepath.Join(root, "nonexistent-dep")})
	require.Error(t, err)
}

func TestImportIdempotentSameDeps(t *testing.T) {
	im, root := newTestImporter(t)
	ctx := context.Background()

	depSrc := filepath.Join(root, "..", "dep")
	require.NoError(t, os.WriteFile(depSrc, []byte("d"), 0o644))
	depPath, err := im.Import(ctx, depSrc, "dep", nil)
	require.NoError(t, err)

	src := filepath.Join(root, "..", "main")
	require.NoError(t, os.WriteFile(src, []byte("m"), 0o644))

	p1, err := im.Import(ctx, src, "main", []string{depPath})
	require.NoError(t, err)

	p2, err := im.Import(ctx, src, "main", []string{depPath})
	require.NoError(t, err)
	require.Equal(t, p1, p2)

	refs, err := im.Registry.GetRefs(p2)
	require.NoError(t, err)
	require.Equal(t, []string{depPath}, refs)
}
