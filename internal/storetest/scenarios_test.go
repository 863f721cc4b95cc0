// Package storetest holds end-to-end scenario tests exercising the
// store, importer, registry, profile, and gc packages together, the
// way the teacher's garbagecollect_test.go builds a full repository
// fixture rather than mocking each collaborator.
package storetest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nixstore/nixstore/gc"
	"github.com/nixstore/nixstore/importer"
	"github.com/nixstore/nixstore/profile"
	"github.com/nixstore/nixstore/registry"
	"github.com/nixstore/nixstore/storeconfig"
)

type fixture struct {
	root      string
	storePath string
	cfg       storeconfig.Config
	reg       *registry.Registry
	imp       *importer.Importer
	prof      *profile.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	storePath := filepath.Join(root, "store")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "profiles"), 0o755))

	cfg := storeconfig.Default()
	cfg.Store.StorePath = storePath
	cfg.Store.EnforceReadonly = false
	cfg.Profiles.MaxGenerations = 3

	reg, err := registry.Open(storePath)
	require.NoError(t, err)

	return &fixture{
		root:      root,
		storePath: storePath,
		cfg:       cfg,
		reg:       reg,
		imp:       importer.New(cfg, reg),
		prof:      profile.New(cfg, reg),
	}
}

// S1: init produces <root>/store, <root>/store/.nix-db, <root>/profiles.
func TestS1_InitLayout(t *testing.T) {
	f := newFixture(t)

	_, err := os.Stat(f.storePath)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.storePath, ".nix-db"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.root, "profiles"))
	require.NoError(t, err)
}

// S2: importing a 1-byte file with no references produces the expected
// identifier shape, contents, empty reference list, and fixed hash.
func TestS2_ImportSingleFile(t *testing.T) {
	f := newFixture(t)

	src := filepath.Join(f.root, "hello")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	objPath, err := f.imp.Import(context.Background(), src, "hello", nil)
	require.NoError(t, err)

	base := filepath.Base(objPath)
	require.Len(t, base, 64+1+len("hello"))
	require.Regexp(t, `^[0-9a-f]{64}-hello$`, base)

	entries, err := os.ReadDir(filepath.Join(objPath, "bin"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hello", entries[0].Name())

	refs, err := f.reg.GetRefs(objPath)
	require.NoError(t, err)
	require.Empty(t, refs)

	wantHash := sha256.Sum256(append([]byte("bin/hello"), 'x'))
	gotHash, err := f.reg.GetHash(objPath)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("sha256:%x", wantHash), gotHash)
}

// S3: importing the same file twice returns the same path, and the
// registry contains exactly one entry for it.
func TestS3_ImportIdempotent(t *testing.T) {
	f := newFixture(t)

	src := filepath.Join(f.root, "hello")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	p1, err := f.imp.Import(context.Background(), src, "hello", nil)
	require.NoError(t, err)
	p2, err := f.imp.Import(context.Background(), src, "hello", nil)
	require.NoError(t, err)

	require.Equal(t, p1, p2)
	require.Len(t, f.reg.Paths(), 1)
}

// S4: add-root on a non-existent object path fails, and the roots file
// is unchanged.
func TestS4_AddRootRejectsUnregisteredPath(t *testing.T) {
	f := newFixture(t)

	before := f.reg.Roots()
	err := f.reg.AddRoot(filepath.Join(f.storePath, "deadbeef-nonexistent"))
	require.Error(t, err)
	require.Equal(t, before, f.reg.Roots())
}

// S5: gc on a store with A -> B, A the only root, keeps both; adding an
// unrelated C and running gc again removes C but keeps A and B.
func TestS5_GCKeepsReachableDropsUnreachable(t *testing.T) {
	f := newFixture(t)

	bSrc := filepath.Join(f.root, "b")
	require.NoError(t, os.WriteFile(bSrc, []byte("b"), 0o644))
	bPath, err := f.imp.Import(context.Background(), bSrc, "b", nil)
	require.NoError(t, err)

	aSrc := filepath.Join(f.root, "a")
	require.NoError(t, os.WriteFile(aSrc, []byte("a"), 0o644))
	aPath, err := f.imp.Import(context.Background(), aSrc, "a", []string{bPath})
	require.NoError(t, err)
	require.NoError(t, f.reg.AddRoot(aPath))

	collector := gc.New(f.reg, f.storePath)
	_, err = collector.Run(context.Background(), gc.Options{})
	require.NoError(t, err)

	_, err = os.Stat(aPath)
	require.NoError(t, err)
	_, err = os.Stat(bPath)
	require.NoError(t, err)

	cSrc := filepath.Join(f.root, "c")
	require.NoError(t, os.WriteFile(cSrc, []byte("c"), 0o644))
	cPath, err := f.imp.Import(context.Background(), cSrc, "c", nil)
	require.NoError(t, err)

	_, err = collector.Run(context.Background(), gc.Options{})
	require.NoError(t, err)

	_, err = os.Stat(cPath)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(aPath)
	require.NoError(t, err)
	_, err = os.Stat(bPath)
	require.NoError(t, err)
}

// S6: create-profile p, install A p, rollback p: A's wrapper disappears
// and the profile still has at least one generation directory.
func TestS6_InstallThenRollback(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.prof.Create(context.Background(), "p"))

	aSrc := filepath.Join(f.root, "A")
	require.NoError(t, os.WriteFile(aSrc, []byte("a"), 0o755))
	aPath, err := f.imp.Import(context.Background(), aSrc, "A", nil)
	require.NoError(t, err)

	require.NoError(t, f.prof.Install(context.Background(), aPath, "p"))

	_, err = os.Stat(filepath.Join(f.root, "profiles", "p", "bin", "A"))
	require.NoError(t, err)

	require.NoError(t, f.prof.Rollback("p"))

	_, err = os.Stat(filepath.Join(f.root, "profiles", "p", "bin", "A"))
	require.True(t, os.IsNotExist(err))

	gens, err := f.prof.ListGenerations("p")
	require.NoError(t, err)
	require.NotEmpty(t, gens)
}

// S7: with max_generations = 3, four installs leave exactly three
// generation directories.
func TestS7_GenerationRetention(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.prof.Create(context.Background(), "p"))

	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("tool%d", i)
		src := filepath.Join(f.root, name)
		require.NoError(t, os.WriteFile(src, []byte(name), 0o755))
		objPath, err := f.imp.Import(context.Background(), src, name, nil)
		require.NoError(t, err)
		require.NoError(t, f.prof.Install(context.Background(), objPath, "p"))
	}

	gens, err := f.prof.ListGenerations("p")
	require.NoError(t, err)
	require.Len(t, gens, f.cfg.Profiles.MaxGenerations)
}
