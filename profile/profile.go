// Package profile implements the profile and generation machinery:
// composing store objects into a usable environment via wrappers and
// symlinks, with atomic switching and rollback.
package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nixstore/nixstore/internal/dcontext"
	"github.com/nixstore/nixstore/internal/fscopy"
	"github.com/nixstore/nixstore/internal/storeerr"
	"github.com/nixstore/nixstore/registry"
	"github.com/nixstore/nixstore/storeconfig"
)

// subdirs are the conventional object/profile subdirectories (spec.md
// §3). include/ is carried even though the one grounding install routine
// read only created {bin,lib,share,etc}.
var subdirs = []string{"bin", "lib", "share", "etc", "include"}

// EssentialUtilities is the fixed list of coreutils-like binaries every
// new profile is pre-populated with, per SPEC_FULL.md's supplemented
// "essential utilities" feature.
var EssentialUtilities = []string{
	"bash", "sh", "ls", "pwd", "cp", "mkdir", "rm", "cat",
	"which", "echo", "dirname", "ldd", "env",
}

// Manager implements the Profile manager component.
type Manager struct {
	Config   storeconfig.Config
	Registry *registry.Registry
}

// New constructs a Manager.
func New(cfg storeconfig.Config, reg *registry.Registry) *Manager {
	return &Manager{Config: cfg, Registry: reg}
}

func ensureSubdirs(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storeerr.New(storeerr.KindIO, "profile.ensureSubdirs", dir, err)
	}
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return storeerr.New(storeerr.KindIO, "profile.ensureSubdirs", filepath.Join(dir, sub), err)
		}
	}
	return nil
}

// Create creates a fresh, empty profile directory at
// <profiles_root>/<name> with the standard subdirectories, then
// pre-populates it with wrapper scripts for EssentialUtilities found in
// the store. Utilities not yet present are skipped with a warning, not a
// failure, so Create never requires a prior bootstrap import to succeed.
func (m *Manager) Create(ctx context.Context, name string) error {
	logger := dcontext.GetLogger(ctx)

	dir := m.profileDir(name)
	if err := ensureSubdirs(dir); err != nil {
		return err
	}

	for _, util := range EssentialUtilities {
		objPath := m.findObjectBySuffix(util)
		if objPath == "" {
			logger.Warnf("essential utility %s not found in store, skipping", util)
			continue
		}
		if err := m.installObjectIntoProfile(ctx, objPath, dir); err != nil {
			logger.WithError(err).Warnf("failed to install essential utility %s into profile %s", util, name)
			continue
		}
		if err := m.Registry.AddRoot(objPath); err != nil {
			logger.WithError(err).Warnf("failed to mark %s as a GC root", objPath)
		}
	}

	return nil
}

// findObjectBySuffix searches the store for an object whose identifier
// ends in "-<name>" and which contains a bin/<name> entry.
func (m *Manager) findObjectBySuffix(name string) string {
	entries, err := os.ReadDir(m.Config.Store.StorePath)
	if err != nil {
		return ""
	}
	suffix := "-" + name
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		objPath := filepath.Join(m.Config.Store.StorePath, e.Name())
		if _, err := os.Stat(filepath.Join(objPath, "bin", name)); err == nil {
			return objPath
		}
	}
	return ""
}

// Install composes objectPath into profileName's directory: snapshots a
// pre-change generation, links the transitive library closure, writes
// wrapper scripts for every bin/ entry, symlinks the remaining
// conventional subdirectories, snapshots the post-change state, applies
// retention, and marks objectPath as a GC root. Implements spec.md §4.5.
func (m *Manager) Install(ctx context.Context, objectPath, profileName string) error {
	logger := dcontext.GetLogger(ctx)
	dir := m.profileDir(profileName)

	if _, err := os.Stat(dir); err == nil {
		if _, err := m.snapshot(profileName); err != nil {
			return err
		}
	}
	if err := ensureSubdirs(dir); err != nil {
		return err
	}

	if err := m.installObjectIntoProfile(ctx, objectPath, dir); err != nil {
		return err
	}

	postEpoch, err := m.snapshot(profileName)
	if err != nil {
		return err
	}
	if postEpoch != 0 {
		if err := m.writeCurrentMarker(profileName, postEpoch); err != nil {
			return err
		}
	}

	if err := m.cleanupOldGenerations(profileName); err != nil {
		logger.WithError(err).Warn("generation retention cleanup failed")
	}

	return m.Registry.AddRoot(objectPath)
}

// installObjectIntoProfile performs the symlink/wrapper composition
// itself, shared by Create (for essential utilities) and Install.
func (m *Manager) installObjectIntoProfile(ctx context.Context, objectPath, profileDir string) error {
	logger := dcontext.GetLogger(ctx)

	closure, err := m.transitiveClosure(objectPath)
	if err != nil {
		return err
	}

	// library symlinks: every lib/ or bin/-resident shared library in the
	// closure, linked into profile/lib/.
	profileLib := filepath.Join(profileDir, "lib")
	for _, member := range closure {
		for _, sub := range []string{"lib", "bin"} {
			libDir := filepath.Join(member, sub)
			entries, err := os.ReadDir(libDir)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				if sub == "bin" && !strings.Contains(e.Name(), ".so") {
					continue
				}
				dst := filepath.Join(profileLib, e.Name())
				if _, err := os.Lstat(dst); err == nil {
					logger.Warnf("overwriting existing library symlink %s", dst)
					os.Remove(dst)
				}
				if err := os.Symlink(filepath.Join(libDir, e.Name()), dst); err != nil {
					return storeerr.New(storeerr.KindIO, "profile.installObjectIntoProfile", dst, err)
				}
			}
		}
	}

	// wrapper scripts: one per bin/ entry of the object itself.
	objBin := filepath.Join(objectPath, "bin")
	entries, err := os.ReadDir(objBin)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			target := filepath.Join(objBin, e.Name())
			wrapperPath := filepath.Join(profileDir, "bin", e.Name())
			if err := writeWrapper(m.Config, wrapperPath, target, filepath.Join(profileDir, "bin"), closure); err != nil {
				return err
			}
		}
	}

	// remaining conventional subdirs: direct symlinks.
	for _, sub := range []string{"share", "etc", "include"} {
		srcDir := filepath.Join(objectPath, sub)
		dstDir := filepath.Join(profileDir, sub)
		subEntries, err := os.ReadDir(srcDir)
		if err != nil {
			continue
		}
		for _, e := range subEntries {
			dst := filepath.Join(dstDir, e.Name())
			if _, err := os.Lstat(dst); err == nil {
				os.Remove(dst)
			}
			if err := os.Symlink(filepath.Join(srcDir, e.Name()), dst); err != nil {
				return storeerr.New(storeerr.KindIO, "profile.installObjectIntoProfile", dst, err)
			}
		}
	}

	return nil
}

// transitiveClosure returns objectPath and every object reachable via
// the registry's reference graph, ordered by a breadth-first traversal,
// used both to build LD_LIBRARY_PATH and to decide which lib/ and bin/
// directories contribute library symlinks.
func (m *Manager) transitiveClosure(objectPath string) ([]string, error) {
	visited := map[string]struct{}{objectPath: {}}
	order := []string{objectPath}
	queue := []string{objectPath}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		refs, err := m.Registry.GetRefs(cur)
		if err != nil {
			continue // unregistered reference: tolerate, per GC's lenient consistency checks
		}
		for _, ref := range refs {
			if _, ok := visited[ref]; ok {
				continue
			}
			if !m.Registry.Exists(ref) {
				continue // unregistered reference: not an object, left out of the closure
			}
			visited[ref] = struct{}{}
			order = append(order, ref)
			queue = append(queue, ref)
		}
	}
	return order, nil
}

// Switch verifies the target profile exists, then unlinks and relinks
// the profiles_root/current symlink. The unlink-then-symlink pair is
// atomic enough: a reader either sees the old target, the link missing,
// or the new target — never a path that does not exist (spec.md §4.5,
// §8 property 8).
func (m *Manager) Switch(name string) error {
	dir := m.profileDir(name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return storeerr.New(storeerr.KindInvalidInput, "profile.Switch", name, fmt.Errorf("profile does not exist"))
	}

	current := filepath.Join(m.profilesRoot(), "current")
	os.Remove(current) // even if this fails, we are still safe.

	if err := os.Symlink(dir, current); err != nil {
		return storeerr.New(storeerr.KindIO, "profile.Switch", current, err)
	}
	return nil
}

// List enumerates direct subdirectories of the profiles root, excluding
// the current marker and generation directories.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.profilesRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, storeerr.New(storeerr.KindIO, "profile.List", m.profilesRoot(), err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n := e.Name()
		if n == "current" || strings.Contains(n, "-") && isGenerationDir(n) {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// isGenerationDir reports whether name has the form <profile>-<epoch>,
// i.e. a trailing "-" followed entirely by digits.
func isGenerationDir(name string) bool {
	idx := strings.LastIndex(name, "-")
	if idx < 0 || idx == len(name)-1 {
		return false
	}
	for _, r := range name[idx+1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Rollback replaces profileName's contents with the most recent
// generation strictly older than the current-generation marker (or now,
// if no marker is set), then updates the marker. The replacement is
// always a copy-in-place into a freestanding directory, never a
// symlink-swap (spec.md §9's Open Question resolution).
func (m *Manager) Rollback(name string) error {
	gens, err := m.ListGenerations(name)
	if err != nil {
		return err
	}

	limit := m.readCurrentMarker(name)
	if limit == 0 {
		limit = time.Now().Unix()
	}
	var target *Generation
	for i := range gens {
		if gens[i].Epoch < limit {
			target = &gens[i]
			break
		}
	}
	if target == nil {
		return storeerr.New(storeerr.KindInvalidInput, "profile.Rollback", name, fmt.Errorf("no older generation to roll back to"))
	}

	return m.replaceWithGeneration(name, *target)
}

// SwitchGeneration snapshots the current state, then replaces
// profileName's contents with the named generation's contents. On
// failure, it attempts to restore the pre-switch snapshot.
func (m *Manager) SwitchGeneration(name string, epoch int64) error {
	genDir := filepath.Join(m.profilesRoot(), generationDirName(name, epoch))
	if _, err := os.Stat(genDir); err != nil {
		return storeerr.New(storeerr.KindInvalidInput, "profile.SwitchGeneration", name, fmt.Errorf("generation %d does not exist", epoch))
	}

	snapEpoch, err := m.snapshot(name)
	if err != nil {
		return err
	}

	if err := m.replaceWithGeneration(name, Generation{Epoch: epoch}); err != nil {
		if snapEpoch != 0 {
			restoreDir := filepath.Join(m.profilesRoot(), generationDirName(name, snapEpoch))
			if restoreErr := m.replaceWithGeneration(name, Generation{Epoch: snapEpoch}); restoreErr == nil {
				_ = restoreDir
			}
		}
		return err
	}
	return nil
}

// replaceWithGeneration clears profileName's live directory and copies
// in the named generation's contents, then records it as current.
func (m *Manager) replaceWithGeneration(name string, gen Generation) error {
	dir := m.profileDir(name)
	genDir := filepath.Join(m.profilesRoot(), generationDirName(name, gen.Epoch))

	if err := fscopy.RemoveAll(dir); err != nil {
		return err
	}
	if err := fscopy.Tree(genDir, dir); err != nil {
		return err
	}
	return m.writeCurrentMarker(name, gen.Epoch)
}
