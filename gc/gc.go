// Package gc implements the mark-and-sweep garbage collector: compute
// the live set from the registry's roots and their transitive
// references, then delete every on-disk object not in that set.
package gc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nixstore/nixstore/internal/advisorylock"
	"github.com/nixstore/nixstore/internal/dcontext"
	"github.com/nixstore/nixstore/internal/fscopy"
	"github.com/nixstore/nixstore/internal/statusd"
	"github.com/nixstore/nixstore/internal/storeerr"
	"github.com/nixstore/nixstore/registry"
)

// Options configures a collection run.
type Options struct {
	// DryRun computes and reports the deletion set without removing
	// anything.
	DryRun bool
	// MaxConcurrency bounds the number of objects removed concurrently
	// during the sweep phase. 0 selects a default of 4.
	MaxConcurrency int
	// LockTimeout bounds how long a stale advisory lock is honored
	// before a new run is allowed to proceed. 0 selects a default of
	// 10 minutes.
	LockTimeout time.Duration
}

// Stats summarizes a completed (or dry-run) collection.
type Stats struct {
	ObjectsMarked     int
	ObjectsRemoved    int
	BytesReclaimed    int64
	MarkDuration      time.Duration
	SweepDuration     time.Duration
	TotalDuration     time.Duration
	Errors            []error
	DeletionCandidates []string
}

// Collector runs garbage collection against a single store root.
type Collector struct {
	Registry  *registry.Registry
	StorePath string
}

// New constructs a Collector.
func New(reg *registry.Registry, storePath string) *Collector {
	return &Collector{Registry: reg, StorePath: storePath}
}

// Run performs a full mark-and-sweep pass (spec.md §4.6): mark every
// root and its transitive references live, scan the store directory for
// objects not in the live set, and remove each (unless opts.DryRun),
// along with its registry entry.
func (c *Collector) Run(ctx context.Context, opts Options) (Stats, error) {
	if opts.MaxConcurrency == 0 {
		opts.MaxConcurrency = 4
	}
	if opts.LockTimeout == 0 {
		opts.LockTimeout = 10 * time.Minute
	}

	logger := dcontext.GetLogger(ctx)
	start := time.Now()
	var stats Stats

	lock, err := advisorylock.Acquire(c.Registry.DBDir(), opts.LockTimeout)
	if err != nil {
		return stats, err
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			logger.WithError(releaseErr).Warn("failed to release gc lock")
		}
	}()

	markStart := time.Now()
	live, err := c.mark()
	if err != nil {
		return stats, err
	}
	stats.ObjectsMarked = len(live)
	stats.MarkDuration = time.Since(markStart)

	sweepStart := time.Now()
	candidates, err := c.candidates(live)
	if err != nil {
		return stats, err
	}
	stats.DeletionCandidates = candidates

	if opts.DryRun {
		stats.SweepDuration = time.Since(sweepStart)
		stats.TotalDuration = time.Since(start)
		logger.Infof("gc dry run: %d live objects, %d candidates for removal", len(live), len(candidates))
		return stats, nil
	}

	removed, bytesReclaimed, sweepErrs := c.sweep(ctx, candidates, opts.MaxConcurrency)
	stats.ObjectsRemoved = removed
	stats.BytesReclaimed = bytesReclaimed
	stats.Errors = sweepErrs
	stats.SweepDuration = time.Since(sweepStart)
	stats.TotalDuration = time.Since(start)

	statusd.RecordGCRun(bytesReclaimed)
	logger.Infof("gc complete: removed %d objects, reclaimed %d bytes", removed, bytesReclaimed)
	return stats, nil
}

// mark computes the live set: every root in the registry, plus every
// object transitively reachable from a root via its reference set, plus
// every object symlinked into any profile's live bin/lib/share/etc/include
// directories or generation snapshots (spec.md §4.6's root sources).
func (c *Collector) mark() (map[string]struct{}, error) {
	live := make(map[string]struct{})
	queue := append([]string(nil), c.Registry.Roots()...)
	for _, p := range queue {
		live[p] = struct{}{}
	}

	profileRoots, err := c.profileRoots()
	if err != nil {
		return nil, err
	}
	for _, p := range profileRoots {
		if _, ok := live[p]; !ok {
			live[p] = struct{}{}
			queue = append(queue, p)
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		refs, err := c.Registry.GetRefs(cur)
		if err != nil {
			// a root with no registry entry is a dangling root; it
			// contributes nothing further to the live set but is not
			// itself an error for the whole run.
			continue
		}
		for _, ref := range refs {
			if _, ok := live[ref]; ok {
				continue
			}
			live[ref] = struct{}{}
			queue = append(queue, ref)
		}
	}

	return live, nil
}

// profileRoots resolves every store object a profile directory (or any
// of its retained generations) symlinks to, by reading the symlink
// targets under each profile's bin/lib/share/etc/include subdirectories
// and mapping each back to its containing store object.
func (c *Collector) profileRoots() ([]string, error) {
	profilesRoot := filepath.Join(filepath.Dir(c.StorePath), "profiles")
	entries, err := os.ReadDir(profilesRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, storeerr.New(storeerr.KindIO, "gc.profileRoots", profilesRoot, err)
	}

	var roots []string
	seen := make(map[string]struct{})
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(profilesRoot, e.Name())
		for _, sub := range []string{"bin", "lib", "share", "etc", "include"} {
			subDir := filepath.Join(dir, sub)
			subEntries, err := os.ReadDir(subDir)
			if err != nil {
				continue
			}
			for _, se := range subEntries {
				full := filepath.Join(subDir, se.Name())
				info, err := os.Lstat(full)
				if err != nil || info.Mode()&os.ModeSymlink == 0 {
					continue
				}
				target, err := os.Readlink(full)
				if err != nil {
					continue
				}
				obj := c.objectOf(target)
				if obj == "" {
					continue
				}
				if _, ok := seen[obj]; !ok {
					seen[obj] = struct{}{}
					roots = append(roots, obj)
				}
			}
		}
	}
	return roots, nil
}

// objectOf maps an absolute path under the store root back to its
// containing object directory, or "" if targetPath is not under the
// store root at all (e.g. a wrapper script's shebang pointing at a
// still-foreign system shell).
func (c *Collector) objectOf(targetPath string) string {
	rel, err := filepath.Rel(c.StorePath, targetPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	first := rel
	if idx := strings.IndexRune(rel, filepath.Separator); idx >= 0 {
		first = rel[:idx]
	}
	if first == "" || first == "." || first == filepath.Base(c.Registry.DBDir()) {
		return ""
	}
	return filepath.Join(c.StorePath, first)
}

// candidates lists every object directory under the store root not in
// live, excluding the registry's own directory (spec.md §4.6: the object
// set is every direct subdirectory of the store root excluding the
// registry subdirectory).
func (c *Collector) candidates(live map[string]struct{}) ([]string, error) {
	entries, err := os.ReadDir(c.StorePath)
	if err != nil {
		return nil, storeerr.New(storeerr.KindIO, "gc.candidates", c.StorePath, err)
	}

	registryDir := filepath.Base(c.Registry.DBDir())

	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if e.Name() == registryDir {
			continue
		}
		full := filepath.Join(c.StorePath, e.Name())
		if _, ok := live[full]; ok {
			continue
		}
		out = append(out, full)
	}
	return out, nil
}

// sweep removes each candidate concurrently (bounded by maxConcurrency),
// tallying reclaimed bytes and collecting individual removal errors
// without aborting the rest of the sweep.
func (c *Collector) sweep(ctx context.Context, candidates []string, maxConcurrency int) (int, int64, []error) {
	var (
		mu       sync.Mutex
		removed  int
		reclaimed int64
		errs     []error
	)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for _, candidate := range candidates {
		candidate := candidate
		g.Go(func() error {
			size := dirSize(candidate)

			if err := fscopy.RemoveAll(candidate); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("removing %s: %w", candidate, err))
				mu.Unlock()
				return nil
			}
			if err := c.Registry.Remove(candidate); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("dropping registry entry for %s: %w", candidate, err))
				mu.Unlock()
				return nil
			}

			mu.Lock()
			removed++
			reclaimed += size
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return removed, reclaimed, errs
}

// dirSize sums the apparent size of every regular file under path,
// ignoring errors (best-effort statistic only, never fails the sweep).
func dirSize(path string) int64 {
	var total int64
	filepathWalk(path, func(info os.FileInfo) {
		if info != nil && info.Mode().IsRegular() {
			total += info.Size()
		}
	})
	return total
}

func filepathWalk(root string, visit func(os.FileInfo)) {
	info, err := os.Lstat(root)
	if err != nil {
		return
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return
	}
	if !info.IsDir() {
		visit(info)
		return
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		filepathWalk(filepath.Join(root, e.Name()), visit)
	}
}
