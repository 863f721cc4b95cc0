// Package depscan extracts shared-library dependencies of an executable
// and resolves each to a store object, importing foreign libraries on
// first sight.
package depscan

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nixstore/nixstore/internal/dcontext"
	"github.com/nixstore/nixstore/internal/storeerr"
	"github.com/nixstore/nixstore/registry"
	"github.com/nixstore/nixstore/storeconfig"
)

// Importer is the subset of *importer.Importer the scanner needs, kept as
// an interface to avoid a dependency cycle between depscan and importer.
type Importer interface {
	Import(ctx context.Context, source, name string, deps []string) (string, error)
}

// Scanner runs the configured dynamic-linker inspection tool and resolves
// its findings to store object paths.
type Scanner struct {
	Config   storeconfig.Config
	Registry *registry.Registry
	Importer Importer
}

// New constructs a Scanner.
func New(cfg storeconfig.Config, reg *registry.Registry, im Importer) *Scanner {
	return &Scanner{Config: cfg, Registry: reg, Importer: im}
}

// Scan runs the scanner tool against execPath and resolves each reported
// library to a store object path. Returned paths are deduplicated,
// preserving first-seen order. A nonzero scanner-tool exit is a warning,
// not a fatal error: the set found so far is still returned.
func (s *Scanner) Scan(ctx context.Context, execPath string) ([]string, error) {
	logger := dcontext.GetLogger(ctx)

	out, runErr := s.runScanner(ctx, execPath)
	if runErr != nil {
		logger.WithError(runErr).Warnf("dependency scanner exited non-zero for %s", execPath)
	}

	libPaths := parseLddOutput(out)

	seen := make(map[string]struct{})
	var resolved []string
	for _, libPath := range libPaths {
		objPath, err := s.resolve(ctx, libPath)
		if err != nil {
			logger.WithError(err).Warnf("skipping unresolved dependency %s", libPath)
			continue
		}
		if objPath == "" {
			continue
		}
		if _, ok := seen[objPath]; ok {
			continue
		}
		seen[objPath] = struct{}{}
		resolved = append(resolved, objPath)
	}

	return resolved, nil
}

func (s *Scanner) runScanner(ctx context.Context, execPath string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.Config.Deps.Scanner, execPath)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// parseLddOutput extracts the resolved path after "=>" on each line,
// grounded verbatim on the grounding source's ldd-output parser: skip
// leading whitespace, stop at whitespace or '(', require an absolute
// path.
func parseLddOutput(out []byte) []string {
	var paths []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, "=>")
		if idx < 0 {
			continue
		}
		rest := strings.TrimLeft(line[idx+2:], " \t")
		end := strings.IndexAny(rest, " \t(")
		var candidate string
		if end < 0 {
			candidate = rest
		} else {
			candidate = rest[:end]
		}
		if candidate == "" {
			continue
		}
		if strings.HasPrefix(candidate, "/") {
			paths = append(paths, candidate)
		}
	}
	return paths
}

// resolve maps a resolved absolute library path to a store object path,
// per spec.md §4.4's three cases.
func (s *Scanner) resolve(ctx context.Context, libPath string) (string, error) {
	storeRoot := s.Config.Store.StorePath

	if rel, err := filepath.Rel(storeRoot, libPath); err == nil && !strings.HasPrefix(rel, "..") {
		segments := strings.SplitN(rel, string(filepath.Separator), 2)
		if len(segments) > 0 && segments[0] != "" {
			return filepath.Join(storeRoot, segments[0]), nil
		}
	}

	if s.isForeignOrigin(libPath) {
		if existing := s.findExistingObjectFor(libPath); existing != "" {
			return existing, nil
		}
		// Once a foreign library is committed to import, the copy-seal-
		// register pipeline must finish even if the scan's own context is
		// canceled (e.g. the ldd subprocess's CommandContext deadline
		// firing while this import is in flight); otherwise a cancellation
		// can leave a half-materialized, unsealed store object behind.
		objPath, err := s.Importer.Import(dcontext.DetachedContext(ctx), libPath, filepath.Base(libPath), nil)
		if err != nil {
			return "", storeerr.New(storeerr.KindIO, "depscan.resolve", libPath, fmt.Errorf("importing foreign dependency: %w", err))
		}
		return objPath, nil
	}

	// host artifact that resolves at runtime; not an error.
	return "", nil
}

func (s *Scanner) isForeignOrigin(libPath string) bool {
	for _, origin := range s.Config.Deps.ExtraLibPaths {
		if strings.HasPrefix(libPath, origin) {
			return true
		}
	}
	return false
}

// findExistingObjectFor searches the store for an object whose identifier
// ends in "-<basename(libPath)>" and which contains the library under
// bin/ or lib/.
func (s *Scanner) findExistingObjectFor(libPath string) string {
	base := filepath.Base(libPath)
	suffix := "-" + base

	entries, err := os.ReadDir(s.Config.Store.StorePath)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		objPath := filepath.Join(s.Config.Store.StorePath, e.Name())
		for _, sub := range []string{"bin", "lib"} {
			if _, err := os.Stat(filepath.Join(objPath, sub, base)); err == nil {
				return objPath
			}
		}
	}
	return ""
}
