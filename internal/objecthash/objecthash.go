// Package objecthash implements the store's content hashing and identifier
// derivation: the Hasher and Path computer components.
package objecthash

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	digest "github.com/opencontainers/go-digest"

	"github.com/nixstore/nixstore/internal/storeerr"
)

// MaxFiles bounds the number of regular files a directory-mode hash will
// enumerate, matching the grounding source's fixed cap.
const MaxFiles = 1024

// DefaultMaxDepth bounds directory recursion depth during hashing when the
// caller does not override it.
const DefaultMaxDepth = 64

// HashFile computes the file-mode digest: sha256("bin/" || name || bytes).
// name is the basename the file will be stored under.
func HashFile(name string, contents []byte) digest.Digest {
	h := sha256.New()
	h.Write([]byte("bin/"))
	h.Write([]byte(name))
	h.Write(contents)
	return digest.NewDigest(digest.SHA256, h)
}

type fileEntry struct {
	relPath string
	data    []byte
}

// HashDirectory walks root, enumerating regular files only (symlinks and
// other non-regular entries are excluded, a documented limitation), sorts
// them lexicographically by path relative to root, and hashes the
// concatenation of relPath||bytes for each in order.
//
// The walk is iterative (an explicit directory stack) rather than
// recursive, so a pathological input cannot blow the Go call stack the way
// a recursive file-collection routine could.
func HashDirectory(root string, maxDepth int) (digest.Digest, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	var entries []fileEntry

	type stackItem struct {
		path  string
		depth int
	}
	stack := []stackItem{{path: root, depth: 0}}

	for len(stack) > 0 {
		n := len(stack) - 1
		item := stack[n]
		stack = stack[:n]

		if item.depth > maxDepth {
			return "", storeerr.New(storeerr.KindInvalidInput, "HashDirectory", item.path,
				fmt.Errorf("recursion depth exceeds limit %d", maxDepth))
		}

		dirEntries, err := os.ReadDir(item.path)
		if err != nil {
			return "", storeerr.New(storeerr.KindIO, "HashDirectory", item.path, err)
		}

		for _, de := range dirEntries {
			full := filepath.Join(item.path, de.Name())
			info, err := de.Info()
			if err != nil {
				return "", storeerr.New(storeerr.KindIO, "HashDirectory", full, err)
			}

			switch {
			case info.Mode()&os.ModeSymlink != 0:
				// excluded from the canonical hash; see design notes.
				continue
			case de.IsDir():
				stack = append(stack, stackItem{path: full, depth: item.depth + 1})
			case info.Mode().IsRegular():
				if len(entries) >= MaxFiles {
					return "", storeerr.New(storeerr.KindResourceExhaustion, "HashDirectory", root,
						fmt.Errorf("exceeds file cap of %d", MaxFiles))
				}
				data, err := os.ReadFile(full)
				if err != nil {
					return "", storeerr.New(storeerr.KindIO, "HashDirectory", full, err)
				}
				rel, err := filepath.Rel(root, full)
				if err != nil {
					return "", storeerr.New(storeerr.KindIO, "HashDirectory", full, err)
				}
				entries = append(entries, fileEntry{relPath: rel, data: data})
			default:
				// non-regular, non-directory, non-symlink: skip.
				continue
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].relPath < entries[j].relPath })

	h := sha256.New()
	for _, e := range entries {
		io.WriteString(h, e.relPath)
		h.Write(e.data)
	}
	return digest.NewDigest(digest.SHA256, h), nil
}

// ComputeObjectPath derives the object identifier <hex>-<name> under
// storeRoot. seedHex, if non-empty, is used verbatim as the caller-provided
// seed; otherwise the seed is digest.FromString(name). references are
// concatenated onto the seed in insertion order before hashing. maxPathLength
// caps the resulting path length (store.max_path_length); a value <= 0
// falls back to the default of 4096.
func ComputeObjectPath(storeRoot, name, seedHex string, references []string, maxPathLength int) (string, error) {
	var seed string
	if seedHex != "" {
		seed = seedHex
	} else {
		seed = digest.FromString(name).Encoded()
	}

	h := sha256.New()
	io.WriteString(h, seed)
	for _, ref := range references {
		io.WriteString(h, ref)
	}
	hex := fmt.Sprintf("%x", h.Sum(nil))

	identifier := fmt.Sprintf("%s-%s", hex, name)
	full := filepath.Join(storeRoot, identifier)

	if maxPathLength <= 0 {
		maxPathLength = 4096
	}
	if len(full) > maxPathLength {
		return "", storeerr.New(storeerr.KindInvalidInput, "ComputeObjectPath", full,
			fmt.Errorf("resulting path exceeds maximum length %d", maxPathLength))
	}
	return full, nil
}
