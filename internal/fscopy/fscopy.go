// Package fscopy implements the native recursive copy and recursive
// delete the design calls for in place of the grounding source's
// system("cp -rP ...") and system("rm -rf ...") shellouts (spec.md §9).
package fscopy

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/nixstore/nixstore/internal/storeerr"
)

// Tree recursively copies src into dst. Symlinks are recreated pointing
// at their original target (not followed, not dereferenced), matching
// spec.md §4.3's "preserving symlinks, not following them". Regular
// files copy their mode bits; directories keep their source mode bits with
// owner rwx added, and are fixed up by the caller's own seal step afterward.
func Tree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return storeerr.New(storeerr.KindIO, "fscopy.Tree", src, err)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return storeerr.New(storeerr.KindIO, "fscopy.Tree", src, err)
		}
		return os.Symlink(target, dst)
	case info.IsDir():
		return copyDir(src, dst, info)
	default:
		return copyFile(src, dst, info)
	}
}

func copyDir(src, dst string, info os.FileInfo) error {
	if err := os.MkdirAll(dst, info.Mode().Perm()|0o700); err != nil {
		return storeerr.New(storeerr.KindIO, "fscopy.copyDir", dst, err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return storeerr.New(storeerr.KindIO, "fscopy.copyDir", src, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if err := Tree(filepath.Join(src, name), filepath.Join(dst, name)); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return storeerr.New(storeerr.KindIO, "fscopy.copyFile", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return storeerr.New(storeerr.KindIO, "fscopy.copyFile", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return storeerr.New(storeerr.KindIO, "fscopy.copyFile", dst, err)
	}
	return out.Close()
}

// BlockCopy copies src to dst via an explicit open file descriptor and
// io.Copy, for sources that may not report an accurate size via stat (a
// boot-ramdisk pseudo-file, per spec.md §4.3), rather than a size-aware
// whole-file read.
func BlockCopy(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return storeerr.New(storeerr.KindIO, "fscopy.BlockCopy", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return storeerr.New(storeerr.KindIO, "fscopy.BlockCopy", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return storeerr.New(storeerr.KindIO, "fscopy.BlockCopy", dst, err)
	}
	return out.Close()
}

// RemoveAll recursively removes path, the native replacement for
// system("rm -rf ...").
func RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return storeerr.New(storeerr.KindIO, "fscopy.RemoveAll", path, err)
	}
	return nil
}

// Seal recursively applies a-w,a+rX to path: write bits are stripped,
// read bits are ensured for everyone, and execute is ensured on
// directories (for traversal) and preserved where already set on files.
// This is the implementation of spec.md §3's "sealing" — the recursive
// chmod that used to be a system("chmod -R a-w,a+rX ...") call.
func Seal(path string) error {
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		mode := (info.Mode().Perm() &^ 0o222) | 0o444 // a-w,a+r
		if info.IsDir() {
			mode |= 0o111 // traversal execute on all dirs regardless of original bits
		}
		return os.Chmod(p, mode)
	})
}
