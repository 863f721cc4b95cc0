// Package advisorylock implements a file-based advisory lock over a
// directory, used to serialize the garbage collector against other
// mutators of the same store root. The design (spec.md §5) requires no
// locking for the single-mutator case but permits implementations to add
// one; this is that addition.
package advisorylock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nixstore/nixstore/internal/storeerr"
	"github.com/nixstore/nixstore/internal/uuid"
)

// Lock represents the contents of a held advisory lock file.
type Lock struct {
	Owner     string    `json:"owner"`
	Hostname  string    `json:"hostname"`
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
	TimeoutNs int64     `json:"timeout_ns"`
}

// Handle represents a held lock; call Release to drop it.
type Handle struct {
	path string
}

// Acquire takes the advisory lock under dir (creating dir if needed),
// failing if a live lock (younger than timeout) is already held there.
func Acquire(dir string, timeout time.Duration) (*Handle, error) {
	lockPath := filepath.Join(dir, ".lock")

	if data, err := os.ReadFile(lockPath); err == nil {
		var existing Lock
		if err := json.Unmarshal(data, &existing); err == nil {
			if time.Since(existing.Timestamp) < timeout {
				return nil, storeerr.New(storeerr.KindInvalidInput, "advisorylock.Acquire", lockPath,
					fmt.Errorf("locked by %s (owner %s) at %v", existing.Hostname, existing.Owner, existing.Timestamp))
			}
		}
	}

	hostname, _ := os.Hostname()
	lock := Lock{
		Owner:     uuid.NewString(),
		Hostname:  hostname,
		PID:       os.Getpid(),
		Timestamp: time.Now(),
		TimeoutNs: int64(timeout),
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, storeerr.New(storeerr.KindIO, "advisorylock.Acquire", lockPath, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storeerr.New(storeerr.KindIO, "advisorylock.Acquire", dir, err)
	}
	if err := os.WriteFile(lockPath, data, 0o644); err != nil {
		return nil, storeerr.New(storeerr.KindIO, "advisorylock.Acquire", lockPath, err)
	}

	return &Handle{path: lockPath}, nil
}

// Release removes the lock file.
func (h *Handle) Release() error {
	err := os.Remove(h.path)
	if err != nil && !os.IsNotExist(err) {
		return storeerr.New(storeerr.KindIO, "advisorylock.Release", h.path, err)
	}
	return nil
}
