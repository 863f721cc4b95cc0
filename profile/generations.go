package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nixstore/nixstore/internal/fscopy"
	"github.com/nixstore/nixstore/internal/storeerr"
)

// Generation is a timestamped profile snapshot.
type Generation struct {
	Epoch int64
	Time  time.Time
}

func (m *Manager) currentMarkerPath(name string) string {
	return filepath.Join(m.profilesRoot(), fmt.Sprintf(".%s.current", name))
}

func (m *Manager) profilesRoot() string {
	return filepath.Join(filepath.Dir(m.Config.Store.StorePath), "profiles")
}

func (m *Manager) profileDir(name string) string {
	return filepath.Join(m.profilesRoot(), name)
}

// generationDirName formats the on-disk name of a generation snapshot.
func generationDirName(profile string, epoch int64) string {
	return fmt.Sprintf("%s-%d", profile, epoch)
}

// snapshot copies profileDir's current contents into a freshly-named
// generation directory, bumping the epoch forward a second at a time if
// the name is already taken (two snapshots can be requested inside the
// same wall-clock second during a single install).
func (m *Manager) snapshot(name string) (int64, error) {
	profileDir := m.profileDir(name)
	if _, err := os.Stat(profileDir); os.IsNotExist(err) {
		return 0, nil
	}

	epoch := time.Now().Unix()
	for {
		genDir := filepath.Join(m.profilesRoot(), generationDirName(name, epoch))
		if _, err := os.Stat(genDir); os.IsNotExist(err) {
			if err := fscopy.Tree(profileDir, genDir); err != nil {
				return 0, err
			}
			return epoch, nil
		}
		epoch++
	}
}

// readCurrentMarker returns the epoch recorded as the active generation,
// or 0 if no marker exists.
func (m *Manager) readCurrentMarker(name string) int64 {
	data, err := os.ReadFile(m.currentMarkerPath(name))
	if err != nil {
		return 0
	}
	epoch, _ := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	return epoch
}

// writeCurrentMarker atomically records epoch as the active generation.
func (m *Manager) writeCurrentMarker(name string, epoch int64) error {
	path := m.currentMarkerPath(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(epoch, 10)), 0o644); err != nil {
		return storeerr.New(storeerr.KindIO, "profile.writeCurrentMarker", tmp, err)
	}
	return os.Rename(tmp, path)
}

// ListGenerations returns all generation snapshots for name, newest
// first.
func (m *Manager) ListGenerations(name string) ([]Generation, error) {
	entries, err := os.ReadDir(m.profilesRoot())
	if err != nil {
		return nil, storeerr.New(storeerr.KindIO, "profile.ListGenerations", m.profilesRoot(), err)
	}

	prefix := name + "-"
	var gens []Generation
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		epochStr := strings.TrimPrefix(e.Name(), prefix)
		epoch, err := strconv.ParseInt(epochStr, 10, 64)
		if err != nil {
			continue
		}
		gens = append(gens, Generation{Epoch: epoch, Time: time.Unix(epoch, 0)})
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i].Epoch > gens[j].Epoch })
	return gens, nil
}

// cleanupOldGenerations lists all "<name>-<epoch>" siblings, sorted
// descending by epoch, and deletes those beyond index
// Config.Profiles.MaxGenerations. 0 disables retention.
func (m *Manager) cleanupOldGenerations(name string) error {
	maxGens := m.Config.Profiles.MaxGenerations
	if maxGens <= 0 {
		return nil
	}

	gens, err := m.ListGenerations(name)
	if err != nil {
		return err
	}
	if len(gens) <= maxGens {
		return nil
	}

	for _, g := range gens[maxGens:] {
		genDir := filepath.Join(m.profilesRoot(), generationDirName(name, g.Epoch))
		if err := fscopy.RemoveAll(genDir); err != nil {
			return err
		}
	}
	return nil
}
