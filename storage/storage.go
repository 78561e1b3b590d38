// Package storage owns everything the driver writes to disk: player saves,
// world snapshots, the permissions file, namespaced daemon data, the audit
// log, and the persistent call-out queue. Every primary file write is
// atomic: content goes to a temp file, the previous version is kept as
// .bak, and a rename publishes the new one. Writes to the same key are
// serialized; different keys proceed independently.
package storage

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	driver "github.com/duskmud/driver"
	"github.com/duskmud/driver/structs"
	"github.com/pkg/errors"

	goccy "github.com/goccy/go-json"
)

const (
	playersDir = "players"
	dataDir    = "data"
	worldFile  = "world.json"
	permsFile  = "permissions.json"
)

type Store struct {
	dir   string
	locks *driver.SyncMap[string, bool]
}

func New(dir string) (*Store, error) {
	for _, sub := range []string{"", playersDir, dataDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return nil, driver.WithStack(err)
		}
	}
	return &Store{
		dir:   dir,
		locks: driver.NewSyncMap[string, bool](),
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// sanitizeName reduces an externally supplied name to a safe filename
// component: anything outside [a-z0-9_-] is dropped, uppercase folded.
// Path traversal characters cannot survive this.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// writeAtomic publishes b at path via temp file and rename, keeping the
// prior version as .bak. A crash at any point leaves either the old or
// the new complete file at path, never a torn one.
func (s *Store) writeAtomic(path string, b []byte) error {
	var result error
	s.locks.WithLock(path, func() {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, b, 0600); err != nil {
			result = driver.WithStack(err)
			return
		}
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, path+".bak"); err != nil {
				result = driver.WithStack(err)
				return
			}
		}
		result = driver.WithStack(os.Rename(tmp, path))
	})
	return result
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return driver.WithStack(err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return driver.WithStack(err)
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return driver.WithStack(err)
}

func (s *Store) saveJSON(path string, v any) error {
	b, err := goccy.MarshalIndent(v, "", "  ")
	if err != nil {
		return driver.WithStack(err)
	}
	return s.writeAtomic(path, b)
}

func (s *Store) loadJSON(path string, into any) error {
	var b []byte
	var err error
	s.locks.WithLock(path, func() {
		b, err = os.ReadFile(path)
	})
	if err != nil {
		return driver.WithStack(err)
	}
	return driver.WithStack(goccy.Unmarshal(b, into))
}

func (s *Store) playerPath(name string) (string, error) {
	clean := sanitizeName(name)
	if clean == "" {
		return "", errors.Errorf("player name %q sanitizes to nothing", name)
	}
	return filepath.Join(s.dir, playersDir, clean+".json"), nil
}

func (s *Store) SavePlayer(data *structs.PlayerSaveData) error {
	path, err := s.playerPath(data.Name)
	if err != nil {
		return err
	}
	data.SavedAt = time.Now().UTC()
	return s.saveJSON(path, data)
}

func (s *Store) LoadPlayer(name string) (*structs.PlayerSaveData, error) {
	path, err := s.playerPath(name)
	if err != nil {
		return nil, err
	}
	data := &structs.PlayerSaveData{}
	if err := s.loadJSON(path, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) PlayerExists(name string) (bool, error) {
	path, err := s.playerPath(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err == nil {
		return true, nil
	} else if os.IsNotExist(err) {
		return false, nil
	} else {
		return false, driver.WithStack(err)
	}
}

func (s *Store) ListPlayers() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, playersDir))
	if err != nil {
		return nil, driver.WithStack(err)
	}
	result := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			result = append(result, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(result)
	return result, nil
}

func (s *Store) DeletePlayer(name string) error {
	path, err := s.playerPath(name)
	if err != nil {
		return err
	}
	var result error
	s.locks.WithLock(path, func() {
		result = driver.WithStack(os.Remove(path))
	})
	return result
}

func (s *Store) SaveWorld(state *structs.WorldState) error {
	state.Version = structs.WorldStateVersion
	state.SavedAt = time.Now().UTC()
	return s.saveJSON(filepath.Join(s.dir, worldFile), state)
}

func (s *Store) LoadWorld() (*structs.WorldState, error) {
	state := &structs.WorldState{}
	if err := s.loadJSON(filepath.Join(s.dir, worldFile), state); err != nil {
		return nil, err
	}
	if state.Version > structs.WorldStateVersion {
		return nil, errors.Errorf("world state version %d newer than supported %d", state.Version, structs.WorldStateVersion)
	}
	return state, nil
}

func (s *Store) SavePermissions(f *structs.PermissionsFile) error {
	return s.saveJSON(filepath.Join(s.dir, permsFile), f)
}

func (s *Store) LoadPermissions() (*structs.PermissionsFile, error) {
	f := &structs.PermissionsFile{}
	if err := s.loadJSON(filepath.Join(s.dir, permsFile), f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) dataPath(namespace, key string) (string, error) {
	ns, k := sanitizeName(namespace), sanitizeName(key)
	if ns == "" || k == "" {
		return "", errors.Errorf("namespace %q / key %q sanitize to nothing", namespace, key)
	}
	if err := os.MkdirAll(filepath.Join(s.dir, dataDir, ns), 0700); err != nil {
		return "", driver.WithStack(err)
	}
	return filepath.Join(s.dir, dataDir, ns, k+".json"), nil
}

// SetData stores arbitrary daemon data under namespace/key.
func (s *Store) SetData(namespace, key string, v any) error {
	path, err := s.dataPath(namespace, key)
	if err != nil {
		return err
	}
	return s.saveJSON(path, v)
}

func (s *Store) GetData(namespace, key string, into any) error {
	path, err := s.dataPath(namespace, key)
	if err != nil {
		return err
	}
	return s.loadJSON(path, into)
}

func (s *Store) DelData(namespace, key string) error {
	path, err := s.dataPath(namespace, key)
	if err != nil {
		return err
	}
	var result error
	s.locks.WithLock(path, func() {
		result = driver.WithStack(os.Remove(path))
	})
	return result
}

func (s *Store) ListData(namespace string) ([]string, error) {
	ns := sanitizeName(namespace)
	if ns == "" {
		return nil, errors.Errorf("namespace %q sanitizes to nothing", namespace)
	}
	entries, err := os.ReadDir(filepath.Join(s.dir, dataDir, ns))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, driver.WithStack(err)
	}
	result := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			result = append(result, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(result)
	return result, nil
}
