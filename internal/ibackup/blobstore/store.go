// Package blobstore reads and writes the hash-named file pool of a backup.
package blobstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/lib"
)

// ErrBlobMissing is returned when no pool file exists for an identifier.
var ErrBlobMissing = errors.New("blob missing")

// Store is the file pool rooted at a backup directory. Backups written by
// iOS 10 and later shard the pool into id[:2]/id; older ones keep it flat.
// New blobs follow whichever layout the pool already uses.
type Store struct {
	root    string
	sharded bool

	// mu serializes writes so two callers storing the same content do not
	// race on the rename.
	mu sync.Mutex
}

// New opens the pool at root and detects its layout.
func New(root string) *Store {
	return &Store{root: root, sharded: detectSharded(root)}
}

// detectSharded reports whether root holds any two-hex-character shard
// directories.
func detectSharded(root string) bool {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return false
	}
	for _, d := range dirEntries {
		if d.IsDir() && isShardName(d.Name()) {
			return true
		}
	}
	return false
}

func isShardName(name string) bool {
	return len(name) == 2 && isHex(name[0]) && isHex(name[1])
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

// Root returns the pool directory.
func (s *Store) Root() string { return s.root }

// Sharded reports whether new blobs go into shard directories.
func (s *Store) Sharded() bool { return s.sharded }

// Path returns where a blob with id is written.
func (s *Store) Path(id string) string {
	if s.sharded && len(id) >= 2 {
		return filepath.Join(s.root, id[:2], id)
	}
	return filepath.Join(s.root, id)
}

// candidates lists the places a blob may live, preferred layout first.
func (s *Store) candidates(id string) []string {
	flat := filepath.Join(s.root, id)
	if len(id) < 2 {
		return []string{flat}
	}
	sharded := filepath.Join(s.root, id[:2], id)
	if s.sharded {
		return []string{sharded, flat}
	}
	return []string{flat, sharded}
}

// validID rejects identifiers that would escape the pool directory.
func validID(id string) error {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return fmt.Errorf("invalid blob id %q", id)
	}
	return nil
}

// Read returns the bytes stored under id.
func (s *Store) Read(id string) ([]byte, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	for _, p := range s.candidates(id) {
		data, err := os.ReadFile(p)
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: %w", id, ErrBlobMissing)
}

// Has reports whether a blob with id exists in either layout.
func (s *Store) Has(id string) bool {
	if validID(id) != nil {
		return false
	}
	for _, p := range s.candidates(id) {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return true
		}
	}
	return false
}

// Locate returns the path of the pool file holding id.
func (s *Store) Locate(id string) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	for _, p := range s.candidates(id) {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", id, ErrBlobMissing)
}

// Size returns the stored length of the blob with id.
func (s *Store) Size(id string) (int64, error) {
	p, err := s.Locate(id)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Write stores data under its content ID and returns the ID. Content that is
// already in the pool is not rewritten.
func (s *Store) Write(data []byte) (string, error) {
	id := lib.GetHash(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Has(id) {
		return id, nil
	}

	p := s.Path(id)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", err
	}
	if err := lib.WriteFileAtomic(p, data, 0644); err != nil {
		return "", fmt.Errorf("writing blob %s: %w", id, err)
	}
	return id, nil
}

// WriteAs stores data under id, replacing any file already there. It is
// used for device file IDs, which name a path rather than its content.
func (s *Store) WriteAs(id string, data []byte) error {
	if err := validID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.Locate(id)
	if err != nil {
		p = s.Path(id)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
	}
	if err := lib.WriteFileAtomic(p, data, 0644); err != nil {
		return fmt.Errorf("writing blob %s: %w", id, err)
	}
	return nil
}

// List returns the IDs of every blob in the pool, sorted. Manifests and
// other non-blob files are skipped.
func (s *Store) List() ([]string, error) {
	var ids []string
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	for _, d := range dirEntries {
		name := d.Name()
		switch {
		case d.Type().IsRegular() && lib.IsContentID(name):
			ids = append(ids, name)
		case d.IsDir() && isShardName(name):
			shard, err := os.ReadDir(filepath.Join(s.root, name))
			if err != nil {
				return nil, err
			}
			for _, f := range shard {
				if f.Type().IsRegular() && lib.IsContentID(f.Name()) {
					ids = append(ids, f.Name())
				}
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the blob with id from whichever layout holds it.
func (s *Store) Delete(id string) error {
	if err := validID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	for _, p := range s.candidates(id) {
		err := os.Remove(p)
		if err == nil {
			removed = true
			continue
		}
		if !os.IsNotExist(err) {
			return err
		}
	}
	if !removed {
		return fmt.Errorf("%s: %w", id, ErrBlobMissing)
	}
	return nil
}
