// Package manifest maps a backup's logical paths onto its hash-named file
// pool. The Index is loaded from whichever manifest format the backup
// carries and written back through the same format.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/types"
)

var (
	// ErrManifestCorrupt marks a manifest whose records cannot be parsed.
	ErrManifestCorrupt = errors.New("manifest corrupt")
	// ErrNotFound is returned when a logical path has no entry.
	ErrNotFound = errors.New("not found")
	// ErrNoManifest is returned when a directory holds no known manifest.
	ErrNoManifest = errors.New("no manifest found")
)

// Index is the in-memory path→entry table of one backup.
type Index struct {
	root    string
	format  Format
	entries map[string]types.ManifestEntry
	order   []string // logical paths in manifest order

	// updated and removed record which paths changed since the index was
	// loaded, for formats that persist incrementally.
	updated map[string]bool
	removed map[string]bool
}

// New returns an empty index for a backup at root that will be saved with
// format.
func New(root string, format Format) *Index {
	return &Index{
		root:    root,
		format:  format,
		entries: make(map[string]types.ManifestEntry),
		updated: make(map[string]bool),
		removed: make(map[string]bool),
	}
}

// Load detects the manifest format present in root and parses it.
func Load(root string) (*Index, error) {
	for _, format := range Formats {
		manifestPath := filepath.Join(root, format.FileName())
		info, err := os.Stat(manifestPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", manifestPath)
		}

		entries, err := format.Decode(manifestPath)
		if err != nil {
			return nil, err
		}

		idx := New(root, format)
		for _, e := range entries {
			idx.put(e)
		}
		return idx, nil
	}
	return nil, fmt.Errorf("%w in %s", ErrNoManifest, root)
}

// put inserts e without marking it changed. A later record for the same
// path replaces the earlier one in place.
func (idx *Index) put(e types.ManifestEntry) {
	p := e.LogicalPath()
	if _, exists := idx.entries[p]; !exists {
		idx.order = append(idx.order, p)
	}
	idx.entries[p] = e
}

// Root returns the backup directory the index belongs to.
func (idx *Index) Root() string { return idx.root }

// Format returns the manifest format used to save the index.
func (idx *Index) Format() Format { return idx.format }

// Len returns the number of entries.
func (idx *Index) Len() int { return len(idx.entries) }

// Resolve returns the entry stored under a logical path.
func (idx *Index) Resolve(logicalPath string) (types.ManifestEntry, error) {
	e, ok := idx.entries[logicalPath]
	if !ok {
		return types.ManifestEntry{}, fmt.Errorf("%s: %w", logicalPath, ErrNotFound)
	}
	return e, nil
}

// Update stores entry under logicalPath, replacing any existing entry. The
// entry's domain and relative path are taken from logicalPath.
func (idx *Index) Update(logicalPath string, entry types.ManifestEntry) error {
	if logicalPath == "" {
		return fmt.Errorf("manifest: empty logical path")
	}
	entry.Domain, entry.RelativePath = types.SplitLogical(logicalPath)
	if entry.Kind == types.KindDirectory && entry.ContentID != "" {
		return fmt.Errorf("manifest: directory %s cannot have content", logicalPath)
	}
	idx.put(entry)
	idx.updated[logicalPath] = true
	delete(idx.removed, logicalPath)
	return nil
}

// Remove deletes the entry stored under logicalPath.
func (idx *Index) Remove(logicalPath string) error {
	if _, ok := idx.entries[logicalPath]; !ok {
		return fmt.Errorf("%s: %w", logicalPath, ErrNotFound)
	}
	delete(idx.entries, logicalPath)
	for i, p := range idx.order {
		if p == logicalPath {
			idx.order = append(idx.order[:i], idx.order[i+1:]...)
			break
		}
	}
	delete(idx.updated, logicalPath)
	idx.removed[logicalPath] = true
	return nil
}

// Entries returns all entries in manifest order.
func (idx *Index) Entries() []types.ManifestEntry {
	out := make([]types.ManifestEntry, 0, len(idx.order))
	for _, p := range idx.order {
		out = append(out, idx.entries[p])
	}
	return out
}

// Paths returns all logical paths, sorted.
func (idx *Index) Paths() []string {
	out := append([]string(nil), idx.order...)
	sort.Strings(out)
	return out
}

// Changes returns the paths updated and removed since the index was loaded
// or last saved, each sorted.
func (idx *Index) Changes() (updated, removed []string) {
	for p := range idx.updated {
		updated = append(updated, p)
	}
	for p := range idx.removed {
		removed = append(removed, p)
	}
	sort.Strings(updated)
	sort.Strings(removed)
	return updated, removed
}

// Referenced returns every pool identifier a file entry may be stored
// under: its content ID and its device file ID.
func (idx *Index) Referenced() map[string]bool {
	refs := make(map[string]bool, 2*len(idx.entries))
	for _, e := range idx.entries {
		if e.Kind != types.KindFile {
			continue
		}
		if e.ContentID != "" {
			refs[e.ContentID] = true
		}
		refs[e.FileID()] = true
	}
	return refs
}

// Clone returns an independent copy that can be modified and saved without
// affecting idx.
func (idx *Index) Clone() *Index {
	c := New(idx.root, idx.format)
	c.order = append([]string(nil), idx.order...)
	for p, e := range idx.entries {
		c.entries[p] = e
	}
	for p := range idx.updated {
		c.updated[p] = true
	}
	for p := range idx.removed {
		c.removed[p] = true
	}
	return c
}

// Save persists the index through its format and resets the change sets.
func (idx *Index) Save() error {
	if idx.format == nil {
		return fmt.Errorf("manifest: index has no format")
	}
	manifestPath := filepath.Join(idx.root, idx.format.FileName())
	if err := idx.format.Save(manifestPath, idx); err != nil {
		return fmt.Errorf("saving %s: %w", manifestPath, err)
	}
	idx.updated = make(map[string]bool)
	idx.removed = make(map[string]bool)
	return nil
}
