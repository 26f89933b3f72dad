// Package vfs presents a backup directory as a tree of logical paths. Reads
// go through an in-memory overlay of pending edits before the manifest and
// the file pool; Commit writes the overlay back and Discard drops it.
package vfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/blobstore"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/lib"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/manifest"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/types"
)

var (
	// ErrOpen is returned when a backup cannot be opened.
	ErrOpen = errors.New("cannot open backup")
	// ErrCommit is returned when pending edits could not be written.
	ErrCommit = errors.New("commit failed")
	// ErrIndeterminate is returned by every data operation after a commit
	// failed while saving the manifest. The backup must be reopened.
	ErrIndeterminate = errors.New("backup state is indeterminate; reopen it")
	// ErrNotRegular is returned when a file operation names a directory or
	// a symlink.
	ErrNotRegular = errors.New("not a regular file")
	// ErrNotDirectory is returned when ReadDir names a file.
	ErrNotDirectory = errors.New("not a directory")

	ErrNotFound    = manifest.ErrNotFound
	ErrBlobMissing = blobstore.ErrBlobMissing
)

// State is the archive's position in its edit lifecycle.
type State int

const (
	// Clean means there are no pending edits.
	Clean State = iota
	// Dirty means the overlay holds edits not yet committed.
	Dirty
	// Indeterminate means a commit failed while saving the manifest.
	Indeterminate
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Indeterminate:
		return "indeterminate"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// pendingEdit is the overlay record for one logical path.
type pendingEdit struct {
	data    []byte
	deleted bool
	entry   types.ManifestEntry
}

// Archive is an open backup.
type Archive struct {
	mu sync.Mutex

	root    string
	index   *manifest.Index
	store   *blobstore.Store
	overlay map[string]*pendingEdit
	state   State

	onModified   func()
	logger       *zap.Logger
	now          func() time.Time
	networkPaths []string
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Archive) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock sets the time source used to stamp edited entries.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) {
		if now != nil {
			a.now = now
		}
	}
}

// WithNetworkPaths replaces the logical paths searched for the network
// list. An empty list keeps the defaults.
func WithNetworkPaths(paths ...string) Option {
	return func(a *Archive) {
		if len(paths) > 0 {
			a.networkPaths = append([]string(nil), paths...)
		}
	}
}

// Open loads the manifest of the backup at path. Nothing under path is
// modified until Commit.
func Open(path string, opts ...Option) (*Archive, error) {
	a := &Archive{
		overlay:      make(map[string]*pendingEdit),
		logger:       zap.NewNop(),
		now:          time.Now,
		networkPaths: lib.DefaultNetworkPaths,
	}
	for _, opt := range opts {
		opt(a)
	}

	root, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrOpen, root)
	}

	idx, err := manifest.Load(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	a.root = root
	a.index = idx
	a.store = blobstore.New(root)
	a.logger.Debug("backup opened",
		zap.String("root", root),
		zap.String("format", idx.Format().Name()),
		zap.Int("entries", idx.Len()),
		zap.Bool("sharded", a.store.Sharded()))
	return a, nil
}

// Root returns the backup directory.
func (a *Archive) Root() string { return a.root }

// State returns the current lifecycle state.
func (a *Archive) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// OnModified registers fn to be called whenever the archive moves into or
// out of the Dirty state: Clean to Dirty on the first staged edit, then
// Dirty to Clean after a successful Commit or a Discard, or Dirty to
// Indeterminate when a commit fails part way. Repeated edits while Dirty do
// not call it again. It replaces any earlier callback; nil removes it. fn
// runs on the caller's goroutine after the archive lock is released.
func (a *Archive) OnModified(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onModified = fn
}

// transition moves to state s and returns the callback to run once the
// lock is released, or nil when the dirty flag did not change.
func (a *Archive) transition(s State) func() {
	from := a.state
	a.state = s
	if (from == Dirty) == (s == Dirty) {
		return nil
	}
	a.logger.Debug("state changed", zap.Stringer("from", from), zap.Stringer("to", s))
	return a.onModified
}

func run(notify func()) {
	if notify != nil {
		notify()
	}
}

func (a *Archive) checkUsable() error {
	if a.state == Indeterminate {
		return ErrIndeterminate
	}
	return nil
}

// Pending returns the logical paths with uncommitted edits, sorted.
func (a *Archive) Pending() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	paths := make([]string, 0, len(a.overlay))
	for p := range a.overlay {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// entries returns the effective view: the index with the overlay applied,
// in manifest order followed by new paths in sorted order.
func (a *Archive) entries() []types.ManifestEntry {
	base := a.index.Entries()
	out := make([]types.ManifestEntry, 0, len(base)+len(a.overlay))
	seen := make(map[string]bool, len(base))
	for _, e := range base {
		p := e.LogicalPath()
		seen[p] = true
		if edit, ok := a.overlay[p]; ok {
			if !edit.deleted {
				out = append(out, edit.entry)
			}
			continue
		}
		out = append(out, e)
	}

	var added []string
	for p, edit := range a.overlay {
		if !seen[p] && !edit.deleted {
			added = append(added, p)
		}
	}
	sort.Strings(added)
	for _, p := range added {
		out = append(out, a.overlay[p].entry)
	}
	return out
}

// lookup resolves p in the effective view.
func (a *Archive) lookup(p string) (types.ManifestEntry, error) {
	if edit, ok := a.overlay[p]; ok {
		if edit.deleted {
			return types.ManifestEntry{}, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return edit.entry, nil
	}
	if e, err := a.index.Resolve(p); err == nil {
		return e, nil
	}
	if e, ok := manifest.Lookup(a.entries(), p); ok {
		return e, nil
	}
	return types.ManifestEntry{}, fmt.Errorf("%s: %w", p, ErrNotFound)
}

// Stat returns the effective entry at a logical path. Directories that
// have no record of their own are synthesized.
func (a *Archive) Stat(p string) (types.ManifestEntry, error) {
	p = types.CleanLogical(p)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkUsable(); err != nil {
		return types.ManifestEntry{}, err
	}
	return a.lookup(p)
}

// ReadDir lists the entries directly below a logical directory, sorted by
// name. The root "" lists the domains.
func (a *Archive) ReadDir(p string) ([]types.ManifestEntry, error) {
	p = types.CleanLogical(p)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkUsable(); err != nil {
		return nil, err
	}
	children, ok := manifest.Children(a.entries(), p)
	if ok {
		return children, nil
	}
	if _, err := a.lookup(p); err == nil {
		return nil, fmt.Errorf("%s: %w", p, ErrNotDirectory)
	}
	return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
}

// Walk calls fn for every effective entry, sorted by logical path, and
// stops at the first error fn returns.
func (a *Archive) Walk(fn func(types.ManifestEntry) error) error {
	a.mu.Lock()
	if err := a.checkUsable(); err != nil {
		a.mu.Unlock()
		return err
	}
	entries := a.entries()
	a.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].LogicalPath() < entries[j].LogicalPath() })
	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// ReadFile returns the content of a regular file, preferring a pending
// edit over the committed blob.
func (a *Archive) ReadFile(p string) ([]byte, error) {
	p = types.CleanLogical(p)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkUsable(); err != nil {
		return nil, err
	}
	return a.readLocked(p)
}

func (a *Archive) readLocked(p string) ([]byte, error) {
	if edit, ok := a.overlay[p]; ok && !edit.deleted {
		return append([]byte(nil), edit.data...), nil
	}
	e, err := a.lookup(p)
	if err != nil {
		return nil, err
	}
	if e.Kind != types.KindFile {
		return nil, fmt.Errorf("%s is a %s: %w", p, e.Kind, ErrNotRegular)
	}
	return a.readBlob(e)
}

// readBlob reads a committed entry from the pool. Entries written by this
// package are stored under their content ID; entries written by a device
// are stored under their file ID.
func (a *Archive) readBlob(e types.ManifestEntry) ([]byte, error) {
	for _, id := range blobIDs(e) {
		data, err := a.store.Read(id)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrBlobMissing) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: %w", e.LogicalPath(), ErrBlobMissing)
}

// BlobPath returns the pool file holding the committed content of the
// regular file at p. It reports false when p has a pending edit, so callers
// fall back to ReadFile.
func (a *Archive) BlobPath(p string) (string, bool, error) {
	p = types.CleanLogical(p)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkUsable(); err != nil {
		return "", false, err
	}
	if _, ok := a.overlay[p]; ok {
		return "", false, nil
	}
	e, err := a.lookup(p)
	if err != nil {
		return "", false, err
	}
	if e.Kind != types.KindFile {
		return "", false, fmt.Errorf("%s is a %s: %w", p, e.Kind, ErrNotRegular)
	}
	for _, id := range blobIDs(e) {
		path, err := a.store.Locate(id)
		if err == nil {
			return path, true, nil
		}
		if !errors.Is(err, ErrBlobMissing) {
			return "", false, err
		}
	}
	return "", false, fmt.Errorf("%s: %w", p, ErrBlobMissing)
}

// blobIDs lists the pool names e may be stored under, in lookup order.
func blobIDs(e types.ManifestEntry) []string {
	if e.ContentID != "" && e.ContentID != e.FileID() {
		return []string{e.ContentID, e.FileID()}
	}
	return []string{e.FileID()}
}

// WriteFile stages new content for a regular file, creating it if needed.
// The change is only visible through this archive until Commit.
func (a *Archive) WriteFile(p string, data []byte) error {
	notify, err := a.writeFile(types.CleanLogical(p), data)
	run(notify)
	return err
}

func (a *Archive) writeFile(p string, data []byte) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkUsable(); err != nil {
		return nil, err
	}
	return a.writeLocked(p, data)
}

func (a *Archive) writeLocked(p string, data []byte) (func(), error) {
	domain, relPath := types.SplitLogical(p)
	if domain == "" || relPath == "" {
		return nil, fmt.Errorf("%q is not a file path inside a domain", p)
	}

	entry := types.ManifestEntry{Kind: types.KindFile}
	if existing, err := a.lookup(p); err == nil {
		if existing.Kind != types.KindFile {
			return nil, fmt.Errorf("%s is a %s: %w", p, existing.Kind, ErrNotRegular)
		}
		entry = existing
	}
	for dir := parentOf(p); dir != ""; dir = parentOf(dir) {
		if parent, err := a.lookup(dir); err == nil && !parent.IsDir() {
			return nil, fmt.Errorf("%s: parent %s is a %s: %w", p, dir, parent.Kind, ErrNotDirectory)
		}
	}

	now := a.now().UTC().Truncate(time.Second)
	entry.Domain, entry.RelativePath = domain, relPath
	entry.ContentID = ""
	entry.Size = int64(len(data))
	entry.ModTime = now
	entry.ChangeTime = now

	a.overlay[p] = &pendingEdit{data: append([]byte(nil), data...), entry: entry}
	a.logger.Debug("file staged", zap.String("path", p), zap.Int("size", len(data)))
	return a.transition(Dirty), nil
}

func parentOf(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

// Remove stages the deletion of a file or symlink.
func (a *Archive) Remove(p string) error {
	notify, err := a.remove(types.CleanLogical(p))
	run(notify)
	return err
}

func (a *Archive) remove(p string) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkUsable(); err != nil {
		return nil, err
	}

	e, err := a.lookup(p)
	if err != nil {
		return nil, err
	}
	if e.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", p, ErrNotRegular)
	}

	if _, err := a.index.Resolve(p); err != nil {
		// Only staged so far: forget the edit.
		delete(a.overlay, p)
		a.logger.Debug("staged file dropped", zap.String("path", p))
		if len(a.overlay) == 0 {
			return a.transition(Clean), nil
		}
		return nil, nil
	}

	a.overlay[p] = &pendingEdit{deleted: true}
	a.logger.Debug("removal staged", zap.String("path", p))
	return a.transition(Dirty), nil
}
