package vfs

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/lib"
)

// Commit writes every pending edit to the backup. Content-addressed blobs
// go into the pool first, then each edited file is also written under its
// device file ID, then the manifest is saved with the updated entries.
// Cancellation is only observed before the first blob is written.
//
// If a content-addressed blob cannot be written the archive stays Dirty and
// Commit can be retried. Once device-named files are being replaced, any
// failure drops the pending edits, leaves the in-memory index as it was and
// makes the archive Indeterminate. Committing a Clean archive does nothing.
func (a *Archive) Commit(ctx context.Context) error {
	notify, err := a.commit(ctx)
	run(notify)
	return err
}

func (a *Archive) commit(ctx context.Context) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case Indeterminate:
		return nil, ErrIndeterminate
	case Clean:
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(a.overlay))
	for p := range a.overlay {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	next := a.index.Clone()
	format := next.Format()
	written := 0
	var staged []string
	for _, p := range paths {
		edit := a.overlay[p]
		if edit.deleted {
			if err := next.Remove(p); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCommit, err)
			}
			continue
		}

		entry := edit.entry
		id := format.PoolID(entry, lib.GetHash(edit.data))
		if id != entry.FileID() {
			if _, err := a.store.Write(edit.data); err != nil {
				a.logger.Warn("blob write failed", zap.String("path", p), zap.Error(err))
				return nil, fmt.Errorf("%w: %s: %w", ErrCommit, p, err)
			}
			written++
		}

		entry.ContentID = id
		entry.Size = int64(len(edit.data))
		if err := next.Update(p, entry); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCommit, err)
		}
		staged = append(staged, p)
	}

	// Device-named copies replace files the current manifest may still
	// point at, so a failure from here on leaves the backup inconsistent.
	fail := func(err error) (func(), error) {
		a.overlay = make(map[string]*pendingEdit)
		return a.transition(Indeterminate), fmt.Errorf("%w: %w", ErrCommit, err)
	}
	for _, p := range staged {
		edit := a.overlay[p]
		if err := a.store.WriteAs(edit.entry.FileID(), edit.data); err != nil {
			a.logger.Error("blob write failed", zap.String("path", p), zap.Error(err))
			return fail(fmt.Errorf("%s: %w", p, err))
		}
		written++
	}

	if err := next.Save(); err != nil {
		a.logger.Error("manifest save failed", zap.String("root", a.root), zap.Error(err))
		return fail(err)
	}

	a.index = next
	a.overlay = make(map[string]*pendingEdit)
	a.logger.Info("changes committed",
		zap.String("root", a.root),
		zap.String("manifest", next.Format().FileName()),
		zap.Int("paths", len(paths)),
		zap.Int("blobs", written))
	return a.transition(Clean), nil
}

// Discard drops every pending edit without touching the disk. On a Clean
// archive it does nothing.
func (a *Archive) Discard() {
	run(a.discard())
}

func (a *Archive) discard() func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.overlay) == 0 && a.state != Dirty {
		return nil
	}
	dropped := len(a.overlay)
	a.overlay = make(map[string]*pendingEdit)
	a.logger.Debug("pending edits discarded", zap.Int("paths", dropped))
	if a.state == Indeterminate {
		return nil
	}
	return a.transition(Clean)
}
