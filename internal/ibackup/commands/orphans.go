package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/blobstore"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/manifest"
)

// OrphanOptions holds the configuration for the orphans command.
type OrphanOptions struct {
	Options
	// Delete removes the orphaned blobs instead of only reporting them.
	Delete bool
}

// findOrphans returns the pool blobs that no manifest entry references.
// This is the mark phase: every content and file ID of the committed
// manifest is live; everything else in the pool is not.
func findOrphans(index *manifest.Index, store *blobstore.Store) ([]string, error) {
	live := index.Referenced()
	ids, err := store.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list the file pool: %w", err)
	}
	var orphans []string
	for _, id := range ids {
		if !live[id] {
			orphans = append(orphans, id)
		}
	}
	return orphans, nil
}

// Orphans is the main function for the 'orphans' command. Blobs are left
// behind when a commit fails after writing content, or when an edited
// file's old content is replaced.
func Orphans(archiveDir string, options OrphanOptions) error {
	absDir, err := filepath.Abs(archiveDir)
	if err != nil {
		return fmt.Errorf("could not resolve path: %w", err)
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fmt.Printf("🧹 Scanning \"%s\" for unreferenced blobs...\n", absDir)
	index, err := manifest.Load(absDir)
	if err != nil {
		return fmt.Errorf("could not load manifest: %w", err)
	}
	store := blobstore.New(absDir)

	// 1. Mark Phase
	orphans, err := findOrphans(index, store)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		fmt.Println("No orphaned blobs found.")
		return nil
	}

	var totalSize int64
	fmt.Printf("%-42s %s\n", "BLOB", "SIZE")
	fmt.Printf("%-42s %s\n", "========================================", "==========")
	for _, id := range orphans {
		size, _ := store.Size(id)
		totalSize += size
		fmt.Printf("%-42s %s\n", id, formatBytes(size, 2))
	}
	fmt.Printf("\n%d orphaned blob(s), %s\n", len(orphans), formatBytes(totalSize, 2))

	if !options.Delete {
		return nil
	}

	// 2. Sweep Phase
	fmt.Println("   - Deleting orphaned blobs...")
	deleted := 0
	for _, id := range orphans {
		if err := store.Delete(id); err != nil {
			logger.Warn("could not delete blob", zap.String("id", id), zap.Error(err))
			fmt.Fprintf(os.Stderr, "Warning: could not delete %s: %v\n", id, err)
			continue
		}
		deleted++
	}
	fmt.Println("✅ Prune complete!")
	fmt.Printf("   - Deleted %d blob(s), freed %s.\n", deleted, formatBytes(totalSize, 2))
	return nil
}
