// Package commands contains the command-line interface for the ibackup application.
package commands

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/types"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/vfs"
)

// Options carries the settings shared by every command.
type Options struct {
	Logger *zap.Logger
	// NetworkPaths overrides where the network list is looked up.
	NetworkPaths []string
}

// openArchive resolves archiveDir and opens it with the shared options.
func openArchive(archiveDir string, opts Options) (*vfs.Archive, error) {
	absDir, err := filepath.Abs(archiveDir)
	if err != nil {
		return nil, fmt.Errorf("could not resolve absolute path for %s: %w", archiveDir, err)
	}
	var archiveOpts []vfs.Option
	if opts.Logger != nil {
		archiveOpts = append(archiveOpts, vfs.WithLogger(opts.Logger))
	}
	if len(opts.NetworkPaths) > 0 {
		archiveOpts = append(archiveOpts, vfs.WithNetworkPaths(opts.NetworkPaths...))
	}
	return vfs.Open(absDir, archiveOpts...)
}

// formatBytes is a utility to convert bytes into a human-readable string (KB, MB, GB).
func formatBytes(bytes int64, decimals int) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	const k = 1024
	if decimals < 0 {
		decimals = 0
	}
	sizes := []string{"Bytes", "KB", "MB", "GB", "TB"}

	i := 0
	for i < len(sizes)-1 && float64(bytes) >= math.Pow(k, float64(i+1)) {
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d Bytes", bytes)
	}

	return fmt.Sprintf("%.*f %s", decimals, float64(bytes)/math.Pow(k, float64(i)), sizes[i])
}

// shortID abbreviates a content ID for tables.
func shortID(id string) string {
	if len(id) > 10 {
		return id[:10]
	}
	if id == "" {
		return "-"
	}
	return id
}

// List is the main function for the 'ls' command. It prints the entries
// below logicalPath, or the entry itself when it names a file.
func List(archiveDir, logicalPath string, opts Options) error {
	archive, err := openArchive(archiveDir, opts)
	if err != nil {
		return err
	}
	logicalPath = types.CleanLogical(logicalPath)

	entries, err := archive.ReadDir(logicalPath)
	if errors.Is(err, vfs.ErrNotDirectory) {
		var e types.ManifestEntry
		if e, err = archive.Stat(logicalPath); err == nil {
			entries = []types.ManifestEntry{e}
		}
	}
	if err != nil {
		return fmt.Errorf("failed to list %q: %w", logicalPath, err)
	}

	if len(entries) == 0 {
		fmt.Printf("No entries found under \"%s\".\n", displayPath(logicalPath))
		return nil
	}

	fmt.Printf("Entries under \"%s\" in \"%s\":\n", displayPath(logicalPath), archive.Root())
	fmt.Printf("%-6s %-12s %-20s %-12s %s\n", "KIND", "SIZE", "MODIFIED", "CONTENT", "NAME")
	fmt.Printf("%-6s %-12s %-20s %-12s %s\n", "====", "==========", "==================", "==========", "====")

	var totalSize int64
	for _, e := range entries {
		modified := "-"
		if !e.ModTime.IsZero() && e.ModTime.Unix() != 0 {
			modified = e.ModTime.UTC().Format("2006-01-02 15:04:05")
		}
		name := e.Name()
		if e.Kind == types.KindSymlink && e.LinkTarget != "" {
			name += " -> " + e.LinkTarget
		}
		size := "-"
		if !e.IsDir() {
			size = formatBytes(e.Size, 1)
			totalSize += e.Size
		}
		fmt.Printf("%-6s %-12s %-20s %-12s %s\n", e.Kind, size, modified, shortID(e.ContentID), name)
	}

	fmt.Printf("\n%d entries, %s in files\n", len(entries), formatBytes(totalSize, 2))
	return nil
}

func displayPath(logicalPath string) string {
	return "/" + logicalPath
}
