package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/lib"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/types"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/vfs"
)

// ExtractOptions holds the configuration for the extract command.
type ExtractOptions struct {
	Options
	// Prefix limits extraction to one logical subtree. Empty means all.
	Prefix string
	// Exclude holds gitignore-style patterns matched against logical paths.
	Exclude []string
	// ExcludeFrom names a file of patterns. Empty means the output
	// directory's .ibackupignore, if any.
	ExcludeFrom string
	// Workers is the number of parallel readers; zero means one per CPU.
	Workers int
}

// fileExtractJob holds the information needed for a worker to extract one file.
type fileExtractJob struct {
	Entry           types.ManifestEntry
	DestinationPath string
}

// extractFileWorker is the logic executed by each goroutine in the pool.
// It reads jobs from a channel, writes each file, and reports failures.
func extractFileWorker(wg *sync.WaitGroup, archive *vfs.Archive, jobs <-chan fileExtractJob, errs chan<- error) {
	defer wg.Done()
	for job := range jobs {
		if err := extractFile(archive, job); err != nil {
			errs <- err
			continue
		}
		if mtime := job.Entry.ModTime; !mtime.IsZero() && mtime.Unix() != 0 {
			// Not critical: the content is already in place.
			_ = os.Chtimes(job.DestinationPath, mtime, mtime)
		}
	}
}

// extractFile streams a committed pool file straight to its destination and
// only reads content into memory when the path has a pending edit.
func extractFile(archive *vfs.Archive, job fileExtractJob) error {
	logicalPath := job.Entry.LogicalPath()
	blobPath, ok, err := archive.BlobPath(logicalPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", logicalPath, err)
	}
	if ok {
		if err := lib.CopyFile(blobPath, job.DestinationPath); err != nil {
			return fmt.Errorf("failed to write file %s: %w", job.DestinationPath, err)
		}
		return os.Chmod(job.DestinationPath, fileMode(job.Entry))
	}

	data, err := archive.ReadFile(logicalPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", logicalPath, err)
	}
	if err := os.WriteFile(job.DestinationPath, data, fileMode(job.Entry)); err != nil {
		return fmt.Errorf("failed to write file %s: %w", job.DestinationPath, err)
	}
	return nil
}

// createLink places a symbolic link at dest, replacing an earlier link or
// empty file there. Parents that are themselves links are refused.
func createLink(root, dest, target string) error {
	if err := checkDestination(root, filepath.Dir(dest)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	if info, err := os.Lstat(dest); err == nil && info.IsDir() {
		return fmt.Errorf("%s is a directory", dest)
	}
	_ = os.Remove(dest)
	return os.Symlink(target, dest)
}

// fileMode returns the permission bits to extract an entry with.
func fileMode(e types.ManifestEntry) os.FileMode {
	perm := os.FileMode(e.Mode & 0o777)
	if perm == 0 {
		return 0644
	}
	return perm | 0o200
}

// destinationFor maps a logical path into outputDir.
func destinationFor(outputDir, logicalPath string) (string, error) {
	clean := types.CleanLogical(logicalPath)
	if clean == "" || clean != logicalPath {
		return "", fmt.Errorf("unsafe logical path %q", logicalPath)
	}
	return filepath.Join(outputDir, filepath.FromSlash(clean)), nil
}

// linkInPath returns the first component of dest below root that is a
// symbolic link, or "" when every existing component is a real directory
// or file. Writing through such a component could land outside root.
func linkInPath(root, dest string) (string, error) {
	rel, err := filepath.Rel(root, dest)
	if err != nil || rel == "." {
		return "", err
	}
	cur := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if os.IsNotExist(err) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return cur, nil
		}
	}
	return "", nil
}

// checkDestination refuses dest when reaching it would follow a link.
func checkDestination(root, dest string) error {
	link, err := linkInPath(root, dest)
	if err != nil {
		return err
	}
	if link != "" {
		return fmt.Errorf("refusing to write %s: %s is a symbolic link", dest, link)
	}
	return nil
}

// inPrefix reports whether logicalPath lies at or below prefix.
func inPrefix(logicalPath, prefix string) bool {
	return prefix == "" || logicalPath == prefix || strings.HasPrefix(logicalPath, prefix+"/")
}

// Extract is the main function for the 'extract' command. It materializes
// the backup's logical tree under outputDir.
func Extract(ctx context.Context, archiveDir, outputDir string, options ExtractOptions) error {
	absOutputDir, err := filepath.Abs(outputDir)
	if err != nil {
		return fmt.Errorf("could not resolve output path: %w", err)
	}
	archive, err := openArchive(archiveDir, options.Options)
	if err != nil {
		return err
	}
	if absOutputDir == archive.Root() || strings.HasPrefix(absOutputDir, archive.Root()+string(filepath.Separator)) {
		return fmt.Errorf("output directory %s is inside the backup", absOutputDir)
	}

	patternFile := options.ExcludeFrom
	if patternFile == "" {
		patternFile = filepath.Join(absOutputDir, lib.IgnoreFilename)
	}
	matcher := lib.LoadIgnoreMatcher(patternFile, options.Exclude)
	prefix := types.CleanLogical(options.Prefix)

	if err := os.MkdirAll(absOutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	fmt.Printf("💧 Extracting \"%s\" to \"%s\"...\n", archive.Root(), absOutputDir)

	// 1. Set up the worker pool.
	numWorkers := options.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	jobs := make(chan fileExtractJob, 100)
	errs := make(chan error, 100)
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go extractFileWorker(&wg, archive, jobs, errs)
	}

	// Failures are collected as they arrive so workers never block on a
	// full channel.
	var failures []error
	collected := make(chan struct{})
	go func() {
		for err := range errs {
			failures = append(failures, err)
		}
		close(collected)
	}()

	// 2. Walk the effective tree. Directories are created synchronously,
	// in path order, before any file below them is queued. Links are only
	// created once every file is written, so no file lands behind one.
	type pendingLink struct{ dest, target string }
	var links []pendingLink
	files, skipped := 0, 0
	walkErr := archive.Walk(func(e types.ManifestEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		logicalPath := e.LogicalPath()
		if !inPrefix(logicalPath, prefix) {
			return nil
		}
		if lib.IsLogicalPathIgnored(matcher, logicalPath, e.IsDir()) {
			skipped++
			return nil
		}
		dest, err := destinationFor(absOutputDir, logicalPath)
		if err != nil {
			errs <- err
			return nil
		}
		if e.Kind == types.KindSymlink {
			if e.LinkTarget != "" {
				links = append(links, pendingLink{dest: dest, target: e.LinkTarget})
			}
			return nil
		}
		if e.Kind == types.KindFile {
			files++
		}
		if err := checkDestination(absOutputDir, dest); err != nil {
			errs <- err
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if e.Kind == types.KindDirectory {
			return os.MkdirAll(dest, 0755)
		}
		jobs <- fileExtractJob{Entry: e, DestinationPath: dest}
		return nil
	})
	close(jobs) // Signal that no more jobs will be sent.

	// 3. Wait for all workers to finish.
	wg.Wait()

	if walkErr == nil {
		for _, link := range links {
			if err := createLink(absOutputDir, link.dest, link.target); err != nil {
				// Log a warning, as this is often not a critical failure.
				fmt.Fprintf(os.Stderr, "Warning: could not create symlink %s: %v\n", link.dest, err)
			}
		}
	}
	close(errs)
	<-collected

	if walkErr != nil {
		return fmt.Errorf("failed during tree traversal: %w", walkErr)
	}

	// 4. Report every file that could not be extracted.
	for _, failure := range failures {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", failure)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d file(s) could not be extracted: %w", len(failures), files, errors.Join(failures...))
	}

	fmt.Printf("✅ Extracted %d file(s)", files)
	if skipped > 0 {
		fmt.Printf(", skipped %d excluded path(s)", skipped)
	}
	fmt.Println(".")
	return nil
}
