// Package lib contains the core, reusable services for the ibackup application.
package lib

import (
	"os"
	"strings"

	"github.com/denormal/go-gitignore"
)

// --- Constants ---

// MBDBManifestName is the manifest file of backups written by iOS 5 to 9.
const MBDBManifestName = "Manifest.mbdb"

// SQLiteManifestName is the manifest database of backups written by iOS 10+.
const SQLiteManifestName = "Manifest.db"

// IgnoreFilename is the default file read for extract exclusion patterns.
const IgnoreFilename = ".ibackupignore"

// DefaultNetworkPaths lists the logical paths that may hold the device's
// known wireless networks, in lookup order. New files are created at the
// first one.
var DefaultNetworkPaths = []string{
	"SystemPreferencesDomain/SystemConfiguration/com.apple.wifi.plist",
	"WirelessDomain/com.apple.wifi.plist",
}

// Config holds runtime settings that are not tied to a single command.
type Config struct {
	// ArchiveDir is the backup directory used when a command gets none.
	ArchiveDir string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// LogFormat is "console" or "json".
	LogFormat string
	// NetworkPaths overrides DefaultNetworkPaths when non-empty.
	NetworkPaths []string
}

// LoadConfig reads configuration from environment variables with defaults.
func LoadConfig() Config {
	cfg := Config{
		ArchiveDir: envOr("IBACKUP_ARCHIVE", "."),
		LogLevel:   envOr("IBACKUP_LOG_LEVEL", "warn"),
		LogFormat:  envOr("IBACKUP_LOG_FORMAT", "console"),
	}
	if paths := envOr("IBACKUP_NETWORK_PATHS", ""); paths != "" {
		for _, p := range strings.Split(paths, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.NetworkPaths = append(cfg.NetworkPaths, p)
			}
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// --- Ignore Patterns ---

// LoadIgnoreMatcher compiles gitignore-style patterns into a matcher for
// logical backup paths. Patterns come from patternFile (if it exists) and
// then from extra. An empty patternFile is skipped.
func LoadIgnoreMatcher(patternFile string, extra []string) gitignore.GitIgnore {
	var rawPatterns []string

	if patternFile != "" {
		if content, err := os.ReadFile(patternFile); err == nil {
			rawPatterns = append(rawPatterns, strings.Split(string(content), "\n")...)
		}
	}
	rawPatterns = append(rawPatterns, extra...)

	// Remove comments and blank lines.
	var finalPatterns []string
	for _, p := range rawPatterns {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		trimmed = strings.ReplaceAll(trimmed, "\\", "/")
		// Directory patterns (ending with /) also cover everything below them.
		if strings.HasSuffix(trimmed, "/") && !strings.HasSuffix(trimmed, "**/") {
			trimmed = trimmed + "**"
		}
		finalPatterns = append(finalPatterns, trimmed)
	}

	reader := strings.NewReader(strings.Join(finalPatterns, "\n"))
	matcher := gitignore.New(reader, "/", func(err gitignore.Error) bool { return false })
	if matcher == nil {
		return gitignore.New(strings.NewReader(""), "/", nil)
	}
	return matcher
}

// IsLogicalPathIgnored reports whether a logical backup path matches the
// matcher. Logical paths never touch the disk, so the match is made on the
// path text alone.
func IsLogicalPathIgnored(matcher gitignore.GitIgnore, logicalPath string, isDir bool) bool {
	if matcher == nil {
		return false
	}
	match := matcher.Relative(strings.TrimPrefix(logicalPath, "/"), isDir)
	if match == nil {
		return false
	}
	return match.Ignore()
}
