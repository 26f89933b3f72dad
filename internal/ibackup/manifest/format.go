package manifest

import (
	"time"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/types"
)

// Format reads and writes one on-disk manifest layout.
type Format interface {
	// Name is a short label for logs and listings.
	Name() string
	// FileName is the manifest's name inside the backup directory.
	FileName() string
	// Decode parses the manifest at path. Malformed input yields an error
	// wrapping ErrManifestCorrupt.
	Decode(path string) ([]types.ManifestEntry, error)
	// Save writes idx to path. It must either fully succeed or leave the
	// previous manifest in place.
	Save(path string, idx *Index) error
	// PoolID is the name under which a committed file whose content
	// hashes to digest is recorded in this manifest.
	PoolID(e types.ManifestEntry, digest string) string
}

// Formats lists the supported layouts in detection order.
var Formats = []Format{MBDB{}, SQLite{}}

// Default file attributes for entries created in memory.
const (
	defaultFileMode = types.ModeFile | 0o644
	defaultDirMode  = types.ModeDirectory | 0o755
	defaultLinkMode = types.ModeSymlink | 0o755
	mobileUser      = 501
)

func defaultMode(kind types.EntryKind) uint32 {
	switch kind {
	case types.KindDirectory:
		return defaultDirMode
	case types.KindSymlink:
		return defaultLinkMode
	}
	return defaultFileMode
}

// unixTime converts manifest seconds to a time; unixSeconds is its inverse
// and maps the zero time to 0.
func unixTime(secs int64) time.Time {
	return time.Unix(secs, 0).UTC()
}

func unixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
