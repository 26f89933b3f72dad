package types

import (
	"path"
	"time"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/lib"
)

// EntryKind tells files, directories and symlinks apart.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
	KindSymlink
)

func (k EntryKind) String() string {
	switch k {
	case KindDirectory:
		return "dir"
	case KindSymlink:
		return "link"
	}
	return "file"
}

// Unix mode type bits as stored in backup manifests.
const (
	ModeTypeMask  = 0xF000
	ModeDirectory = 0x4000
	ModeFile      = 0x8000
	ModeSymlink   = 0xA000
)

// KindFromMode derives the entry kind from manifest mode bits.
func KindFromMode(mode uint32) EntryKind {
	switch mode & ModeTypeMask {
	case ModeDirectory:
		return KindDirectory
	case ModeSymlink:
		return KindSymlink
	}
	return KindFile
}

// ManifestEntry is one record of a backup manifest.
type ManifestEntry struct {
	Domain       string    `json:"domain"`
	RelativePath string    `json:"relativePath"`
	LinkTarget   string    `json:"linkTarget,omitempty"`
	ContentID    string    `json:"contentId,omitempty"` // empty for directories
	Kind         EntryKind `json:"kind"`
	Mode         uint32    `json:"mode"`
	Size         int64     `json:"size"`
	ModTime      time.Time `json:"modTime"`
	AccessTime   time.Time `json:"accessTime"`
	ChangeTime   time.Time `json:"changeTime"`

	// Extra carries format-specific fields the core does not model so the
	// manifest can be rewritten without losing them. Only the format that
	// produced an entry interprets it.
	Extra any `json:"-"`
}

// LogicalPath is the entry's path in the virtual tree: the domain followed
// by the relative path.
func (e ManifestEntry) LogicalPath() string {
	return JoinLogical(e.Domain, e.RelativePath)
}

// Name is the last element of the logical path.
func (e ManifestEntry) Name() string {
	return path.Base(e.LogicalPath())
}

// FileID is the pool filename a device gives this entry.
func (e ManifestEntry) FileID() string {
	return lib.GetPathHash(e.Domain, e.RelativePath)
}

// IsDir reports whether the entry is a directory.
func (e ManifestEntry) IsDir() bool { return e.Kind == KindDirectory }

// JoinLogical builds a logical path from a domain and a relative path.
func JoinLogical(domain, relativePath string) string {
	if relativePath == "" {
		return domain
	}
	return domain + "/" + relativePath
}

// SplitLogical splits a logical path into its domain and relative path.
func SplitLogical(logicalPath string) (domain, relativePath string) {
	for i := 0; i < len(logicalPath); i++ {
		if logicalPath[i] == '/' {
			return logicalPath[:i], logicalPath[i+1:]
		}
	}
	return logicalPath, ""
}

// CleanLogical normalizes a user-supplied logical path: forward slashes,
// no leading or trailing slash, no "." or ".." elements. The root is "".
func CleanLogical(p string) string {
	p = path.Clean("/" + p)
	if p == "/" {
		return ""
	}
	return p[1:]
}
