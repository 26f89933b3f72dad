// Package lib contains the core, reusable services for the ibackup application.
package lib

import (
	"crypto/sha1"
	"encoding/hex"
)

// GetHash calculates the SHA-1 hash of an in-memory byte slice and returns
// it as a lowercase hex-encoded string. This is the content identifier used
// for every blob written into a backup's file pool; device backups name
// their files with the same 40-character alphabet.
func GetHash(content []byte) string {
	hashBytes := sha1.Sum(content)
	return hex.EncodeToString(hashBytes[:])
}

// GetPathHash returns the identifier a device assigns to a backed-up file:
// the SHA-1 of "<domain>-<relativePath>".
func GetPathHash(domain, relativePath string) string {
	return GetHash([]byte(domain + "-" + relativePath))
}

// IsContentID reports whether s looks like a 40-character lowercase hex
// identifier.
func IsContentID(s string) bool {
	if len(s) != 2*sha1.Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
