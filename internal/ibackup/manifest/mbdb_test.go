package manifest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/lib"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/types"
)

// testRecord is one Manifest.mbdb record. Nil byte slices are written as
// absent strings.
type testRecord struct {
	domain, path, target, digest, key []byte
	mode                              uint16
	inode                             uint64
	mtime                             uint32
	size                              uint64
	protection                        uint8
	props                             [][2]string
}

func writeMBDBString(buf *bytes.Buffer, s []byte) {
	if s == nil {
		binary.Write(buf, binary.BigEndian, uint16(0xFFFF))
		return
	}
	binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.Write(s)
}

func (r testRecord) appendTo(buf *bytes.Buffer) {
	for _, s := range [][]byte{r.domain, r.path, r.target, r.digest, r.key} {
		writeMBDBString(buf, s)
	}
	binary.Write(buf, binary.BigEndian, r.mode)
	binary.Write(buf, binary.BigEndian, r.inode)
	binary.Write(buf, binary.BigEndian, uint32(501))
	binary.Write(buf, binary.BigEndian, uint32(501))
	binary.Write(buf, binary.BigEndian, r.mtime)
	binary.Write(buf, binary.BigEndian, r.mtime+1)
	binary.Write(buf, binary.BigEndian, r.mtime+2)
	binary.Write(buf, binary.BigEndian, r.size)
	buf.WriteByte(r.protection)
	buf.WriteByte(uint8(len(r.props)))
	for _, p := range r.props {
		writeMBDBString(buf, []byte(p[0]))
		writeMBDBString(buf, []byte(p[1]))
	}
}

func buildMBDB(records ...testRecord) []byte {
	var buf bytes.Buffer
	buf.Write([]byte("mbdb\x05\x00"))
	for _, r := range records {
		r.appendTo(&buf)
	}
	return buf.Bytes()
}

var wifiContent = []byte("wifi plist bytes")

func sampleRecords() []testRecord {
	digest := make([]byte, 20)
	copy(digest, mustHex(lib.GetHash(wifiContent)))
	return []testRecord{
		{domain: []byte("HomeDomain"), path: []byte(""), mode: 0x41ed, inode: 10, mtime: 1400000000},
		{domain: []byte("HomeDomain"), path: []byte("Library"), mode: 0x41ed, inode: 11, mtime: 1400000000},
		{
			domain: []byte("SystemPreferencesDomain"), path: []byte("SystemConfiguration/com.apple.wifi.plist"),
			digest: digest, key: []byte{0x01, 0x02, 0x03}, mode: 0x81a4, inode: 12, mtime: 1400000100,
			size: uint64(len(wifiContent)), protection: 3,
			props: [][2]string{{"com.apple.backup.flags", "1"}},
		},
		{
			domain: []byte("HomeDomain"), path: []byte("Library/link"), target: []byte("/var/mobile/x"),
			mode: 0xa1ed, inode: 13, mtime: 1400000200,
		},
		// Empty non-null digest and key, as written for some system files.
		{domain: []byte("HomeDomain"), path: []byte("Library/empty"), digest: []byte{}, key: []byte{}, mode: 0x81a4, inode: 14},
	}
}

func mustHex(s string) []byte {
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		for _, c := range s[2*i : 2*i+2] {
			b <<= 4
			switch {
			case c >= '0' && c <= '9':
				b |= byte(c - '0')
			default:
				b |= byte(c-'a') + 10
			}
		}
		out[i] = b
	}
	return out
}

func writeBackup(t *testing.T, name string, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
	return dir
}

func TestMBDB(t *testing.T) {
	t.Run("Decodes records into entries", func(t *testing.T) {
		dir := writeBackup(t, lib.MBDBManifestName, buildMBDB(sampleRecords()...))

		idx, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "mbdb", idx.Format().Name())
		assert.Equal(t, 5, idx.Len())

		wifi, err := idx.Resolve("SystemPreferencesDomain/SystemConfiguration/com.apple.wifi.plist")
		require.NoError(t, err)
		assert.Equal(t, types.KindFile, wifi.Kind)
		assert.Equal(t, lib.GetHash(wifiContent), wifi.ContentID)
		assert.Equal(t, int64(len(wifiContent)), wifi.Size)
		assert.Equal(t, uint32(0x81a4), wifi.Mode)
		assert.Equal(t, time.Unix(1400000100, 0).UTC(), wifi.ModTime)
		assert.Equal(t, time.Unix(1400000101, 0).UTC(), wifi.AccessTime)

		root, err := idx.Resolve("HomeDomain")
		require.NoError(t, err)
		assert.Equal(t, types.KindDirectory, root.Kind)
		assert.Empty(t, root.ContentID)

		link, err := idx.Resolve("HomeDomain/Library/link")
		require.NoError(t, err)
		assert.Equal(t, types.KindSymlink, link.Kind)
		assert.Equal(t, "/var/mobile/x", link.LinkTarget)

		empty, err := idx.Resolve("HomeDomain/Library/empty")
		require.NoError(t, err)
		assert.Empty(t, empty.ContentID, "a digest that is not 20 bytes gives no content ID")
	})

	t.Run("Unmodified index saves byte for byte", func(t *testing.T) {
		original := buildMBDB(sampleRecords()...)
		dir := writeBackup(t, lib.MBDBManifestName, original)

		idx, err := Load(dir)
		require.NoError(t, err)
		require.NoError(t, idx.Save())

		saved, err := os.ReadFile(filepath.Join(dir, lib.MBDBManifestName))
		require.NoError(t, err)
		assert.Equal(t, original, saved)
	})

	t.Run("Header only is an empty manifest", func(t *testing.T) {
		dir := writeBackup(t, lib.MBDBManifestName, buildMBDB())
		idx, err := Load(dir)
		require.NoError(t, err)
		assert.Zero(t, idx.Len())
	})

	t.Run("Last duplicate record wins and keeps the first slot", func(t *testing.T) {
		records := sampleRecords()
		dup := records[1]
		dup.inode = 99
		dup.mtime = 1500000000
		dir := writeBackup(t, lib.MBDBManifestName, buildMBDB(append(records, dup)...))

		idx, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, 5, idx.Len())

		e, err := idx.Resolve("HomeDomain/Library")
		require.NoError(t, err)
		assert.Equal(t, time.Unix(1500000000, 0).UTC(), e.ModTime)
		assert.Equal(t, "HomeDomain/Library", idx.Entries()[1].LogicalPath())
	})

	t.Run("Updated record keeps its slot and new records are appended", func(t *testing.T) {
		dir := writeBackup(t, lib.MBDBManifestName, buildMBDB(sampleRecords()...))
		idx, err := Load(dir)
		require.NoError(t, err)

		newContent := []byte("new wifi")
		wifiPath := "SystemPreferencesDomain/SystemConfiguration/com.apple.wifi.plist"
		e, err := idx.Resolve(wifiPath)
		require.NoError(t, err)
		e.ContentID = lib.GetHash(newContent)
		e.Size = int64(len(newContent))
		require.NoError(t, idx.Update(wifiPath, e))

		added := types.ManifestEntry{Kind: types.KindFile, ContentID: lib.GetHash([]byte("x")), Size: 1}
		require.NoError(t, idx.Update("MediaDomain/notes.txt", added))
		require.NoError(t, idx.Save())

		reloaded, err := Load(dir)
		require.NoError(t, err)
		entries := reloaded.Entries()
		require.Len(t, entries, 6)
		assert.Equal(t, wifiPath, entries[2].LogicalPath())
		assert.Equal(t, lib.GetHash(newContent), entries[2].ContentID)
		assert.Equal(t, int64(len(newContent)), entries[2].Size)
		assert.Equal(t, uint32(0x81a4), entries[2].Mode)

		last := entries[5]
		assert.Equal(t, "MediaDomain/notes.txt", last.LogicalPath())
		assert.Equal(t, "MediaDomain", last.Domain)
		assert.Equal(t, "notes.txt", last.RelativePath)
		assert.Equal(t, lib.GetHash([]byte("x")), last.ContentID)
		assert.Equal(t, uint32(defaultFileMode), last.Mode)
		assert.Empty(t, last.LinkTarget)
	})

	t.Run("Removed records are gone after save", func(t *testing.T) {
		dir := writeBackup(t, lib.MBDBManifestName, buildMBDB(sampleRecords()...))
		idx, err := Load(dir)
		require.NoError(t, err)

		require.NoError(t, idx.Remove("HomeDomain/Library/link"))
		require.NoError(t, idx.Save())

		reloaded, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, 4, reloaded.Len())
		_, err = reloaded.Resolve("HomeDomain/Library/link")
		assert.ErrorIs(t, err, ErrNotFound)

		records := sampleRecords()
		expected := buildMBDB(records[0], records[1], records[2], records[4])
		saved, err := os.ReadFile(filepath.Join(dir, lib.MBDBManifestName))
		require.NoError(t, err)
		assert.Equal(t, expected, saved)
	})

	t.Run("Corrupt manifests are rejected", func(t *testing.T) {
		valid := buildMBDB(sampleRecords()...)
		cases := map[string][]byte{
			"wrong magic":     append([]byte("mbdx\x05\x00"), valid[6:]...),
			"empty file":      {},
			"truncated":       valid[:len(valid)-3],
			"truncated magic": valid[:4],
		}
		for name, data := range cases {
			t.Run(name, func(t *testing.T) {
				dir := writeBackup(t, lib.MBDBManifestName, data)
				_, err := Load(dir)
				assert.ErrorIs(t, err, ErrManifestCorrupt)
			})
		}
	})
}
