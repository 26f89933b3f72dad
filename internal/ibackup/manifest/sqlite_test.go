package manifest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/bplist"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/lib"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/types"
)

type testRow struct {
	fileID, domain, relPath string
	flags                   int64
	file                    []byte
}

// writeManifestDB creates a Manifest.db in a fresh backup directory.
func writeManifestDB(t *testing.T, rows ...testRow) string {
	t.Helper()
	dir := t.TempDir()
	conn, err := sqlite.OpenConn(filepath.Join(dir, lib.SQLiteManifestName), sqlite.OpenReadWrite|sqlite.OpenCreate)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, sqlitex.ExecuteScript(conn, filesSchema, nil))
	for _, r := range rows {
		err := sqlitex.Execute(conn,
			"INSERT INTO Files (fileID, domain, relativePath, flags, file) VALUES (?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{r.fileID, r.domain, r.relPath, r.flags, r.file}})
		require.NoError(t, err)
	}
	return dir
}

// readFileBlob returns the file column stored for a path.
func readFileBlob(t *testing.T, dir, domain, relPath string) []byte {
	t.Helper()
	conn, err := sqlite.OpenConn(filepath.Join(dir, lib.SQLiteManifestName), sqlite.OpenReadOnly)
	require.NoError(t, err)
	defer conn.Close()

	var blob []byte
	err = sqlitex.Execute(conn, "SELECT file FROM Files WHERE domain = ? AND relativePath = ?",
		&sqlitex.ExecOptions{
			Args: []any{domain, relPath},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				blob = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, blob)
				return nil
			},
		})
	require.NoError(t, err)
	return blob
}

func mbfile(t *testing.T, e types.ManifestEntry) []byte {
	t.Helper()
	blob, err := newMBFile(e)
	require.NoError(t, err)
	return blob
}

func sampleRows(t *testing.T) []testRow {
	wifiID := lib.GetPathHash("SystemPreferencesDomain", "SystemConfiguration/com.apple.wifi.plist")
	modified := time.Unix(1600000000, 0).UTC()
	return []testRow{
		{
			fileID: lib.GetPathHash("HomeDomain", "Library"), domain: "HomeDomain", relPath: "Library", flags: flagDirectory,
			file: mbfile(t, types.ManifestEntry{RelativePath: "Library", Kind: types.KindDirectory}),
		},
		{
			fileID: wifiID, domain: "SystemPreferencesDomain", relPath: "SystemConfiguration/com.apple.wifi.plist", flags: flagFile,
			file: mbfile(t, types.ManifestEntry{
				RelativePath: "SystemConfiguration/com.apple.wifi.plist", Kind: types.KindFile,
				Size: 1234, ModTime: modified,
			}),
		},
		{
			fileID: lib.GetPathHash("HomeDomain", "Library/link"), domain: "HomeDomain", relPath: "Library/link", flags: flagSymlink,
			file: mbfile(t, types.ManifestEntry{RelativePath: "Library/link", Kind: types.KindSymlink, LinkTarget: "/private/var"}),
		},
		{
			fileID: lib.GetPathHash("HomeDomain", "Library/broken"), domain: "HomeDomain", relPath: "Library/broken", flags: flagFile,
			file: []byte("not an archive"),
		},
	}
}

func TestSQLite(t *testing.T) {
	t.Run("Decodes rows into entries", func(t *testing.T) {
		dir := writeManifestDB(t, sampleRows(t)...)

		idx, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "sqlite", idx.Format().Name())
		assert.Equal(t, 4, idx.Len())

		wifiPath := "SystemPreferencesDomain/SystemConfiguration/com.apple.wifi.plist"
		wifi, err := idx.Resolve(wifiPath)
		require.NoError(t, err)
		assert.Equal(t, types.KindFile, wifi.Kind)
		assert.Equal(t, lib.GetPathHash("SystemPreferencesDomain", "SystemConfiguration/com.apple.wifi.plist"), wifi.ContentID)
		assert.Equal(t, int64(1234), wifi.Size)
		assert.Equal(t, time.Unix(1600000000, 0).UTC(), wifi.ModTime)
		assert.Equal(t, uint32(defaultFileMode), wifi.Mode)

		dir2, err := idx.Resolve("HomeDomain/Library")
		require.NoError(t, err)
		assert.True(t, dir2.IsDir())
		assert.Empty(t, dir2.ContentID)

		link, err := idx.Resolve("HomeDomain/Library/link")
		require.NoError(t, err)
		assert.Equal(t, types.KindSymlink, link.Kind)
		assert.Equal(t, "/private/var", link.LinkTarget)

		broken, err := idx.Resolve("HomeDomain/Library/broken")
		require.NoError(t, err, "an unreadable archive still lists")
		assert.Equal(t, types.KindFile, broken.Kind)
		assert.Zero(t, broken.Size)
	})

	t.Run("A database without a Files table is corrupt", func(t *testing.T) {
		dir := t.TempDir()
		conn, err := sqlite.OpenConn(filepath.Join(dir, lib.SQLiteManifestName), sqlite.OpenReadWrite|sqlite.OpenCreate)
		require.NoError(t, err)
		require.NoError(t, sqlitex.ExecuteScript(conn, "CREATE TABLE Other (x INTEGER);", nil))
		require.NoError(t, conn.Close())

		_, err = Load(dir)
		assert.ErrorIs(t, err, ErrManifestCorrupt)
	})

	t.Run("Save rewrites only changed rows", func(t *testing.T) {
		dir := writeManifestDB(t, sampleRows(t)...)
		idx, err := Load(dir)
		require.NoError(t, err)

		newContent := []byte("new wifi plist")
		wifiPath := "SystemPreferencesDomain/SystemConfiguration/com.apple.wifi.plist"
		e, err := idx.Resolve(wifiPath)
		require.NoError(t, err)
		e.Size = int64(len(newContent))
		e.ModTime = time.Unix(1700000000, 0).UTC()
		require.NoError(t, idx.Update(wifiPath, e))
		require.NoError(t, idx.Remove("HomeDomain/Library/link"))
		require.NoError(t, idx.Update("MediaDomain/notes.txt", fileEntry("notes")))

		untouched := readFileBlob(t, dir, "HomeDomain", "Library")
		require.NoError(t, idx.Save())

		reloaded, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, 4, reloaded.Len())

		wifi, err := reloaded.Resolve(wifiPath)
		require.NoError(t, err)
		assert.Equal(t, lib.GetPathHash("SystemPreferencesDomain", "SystemConfiguration/com.apple.wifi.plist"), wifi.ContentID)
		assert.Equal(t, int64(len(newContent)), wifi.Size)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), wifi.ModTime)

		notes, err := reloaded.Resolve("MediaDomain/notes.txt")
		require.NoError(t, err)
		assert.Equal(t, lib.GetPathHash("MediaDomain", "notes.txt"), notes.ContentID)
		assert.Equal(t, int64(5), notes.Size)

		_, err = reloaded.Resolve("HomeDomain/Library/link")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.Equal(t, untouched, readFileBlob(t, dir, "HomeDomain", "Library"))
	})

	t.Run("Rows with equal content keep distinct file IDs", func(t *testing.T) {
		dir := writeManifestDB(t, sampleRows(t)...)
		idx, err := Load(dir)
		require.NoError(t, err)

		require.NoError(t, idx.Update("MediaDomain/a.txt", fileEntry("same")))
		require.NoError(t, idx.Update("MediaDomain/b.txt", fileEntry("same")))
		require.NoError(t, idx.Save())

		reloaded, err := Load(dir)
		require.NoError(t, err)
		a, err := reloaded.Resolve("MediaDomain/a.txt")
		require.NoError(t, err)
		b, err := reloaded.Resolve("MediaDomain/b.txt")
		require.NoError(t, err)
		assert.Equal(t, lib.GetPathHash("MediaDomain", "a.txt"), a.ContentID)
		assert.Equal(t, lib.GetPathHash("MediaDomain", "b.txt"), b.ContentID)
	})

	t.Run("Pool IDs follow the format", func(t *testing.T) {
		e := types.ManifestEntry{Kind: types.KindFile, Domain: "MediaDomain", RelativePath: "a.txt"}
		digest := lib.GetHash([]byte("same"))
		assert.Equal(t, e.FileID(), SQLite{}.PoolID(e, digest))
		assert.Equal(t, digest, MBDB{}.PoolID(e, digest))
	})

	t.Run("Patched archives keep unmodeled fields", func(t *testing.T) {
		dir := writeManifestDB(t, sampleRows(t)...)
		idx, err := Load(dir)
		require.NoError(t, err)

		wifiPath := "SystemPreferencesDomain/SystemConfiguration/com.apple.wifi.plist"
		e, err := idx.Resolve(wifiPath)
		require.NoError(t, err)
		e.Size = 99
		require.NoError(t, idx.Update(wifiPath, e))
		require.NoError(t, idx.Save())

		doc, err := bplist.Decode(readFileBlob(t, dir, "SystemPreferencesDomain", "SystemConfiguration/com.apple.wifi.plist"))
		require.NoError(t, err)
		root, err := mbfileRoot(doc)
		require.NoError(t, err)

		values, err := doc.Value(root)
		require.NoError(t, err)
		fields := values.(map[string]any)
		assert.Equal(t, int64(99), fields["Size"])
		assert.Equal(t, int64(mobileUser), fields["UserID"])
		assert.Equal(t, int64(1600000000), fields["Birth"])
		assert.Equal(t, uint64(2), fields["RelativePath"])
	})

	t.Run("Unreadable archives are replaced on save", func(t *testing.T) {
		dir := writeManifestDB(t, sampleRows(t)...)
		idx, err := Load(dir)
		require.NoError(t, err)

		e, err := idx.Resolve("HomeDomain/Library/broken")
		require.NoError(t, err)
		e.Size = 7
		require.NoError(t, idx.Update("HomeDomain/Library/broken", e))
		require.NoError(t, idx.Save())

		attrs, err := readMBFile(readFileBlob(t, dir, "HomeDomain", "Library/broken"))
		require.NoError(t, err)
		assert.Equal(t, int64(7), attrs.size)
	})
}
