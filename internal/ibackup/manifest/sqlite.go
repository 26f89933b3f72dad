package manifest

import (
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/bplist"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/lib"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/types"
)

// Row flags of the Files table.
const (
	flagFile      = 1
	flagDirectory = 2
	flagSymlink   = 4
)

const filesSchema = `CREATE TABLE IF NOT EXISTS Files (
	fileID TEXT PRIMARY KEY,
	domain TEXT,
	relativePath TEXT,
	flags INTEGER,
	file BLOB
);`

// SQLite is the database manifest format, Manifest.db. Each row of the
// Files table names one entry; the file column holds an archived MBFile
// object with the entry's attributes.
type SQLite struct{}

func (SQLite) Name() string     { return "sqlite" }
func (SQLite) FileName() string { return lib.SQLiteManifestName }

// PoolID is always the device file ID; the pool holds one file per path.
func (SQLite) PoolID(e types.ManifestEntry, _ string) string { return e.FileID() }

// sqliteExtra keeps the row as it was read.
type sqliteExtra struct {
	fileID string
	flags  int64
	file   []byte
}

func (f SQLite) Decode(path string) (entries []types.ManifestEntry, err error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadOnly)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	err = sqlitex.Execute(conn,
		"SELECT fileID, domain, relativePath, flags, file FROM Files ORDER BY rowid",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				extra := &sqliteExtra{
					fileID: stmt.ColumnText(0),
					flags:  stmt.ColumnInt64(3),
				}
				if !stmt.ColumnIsNull(4) {
					extra.file = make([]byte, stmt.ColumnLen(4))
					stmt.ColumnBytes(4, extra.file)
				}
				entries = append(entries, sqliteEntry(stmt.ColumnText(1), stmt.ColumnText(2), extra))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestCorrupt, err)
	}
	return entries, nil
}

func sqliteEntry(domain, relPath string, extra *sqliteExtra) types.ManifestEntry {
	e := types.ManifestEntry{
		Domain:       domain,
		RelativePath: relPath,
		Extra:        extra,
	}
	switch extra.flags {
	case flagDirectory:
		e.Kind = types.KindDirectory
	case flagSymlink:
		e.Kind = types.KindSymlink
	default:
		e.Kind = types.KindFile
	}

	// Attributes are best effort: a row whose archive cannot be read still
	// lists with its kind and name.
	if attrs, err := readMBFile(extra.file); err == nil {
		e.Size = attrs.size
		e.ModTime = unixTime(attrs.modified)
		e.ChangeTime = unixTime(attrs.changed)
		e.Mode = uint32(attrs.mode)
		e.LinkTarget = attrs.target
	}
	if e.Mode == 0 {
		e.Mode = defaultMode(e.Kind)
	}
	if e.Kind == types.KindFile {
		e.ContentID = extra.fileID
	}
	return e
}

func (f SQLite) Save(path string, idx *Index) (err error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conn.Close(); err == nil {
			err = closeErr
		}
	}()

	if err := sqlitex.ExecuteScript(conn, filesSchema, nil); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer endTransaction(&err)

	updated, removed := idx.Changes()
	for _, p := range append(removed, updated...) {
		domain, relPath := types.SplitLogical(p)
		err = sqlitex.Execute(conn, "DELETE FROM Files WHERE domain = ? AND relativePath = ?",
			&sqlitex.ExecOptions{Args: []any{domain, relPath}})
		if err != nil {
			return fmt.Errorf("deleting %s: %w", p, err)
		}
	}

	for _, p := range updated {
		e, resolveErr := idx.Resolve(p)
		if resolveErr != nil {
			err = resolveErr
			return err
		}
		fileID, flags, blob, rowErr := sqliteRow(e)
		if rowErr != nil {
			err = fmt.Errorf("encoding %s: %w", p, rowErr)
			return err
		}
		err = sqlitex.Execute(conn,
			"INSERT INTO Files (fileID, domain, relativePath, flags, file) VALUES (?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{fileID, e.Domain, e.RelativePath, flags, blob}})
		if err != nil {
			return fmt.Errorf("inserting %s: %w", p, err)
		}
	}
	return nil
}

// sqliteRow builds the column values for an updated entry.
func sqliteRow(e types.ManifestEntry) (fileID string, flags int64, blob []byte, err error) {
	switch e.Kind {
	case types.KindDirectory:
		flags = flagDirectory
	case types.KindSymlink:
		flags = flagSymlink
	default:
		flags = flagFile
	}

	// fileID is UNIQUE; two paths with equal content must not share it.
	fileID = e.FileID()

	var original []byte
	if extra, ok := e.Extra.(*sqliteExtra); ok {
		original = extra.file
	}
	if original != nil {
		if blob, err = patchMBFile(original, e); err == nil {
			return fileID, flags, blob, nil
		}
	}
	blob, err = newMBFile(e)
	return fileID, flags, blob, err
}

// --- MBFile archives ---

type mbfileAttrs struct {
	size     int64
	modified int64
	changed  int64
	mode     int64
	target   string
}

// mbfileRoot finds the archived MBFile dictionary: $top.root is a UID
// indexing into $objects.
func mbfileRoot(doc *bplist.Document) (int, error) {
	top := doc.Top()
	objectsIdx, ok := doc.Lookup(top, "$objects")
	if !ok {
		return 0, errors.New("archive has no $objects")
	}
	topIdx, ok := doc.Lookup(top, "$top")
	if !ok {
		return 0, errors.New("archive has no $top")
	}
	rootRef, ok := doc.Lookup(topIdx, "root")
	if !ok {
		return 0, errors.New("archive has no root")
	}
	return resolveUID(doc, objectsIdx, rootRef)
}

func resolveUID(doc *bplist.Document, objectsIdx, uidIdx int) (int, error) {
	uid, err := doc.Object(uidIdx)
	if err != nil {
		return 0, err
	}
	objects, err := doc.Object(objectsIdx)
	if err != nil {
		return 0, err
	}
	if uid.Kind != bplist.KindUID || objects.Kind != bplist.KindArray {
		return 0, errors.New("archive root is not a UID into $objects")
	}
	if uid.Int < 0 || uid.Int >= int64(len(objects.Refs)) {
		return 0, fmt.Errorf("archive UID %d out of range", uid.Int)
	}
	return objects.Refs[uid.Int], nil
}

func readMBFile(blob []byte) (mbfileAttrs, error) {
	var attrs mbfileAttrs
	if len(blob) == 0 {
		return attrs, errors.New("empty archive")
	}
	doc, err := bplist.Decode(blob)
	if err != nil {
		return attrs, err
	}
	root, err := mbfileRoot(doc)
	if err != nil {
		return attrs, err
	}

	intField := func(key string) int64 {
		idx, ok := doc.Lookup(root, key)
		if !ok {
			return 0
		}
		obj, err := doc.Object(idx)
		if err != nil || obj.Kind != bplist.KindInt {
			return 0
		}
		return obj.Int
	}
	attrs.size = intField("Size")
	attrs.modified = intField("LastModified")
	attrs.changed = intField("LastStatusChange")
	attrs.mode = intField("Mode")

	if ref, ok := doc.Lookup(root, "Target"); ok {
		objectsIdx, _ := doc.Lookup(doc.Top(), "$objects")
		if idx, err := resolveUID(doc, objectsIdx, ref); err == nil {
			attrs.target, _ = doc.StringAt(idx)
		}
	}
	return attrs, nil
}

// patchMBFile rewrites the attributes the index models inside an existing
// archive and leaves every other field as it was.
func patchMBFile(blob []byte, e types.ManifestEntry) ([]byte, error) {
	doc, err := bplist.Decode(blob)
	if err != nil {
		return nil, err
	}
	root, err := mbfileRoot(doc)
	if err != nil {
		return nil, err
	}
	set := func(key string, v int64) error {
		if idx, ok := doc.Lookup(root, key); ok {
			if obj, err := doc.Object(idx); err == nil && obj.Kind == bplist.KindInt && obj.Int == v {
				return nil
			}
		}
		return doc.Set(root, key, doc.Add(bplist.Int(v)))
	}
	if err := set("Size", e.Size); err != nil {
		return nil, err
	}
	if err := set("LastModified", unixSeconds(e.ModTime)); err != nil {
		return nil, err
	}
	if e.Mode != 0 {
		if err := set("Mode", int64(e.Mode)); err != nil {
			return nil, err
		}
	}
	doc.Compact()
	return doc.Encode()
}

// newMBFile archives a fresh MBFile for an entry created in memory.
func newMBFile(e types.ManifestEntry) ([]byte, error) {
	doc := bplist.New(bplist.Dict(nil, nil))
	top := doc.Top()
	str := func(s string) int { return doc.Add(bplist.String(s)) }

	mode := e.Mode
	if mode == 0 {
		mode = defaultMode(e.Kind)
	}

	// $objects: $null, the MBFile, its path, its class, then its target.
	null := str("$null")
	root := doc.Add(bplist.Dict(nil, nil))
	relPath := str(e.RelativePath)
	class := doc.Add(bplist.Dict(nil, nil))
	members := []int{null, root, relPath, class}

	fields := []struct {
		key   string
		value bplist.Object
	}{
		{"$class", bplist.UID(3)},
		{"RelativePath", bplist.UID(2)},
		{"Size", bplist.Int(e.Size)},
		{"LastModified", bplist.Int(unixSeconds(e.ModTime))},
		{"LastStatusChange", bplist.Int(unixSeconds(e.ChangeTime))},
		{"Birth", bplist.Int(unixSeconds(e.ModTime))},
		{"Mode", bplist.Int(int64(mode))},
		{"UserID", bplist.Int(mobileUser)},
		{"GroupID", bplist.Int(mobileUser)},
		{"InodeNumber", bplist.Int(0)},
		{"ProtectionClass", bplist.Int(0)},
		{"Flags", bplist.Int(0)},
	}
	if e.Kind == types.KindSymlink && e.LinkTarget != "" {
		members = append(members, str(e.LinkTarget))
		fields = append(fields, struct {
			key   string
			value bplist.Object
		}{"Target", bplist.UID(4)})
	}
	for _, f := range fields {
		if err := doc.Set(root, f.key, doc.Add(f.value)); err != nil {
			return nil, err
		}
	}

	classes := doc.Add(bplist.Array(str("MBFile"), str("NSObject")))
	if err := doc.Set(class, "$classname", str("MBFile")); err != nil {
		return nil, err
	}
	if err := doc.Set(class, "$classes", classes); err != nil {
		return nil, err
	}

	archiveTop := doc.Add(bplist.Dict(nil, nil))
	if err := doc.Set(archiveTop, "root", doc.Add(bplist.UID(1))); err != nil {
		return nil, err
	}
	entries := []struct {
		key   string
		value int
	}{
		{"$version", doc.Add(bplist.Int(100000))},
		{"$archiver", str("NSKeyedArchiver")},
		{"$top", archiveTop},
		{"$objects", doc.Add(bplist.Array(members...))},
	}
	for _, kv := range entries {
		if err := doc.Set(top, kv.key, kv.value); err != nil {
			return nil, err
		}
	}
	return doc.Encode()
}
