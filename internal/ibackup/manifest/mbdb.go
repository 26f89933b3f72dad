package manifest

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/lib"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/types"
)

// mbdbMagic opens every Manifest.mbdb written by iOS 5 and later.
var mbdbMagic = []byte{'m', 'b', 'd', 'b', 0x05, 0x00}

// nullString is the length prefix of an absent string.
const nullString = 0xFFFF

// MBDB is the record-stream manifest format, Manifest.mbdb.
//
// Each record is: domain, path, link target, data hash, encryption key
// (uint16-length-prefixed strings, 0xFFFF for absent), mode u16, inode u64,
// uid u32, gid u32, mtime u32, atime u32, ctime u32, size u64, protection
// class u8, property count u8, and that many name/value string pairs. All
// integers are big-endian.
type MBDB struct{}

func (MBDB) Name() string     { return "mbdb" }
func (MBDB) FileName() string { return lib.MBDBManifestName }

// PoolID is the content digest, so equal content shares one blob.
func (MBDB) PoolID(_ types.ManifestEntry, digest string) string { return digest }

// mbdbExtra keeps the record fields ManifestEntry does not model.
type mbdbExtra struct {
	nullDomain    bool
	nullPath      bool
	nullTarget    bool
	digest        []byte // nil when absent
	encryptionKey []byte // nil when absent
	inode         uint64
	uid, gid      uint32
	protection    uint8
	properties    []mbdbProperty
}

type mbdbProperty struct {
	name, value []byte
}

func (f MBDB) Decode(path string) ([]types.ManifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeMBDB(data)
}

func (f MBDB) Save(path string, idx *Index) error {
	data, err := encodeMBDB(idx.Entries())
	if err != nil {
		return err
	}
	return lib.WriteFileAtomic(path, data, 0644)
}

// mbdbReader walks the record stream.
type mbdbReader struct {
	data []byte
	off  int
}

func (r *mbdbReader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, fmt.Errorf("%w: record truncated at offset %d", ErrManifestCorrupt, r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *mbdbReader) uint(width int) (uint64, error) {
	b, err := r.take(width)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// str returns the string's bytes, or nil with null=true when absent.
func (r *mbdbReader) str() (b []byte, null bool, err error) {
	n, err := r.uint(2)
	if err != nil {
		return nil, false, err
	}
	if n == nullString {
		return nil, true, nil
	}
	b, err = r.take(int(n))
	if err != nil {
		return nil, false, err
	}
	return append([]byte{}, b...), false, nil
}

func decodeMBDB(data []byte) ([]types.ManifestEntry, error) {
	if !bytes.HasPrefix(data, mbdbMagic) {
		return nil, fmt.Errorf("%w: missing mbdb header", ErrManifestCorrupt)
	}
	r := &mbdbReader{data: data, off: len(mbdbMagic)}

	var entries []types.ManifestEntry
	for r.off < len(r.data) {
		e, err := r.record()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(entries), err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *mbdbReader) record() (types.ManifestEntry, error) {
	var e types.ManifestEntry
	extra := &mbdbExtra{}

	domain, nullDomain, err := r.str()
	if err != nil {
		return e, err
	}
	relPath, nullPath, err := r.str()
	if err != nil {
		return e, err
	}
	target, nullTarget, err := r.str()
	if err != nil {
		return e, err
	}
	digest, _, err := r.str()
	if err != nil {
		return e, err
	}
	key, _, err := r.str()
	if err != nil {
		return e, err
	}
	extra.nullDomain, extra.nullPath, extra.nullTarget = nullDomain, nullPath, nullTarget
	extra.digest, extra.encryptionKey = digest, key

	// Fixed-width fields, in stream order.
	widths := []int{2, 8, 4, 4, 4, 4, 4, 8, 1, 1}
	fields := make([]uint64, len(widths))
	for i, w := range widths {
		if fields[i], err = r.uint(w); err != nil {
			return e, err
		}
	}
	mode := uint32(fields[0])
	extra.inode = fields[1]
	extra.uid, extra.gid = uint32(fields[2]), uint32(fields[3])
	if fields[7] > math.MaxInt64 {
		return e, fmt.Errorf("%w: size %d out of range", ErrManifestCorrupt, fields[7])
	}
	extra.protection = uint8(fields[8])

	for i := uint64(0); i < fields[9]; i++ {
		name, _, err := r.str()
		if err != nil {
			return e, err
		}
		value, _, err := r.str()
		if err != nil {
			return e, err
		}
		extra.properties = append(extra.properties, mbdbProperty{name: name, value: value})
	}

	e = types.ManifestEntry{
		Domain:       string(domain),
		RelativePath: string(relPath),
		LinkTarget:   string(target),
		Kind:         types.KindFromMode(mode),
		Mode:         mode,
		ModTime:      unixTime(int64(fields[4])),
		AccessTime:   unixTime(int64(fields[5])),
		ChangeTime:   unixTime(int64(fields[6])),
		Size:         int64(fields[7]),
		Extra:        extra,
	}
	if e.Kind == types.KindFile && len(digest) == 20 {
		e.ContentID = hex.EncodeToString(digest)
	}
	return e, nil
}

func encodeMBDB(entries []types.ManifestEntry) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(mbdbMagic)
	for _, e := range entries {
		if err := appendMBDBRecord(&buf, e); err != nil {
			return nil, fmt.Errorf("encoding %s: %w", e.LogicalPath(), err)
		}
	}
	return buf.Bytes(), nil
}

func appendMBDBRecord(buf *bytes.Buffer, e types.ManifestEntry) error {
	extra, ok := e.Extra.(*mbdbExtra)
	if !ok {
		extra = &mbdbExtra{
			nullPath:   e.RelativePath == "",
			nullTarget: e.LinkTarget == "",
			uid:        mobileUser,
			gid:        mobileUser,
		}
	}

	digest, err := mbdbDigest(e, extra)
	if err != nil {
		return err
	}

	writeStr := func(b []byte, null bool) error {
		if null && len(b) == 0 {
			return binary.Write(buf, binary.BigEndian, uint16(nullString))
		}
		if len(b) >= nullString {
			return fmt.Errorf("string of %d bytes is too long", len(b))
		}
		binary.Write(buf, binary.BigEndian, uint16(len(b)))
		buf.Write(b)
		return nil
	}

	strs := []struct {
		b    []byte
		null bool
	}{
		{[]byte(e.Domain), extra.nullDomain},
		{[]byte(e.RelativePath), extra.nullPath},
		{[]byte(e.LinkTarget), extra.nullTarget},
		{digest, digest == nil},
		{extra.encryptionKey, extra.encryptionKey == nil},
	}
	for _, s := range strs {
		if err := writeStr(s.b, s.null); err != nil {
			return err
		}
	}

	mode := e.Mode
	if mode == 0 && !ok {
		mode = defaultMode(e.Kind)
	}
	if len(extra.properties) > math.MaxUint8 {
		return fmt.Errorf("%d properties exceed the record limit", len(extra.properties))
	}
	binary.Write(buf, binary.BigEndian, uint16(mode))
	binary.Write(buf, binary.BigEndian, extra.inode)
	binary.Write(buf, binary.BigEndian, extra.uid)
	binary.Write(buf, binary.BigEndian, extra.gid)
	binary.Write(buf, binary.BigEndian, uint32(unixSeconds(e.ModTime)))
	binary.Write(buf, binary.BigEndian, uint32(unixSeconds(e.AccessTime)))
	binary.Write(buf, binary.BigEndian, uint32(unixSeconds(e.ChangeTime)))
	binary.Write(buf, binary.BigEndian, uint64(e.Size))
	buf.WriteByte(extra.protection)
	buf.WriteByte(uint8(len(extra.properties)))
	for _, p := range extra.properties {
		if err := writeStr(p.name, false); err != nil {
			return err
		}
		if err := writeStr(p.value, false); err != nil {
			return err
		}
	}
	return nil
}

// mbdbDigest chooses the data-hash bytes for a record: the original bytes
// while they still match the content ID, otherwise the decoded content ID.
func mbdbDigest(e types.ManifestEntry, extra *mbdbExtra) ([]byte, error) {
	if e.ContentID == "" {
		if e.Kind == types.KindFile {
			return extra.digest, nil
		}
		return nil, nil
	}
	if extra.digest != nil && hex.EncodeToString(extra.digest) == e.ContentID {
		return extra.digest, nil
	}
	digest, err := hex.DecodeString(e.ContentID)
	if err != nil {
		return nil, fmt.Errorf("content ID %q is not hex: %w", e.ContentID, err)
	}
	return digest, nil
}
