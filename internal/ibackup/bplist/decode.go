package bplist

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"
)

const (
	magic       = "bplist00"
	trailerSize = 32
)

// trailer mirrors the fixed 32-byte block at the end of every binary plist.
type trailer struct {
	unused      [5]byte
	sortVersion byte
	offsetSize  int
	refSize     int
	numObjects  uint64
	topObject   uint64
	tableOffset uint64
}

func formatErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}

// Decode parses a binary property list into a Document.
func Decode(data []byte) (*Document, error) {
	if len(data) < len(magic)+trailerSize {
		return nil, formatErr("%d bytes is too short", len(data))
	}
	if string(data[:len(magic)]) != magic {
		return nil, formatErr("bad header %q", data[:len(magic)])
	}

	t, err := readTrailer(data)
	if err != nil {
		return nil, err
	}

	tableEnd := t.tableOffset + t.numObjects*uint64(t.offsetSize)
	if t.tableOffset < uint64(len(magic)) || tableEnd > uint64(len(data)-trailerSize) || tableEnd < t.tableOffset {
		return nil, formatErr("offset table out of range")
	}

	doc := &Document{
		objects:     make([]Object, t.numObjects),
		top:         int(t.topObject),
		refSize:     t.refSize,
		offsetSize:  t.offsetSize,
		sortVersion: t.sortVersion,
		unused:      t.unused,
	}

	limit := int(t.tableOffset)
	for i := uint64(0); i < t.numObjects; i++ {
		pos := int(t.tableOffset) + int(i)*t.offsetSize
		off := readUint(data[pos : pos+t.offsetSize])
		if off < uint64(len(magic)) || off >= uint64(limit) {
			return nil, formatErr("object %d offset %d out of range", i, off)
		}
		obj, err := parseObject(data[:limit], int(off), t.refSize)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		for _, ref := range obj.Refs {
			if ref < 0 || uint64(ref) >= t.numObjects {
				return nil, formatErr("object %d references missing object %d", i, ref)
			}
		}
		doc.objects[i] = obj
	}

	return doc, nil
}

func readTrailer(data []byte) (trailer, error) {
	raw := data[len(data)-trailerSize:]
	var t trailer
	copy(t.unused[:], raw[:5])
	t.sortVersion = raw[5]
	t.offsetSize = int(raw[6])
	t.refSize = int(raw[7])
	t.numObjects = binary.BigEndian.Uint64(raw[8:16])
	t.topObject = binary.BigEndian.Uint64(raw[16:24])
	t.tableOffset = binary.BigEndian.Uint64(raw[24:32])

	switch {
	case t.offsetSize < 1 || t.offsetSize > 8:
		return t, formatErr("offset size %d", t.offsetSize)
	case t.refSize < 1 || t.refSize > 8:
		return t, formatErr("reference size %d", t.refSize)
	case t.numObjects == 0 || t.numObjects > uint64(len(data)):
		return t, formatErr("object count %d", t.numObjects)
	case t.topObject >= t.numObjects:
		return t, formatErr("top object %d of %d", t.topObject, t.numObjects)
	case t.tableOffset > uint64(len(data)):
		return t, formatErr("offset table at %d", t.tableOffset)
	}
	return t, nil
}

func readUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// parseObject decodes the object starting at data[off]. data ends where the
// offset table begins, so no object may extend past it.
func parseObject(data []byte, off, refSize int) (Object, error) {
	need := func(n int) error {
		if n < 0 || off+n > len(data) {
			return formatErr("object at %d truncated", off)
		}
		return nil
	}

	marker := data[off]
	hi, lo := marker>>4, int(marker&0x0F)
	var obj Object
	size := 1

	switch hi {
	case 0x0:
		switch lo {
		case 0x0:
			obj.Kind = KindNull
		case 0x8, 0x9:
			obj.Kind = KindBool
			obj.Bool = lo == 0x9
		case 0xF:
			obj.Kind = KindFill
		default:
			return obj, formatErr("unknown marker 0x%02x at %d", marker, off)
		}

	case 0x1:
		if lo > 4 {
			return obj, formatErr("int width 2^%d at %d", lo, off)
		}
		n := 1 << lo
		if err := need(1 + n); err != nil {
			return obj, err
		}
		b := data[off+1 : off+1+n]
		if n == 16 {
			// 128-bit ints only carry 64 significant bits in practice.
			b = b[8:]
		}
		obj.Kind = KindInt
		obj.Int = int64(readUint(b))
		size += n

	case 0x2:
		obj.Kind = KindReal
		switch lo {
		case 2:
			if err := need(5); err != nil {
				return obj, err
			}
			obj.Real = float64(math.Float32frombits(binary.BigEndian.Uint32(data[off+1:])))
			size += 4
		case 3:
			if err := need(9); err != nil {
				return obj, err
			}
			obj.Real = math.Float64frombits(binary.BigEndian.Uint64(data[off+1:]))
			size += 8
		default:
			return obj, formatErr("real width 2^%d at %d", lo, off)
		}

	case 0x3:
		if lo != 3 {
			return obj, formatErr("unknown marker 0x%02x at %d", marker, off)
		}
		if err := need(9); err != nil {
			return obj, err
		}
		secs := math.Float64frombits(binary.BigEndian.Uint64(data[off+1:]))
		when, ok := dateFromSeconds(secs)
		if !ok {
			return obj, formatErr("date out of range at %d", off)
		}
		obj.Kind = KindDate
		obj.Time = when
		size += 8

	case 0x4, 0x5, 0x6:
		count, hdr, err := readCount(data, off, lo)
		if err != nil {
			return obj, err
		}
		n := count
		if hi == 0x6 {
			n = count * 2
		}
		if err := need(hdr + n); err != nil {
			return obj, err
		}
		body := data[off+hdr : off+hdr+n]
		switch hi {
		case 0x4:
			obj.Kind = KindData
			obj.Data = append([]byte{}, body...)
		case 0x5:
			obj.Kind = KindString
			obj.Str = string(body)
		case 0x6:
			units := make([]uint16, count)
			for i := range units {
				units[i] = binary.BigEndian.Uint16(body[2*i:])
			}
			obj.Kind = KindUnicode
			obj.Str = string(utf16.Decode(units))
		}
		size = hdr + n

	case 0x8:
		n := lo + 1
		if err := need(1 + n); err != nil {
			return obj, err
		}
		obj.Kind = KindUID
		obj.Int = int64(readUint(data[off+1 : off+1+n]))
		size += n

	case 0xA, 0xC, 0xD:
		count, hdr, err := readCount(data, off, lo)
		if err != nil {
			return obj, err
		}
		refs := count
		switch hi {
		case 0xA:
			obj.Kind = KindArray
		case 0xC:
			obj.Kind = KindSet
		case 0xD:
			obj.Kind = KindDict
			refs = count * 2
		}
		if err := need(hdr + refs*refSize); err != nil {
			return obj, err
		}
		obj.Refs = make([]int, refs)
		for i := range obj.Refs {
			p := off + hdr + i*refSize
			obj.Refs[i] = int(readUint(data[p : p+refSize]))
		}
		obj.rawRefSize = refSize
		size = hdr + refs*refSize

	default:
		return obj, formatErr("unknown marker 0x%02x at %d", marker, off)
	}

	obj.raw = append([]byte{}, data[off:off+size]...)
	return obj, nil
}

// readCount decodes the element count that follows a marker byte. Counts of
// 15 and above are stored as a trailing int object.
func readCount(data []byte, off, lo int) (count, header int, err error) {
	if lo != 0xF {
		return lo, 1, nil
	}
	if off+2 > len(data) {
		return 0, 0, formatErr("count at %d truncated", off)
	}
	m := data[off+1]
	if m>>4 != 0x1 || m&0x0F > 3 {
		return 0, 0, formatErr("bad count marker 0x%02x at %d", m, off+1)
	}
	n := 1 << (m & 0x0F)
	if off+2+n > len(data) {
		return 0, 0, formatErr("count at %d truncated", off)
	}
	v := readUint(data[off+2 : off+2+n])
	if v > uint64(len(data)) {
		return 0, 0, formatErr("count %d at %d exceeds input", v, off)
	}
	return int(v), 2 + n, nil
}
