package bplist

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"
)

// Encode serializes the document. Objects keep their table positions and,
// when untouched, their original bytes. The offset and reference widths of
// a decoded document are reused while they are still wide enough.
func (d *Document) Encode() ([]byte, error) {
	n := len(d.objects)
	if n == 0 {
		return nil, fmt.Errorf("bplist: encode: empty document")
	}
	if d.top < 0 || d.top >= n {
		return nil, fmt.Errorf("bplist: encode: top object %d of %d", d.top, n)
	}

	refSize := d.refSize
	if refSize == 0 || !fits(uint64(n-1), refSize) {
		refSize = byteCount(uint64(n))
	}

	buf := make([]byte, 0, 64*n)
	buf = append(buf, magic...)
	offsets := make([]uint64, n)
	for i, obj := range d.objects {
		offsets[i] = uint64(len(buf))
		if obj.raw != nil && (!obj.IsContainer() || obj.rawRefSize == refSize) {
			buf = append(buf, obj.raw...)
			continue
		}
		var err error
		buf, err = appendObject(buf, obj, refSize, n)
		if err != nil {
			return nil, fmt.Errorf("bplist: encode object %d: %w", i, err)
		}
	}

	tableOffset := uint64(len(buf))
	offsetSize := d.offsetSize
	if offsetSize == 0 || !fits(maxOf(offsets), offsetSize) {
		offsetSize = byteCount(tableOffset)
	}
	for _, off := range offsets {
		buf = appendUint(buf, off, offsetSize)
	}

	buf = append(buf, d.unused[:]...)
	buf = append(buf, d.sortVersion, byte(offsetSize), byte(refSize))
	buf = binary.BigEndian.AppendUint64(buf, uint64(n))
	buf = binary.BigEndian.AppendUint64(buf, uint64(d.top))
	buf = binary.BigEndian.AppendUint64(buf, tableOffset)
	return buf, nil
}

func maxOf(vs []uint64) uint64 {
	var m uint64
	for _, v := range vs {
		if v > m {
			m = v
		}
	}
	return m
}

// byteCount is the width Apple's writer picks for a count or offset.
func byteCount(v uint64) int {
	switch {
	case v < 1<<8:
		return 1
	case v < 1<<16:
		return 2
	case v < 1<<32:
		return 4
	}
	return 8
}

func fits(v uint64, width int) bool {
	if width >= 8 {
		return true
	}
	return v < 1<<(8*uint(width))
}

func appendUint(buf []byte, v uint64, width int) []byte {
	for i := width - 1; i >= 0; i-- {
		buf = append(buf, byte(v>>(8*uint(i))))
	}
	return buf
}

func appendCount(buf []byte, marker byte, count int) []byte {
	if count < 15 {
		return append(buf, marker|byte(count))
	}
	buf = append(buf, marker|0x0F)
	return appendInt(buf, int64(count))
}

func appendInt(buf []byte, v int64) []byte {
	switch {
	case v < 0:
		buf = append(buf, 0x13)
		return binary.BigEndian.AppendUint64(buf, uint64(v))
	case v <= math.MaxUint8:
		return append(buf, 0x10, byte(v))
	case v <= math.MaxUint16:
		buf = append(buf, 0x11)
		return binary.BigEndian.AppendUint16(buf, uint16(v))
	case v <= math.MaxUint32:
		buf = append(buf, 0x12)
		return binary.BigEndian.AppendUint32(buf, uint32(v))
	}
	buf = append(buf, 0x13)
	return binary.BigEndian.AppendUint64(buf, uint64(v))
}

func appendObject(buf []byte, obj Object, refSize, n int) ([]byte, error) {
	switch obj.Kind {
	case KindNull:
		return append(buf, 0x00), nil
	case KindBool:
		if obj.Bool {
			return append(buf, 0x09), nil
		}
		return append(buf, 0x08), nil
	case KindFill:
		return append(buf, 0x0F), nil
	case KindInt:
		return appendInt(buf, obj.Int), nil
	case KindReal:
		buf = append(buf, 0x23)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(obj.Real)), nil
	case KindDate:
		secs := secondsFromDate(obj.Time)
		buf = append(buf, 0x33)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(secs)), nil
	case KindData:
		buf = appendCount(buf, 0x40, len(obj.Data))
		return append(buf, obj.Data...), nil
	case KindString:
		buf = appendCount(buf, 0x50, len(obj.Str))
		return append(buf, obj.Str...), nil
	case KindUnicode:
		units := utf16.Encode([]rune(obj.Str))
		buf = appendCount(buf, 0x60, len(units))
		for _, u := range units {
			buf = binary.BigEndian.AppendUint16(buf, u)
		}
		return buf, nil
	case KindUID:
		width := byteCount(uint64(obj.Int))
		buf = append(buf, 0x80|byte(width-1))
		return appendUint(buf, uint64(obj.Int), width), nil
	case KindArray, KindSet, KindDict:
		var marker byte = 0xA0
		count := len(obj.Refs)
		switch obj.Kind {
		case KindSet:
			marker = 0xC0
		case KindDict:
			marker = 0xD0
			if count%2 != 0 {
				return nil, fmt.Errorf("dict with %d refs", count)
			}
			count /= 2
		}
		buf = appendCount(buf, marker, count)
		for _, ref := range obj.Refs {
			if ref < 0 || ref >= n {
				return nil, fmt.Errorf("reference %d out of range", ref)
			}
			buf = appendUint(buf, uint64(ref), refSize)
		}
		return buf, nil
	}
	return nil, fmt.Errorf("unknown kind %v", obj.Kind)
}
