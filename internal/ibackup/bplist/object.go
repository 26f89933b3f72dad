// Package bplist reads and writes Apple binary property lists ("bplist00")
// as an object table rather than a value tree.
//
// Keeping the table lets a caller edit a few objects and write the file back
// while every untouched object is re-emitted with its original encoding. A
// document that is decoded and encoded without edits comes back byte for byte.
package bplist

import (
	"errors"
	"math"
	"time"
)

// ErrFormat is returned for any input that is not a well-formed binary plist.
var ErrFormat = errors.New("bplist: malformed property list")

// Kind identifies the type of a single object in the table.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindReal
	KindDate
	KindData
	KindString  // ASCII string
	KindUnicode // UTF-16 string
	KindUID
	KindArray
	KindSet
	KindDict
	KindFill
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	case KindDate:
		return "date"
	case KindData:
		return "data"
	case KindString:
		return "string"
	case KindUnicode:
		return "unicode"
	case KindUID:
		return "uid"
	case KindArray:
		return "array"
	case KindSet:
		return "set"
	case KindDict:
		return "dict"
	case KindFill:
		return "fill"
	}
	return "unknown"
}

// referenceEpoch is the zero point of plist dates.
var referenceEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// maxDateSeconds bounds plist dates so that whole seconds fit an int64
// Unix time after shifting by the reference epoch.
const maxDateSeconds = 1 << 62

// dateFromSeconds converts seconds since the reference epoch to a time. It
// works in whole seconds so dates centuries away, such as distantFuture,
// do not overflow a time.Duration.
func dateFromSeconds(secs float64) (time.Time, bool) {
	if math.IsNaN(secs) || math.Abs(secs) > maxDateSeconds {
		return time.Time{}, false
	}
	whole := math.Floor(secs)
	frac := time.Duration((secs - whole) * float64(time.Second))
	return time.Unix(referenceEpoch.Unix()+int64(whole), int64(frac)).UTC(), true
}

// secondsFromDate is the inverse of dateFromSeconds.
func secondsFromDate(t time.Time) float64 {
	return float64(t.Unix()-referenceEpoch.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

// Object is one entry of the object table.
//
// Refs holds element indices for arrays and sets. For dictionaries it holds
// the key indices followed by the value indices, so len(Refs) is twice the
// number of pairs.
type Object struct {
	Kind Kind
	Bool bool
	Int  int64 // ints and UIDs
	Real float64
	Time time.Time
	Data []byte
	Str  string
	Refs []int

	// raw is the object's original encoding. It is nil for objects that
	// were built or edited in memory.
	raw []byte
	// rawRefSize is the reference width raw was encoded with.
	rawRefSize int
}

// IsContainer reports whether the object holds references to other objects.
func (o Object) IsContainer() bool {
	return o.Kind == KindArray || o.Kind == KindSet || o.Kind == KindDict
}

// IsString reports whether the object is an ASCII or UTF-16 string.
func (o Object) IsString() bool {
	return o.Kind == KindString || o.Kind == KindUnicode
}

func (o Object) clone() Object {
	c := o
	if o.Refs != nil {
		c.Refs = append([]int(nil), o.Refs...)
	}
	return c
}

// Null returns a null object.
func Null() Object { return Object{Kind: KindNull} }

// Bool returns a boolean object.
func Bool(b bool) Object { return Object{Kind: KindBool, Bool: b} }

// Int returns an integer object.
func Int(v int64) Object { return Object{Kind: KindInt, Int: v} }

// Real returns a 64-bit floating point object.
func Real(f float64) Object { return Object{Kind: KindReal, Real: f} }

// Date returns a date object.
func Date(t time.Time) Object { return Object{Kind: KindDate, Time: t} }

// Data returns a data object holding a copy of b.
func Data(b []byte) Object {
	return Object{Kind: KindData, Data: append([]byte{}, b...)}
}

// String returns a string object. Non-ASCII text is stored as UTF-16.
func String(s string) Object {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return Object{Kind: KindUnicode, Str: s}
		}
	}
	return Object{Kind: KindString, Str: s}
}

// UID returns a keyed-archiver UID object.
func UID(v uint64) Object { return Object{Kind: KindUID, Int: int64(v)} }

// Array returns an array object referencing refs.
func Array(refs ...int) Object {
	return Object{Kind: KindArray, Refs: append([]int{}, refs...)}
}

// Dict returns a dictionary object. keys and values must have equal length.
func Dict(keys, values []int) Object {
	refs := make([]int, 0, len(keys)+len(values))
	refs = append(refs, keys...)
	refs = append(refs, values...)
	return Object{Kind: KindDict, Refs: refs}
}
