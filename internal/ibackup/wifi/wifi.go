// Package wifi decodes the device's list of known wireless networks and
// writes edited lists back without disturbing the fields it does not model.
package wifi

import (
	"bytes"
	"fmt"
	"time"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/bplist"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/lib"
)

// ErrFormat is returned when a file is not a network list.
var ErrFormat = bplist.ErrFormat

// Keys of the network list and of each network record.
const (
	KeyNetworks   = "List of known networks"
	KeySSID       = "SSID_STR"
	KeySecurity   = "SecurityMode"
	KeyPassword   = "Password"
	KeyHidden     = "HIDDEN_NETWORK"
	KeyAutoJoin   = "AutoJoin"
	KeyLastJoined = "lastJoined"
)

// Network is one known wireless network.
type Network struct {
	SSID         string
	SecurityMode string
	// Credential is the stored secret; nil when the record has none.
	Credential []byte
	Hidden     bool
	AutoJoin   bool
	LastJoined time.Time

	// origin ties a decoded network to the record it came from.
	origin *origin
}

type origin struct {
	source       string // content ID of the decoded file
	index        int    // record dictionary in the object table
	snapshot     Network
	credAsString bool
}

// Equal reports whether two networks carry the same modeled values.
func (n Network) Equal(o Network) bool {
	return n.SSID == o.SSID &&
		n.SecurityMode == o.SecurityMode &&
		bytes.Equal(n.Credential, o.Credential) &&
		(n.Credential == nil) == (o.Credential == nil) &&
		n.Hidden == o.Hidden &&
		n.AutoJoin == o.AutoJoin &&
		n.LastJoined.Equal(o.LastJoined)
}

// List is a decoded network file.
type List struct {
	Networks []Network

	doc    *bplist.Document
	source string
}

// NewList returns a list backed by an empty document.
func NewList(networks []Network) *List {
	return &List{
		Networks: networks,
		doc:      bplist.New(bplist.Dict(nil, nil)),
	}
}

func formatErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}

// Decode parses a network file. A file without a network array decodes to
// an empty list.
func Decode(data []byte) (*List, error) {
	doc, err := bplist.Decode(data)
	if err != nil {
		return nil, err
	}
	top, err := doc.Object(doc.Top())
	if err != nil {
		return nil, err
	}
	if top.Kind != bplist.KindDict {
		return nil, formatErr("top object is %s, not dict", top.Kind)
	}

	list := &List{doc: doc, source: lib.GetHash(data)}
	arrIdx, ok := doc.Lookup(doc.Top(), KeyNetworks)
	if !ok {
		return list, nil
	}
	arr, err := doc.Object(arrIdx)
	if err != nil {
		return nil, err
	}
	if arr.Kind != bplist.KindArray {
		return nil, formatErr("%q is %s, not array", KeyNetworks, arr.Kind)
	}

	for i, recIdx := range arr.Refs {
		n, err := decodeNetwork(doc, recIdx)
		if err != nil {
			return nil, fmt.Errorf("network %d: %w", i, err)
		}
		n.origin.source = list.source
		list.Networks = append(list.Networks, n)
	}
	return list, nil
}

func decodeNetwork(doc *bplist.Document, idx int) (Network, error) {
	var n Network
	keys, values, err := doc.Entries(idx)
	if err != nil {
		return n, err
	}
	o := &origin{index: idx}

	for i, k := range keys {
		name, ok := doc.StringAt(k)
		if !ok {
			return n, formatErr("record key is not a string")
		}
		obj, err := doc.Object(values[i])
		if err != nil {
			return n, err
		}
		switch name {
		case KeySSID:
			if !obj.IsString() {
				return n, formatErr("%s is %s", name, obj.Kind)
			}
			n.SSID = obj.Str
		case KeySecurity:
			if !obj.IsString() {
				return n, formatErr("%s is %s", name, obj.Kind)
			}
			n.SecurityMode = obj.Str
		case KeyPassword:
			switch {
			case obj.Kind == bplist.KindData:
				n.Credential = append([]byte{}, obj.Data...)
			case obj.IsString():
				n.Credential = []byte(obj.Str)
				o.credAsString = true
			default:
				return n, formatErr("%s is %s", name, obj.Kind)
			}
		case KeyHidden, KeyAutoJoin:
			var v bool
			switch obj.Kind {
			case bplist.KindBool:
				v = obj.Bool
			case bplist.KindInt:
				v = obj.Int != 0
			default:
				return n, formatErr("%s is %s", name, obj.Kind)
			}
			if name == KeyHidden {
				n.Hidden = v
			} else {
				n.AutoJoin = v
			}
		case KeyLastJoined:
			if obj.Kind != bplist.KindDate {
				return n, formatErr("%s is %s", name, obj.Kind)
			}
			n.LastJoined = obj.Time
		}
	}

	o.snapshot = n
	n.origin = o
	return n, nil
}

// Encode writes the list back in the format it was decoded from. Networks
// that were decoded from this list and left unchanged keep their original
// records; every other network gets a rebuilt record. An unedited list
// encodes to the bytes it was decoded from.
func Encode(list *List) ([]byte, error) {
	if list.doc == nil {
		list = NewList(list.Networks)
	}
	doc := list.doc.Clone()
	top := doc.Top()

	var oldRefs []int
	arrIdx, hasArray := doc.Lookup(top, KeyNetworks)
	if hasArray {
		arr, err := doc.Object(arrIdx)
		if err != nil {
			return nil, err
		}
		if arr.Kind != bplist.KindArray {
			return nil, formatErr("%q is %s, not array", KeyNetworks, arr.Kind)
		}
		oldRefs = arr.Refs
	}

	changed := false
	refs := make([]int, 0, len(list.Networks))
	for _, n := range list.Networks {
		o := n.origin
		if o != nil && o.source != list.source {
			o = nil
		}
		if o != nil && n.Equal(o.snapshot) {
			refs = append(refs, o.index)
			continue
		}
		idx, err := encodeNetwork(doc, n, o)
		if err != nil {
			return nil, fmt.Errorf("network %q: %w", n.SSID, err)
		}
		refs = append(refs, idx)
		changed = true
	}

	switch {
	case hasArray && !equalRefs(refs, oldRefs):
		if err := doc.SetRefs(arrIdx, refs); err != nil {
			return nil, err
		}
		changed = true
	case !hasArray && len(refs) > 0:
		if err := doc.Set(top, KeyNetworks, doc.Add(bplist.Array(refs...))); err != nil {
			return nil, err
		}
		changed = true
	}

	if changed {
		doc.Compact()
	}
	return doc.Encode()
}

func equalRefs(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// encodeNetwork adds a record dictionary for n and returns its index. When
// o is set the record starts as a copy of the original so unmodeled keys
// survive in their original order, and only the fields that changed are
// rewritten.
func encodeNetwork(doc *bplist.Document, n Network, o *origin) (int, error) {
	var base Network
	rec := doc.Add(bplist.Dict(nil, nil))
	if o != nil {
		keys, values, err := doc.Entries(o.index)
		if err != nil {
			return 0, err
		}
		if err := doc.SetRefs(rec, append(keys, values...)); err != nil {
			return 0, err
		}
		base = o.snapshot
	}
	fresh := o == nil

	set := func(key string, obj bplist.Object) error {
		return doc.Set(rec, key, doc.Add(obj))
	}
	has := func(key string) bool {
		_, ok := doc.Lookup(rec, key)
		return ok
	}

	if fresh || n.SSID != base.SSID {
		if err := set(KeySSID, bplist.String(n.SSID)); err != nil {
			return 0, err
		}
	}
	if (fresh || n.SecurityMode != base.SecurityMode) && (n.SecurityMode != "" || has(KeySecurity)) {
		if err := set(KeySecurity, bplist.String(n.SecurityMode)); err != nil {
			return 0, err
		}
	}
	if fresh || !bytes.Equal(n.Credential, base.Credential) || (n.Credential == nil) != (base.Credential == nil) {
		var err error
		switch {
		case n.Credential == nil:
			err = removeKey(doc, rec, KeyPassword)
		case o != nil && o.credAsString:
			err = set(KeyPassword, bplist.String(string(n.Credential)))
		default:
			err = set(KeyPassword, bplist.Data(n.Credential))
		}
		if err != nil {
			return 0, err
		}
	}
	if (fresh || n.Hidden != base.Hidden) && (n.Hidden || has(KeyHidden)) {
		if err := set(KeyHidden, bplist.Bool(n.Hidden)); err != nil {
			return 0, err
		}
	}
	if (fresh || n.AutoJoin != base.AutoJoin) && (n.AutoJoin || has(KeyAutoJoin)) {
		if err := set(KeyAutoJoin, bplist.Bool(n.AutoJoin)); err != nil {
			return 0, err
		}
	}
	if fresh || !n.LastJoined.Equal(base.LastJoined) {
		var err error
		if n.LastJoined.IsZero() {
			err = removeKey(doc, rec, KeyLastJoined)
		} else {
			err = set(KeyLastJoined, bplist.Date(n.LastJoined))
		}
		if err != nil {
			return 0, err
		}
	}
	return rec, nil
}

// removeKey drops key from the dictionary at idx if present.
func removeKey(doc *bplist.Document, idx int, key string) error {
	keys, values, err := doc.Entries(idx)
	if err != nil {
		return err
	}
	for i, k := range keys {
		if s, ok := doc.StringAt(k); ok && s == key {
			keys = append(keys[:i], keys[i+1:]...)
			values = append(values[:i], values[i+1:]...)
			return doc.SetRefs(idx, append(keys, values...))
		}
	}
	return nil
}
