package bplist

import (
	"fmt"
)

// Document is a decoded binary plist: the object table plus the trailer
// settings needed to write it back the same way.
type Document struct {
	objects     []Object
	top         int
	refSize     int
	offsetSize  int
	sortVersion byte
	unused      [5]byte
}

// New returns a document whose top object is root.
func New(root Object) *Document {
	d := &Document{}
	d.top = d.Add(root)
	return d
}

// Len returns the number of objects in the table.
func (d *Document) Len() int { return len(d.objects) }

// Top returns the index of the root object.
func (d *Document) Top() int { return d.top }

// SetTop makes the object at idx the root.
func (d *Document) SetTop(idx int) { d.top = idx }

// Object returns a copy of the object at idx.
func (d *Document) Object(idx int) (Object, error) {
	if idx < 0 || idx >= len(d.objects) {
		return Object{}, fmt.Errorf("%w: no object %d", ErrFormat, idx)
	}
	return d.objects[idx].clone(), nil
}

// Add appends obj to the table and returns its index.
func (d *Document) Add(obj Object) int {
	obj = obj.clone()
	obj.raw = nil
	d.objects = append(d.objects, obj)
	return len(d.objects) - 1
}

// Replace overwrites the object at idx.
func (d *Document) Replace(idx int, obj Object) error {
	if idx < 0 || idx >= len(d.objects) {
		return fmt.Errorf("%w: no object %d", ErrFormat, idx)
	}
	obj = obj.clone()
	obj.raw = nil
	d.objects[idx] = obj
	return nil
}

// SetRefs replaces the references of the container at idx.
func (d *Document) SetRefs(idx int, refs []int) error {
	if idx < 0 || idx >= len(d.objects) || !d.objects[idx].IsContainer() {
		return fmt.Errorf("%w: object %d is not a container", ErrFormat, idx)
	}
	d.objects[idx].Refs = append([]int{}, refs...)
	d.objects[idx].raw = nil
	return nil
}

// Clone returns a deep copy that can be edited independently.
func (d *Document) Clone() *Document {
	c := *d
	c.objects = make([]Object, len(d.objects))
	for i, obj := range d.objects {
		c.objects[i] = obj.clone()
	}
	return &c
}

// StringAt returns the text of the string object at idx.
func (d *Document) StringAt(idx int) (string, bool) {
	if idx < 0 || idx >= len(d.objects) || !d.objects[idx].IsString() {
		return "", false
	}
	return d.objects[idx].Str, true
}

// Entries returns the key and value indices of the dictionary at idx.
func (d *Document) Entries(idx int) (keys, values []int, err error) {
	if idx < 0 || idx >= len(d.objects) || d.objects[idx].Kind != KindDict {
		return nil, nil, fmt.Errorf("%w: object %d is not a dict", ErrFormat, idx)
	}
	refs := d.objects[idx].Refs
	half := len(refs) / 2
	return append([]int{}, refs[:half]...), append([]int{}, refs[half:]...), nil
}

// Lookup returns the value index stored under key in the dictionary at idx.
func (d *Document) Lookup(idx int, key string) (int, bool) {
	keys, values, err := d.Entries(idx)
	if err != nil {
		return 0, false
	}
	for i, k := range keys {
		if s, ok := d.StringAt(k); ok && s == key {
			return values[i], true
		}
	}
	return 0, false
}

// Set stores value under key in the dictionary at idx, keeping the key's
// position when it already exists and appending it otherwise.
func (d *Document) Set(idx int, key string, value int) error {
	keys, values, err := d.Entries(idx)
	if err != nil {
		return err
	}
	for i, k := range keys {
		if s, ok := d.StringAt(k); ok && s == key {
			if values[i] == value {
				return nil
			}
			values[i] = value
			return d.SetRefs(idx, append(keys, values...))
		}
	}
	keys = append(keys, d.Add(String(key)))
	values = append(values, value)
	return d.SetRefs(idx, append(keys, values...))
}

// Compact drops objects that are not reachable from the root and renumbers
// the rest in their original order. Containers whose references change lose
// their original encoding; everything else keeps it.
func (d *Document) Compact() {
	reachable := make([]bool, len(d.objects))
	stack := []int{d.top}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[idx] {
			continue
		}
		reachable[idx] = true
		stack = append(stack, d.objects[idx].Refs...)
	}

	remap := make([]int, len(d.objects))
	kept := make([]Object, 0, len(d.objects))
	for i, obj := range d.objects {
		if !reachable[i] {
			remap[i] = -1
			continue
		}
		remap[i] = len(kept)
		kept = append(kept, obj)
	}
	if len(kept) == len(d.objects) {
		return
	}

	for i := range kept {
		obj := &kept[i]
		changed := false
		for j, ref := range obj.Refs {
			if remap[ref] != ref {
				obj.Refs[j] = remap[ref]
				changed = true
			}
		}
		if changed {
			obj.raw = nil
		}
	}
	d.objects = kept
	d.top = remap[d.top]
}

// Value converts the object at idx into plain Go values: map[string]any,
// []any, string, int64, float64, bool, []byte, time.Time, UIDs as uint64,
// and nil for null.
func (d *Document) Value(idx int) (any, error) {
	return d.value(idx, 0)
}

const maxDepth = 512

func (d *Document) value(idx, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrFormat, maxDepth)
	}
	if idx < 0 || idx >= len(d.objects) {
		return nil, fmt.Errorf("%w: no object %d", ErrFormat, idx)
	}
	obj := d.objects[idx]
	switch obj.Kind {
	case KindNull, KindFill:
		return nil, nil
	case KindBool:
		return obj.Bool, nil
	case KindInt:
		return obj.Int, nil
	case KindReal:
		return obj.Real, nil
	case KindDate:
		return obj.Time, nil
	case KindData:
		return append([]byte{}, obj.Data...), nil
	case KindString, KindUnicode:
		return obj.Str, nil
	case KindUID:
		return uint64(obj.Int), nil
	case KindArray, KindSet:
		out := make([]any, 0, len(obj.Refs))
		for _, ref := range obj.Refs {
			v, err := d.value(ref, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case KindDict:
		keys, values, _ := d.Entries(idx)
		out := make(map[string]any, len(keys))
		for i, k := range keys {
			name, ok := d.StringAt(k)
			if !ok {
				return nil, fmt.Errorf("%w: dict %d has a non-string key", ErrFormat, idx)
			}
			v, err := d.value(values[i], depth+1)
			if err != nil {
				return nil, err
			}
			out[name] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %v", ErrFormat, obj.Kind)
}
