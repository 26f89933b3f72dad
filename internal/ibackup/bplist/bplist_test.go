package bplist

import (
	"encoding/binary"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleDocument builds a small plist touching every object kind.
func sampleDocument(t *testing.T) *Document {
	t.Helper()
	d := New(Dict(nil, nil))
	top := d.Top()

	when := time.Date(2014, time.April, 16, 12, 30, 0, 0, time.UTC)
	fields := []struct {
		key string
		obj Object
	}{
		{"name", String("home")},
		{"café", String("über")},
		{"count", Int(42)},
		{"big", Int(1 << 40)},
		{"negative", Int(-7)},
		{"ratio", Real(0.5)},
		{"when", Date(when)},
		{"blob", Data([]byte{0xde, 0xad, 0xbe, 0xef})},
		{"long", String("a string that is longer than fifteen bytes")},
		{"flag", Bool(true)},
		{"off", Bool(false)},
		{"nothing", Null()},
		{"uid", UID(300)},
	}
	for _, f := range fields {
		require.NoError(t, d.Set(top, f.key, d.Add(f.obj)))
	}

	items := make([]int, 0, 20)
	for i := 0; i < 20; i++ {
		items = append(items, d.Add(Int(int64(i))))
	}
	require.NoError(t, d.Set(top, "items", d.Add(Array(items...))))
	return d
}

func TestRoundTrip(t *testing.T) {
	t.Run("decode then encode reproduces the input", func(t *testing.T) {
		original, err := sampleDocument(t).Encode()
		require.NoError(t, err)

		doc, err := Decode(original)
		require.NoError(t, err)
		again, err := doc.Encode()
		require.NoError(t, err)

		assert.Equal(t, original, again)
	})

	t.Run("values survive encoding", func(t *testing.T) {
		data, err := sampleDocument(t).Encode()
		require.NoError(t, err)
		doc, err := Decode(data)
		require.NoError(t, err)

		v, err := doc.Value(doc.Top())
		require.NoError(t, err)
		m := v.(map[string]any)

		assert.Equal(t, "home", m["name"])
		assert.Equal(t, "über", m["café"])
		assert.Equal(t, int64(42), m["count"])
		assert.Equal(t, int64(1<<40), m["big"])
		assert.Equal(t, int64(-7), m["negative"])
		assert.Equal(t, 0.5, m["ratio"])
		assert.True(t, m["when"].(time.Time).Equal(time.Date(2014, time.April, 16, 12, 30, 0, 0, time.UTC)))
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, m["blob"])
		assert.Equal(t, "a string that is longer than fifteen bytes", m["long"])
		assert.Equal(t, true, m["flag"])
		assert.Equal(t, false, m["off"])
		assert.Nil(t, m["nothing"])
		assert.Equal(t, uint64(300), m["uid"])
		assert.Len(t, m["items"], 20)
	})

	t.Run("wide reference tables", func(t *testing.T) {
		d := New(Array())
		refs := make([]int, 0, 400)
		for i := 0; i < 400; i++ {
			refs = append(refs, d.Add(String(fmt.Sprintf("entry-%03d", i))))
		}
		require.NoError(t, d.SetRefs(d.Top(), refs))

		data, err := d.Encode()
		require.NoError(t, err)
		doc, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, 401, doc.Len())

		again, err := doc.Encode()
		require.NoError(t, err)
		assert.Equal(t, data, again)
	})
}

func TestEditing(t *testing.T) {
	t.Run("growing past the reference width re-encodes containers", func(t *testing.T) {
		data, err := sampleDocument(t).Encode()
		require.NoError(t, err)
		doc, err := Decode(data)
		require.NoError(t, err)

		extra := make([]int, 0, 300)
		for i := 0; i < 300; i++ {
			extra = append(extra, doc.Add(Int(int64(1000+i))))
		}
		require.NoError(t, doc.Set(doc.Top(), "extra", doc.Add(Array(extra...))))

		out, err := doc.Encode()
		require.NoError(t, err)
		reread, err := Decode(out)
		require.NoError(t, err)

		name, ok := reread.Lookup(reread.Top(), "name")
		require.True(t, ok)
		s, _ := reread.StringAt(name)
		assert.Equal(t, "home", s)

		arr, ok := reread.Lookup(reread.Top(), "extra")
		require.True(t, ok)
		obj, err := reread.Object(arr)
		require.NoError(t, err)
		assert.Len(t, obj.Refs, 300)
	})

	t.Run("compact drops unreachable objects", func(t *testing.T) {
		d := New(Dict(nil, nil))
		keep := d.Add(String("keep"))
		d.Add(String("orphan"))
		require.NoError(t, d.Set(d.Top(), "k", keep))
		before := d.Len()

		d.Compact()

		assert.Equal(t, before-1, d.Len())
		v, err := d.Value(d.Top())
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"k": "keep"}, v)
	})

	t.Run("compact leaves a fully reachable document untouched", func(t *testing.T) {
		data, err := sampleDocument(t).Encode()
		require.NoError(t, err)
		doc, err := Decode(data)
		require.NoError(t, err)

		doc.Compact()
		again, err := doc.Encode()
		require.NoError(t, err)
		assert.Equal(t, data, again)
	})

	t.Run("set replaces a value in place", func(t *testing.T) {
		d := New(Dict(nil, nil))
		require.NoError(t, d.Set(d.Top(), "a", d.Add(Int(1))))
		require.NoError(t, d.Set(d.Top(), "b", d.Add(Int(2))))
		require.NoError(t, d.Set(d.Top(), "a", d.Add(Int(3))))

		keys, values, err := d.Entries(d.Top())
		require.NoError(t, err)
		require.Len(t, keys, 2)
		first, _ := d.StringAt(keys[0])
		assert.Equal(t, "a", first)
		obj, _ := d.Object(values[0])
		assert.Equal(t, int64(3), obj.Int)
	})
}

func TestDecodeErrors(t *testing.T) {
	valid, err := New(String("x")).Encode()
	require.NoError(t, err)

	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"wrong magic", append([]byte("xplist00"), valid[8:]...)},
		{"truncated", valid[:len(valid)-1]},
		{"header only", []byte(magic)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}

	t.Run("dangling reference", func(t *testing.T) {
		d := New(Array())
		d.objects[0].Refs = []int{0}
		data, err := d.Encode()
		require.NoError(t, err)
		// Point the array at an object index that does not exist.
		data[len(magic)+1] = 5

		_, err = Decode(data)
		assert.ErrorIs(t, err, ErrFormat)
	})
}

// dateDocument encodes a plist whose only object is a date holding secs.
func dateDocument(t *testing.T, secs float64) []byte {
	t.Helper()
	data, err := New(Date(referenceEpoch)).Encode()
	require.NoError(t, err)
	require.Equal(t, byte(0x33), data[len(magic)])
	binary.BigEndian.PutUint64(data[len(magic)+1:], math.Float64bits(secs))
	return data
}

func TestDates(t *testing.T) {
	testCases := []struct {
		name string
		secs float64
		want time.Time
	}{
		{"distant future", 63113904000, time.Date(4001, time.January, 1, 0, 0, 0, 0, time.UTC)},
		{"distant past", -63114076800, time.Date(0, time.December, 30, 0, 0, 0, 0, time.UTC)},
		{"fraction before the epoch", -1.5, time.Date(2000, time.December, 31, 23, 59, 58, 500000000, time.UTC)},
		{"ordinary date", 419300000, time.Date(2014, time.April, 16, 0, 13, 20, 0, time.UTC)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := dateDocument(t, tc.secs)
			doc, err := Decode(data)
			require.NoError(t, err)
			obj, err := doc.Object(doc.Top())
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(obj.Time), "got %s", obj.Time)

			again, err := doc.Encode()
			require.NoError(t, err)
			assert.Equal(t, data, again)
		})
	}

	t.Run("unrepresentable dates are format errors", func(t *testing.T) {
		for _, secs := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 1e300} {
			_, err := Decode(dateDocument(t, secs))
			assert.ErrorIs(t, err, ErrFormat, "secs %v", secs)
		}
	})
}
