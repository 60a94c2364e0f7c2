package korniszon

import (
	"strings"
	"testing"
)

// FuzzDecode feeds arbitrary bytes to the decoder. Whatever the input, the
// decoder must return a value or a DecodeError; it must never panic and
// never loop forever.
func FuzzDecode(f *testing.F) {
	for _, tt := range decodeTests {
		for _, data := range tt.data {
			f.Add(data)
		}
	}
	for _, tt := range decodeErrorTests {
		f.Add(tt.data)
	}
	f.Add(cyclePickle)
	f.Add(customClassPickle)

	f.Fuzz(func(t *testing.T, data string) {
		d := NewDecoder(strings.NewReader(data))
		for {
			_, err := d.Decode()
			if err != nil {
				break
			}
		}
	})
}

// FuzzEncodeRoundTrip drives the decode-encode-decode cycle: anything the
// decoder accepts must be encodable again at every protocol, and decode back
// to an equal object.
func FuzzEncodeRoundTrip(f *testing.F) {
	for _, tt := range decodeTests {
		for _, data := range tt.data {
			f.Add(data)
		}
	}

	f.Fuzz(func(t *testing.T, data string) {
		d := NewDecoder(strings.NewReader(data))
		obj, err := d.Decode()
		if err != nil {
			t.Skip()
		}
		// the encoder keeps no memo, so a self-referential object would
		// recurse forever; NaN round-trips fine but never compares equal
		if skipRoundTrip(obj, map[any]bool{}) {
			t.Skip()
		}
		for proto := 0; proto <= highestProtocol; proto++ {
			var buf strings.Builder
			e := NewEncoderWithConfig(&buf, &EncoderConfig{Protocol: proto})
			if err := e.Encode(obj); err != nil {
				// not everything is encodable at every protocol,
				// e.g. a non-string Ref id at protocol 0
				continue
			}
			obj2, err := NewDecoder(strings.NewReader(buf.String())).Decode()
			if err != nil {
				t.Fatalf("protocol %d: reencoded %q does not decode: %v", proto, buf.String(), err)
			}
			if !pyEq(obj, obj2) {
				t.Fatalf("protocol %d: %#v reencoded to %#v", proto, obj, obj2)
			}
		}
	})
}

// skipRoundTrip reports whether obj references itself or contains a NaN.
// Cycles can only run through the containers that decoding fills in place,
// so only those need identity tracking; tuples are walked but cannot close a
// cycle on their own.
func skipRoundTrip(obj any, seen map[any]bool) bool {
	var key any
	var items []any

	switch v := obj.(type) {
	case float64:
		return v != v
	case complex128:
		return v != v
	case *List:
		key, items = v, v.Items
	case Tuple:
		items = v
	case Dict:
		key = v
		v.Iter()(func(k, val any) bool {
			items = append(items, k, val)
			return true
		})
	case Set:
		key = v.d
		v.Iter()(func(k any) bool {
			items = append(items, k)
			return true
		})
	case FrozenSet:
		key = v.d
		v.Iter()(func(k any) bool {
			items = append(items, k)
			return true
		})
	case *Record:
		key = v
		for _, name := range v.Fields() {
			f, _ := v.Field(name)
			items = append(items, f)
		}
	default:
		return false
	}

	if key != nil {
		if seen[key] {
			return true
		}
		seen[key] = true
		defer delete(seen, key)
	}
	for _, item := range items {
		if skipRoundTrip(item, seen) {
			return true
		}
	}
	return false
}
