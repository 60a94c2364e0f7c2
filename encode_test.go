package korniszon

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// roundTrip encodes object at protocol proto and decodes the result back.
func roundTrip(t *testing.T, proto int, object any) any {
	t.Helper()
	var buf bytes.Buffer
	e := NewEncoderWithConfig(&buf, &EncoderConfig{Protocol: proto})
	if err := e.Encode(object); err != nil {
		t.Fatalf("protocol %d: encode %#v: %v", proto, object, err)
	}
	d := NewDecoder(&buf)
	v, err := d.Decode()
	if err != nil {
		t.Fatalf("protocol %d: decode %q (encoded %#v): %v", proto, buf.String(), object, err)
	}
	return v
}

// every object must survive encode-decode at every protocol.
func TestEncodeRoundTrip(t *testing.T) {
	objects := []any{
		None{},
		true,
		false,
		int64(0),
		int64(1),
		int64(255),
		int64(256),
		int64(65535),
		int64(65536),
		int64(-1),
		int64(2147483647),
		int64(-2147483648),
		int64(2147483648), // needs a long at binary protocols
		int64(-9223372036854775808),
		bigInt("0"),
		bigInt("255"),
		bigInt("-1"),
		bigInt("18446744073709551616"),
		bigInt("-18446744073709551617"),
		1.5,
		-1.5,
		0.0,
		1e300,
		"",
		"hello",
		"déjà…\n\\",
		ByteString("py2 str \x00\xff"),
		Bytes(""),
		Bytes("bytes \x00\xff"),
		[]byte("bytearray \x00\xff"),
		Tuple{},
		Tuple{int64(1), "two", 3.0},
		Tuple{Tuple{int64(1)}, Tuple{}},
		NewList(),
		NewList(int64(1), NewList(int64(2)), None{}),
		NewDict(),
		NewDictWithData("a", int64(1), Tuple{int64(1), int64(2)}, "t"),
		NewSet(),
		NewSet(int64(1), "a"),
		NewFrozenSet(int64(1), int64(2)),
		complex(1.5, -2.5),
		Class{Module: "decimal", Name: "Decimal"},
	}

	for proto := 0; proto <= highestProtocol; proto++ {
		for _, object := range objects {
			v := roundTrip(t, proto, object)
			if !pyEq(object, v) {
				t.Errorf("protocol %d: %#v round-tripped to %#v", proto, object, v)
			}
		}
	}
}

// Go native values pickle as their Python counterparts.
func TestEncodeGoTypes(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{nil, None{}},
		{int(5), int64(5)},
		{int8(-5), int64(-5)},
		{uint32(7), int64(7)},
		{uint64(1 << 63), bigInt("9223372036854775808")},
		{float32(1.5), 1.5},
		{complex64(complex(1, 2)), complex(1, 2)},
		{[]any{int64(1), "a"}, NewList(int64(1), "a")},
		{[2]int{1, 2}, NewList(int64(1), int64(2))},
		{map[string]int{"a": 1}, NewDictWithData("a", int64(1))},
		{&List{Items: []any{int64(1)}}, NewList(int64(1))},
	}
	for proto := 0; proto <= highestProtocol; proto++ {
		for _, tt := range tests {
			v := roundTrip(t, proto, tt.in)
			if !pyEq(tt.want, v) {
				t.Errorf("protocol %d: %#v decoded to %#v; want %#v", proto, tt.in, v, tt.want)
			}
		}
	}
}

func TestEncodeStruct(t *testing.T) {
	type order struct {
		ID     int64  `pickle:"id"`
		Name   string `pickle:"name"`
		hidden int
	}
	want := NewDictWithData("id", int64(7), "name", "x")

	for _, proto := range []int{0, 2, 4} {
		v := roundTrip(t, proto, order{ID: 7, Name: "x", hidden: 1})
		if !pyEq(want, v) {
			t.Errorf("protocol %d: struct decoded to %#v; want %#v", proto, v, want)
		}
	}
}

func TestEncodeRecord(t *testing.T) {
	rec := NewRecord("mymod.Point")
	rec.SetField("x", int64(1))
	rec.SetField("y", int64(2))

	for proto := 0; proto <= highestProtocol; proto++ {
		v := roundTrip(t, proto, rec)
		if !pyEq(rec, v) {
			t.Errorf("protocol %d: record decoded to %#v", proto, v)
		}
	}
}

func TestEncodeRef(t *testing.T) {
	// a decode hook that keeps every reference as Ref
	conf := &DecoderConfig{
		PersistentLoad: func(ref Ref) (any, error) { return nil, nil },
	}

	for proto := 0; proto <= highestProtocol; proto++ {
		var buf bytes.Buffer
		e := NewEncoderWithConfig(&buf, &EncoderConfig{Protocol: proto})
		if err := e.Encode(Ref{Pid: "oid42"}); err != nil {
			t.Fatalf("protocol %d: %v", proto, err)
		}
		d := NewDecoderWithConfig(&buf, conf)
		v, err := d.Decode()
		if err != nil {
			t.Fatalf("protocol %d: %v", proto, err)
		}
		if v != (Ref{Pid: "oid42"}) {
			t.Errorf("protocol %d: have %#v", proto, v)
		}
	}

	// protocol 0 carries the id on a text line: non-string ids and
	// newlines cannot be represented
	for _, pid := range []any{int64(1), "two\nlines"} {
		e := NewEncoderWithConfig(&bytes.Buffer{}, &EncoderConfig{Protocol: 0})
		if err := e.Encode(Ref{Pid: pid}); err == nil {
			t.Errorf("protocol 0 encoded pid %#v", pid)
		}
	}
}

// PersistentRef turns selected objects into references on the way out.
func TestEncodePersistentRef(t *testing.T) {
	type dbObject struct{ oid string }

	var buf bytes.Buffer
	e := NewEncoderWithConfig(&buf, &EncoderConfig{
		Protocol: 2,
		PersistentRef: func(obj any) *Ref {
			if o, ok := obj.(dbObject); ok {
				return &Ref{Pid: o.oid}
			}
			return nil
		},
	})
	if err := e.Encode(NewList(dbObject{oid: "a"}, int64(1))); err != nil {
		t.Fatal(err)
	}

	var pids []any
	d := NewDecoderWithConfig(&buf, &DecoderConfig{
		PersistentLoad: func(ref Ref) (any, error) {
			pids = append(pids, ref.Pid)
			return nil, nil
		},
	})
	v, err := d.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if !pyEq(NewList(Ref{Pid: "a"}, int64(1)), v) {
		t.Errorf("have %#v", v)
	}
	if len(pids) != 1 || pids[0] != "a" {
		t.Errorf("hook saw pids %v", pids)
	}
}

func TestEncodeProtocolRange(t *testing.T) {
	for _, proto := range []int{-1, highestProtocol + 1} {
		e := NewEncoderWithConfig(&bytes.Buffer{}, &EncoderConfig{Protocol: proto})
		if err := e.Encode(int64(1)); err == nil {
			t.Errorf("protocol %d accepted", proto)
		}
	}
}

func TestEncodeUnsupportedType(t *testing.T) {
	e := NewEncoder(&bytes.Buffer{})
	if err := e.Encode(make(chan int)); err == nil {
		t.Error("channel encoded")
	}
}

// limitedWriter fails after n bytes, exercising every write error path.
type limitedWriter struct {
	n int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.n <= 0 {
		return 0, fmt.Errorf("writer full")
	}
	if len(p) > w.n {
		n := w.n
		w.n = 0
		return n, fmt.Errorf("writer full")
	}
	w.n -= len(p)
	return len(p), nil
}

func TestEncodeWriteError(t *testing.T) {
	object := NewDictWithData(
		"list", NewList(int64(1), 2.5, "x", Bytes("b"), []byte("ba")),
		Tuple{int64(1)}, NewSet(int64(2)),
		"big", bigInt("18446744073709551616"),
	)

	for _, proto := range []int{0, 2, 5} {
		// full length of the successful encoding
		var buf bytes.Buffer
		if err := NewEncoderWithConfig(&buf, &EncoderConfig{Protocol: proto}).Encode(object); err != nil {
			t.Fatalf("protocol %d: %v", proto, err)
		}
		// cutting the writer anywhere must surface the error, not panic
		for n := 0; n < buf.Len(); n++ {
			e := NewEncoderWithConfig(&limitedWriter{n: n}, &EncoderConfig{Protocol: proto})
			if err := e.Encode(object); err == nil {
				t.Errorf("protocol %d: no error with the writer cut at %d", proto, n)
			}
		}
	}
}

// the protocol 0 output is plain text, handy to pin down exactly.
func TestEncodeProto0Text(t *testing.T) {
	tests := []struct {
		object any
		data   string
	}{
		{int64(5), "I5\n."},
		{true, "I01\n."},
		{false, "I00\n."},
		{None{}, "N."},
		{bigInt("123"), "L123L\n."},
		{1.5, "F1.5\n."},
		{"abc", "Vabc\n."},
		{ByteString("abc"), "S\"abc\"\n."},
		{Tuple{}, "(t."},
		{Class{Module: "m", Name: "C"}, "cm\nC\n."},
		{Ref{Pid: "oid"}, "Poid\n."},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		e := NewEncoderWithConfig(&buf, &EncoderConfig{Protocol: 0})
		if err := e.Encode(tt.object); err != nil {
			t.Errorf("%#v: %v", tt.object, err)
			continue
		}
		if buf.String() != tt.data {
			t.Errorf("%#v -> %q; want %q", tt.object, buf.String(), tt.data)
		}
	}
}

func BenchmarkEncode(b *testing.B) {
	object := NewList(
		int64(1), "hello", 1.5, Bytes("bytes"),
		NewDictWithData("k", Tuple{int64(1), int64(2)}),
	)
	for i := 0; i < b.N; i++ {
		e := NewEncoderWithConfig(&strings.Builder{}, &EncoderConfig{Protocol: 2})
		if err := e.Encode(object); err != nil {
			b.Fatal(err)
		}
	}
}
