package korniszon

import (
	"testing"
)

func TestEqual(t *testing.T) {
	eq := []struct{ a, b any }{
		{int64(1), int64(1)},
		{int64(1), 1.0},
		{int64(1), bigInt("1")},
		{int64(1), true},
		{int64(0), false},
		{1.0, bigInt("1")},
		{1.5, 1.5},
		{complex(1, 0), int64(1)},
		{complex(1.5, 0), 1.5},
		{complex(1, 2), complex(1, 2)},
		{bigInt("18446744073709551616"), bigInt("18446744073709551616")},
		{bigInt("18446744073709551616"), 18446744073709551616.0}, // 2^64 is exact in float64

		// Go native numbers normalize onto the value model
		{1, int64(1)},
		{uint16(7), int64(7)},
		{float32(1.5), 1.5},
		{uint64(1 << 63), bigInt("9223372036854775808")},

		{"abc", "abc"},
		{"abc", ByteString("abc")},
		{ByteString("abc"), Bytes("abc")},
		{Bytes("abc"), Bytes("abc")},

		{None{}, None{}},
		{Tuple{int64(1), "a"}, Tuple{true, ByteString("a")}},
		{NewList(int64(1)), NewList(1.0)},
		{[]byte("ab"), []byte("ab")},
		{NewDictWithData(int64(1), "x"), NewDictWithData(1.0, "x")},
		{NewSet(int64(1), int64(2)), NewSet(2.0, true)},
		{NewFrozenSet(int64(1)), NewFrozenSet(bigInt("1"))},
		{Class{"m", "C"}, Class{"m", "C"}},
		{Ref{Pid: "a"}, Ref{Pid: "a"}},
	}
	for _, tt := range eq {
		if !equal(tt.a, tt.b) || !equal(tt.b, tt.a) {
			t.Errorf("equal(%#v, %#v) = false; want true", tt.a, tt.b)
		}
	}

	ne := []struct{ a, b any }{
		{int64(1), int64(2)},
		{int64(1), 1.5},
		{1.5, bigInt("2")},
		{complex(1, 1), int64(1)},
		{bigInt("18446744073709551617"), 18446744073709551616.0},

		// bytes never equal unicode, as in Python3
		{"abc", Bytes("abc")},
		{Bytes("abc"), "abc"},

		{"abc", ByteString("abd")},
		{Tuple{int64(1)}, Tuple{int64(1), int64(2)}},
		{Tuple{int64(1)}, NewList(int64(1))},
		{NewSet(int64(1)), NewFrozenSet(int64(1))},
		{NewDictWithData("a", int64(1)), NewDictWithData("a", int64(2))},
		{None{}, false},
		{Class{"m", "C"}, Class{"m", "D"}},
	}
	for _, tt := range ne {
		if equal(tt.a, tt.b) || equal(tt.b, tt.a) {
			t.Errorf("equal(%#v, %#v) = true; want false", tt.a, tt.b)
		}
	}
}

// equal keys must hash alike, else the map cannot find them.
func TestHashConsistency(t *testing.T) {
	groups := [][]any{
		{int64(1), 1.0, bigInt("1"), true, complex(1, 0)},
		{int64(0), 0.0, false},
		{"abc", ByteString("abc")},
		{Bytes("abc"), ByteString("abc")},
		{Tuple{int64(1), "a"}, Tuple{1.0, ByteString("a")}},
		{NewFrozenSet(int64(1), int64(2)), NewFrozenSet(2.0, true)},
		{bigInt("18446744073709551616"), 18446744073709551616.0},
	}
	for _, g := range groups {
		d := NewDict()
		d.Set(g[0], "v")
		for _, k := range g[1:] {
			if v := d.Get(k); v != "v" {
				t.Errorf("d[%#v] set; d[%#v] lookup failed", g[0], k)
			}
		}
	}
}

func TestDict(t *testing.T) {
	d := NewDict()
	if d.Len() != 0 {
		t.Fatalf("new dict: len = %d", d.Len())
	}

	// equal keys collapse to one entry
	d.Set(int64(1), "a")
	d.Set(1.0, "b")
	d.Set(bigInt("1"), "c")
	if d.Len() != 1 {
		t.Errorf("len = %d; want 1", d.Len())
	}
	if v := d.Get(true); v != "c" {
		t.Errorf("d[true] = %v; want c (the last assignment)", v)
	}

	if _, ok := d.Get_(int64(2)); ok {
		t.Error("d[2] reported present")
	}
	if v := d.Get(int64(2)); v != nil {
		t.Errorf("d[2] = %v; want nil", v)
	}

	d.Del(1.0)
	if d.Len() != 0 {
		t.Errorf("len after del = %d", d.Len())
	}

	// tuples work as keys
	d.Set(Tuple{int64(1), int64(2)}, "t")
	if v := d.Get(Tuple{1.0, bigInt("2")}); v != "t" {
		t.Errorf("tuple key lookup = %v", v)
	}

	// ByteString bridges string and Bytes keys
	d = NewDict()
	d.Set("s", 1)
	d.Set(Bytes("s"), 2)
	if d.Len() != 2 {
		t.Fatalf("len = %d; want 2 (str and bytes keys are distinct)", d.Len())
	}
	d.Set(ByteString("s"), 3)
	if d.Len() != 1 {
		t.Errorf("len = %d; want 1 (ByteString removed both)", d.Len())
	}
}

func TestDictWithData(t *testing.T) {
	d := NewDictWithData("a", int64(1), "b", int64(2))
	if d.Len() != 2 || d.Get("a") != int64(1) || d.Get("b") != int64(2) {
		t.Errorf("unexpected dict: %v", d)
	}

	defer func() {
		if recover() == nil {
			t.Error("odd kv count did not panic")
		}
	}()
	NewDictWithData("a")
}

func TestDictTryAssign(t *testing.T) {
	d := NewDict()
	if !dictTryAssign(d, Tuple{int64(1)}, "v") {
		t.Error("hashable key rejected")
	}
	unhashable := []any{
		NewList(int64(1)),
		[]byte("x"),
		NewDict(),
		NewSet(int64(1)),
		Tuple{NewList()}, // unhashable element nested in a tuple
	}
	for _, k := range unhashable {
		if dictTryAssign(d, k, "v") {
			t.Errorf("unhashable key %T accepted", k)
		}
	}
	if d.Len() != 1 {
		t.Errorf("len = %d; failed assignments must not modify the dict", d.Len())
	}
}

func TestDictString(t *testing.T) {
	d := NewDictWithData("a", int64(1), "b", int64(2))
	if s := d.String(); s != "{a: 1, b: 2}" {
		t.Errorf("String() = %q", s)
	}
}

func TestSetOps(t *testing.T) {
	s := NewSet(int64(1), int64(2), int64(2))
	if s.Len() != 2 {
		t.Errorf("len = %d; want 2", s.Len())
	}
	if !s.Has(2.0) || s.Has(int64(3)) {
		t.Error("membership misreported")
	}

	var n int
	s.Iter()(func(v any) bool {
		n++
		return true
	})
	if n != 2 {
		t.Errorf("Iter visited %d elements", n)
	}

	fs := NewFrozenSet(int64(1), int64(2))
	if !fs.Has(true) {
		t.Error("frozenset membership misreported")
	}

	// frozensets are hashable and usable as elements, sets are not
	outer := NewSet()
	outer.Add(fs)
	if !outer.Has(NewFrozenSet(2.0, int64(1))) {
		t.Error("frozenset element lookup failed")
	}
	if dictTryAssign(outer.d, s, None{}) {
		t.Error("mutable set accepted as an element")
	}
}

func BenchmarkDictGet(b *testing.B) {
	d := NewDict()
	for i := 0; i < 100; i++ {
		d.Set(int64(i), i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if d.Get(int64(i%100)) == nil {
			b.Fatal("miss")
		}
	}
}
