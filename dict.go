package korniszon

// Python-like Dict that handles keys by Python-like equality on access.
//
// For example Dict.Get() will access the same element for all keys int64(1),
// float64(1.0) and big.Int(1).

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/maphash"
	"math"
	"math/big"
	"sort"

	"github.com/aristanetworks/gomap"
)

// Dict represents dict from Python.
//
// It mirrors Python with respect to which types are allowed to be used as
// keys, and with respect to keys equality. For example Tuple is allowed to be
// used as key, and all int64(1), float64(1.0) and big.Int(1) are considered
// to be equal.
//
// For strings, similarly to Python3, [Bytes] and string are considered to be
// not equal, even if their underlying content is the same. However with same
// underlying content [ByteString], because it represents str type from
// Python2, is treated equal to both [Bytes] and string.
//
// Note: similarly to builtin map Dict is pointer-like type: its zero-value
// represents nil dictionary that is empty and invalid to use Set on.
type Dict struct {
	m *gomap.Map[any, any]
}

// NewDict returns new empty dictionary.
func NewDict() Dict {
	return NewDictWithSizeHint(0)
}

// NewDictWithSizeHint returns new empty dictionary with preallocated space for size items.
func NewDictWithSizeHint(size int) Dict {
	return Dict{m: gomap.NewHint[any, any](size, equal, hash)}
}

// NewDictWithData returns new dictionary with preset data.
//
// kv should be key₁, value₁, key₂, value₂, ...
func NewDictWithData(kv ...any) Dict {
	l := len(kv)
	if l%2 != 0 {
		panic("odd number of arguments")
	}
	l /= 2
	d := NewDictWithSizeHint(l)
	for i := 0; i < l; i++ {
		d.Set(kv[2*i], kv[2*i+1])
	}
	return d
}

// Get returns value associated with equal key.
//
// nil is returned if no matching key is present in the dictionary.
//
// Get panics if key's type is not allowed to be used as Dict key.
func (d Dict) Get(key any) any {
	value, _ := d.Get_(key)
	return value
}

// Get_ is comma-ok version of Get.
func (d Dict) Get_(key any) (value any, ok bool) {
	return d.m.Get(key)
}

// Set sets key to be associated with value.
//
// Any previous keys, equal to the new key, are removed from the dictionary
// before the assignment.
//
// Set panics if key's type is not allowed to be used as Dict key.
func (d Dict) Set(key, value any) {
	// ByteString and container(with ByteString) are non-transitive equal types
	// so  Set(ByteString)        should first remove Bytes and string,
	// and Set(Tuple{ByteString}) should first remove Tuple{Bytes} and Tuple{string}
	d.Del(key)
	d.m.Set(key, value)
}

// Del removes equal keys from the dictionary.
//
// All entries with key equal to the query are looked up and removed.
//
// Del panics if key's type is not allowed to be used as Dict key.
func (d Dict) Del(key any) {
	// see comment in Set about ByteString and container(with ByteString)
	for {
		d.m.Delete(key)
		_, have := d.Get_(key)
		if !have {
			break
		}
	}
}

// Len returns the number of items in the dictionary.
func (d Dict) Len() int {
	return d.m.Len()
}

// Iter returns iterator over all elements in the dictionary.
//
// The order to visit entries is arbitrary.
func (d Dict) Iter() /* iter.Seq2 */ func(yield func(any, any) bool) {
	it := d.m.Iter()
	return func(yield func(any, any) bool) {
		for it.Next() {
			cont := yield(it.Key(), it.Elem())
			if !cont {
				break
			}
		}
	}
}

// String returns human-readable representation of the dictionary.
func (d Dict) String() string {
	return d.sprintf("%v")
}

// GoString returns detailed human-readable representation of the dictionary.
func (d Dict) GoString() string {
	return fmt.Sprintf("%T%s", d, d.sprintf("%#v"))
}

// sprintf serves String and GoString.
func (d Dict) sprintf(format string) string {
	type KV struct{ k, v string }
	vkv := make([]KV, 0, d.Len())
	d.Iter()(func(k, v any) bool {
		vkv = append(vkv, KV{
			k: fmt.Sprintf(format, k),
			v: fmt.Sprintf(format, v),
		})
		return true
	})

	sort.Slice(vkv, func(i, j int) bool {
		return vkv[i].k < vkv[j].k
	})

	s := "{"
	for i, kv := range vkv {
		if i > 0 {
			s += ", "
		}
		s += kv.k + ": " + kv.v
	}

	s += "}"
	return s
}

// dictTryAssign tries to do `d[key] = value`.
//
// If key's type is not allowed as a Dict key the dictionary stays unchanged
// and false is returned. hash panics on such keys, and recover is the only
// complete way to notice that without recursively walking the key structure.
func dictTryAssign(d Dict, key, value any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	d.Set(key, value)
	ok = true
	return
}

// ---- equal ----

// norm maps Go native numeric types onto the decoder's value model, so that
// keys supplied by Go callers compare the same as decoded ones.
func norm(x any) any {
	switch v := x.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		if v > math.MaxInt64 {
			return new(big.Int).SetUint64(v)
		}
		return int64(v)
	case uint:
		return norm(uint64(v))
	case uintptr:
		return norm(uint64(v))
	case float32:
		return float64(v)
	case complex64:
		return complex128(v)
	}
	return x
}

// pynum is a number in one of the value model's numeric representations.
type pynum struct {
	kind byte // 'i', 'f', 'b' or 'c'
	i    int64
	f    float64
	b    *big.Int
	c    complex128
}

func numOf(x any) (pynum, bool) {
	switch v := x.(type) {
	case bool:
		// bool compares to numbers as 1 or 0:
		//
		// In [1]: 1.0 == True
		// Out[1]: True
		return pynum{kind: 'i', i: bint(v)}, true
	case int64:
		return pynum{kind: 'i', i: v}, true
	case float64:
		return pynum{kind: 'f', f: v}, true
	case *big.Int:
		return pynum{kind: 'b', b: v}, true
	case complex128:
		return pynum{kind: 'c', c: v}, true
	}
	return pynum{}, false
}

func numRank(kind byte) int {
	switch kind {
	case 'i':
		return 0
	case 'f':
		return 1
	case 'b':
		return 2
	default:
		return 3
	}
}

func numEqual(a, b pynum) bool {
	// equality is symmetric; implement half of the matrix
	if numRank(a.kind) > numRank(b.kind) {
		a, b = b, a
	}

	switch {
	case a.kind == 'i' && b.kind == 'i':
		return a.i == b.i
	case a.kind == 'i' && b.kind == 'f':
		return float64(a.i) == b.f
	case a.kind == 'i' && b.kind == 'b':
		return b.b.IsInt64() && a.i == b.b.Int64()
	case a.kind == 'i' && b.kind == 'c':
		return complex(float64(a.i), 0) == b.c
	case a.kind == 'f' && b.kind == 'f':
		return a.f == b.f
	case a.kind == 'f' && b.kind == 'b':
		f, accuracy := bigIntFloat64(b.b)
		return accuracy == big.Exact && a.f == f
	case a.kind == 'f' && b.kind == 'c':
		return complex(a.f, 0) == b.c
	case a.kind == 'b' && b.kind == 'b':
		return a.b.Cmp(b.b) == 0
	case a.kind == 'b' && b.kind == 'c':
		return imag(b.c) == 0 && numEqual(a, pynum{kind: 'f', f: real(b.c)})
	default: // 'c', 'c'
		return a.c == b.c
	}
}

// bigIntFloat64 converts b to the nearest float64, reporting whether the
// conversion was exact.
func bigIntFloat64(b *big.Int) (float64, big.Accuracy) {
	return new(big.Float).SetInt(b).Float64()
}

// equal implements equality matching what Python would return for a == b.
//
// Equality properties:
//
//  1. extension of Go ==: (a == b) ⇒ equal(a,b)
//  2. reflexive: equal(a,a)
//  3. symmetric: equal(a,b) = equal(b,a)
//  4. transitive on everything except ByteString and containers holding it
func equal(xa, xb any) bool {
	// strings/bytes
	switch a := xa.(type) {
	case string:
		switch b := xb.(type) {
		case string:
			return a == b
		case ByteString:
			return a == string(b)
		default:
			return false
		}

	case ByteString:
		switch b := xb.(type) {
		case string:
			return a == ByteString(b)
		case ByteString:
			return a == b
		case Bytes:
			return a == ByteString(b)
		default:
			return false
		}

	case Bytes:
		switch b := xb.(type) {
		case ByteString:
			return a == Bytes(b)
		case Bytes:
			return a == b
		default:
			return false
		}
	}

	xa, xb = norm(xa), norm(xb)

	// numbers (bool included)
	na, aok := numOf(xa)
	nb, bok := numOf(xb)
	if aok || bok {
		return aok && bok && numEqual(na, nb)
	}

	switch a := xa.(type) {
	case Tuple:
		b, ok := xb.(Tuple)
		if !ok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if !equal(a[i], b[i]) {
				return false
			}
		}
		return true

	case *List:
		b, ok := xb.(*List)
		if !ok {
			return false
		}
		if a == b {
			return true
		}
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !equal(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true

	case []byte:
		b, ok := xb.([]byte)
		return ok && bytes.Equal(a, b)

	case Dict:
		b, ok := xb.(Dict)
		return ok && dictEqual(a, b)

	case Set:
		b, ok := xb.(Set)
		return ok && setEqual(a.d, b.d)

	case FrozenSet:
		b, ok := xb.(FrozenSet)
		return ok && setEqual(a.d, b.d)
	}

	// None, Class, Ref, *Record, ... fall back to builtin equality
	return xa == xb
}

// dictEqual: same length and the same value under every key of either side.
func dictEqual(a, b Dict) bool {
	if a.Len() != b.Len() {
		return false
	}

	// both directions, as ByteString keys make lookup non-symmetric
	eq := true
	a.Iter()(func(k, va any) bool {
		vb, ok := b.Get_(k)
		if !ok || !equal(va, vb) {
			eq = false
			return false
		}
		return true
	})
	if !eq {
		return false
	}
	b.Iter()(func(k, vb any) bool {
		va, ok := a.Get_(k)
		if !ok || !equal(va, vb) {
			eq = false
			return false
		}
		return true
	})
	return eq
}

func setEqual(a, b Dict) bool {
	if a.Len() != b.Len() {
		return false
	}
	eq := true
	a.Iter()(func(k, _ any) bool {
		if _, ok := b.Get_(k); !ok {
			eq = false
			return false
		}
		return true
	})
	return eq
}

// ---- hash ----

// hash returns hash of x consistent with equality implemented by equal:
//
//	equal(a,b)  ⇒  hash(a) = hash(b)
//
// hash panics with "unhashable type: ..." if x is not allowed to be used as
// Dict key.
func hash(seed maphash.Seed, x any) uint64 {
	// strings/bytes use standard hash of string
	switch v := x.(type) {
	case string:
		return maphash.String(seed, v)
	case ByteString:
		return maphash.String(seed, string(v))
	case Bytes:
		return maphash.String(seed, string(v))
	}

	var h maphash.Hash
	h.SetSeed(seed)

	hashUint := func(u uint64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], u)
		h.Write(b[:])
	}
	hashInt := func(i int64) {
		hashUint(uint64(i))
	}
	hashFloat := func(f float64) {
		// an integer-valued float hashes as the integer, to match equal
		i := int64(f)
		if float64(i) == f {
			hashInt(i)
		} else {
			hashUint(math.Float64bits(f))
		}
	}

	switch v := norm(x).(type) {
	case bool:
		hashInt(bint(v))
	case int64:
		hashInt(v)
	case float64:
		hashFloat(v)
	case complex128:
		hashFloat(real(v))
		if imag(v) != 0 {
			hashFloat(imag(v))
		}
	case *big.Int:
		if v.IsInt64() {
			hashInt(v.Int64())
		} else if f, accuracy := bigIntFloat64(v); accuracy == big.Exact {
			hashFloat(f)
		} else {
			h.WriteString("long")
			if v.Sign() < 0 {
				h.WriteString("-")
			}
			h.Write(v.Bytes())
		}
	case Tuple:
		h.WriteString("tuple")
		for _, item := range v {
			hashUint(hash(seed, item))
		}
	case FrozenSet:
		// order-independent combination of the element hashes
		var acc uint64
		v.d.Iter()(func(k, _ any) bool {
			acc ^= hash(seed, k)
			return true
		})
		h.WriteString("frozenset")
		hashUint(acc)
	case None:
		h.WriteString("None")
	case Class:
		h.WriteString("class")
		hashUint(maphash.String(seed, v.Module))
		hashUint(maphash.String(seed, v.Name))
	case Ref:
		h.WriteString("ref")
		hashUint(hash(seed, v.Pid))
	default:
		panic(fmt.Sprintf("unhashable type: %T", x))
	}

	return h.Sum64()
}

// bint returns the int a bool compares as.
func bint(x bool) int64 {
	if x {
		return 1
	}
	return 0
}
