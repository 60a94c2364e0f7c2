package korniszon

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
)

// registerBuiltins preloads the constructors every registry starts with.
// The Python2 and Python3 builtin module names both resolve.
func registerBuiltins(r *Registry) {
	for _, module := range []string{"__builtin__", "builtins"} {
		r.Register(Class{module, "bytearray"}, ConstructorFunc(newBytearray))
		r.Register(Class{module, "complex"}, ConstructorFunc(newComplex))
		r.Register(Class{module, "set"}, ConstructorFunc(newSetFrom))
		r.Register(Class{module, "frozenset"}, ConstructorFunc(newFrozenSetFrom))
	}
	r.Register(Class{"_codecs", "encode"}, ConstructorFunc(codecsEncode))
	r.Register(Class{"array", "_array_reconstructor"}, ConstructorFunc(reconstructArray))
}

// codecsEncode handles `_codecs.encode(text, 'latin1')`, which is how
// Python3 pickles bytes for protocols ≤ 2 - where there are no BYTES*
// opcodes.
func codecsEncode(args ...any) (any, error) {
	if len(args) != 2 || !stringEQ(args[1], "latin1") {
		return nil, fmt.Errorf("_codecs.encode: unsupported arguments %v", args)
	}
	data, err := encodeLatin1(args[0])
	if err != nil {
		return nil, fmt.Errorf("_codecs.encode: %s", err)
	}
	return Bytes(data), nil
}

// encodeLatin1 recovers bytes from latin1-decoded unicode.
func encodeLatin1(arg any) ([]byte, error) {
	ulatin1, err := AsString(arg)
	if err != nil {
		return nil, fmt.Errorf("latin1: arg must be string, not %T", arg)
	}

	data := make([]byte, 0, len(ulatin1))
	for _, r := range ulatin1 {
		if r >= 0x100 {
			return nil, fmt.Errorf("latin1: cannot encode %q", r)
		}
		data = append(data, byte(r))
	}
	return data, nil
}

func newBytearray(args ...any) (any, error) {
	switch len(args) {
	case 0:
		return []byte{}, nil

	// bytearray(bytes(...))
	case 1:
		data, err := AsBytes(args[0])
		if err != nil {
			return nil, fmt.Errorf("bytearray: want (bytes,); got (%T,)", args[0])
		}
		return []byte(data), nil

	// bytearray(unicode, encoding)
	case 2:
		if !stringEQ(args[1], "latin-1") && !stringEQ(args[1], "latin1") {
			return nil, fmt.Errorf("bytearray: unsupported encoding %v", args[1])
		}
		data, err := encodeLatin1(args[0])
		if err != nil {
			return nil, fmt.Errorf("bytearray: %s", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("bytearray: want at most 2 arguments; got %d", len(args))
}

func newComplex(args ...any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("complex: want 1 or 2 arguments; got %d", len(args))
	}
	re, err := AsFloat64(args[0])
	if err != nil {
		return nil, fmt.Errorf("complex: %s", err)
	}
	im := 0.0
	if len(args) == 2 {
		im, err = AsFloat64(args[1])
		if err != nil {
			return nil, fmt.Errorf("complex: %s", err)
		}
	}
	return complex(re, im), nil
}

func newSetFrom(args ...any) (any, error) {
	d, err := setFrom("set", args)
	if err != nil {
		return nil, err
	}
	return Set{d: d}, nil
}

func newFrozenSetFrom(args ...any) (any, error) {
	d, err := setFrom("frozenset", args)
	if err != nil {
		return nil, err
	}
	return FrozenSet{d: d}, nil
}

func setFrom(kind string, args []any) (Dict, error) {
	if len(args) > 1 {
		return Dict{}, fmt.Errorf("%s: want at most 1 argument; got %d", kind, len(args))
	}
	d := NewDict()
	if len(args) == 0 {
		return d, nil
	}
	items, err := iterItems(args[0])
	if err != nil {
		return Dict{}, fmt.Errorf("%s: %s", kind, err)
	}
	for _, v := range items {
		if !dictTryAssign(d, v, None{}) {
			return Dict{}, fmt.Errorf("%s: unhashable element %T", kind, v)
		}
	}
	return d, nil
}

// iterItems flattens the iterable argument forms constructors receive.
func iterItems(x any) ([]any, error) {
	switch v := x.(type) {
	case *List:
		return v.Items, nil
	case Tuple:
		return v, nil
	}
	return nil, fmt.Errorf("want list or tuple; got %T", x)
}

// Machine format codes of array._array_reconstructor, from CPython's
// Modules/arraymodule.c.
const (
	mfUint8 = iota
	mfInt8
	mfUint16LE
	mfUint16BE
	mfInt16LE
	mfInt16BE
	mfUint32LE
	mfUint32BE
	mfInt32LE
	mfInt32BE
	mfUint64LE
	mfUint64BE
	mfInt64LE
	mfInt64BE
	mfFloat32LE
	mfFloat32BE
	mfFloat64LE
	mfFloat64BE
	mfUTF16LE
	mfUTF16BE
	mfUTF32LE
	mfUTF32BE
)

// reconstructArray handles `array._array_reconstructor(cls, typecode,
// mformat_code, data)`, decoding the packed machine representation into a
// list of numbers.
func reconstructArray(args ...any) (any, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("_array_reconstructor: want 4 arguments; got %d", len(args))
	}
	code, err := AsInt64(args[2])
	if err != nil {
		return nil, fmt.Errorf("_array_reconstructor: mformat_code: %s", err)
	}
	data, err := AsBytes(args[3])
	if err != nil {
		return nil, fmt.Errorf("_array_reconstructor: data: %s", err)
	}

	var width int
	var get func(b []byte) (any, error)

	switch code {
	case mfUint8:
		width, get = 1, func(b []byte) (any, error) { return int64(b[0]), nil }
	case mfInt8:
		width, get = 1, func(b []byte) (any, error) { return int64(int8(b[0])), nil }
	case mfUint16LE:
		width, get = 2, func(b []byte) (any, error) { return decodeUint2(b) }
	case mfUint16BE:
		width, get = 2, func(b []byte) (any, error) { return int64(binary.BigEndian.Uint16(b)), nil }
	case mfInt16LE:
		width, get = 2, func(b []byte) (any, error) { return int64(int16(binary.LittleEndian.Uint16(b))), nil }
	case mfInt16BE:
		width, get = 2, func(b []byte) (any, error) { return int64(int16(binary.BigEndian.Uint16(b))), nil }
	case mfUint32LE:
		width, get = 4, func(b []byte) (any, error) {
			v, err := decodeUint4(b)
			return int64(v), err
		}
	case mfUint32BE:
		width, get = 4, func(b []byte) (any, error) { return int64(binary.BigEndian.Uint32(b)), nil }
	case mfInt32LE:
		width, get = 4, func(b []byte) (any, error) { return decodeInt4(b) }
	case mfInt32BE:
		width, get = 4, func(b []byte) (any, error) { return int64(int32(binary.BigEndian.Uint32(b))), nil }
	case mfUint64LE:
		width, get = 8, func(b []byte) (any, error) {
			v, err := decodeUint8(b)
			if err != nil {
				return nil, err
			}
			return uintValue(v), nil
		}
	case mfUint64BE:
		width, get = 8, func(b []byte) (any, error) { return uintValue(binary.BigEndian.Uint64(b)), nil }
	case mfInt64LE:
		width, get = 8, func(b []byte) (any, error) { return decodeInt8(b) }
	case mfInt64BE:
		width, get = 8, func(b []byte) (any, error) { return int64(binary.BigEndian.Uint64(b)), nil }
	case mfFloat32LE:
		width, get = 4, func(b []byte) (any, error) {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
		}
	case mfFloat32BE:
		width, get = 4, func(b []byte) (any, error) { return decodeFloat4BE(b) }
	case mfFloat64LE:
		width, get = 8, func(b []byte) (any, error) {
			return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
		}
	case mfFloat64BE:
		width, get = 8, func(b []byte) (any, error) { return decodeFloat8BE(b) }
	case mfUTF16LE, mfUTF16BE, mfUTF32LE, mfUTF32BE:
		return nil, fmt.Errorf("_array_reconstructor: unsupported machine format %d", code)
	default:
		return nil, fmt.Errorf("_array_reconstructor: unknown machine format %d", code)
	}

	if len(data)%width != 0 {
		return nil, fmt.Errorf("_array_reconstructor: data length %d is not a multiple of %d", len(data), width)
	}

	l := &List{Items: make([]any, 0, len(data)/width)}
	for i := 0; i < len(data); i += width {
		v, err := get([]byte(data[i : i+width]))
		if err != nil {
			return nil, err
		}
		l.Append(v)
	}
	return l, nil
}

// uintValue keeps an unsigned 64-bit value exact, promoting to big.Int when
// it does not fit int64.
func uintValue(v uint64) any {
	if v > math.MaxInt64 {
		return new(big.Int).SetUint64(v)
	}
	return int64(v)
}
