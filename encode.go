package korniszon

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
)

// An Encoder performs pickling of Go objects to an output stream.
type Encoder struct {
	w      io.Writer
	config *EncoderConfig
}

// EncoderConfig allows to tune Encoder.
type EncoderConfig struct {
	// Protocol specifies which pickle protocol version should be used.
	Protocol int

	// PersistentRef, if !nil, will be used by encoder to check whether an
	// object shall be encoded as a persistent reference.
	//
	// Whenever the encoder sees an object, it will call PersistentRef. If
	// PersistentRef returns nil, the object is encoded regularly. If !nil,
	// the object is encoded as the returned reference.
	//
	// PersistentRef is the inverse operation of DecoderConfig.PersistentLoad.
	PersistentRef func(obj any) *Ref
}

// NewEncoder returns a new Encoder with the default configuration,
// writing pickles in protocol 2.
func NewEncoder(w io.Writer) *Encoder {
	return NewEncoderWithConfig(w, &EncoderConfig{Protocol: 2})
}

// NewEncoderWithConfig is similar to NewEncoder, but allows specifying the
// encoder configuration. In particular a zero Protocol there selects the
// text protocol 0.
func NewEncoderWithConfig(w io.Writer, config *EncoderConfig) *Encoder {
	return &Encoder{w: w, config: config}
}

// Encode writes v to the encoder's stream in pickle format.
func (e *Encoder) Encode(v any) error {
	p := e.config.Protocol
	if p < 0 || p > highestProtocol {
		return fmt.Errorf("pickle: protocol must be in [0, %d]: %d", highestProtocol, p)
	}
	if p >= 2 {
		if err := e.emit(opProto, byte(p)); err != nil {
			return err
		}
	}
	if err := e.encode(reflectValueOf(v)); err != nil {
		return err
	}
	return e.emit(opStop)
}

func (e *Encoder) emit(b ...byte) error {
	_, err := e.w.Write(b)
	return err
}

func (e *Encoder) emitString(s string) error {
	_, err := io.WriteString(e.w, s)
	return err
}

func (e *Encoder) emitf(format string, args ...any) error {
	_, err := fmt.Fprintf(e.w, format, args...)
	return err
}

func (e *Encoder) encode(rv reflect.Value) error {
	if rv.IsValid() && rv.CanInterface() {
		obj := rv.Interface()

		if getref := e.config.PersistentRef; getref != nil {
			if ref := getref(obj); ref != nil {
				return e.encodeRef(*ref)
			}
		}

		switch v := obj.(type) {
		case None:
			return e.emit(opNone)
		case Tuple:
			return e.encodeTuple(v)
		case Bytes:
			return e.encodeBytes([]byte(v))
		case ByteString:
			return e.encodeByteString(string(v))
		case *List:
			return e.encodeList(v.Items)
		case List:
			return e.encodeList(v.Items)
		case Dict:
			return e.encodeDict(v)
		case Set:
			return e.encodeSet(v.d, false)
		case FrozenSet:
			return e.encodeSet(v.d, true)
		case Class:
			return e.encodeClass(v)
		case Ref:
			return e.encodeRef(v)
		case *Ref:
			return e.encodeRef(*v)
		case *Record:
			return e.encodeRecord(v)
		case *big.Int:
			return e.encodeLong(v)
		case big.Int:
			return e.encodeLong(&v)
		case complex128:
			return e.encodeComplex(v)
		case complex64:
			return e.encodeComplex(complex128(v))
		}
	}

	switch rv.Kind() {
	case reflect.Bool:
		return e.encodeBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return e.encodeInt(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return e.encodeLong(new(big.Int).SetUint64(u))
		}
		return e.encodeInt(int64(u))
	case reflect.Float32, reflect.Float64:
		return e.encodeFloat(rv.Float())
	case reflect.String:
		return e.encodeUnicode(rv.String())
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return e.encodeBytearray(rv.Bytes())
		}
		return e.encodeListReflect(rv)
	case reflect.Array:
		return e.encodeListReflect(rv)
	case reflect.Map:
		return e.encodeMapReflect(rv)
	case reflect.Struct:
		return e.encodeStruct(rv)
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return e.emit(opNone)
		}
		return e.encode(rv.Elem())
	case reflect.Invalid:
		// nil
		return e.emit(opNone)
	}

	return fmt.Errorf("pickle: cannot encode type %s", rv.Type())
}

func (e *Encoder) encodeBool(b bool) error {
	if e.config.Protocol >= 2 {
		if b {
			return e.emit(opNewtrue)
		}
		return e.emit(opNewfalse)
	}
	if b {
		return e.emitString(opTrue)
	}
	return e.emitString(opFalse)
}

func (e *Encoder) encodeInt(i int64) error {
	switch {
	case e.config.Protocol < 1:
		return e.emitf("%c%d\n", opInt, i)
	case i >= 0 && i <= math.MaxUint8:
		return e.emit(opBinint1, byte(i))
	case i >= 0 && i <= math.MaxUint16:
		return e.emit(opBinint2, byte(i), byte(i>>8))
	case i >= math.MinInt32 && i <= math.MaxInt32:
		var b [5]byte
		b[0] = opBinint
		binary.LittleEndian.PutUint32(b[1:], uint32(i))
		return e.emit(b[:]...)
	default:
		return e.encodeLong(big.NewInt(i))
	}
}

func (e *Encoder) encodeLong(v *big.Int) error {
	if e.config.Protocol < 2 {
		return e.emitf("%c%dL\n", opLong, v)
	}
	data := encodeLong(v)
	if len(data) < 256 {
		if err := e.emit(opLong1, byte(len(data))); err != nil {
			return err
		}
	} else {
		var b [5]byte
		b[0] = opLong4
		binary.LittleEndian.PutUint32(b[1:], uint32(len(data)))
		if err := e.emit(b[:]...); err != nil {
			return err
		}
	}
	return e.emit(data...)
}

func (e *Encoder) encodeFloat(f float64) error {
	if e.config.Protocol < 1 {
		return e.emitf("%c%s\n", opFloat, strconv.FormatFloat(f, 'g', -1, 64))
	}
	var b [9]byte
	b[0] = opBinfloat
	binary.BigEndian.PutUint64(b[1:], math.Float64bits(f))
	return e.emit(b[:]...)
}

func (e *Encoder) encodeUnicode(s string) error {
	p := e.config.Protocol
	switch {
	case p < 1:
		return e.emitf("%c%s\n", opUnicode, quoteUnicode(s))
	case p >= 4 && len(s) <= math.MaxUint8:
		if err := e.emit(opShortBinUnicode, byte(len(s))); err != nil {
			return err
		}
	case int64(len(s)) > math.MaxUint32:
		if p < 4 {
			return fmt.Errorf("pickle: string too long for protocol %d", p)
		}
		var b [9]byte
		b[0] = opBinunicode8
		binary.LittleEndian.PutUint64(b[1:], uint64(len(s)))
		if err := e.emit(b[:]...); err != nil {
			return err
		}
	default:
		var b [5]byte
		b[0] = opBinunicode
		binary.LittleEndian.PutUint32(b[1:], uint32(len(s)))
		if err := e.emit(b[:]...); err != nil {
			return err
		}
	}
	return e.emitString(s)
}

// encodeByteString emits a py2 str with the STRING opcodes.
func (e *Encoder) encodeByteString(s string) error {
	if e.config.Protocol < 1 {
		return e.emitf("%c%s\n", opString, quoteByteString(s))
	}
	if len(s) <= math.MaxUint8 {
		if err := e.emit(opShortBinstring, byte(len(s))); err != nil {
			return err
		}
	} else {
		if int64(len(s)) > math.MaxUint32 {
			return fmt.Errorf("pickle: string too long for STRING opcodes")
		}
		var b [5]byte
		b[0] = opBinstring
		binary.LittleEndian.PutUint32(b[1:], uint32(len(s)))
		if err := e.emit(b[:]...); err != nil {
			return err
		}
	}
	return e.emitString(s)
}

func (e *Encoder) encodeBytes(data []byte) error {
	p := e.config.Protocol
	if p < 3 {
		// protocols 0..2 have no bytes type; mimic Python3, which emits
		// _codecs.encode(data.decode('latin1'), 'latin1')
		return e.emitReduce(Class{Module: "_codecs", Name: "encode"},
			Tuple{latin1String(data), "latin1"})
	}
	switch {
	case len(data) <= math.MaxUint8:
		if err := e.emit(opShortBinbytes, byte(len(data))); err != nil {
			return err
		}
	case p >= 4 && int64(len(data)) > math.MaxUint32:
		var b [9]byte
		b[0] = opBinbytes8
		binary.LittleEndian.PutUint64(b[1:], uint64(len(data)))
		if err := e.emit(b[:]...); err != nil {
			return err
		}
	default:
		if int64(len(data)) > math.MaxUint32 {
			return fmt.Errorf("pickle: bytes too long for protocol %d", p)
		}
		var b [5]byte
		b[0] = opBinbytes
		binary.LittleEndian.PutUint32(b[1:], uint32(len(data)))
		if err := e.emit(b[:]...); err != nil {
			return err
		}
	}
	return e.emit(data...)
}

// latin1String decodes bytes as latin1 text, the exact inverse of
// encodeLatin1.
func latin1String(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		b.WriteRune(rune(c))
	}
	return b.String()
}

func (e *Encoder) encodeBytearray(data []byte) error {
	if e.config.Protocol >= 5 {
		var b [9]byte
		b[0] = opBytearray8
		binary.LittleEndian.PutUint64(b[1:], uint64(len(data)))
		if err := e.emit(b[:]...); err != nil {
			return err
		}
		return e.emit(data...)
	}
	return e.emitReduce(pybuiltin(e.config.Protocol, "bytearray"), Tuple{Bytes(data)})
}

// pybuiltin returns the Class of a builtin, taking into account that the
// builtins module was renamed in Python3, and that pickles with protocol ≥ 3
// cannot be loaded by Python2.
func pybuiltin(protocol int, name string) Class {
	module := "builtins"
	if protocol <= 2 {
		module = "__builtin__"
	}
	return Class{Module: module, Name: name}
}

// emitReduce emits class(*args) via the REDUCE opcode.
func (e *Encoder) emitReduce(class Class, args Tuple) error {
	if err := e.encodeClass(class); err != nil {
		return err
	}
	if err := e.encodeTuple(args); err != nil {
		return err
	}
	return e.emit(opReduce)
}

func (e *Encoder) encodeTuple(t Tuple) error {
	p := e.config.Protocol
	l := len(t)

	if l == 0 {
		if p >= 1 {
			return e.emit(opEmptyTuple)
		}
		return e.emit(opMark, opTuple)
	}

	if p >= 2 && l <= 3 {
		for _, item := range t {
			if err := e.encode(reflectValueOf(item)); err != nil {
				return err
			}
		}
		return e.emit([...]byte{opTuple1, opTuple2, opTuple3}[l-1])
	}

	if err := e.emit(opMark); err != nil {
		return err
	}
	for _, item := range t {
		if err := e.encode(reflectValueOf(item)); err != nil {
			return err
		}
	}
	return e.emit(opTuple)
}

func (e *Encoder) encodeList(items []any) error {
	if e.config.Protocol < 1 {
		if err := e.emit(opMark); err != nil {
			return err
		}
		for _, item := range items {
			if err := e.encode(reflectValueOf(item)); err != nil {
				return err
			}
		}
		return e.emit(opList)
	}

	if err := e.emit(opEmptyList); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	if err := e.emit(opMark); err != nil {
		return err
	}
	for _, item := range items {
		if err := e.encode(reflectValueOf(item)); err != nil {
			return err
		}
	}
	return e.emit(opAppends)
}

func (e *Encoder) encodeListReflect(rv reflect.Value) error {
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return e.encodeList(items)
}

func (e *Encoder) encodeDict(d Dict) error {
	if e.config.Protocol < 1 {
		if err := e.emit(opMark, opDict); err != nil {
			return err
		}
		var err error
		d.Iter()(func(k, v any) bool {
			if err = e.encode(reflectValueOf(k)); err != nil {
				return false
			}
			if err = e.encode(reflectValueOf(v)); err != nil {
				return false
			}
			err = e.emit(opSetitem)
			return err == nil
		})
		return err
	}

	if err := e.emit(opEmptyDict); err != nil {
		return err
	}
	if d.Len() == 0 {
		return nil
	}
	if err := e.emit(opMark); err != nil {
		return err
	}
	var err error
	d.Iter()(func(k, v any) bool {
		if err = e.encode(reflectValueOf(k)); err != nil {
			return false
		}
		err = e.encode(reflectValueOf(v))
		return err == nil
	})
	if err != nil {
		return err
	}
	return e.emit(opSetitems)
}

func (e *Encoder) encodeMapReflect(rv reflect.Value) error {
	d := NewDictWithSizeHint(rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		d.Set(iter.Key().Interface(), iter.Value().Interface())
	}
	return e.encodeDict(d)
}

func (e *Encoder) encodeSet(d Dict, frozen bool) error {
	p := e.config.Protocol

	if p < 4 {
		// no set opcodes before protocol 4; build via the constructor
		name := "set"
		if frozen {
			name = "frozenset"
		}
		items := make([]any, 0, d.Len())
		d.Iter()(func(k, _ any) bool {
			items = append(items, k)
			return true
		})
		return e.emitReduce(pybuiltin(p, name), Tuple{NewList(items...)})
	}

	emitElems := func() error {
		var err error
		d.Iter()(func(k, _ any) bool {
			err = e.encode(reflectValueOf(k))
			return err == nil
		})
		return err
	}

	if frozen {
		if err := e.emit(opMark); err != nil {
			return err
		}
		if err := emitElems(); err != nil {
			return err
		}
		return e.emit(opFrozenSet)
	}

	if err := e.emit(opEmptySet); err != nil {
		return err
	}
	if d.Len() == 0 {
		return nil
	}
	if err := e.emit(opMark); err != nil {
		return err
	}
	if err := emitElems(); err != nil {
		return err
	}
	return e.emit(opAddItems)
}

func (e *Encoder) encodeClass(c Class) error {
	if e.config.Protocol >= 4 {
		if err := e.encodeUnicode(c.Module); err != nil {
			return err
		}
		if err := e.encodeUnicode(c.Name); err != nil {
			return err
		}
		return e.emit(opStackGlobal)
	}
	// GLOBAL carries the names on text lines
	if strings.ContainsAny(c.Module, "\n") || strings.ContainsAny(c.Name, "\n") {
		return fmt.Errorf("pickle: invalid class name %q", c.String())
	}
	return e.emitf("%c%s\n%s\n", opGlobal, c.Module, c.Name)
}

func (e *Encoder) encodeRef(r Ref) error {
	if e.config.Protocol >= 1 {
		if err := e.encode(reflectValueOf(r.Pid)); err != nil {
			return err
		}
		return e.emit(opBinpersid)
	}

	// the text PERSID carries the id as a bare line
	pid, ok := r.Pid.(string)
	if !ok || strings.ContainsAny(pid, "\n") {
		return fmt.Errorf("pickle: protocol 0 persistent id must be a string without newline")
	}
	return e.emitf("%c%s\n", opPersid, pid)
}

func (e *Encoder) encodeComplex(c complex128) error {
	return e.emitReduce(pybuiltin(e.config.Protocol, "complex"),
		Tuple{real(c), imag(c)})
}

// encodeRecord emits a record the way an instance with a __dict__ is
// pickled: construct with no arguments, then BUILD with the fields as state.
func (e *Encoder) encodeRecord(r *Record) error {
	full := r.ClassName()
	class := Class{Name: full}
	if i := strings.LastIndex(full, "."); i >= 0 {
		class = Class{Module: full[:i], Name: full[i+1:]}
	}
	if err := e.emitReduce(class, Tuple{}); err != nil {
		return err
	}

	state := NewDict()
	for _, name := range r.Fields() {
		if name == "__class__" {
			continue
		}
		v, _ := r.Field(name)
		state.Set(name, v)
	}
	if err := e.encodeDict(state); err != nil {
		return err
	}
	return e.emit(opBuild)
}

func (e *Encoder) encodeStruct(rv reflect.Value) error {
	fields := getStructTags(rv)
	d := NewDictWithSizeHint(len(fields))
	for name, idx := range fields {
		d.Set(name, rv.Field(idx).Interface())
	}
	return e.encodeDict(d)
}

// reflectValueOf returns rv associated with obj, even if obj is already a
// reflect.Value.
func reflectValueOf(obj any) reflect.Value {
	rv, ok := obj.(reflect.Value)
	if !ok {
		rv = reflect.ValueOf(obj)
	}
	return rv
}

// getStructTags maps a struct's pickled field names to field indices,
// honouring `pickle:"..."` tags.
func getStructTags(rv reflect.Value) map[string]int {
	t := rv.Type()
	m := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Tag.Get("pickle")
		if name == "" {
			name = f.Name
		}
		m[name] = i
	}
	return m
}
