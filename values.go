package korniszon

import (
	"fmt"
	"sort"
	"strings"
)

// None is a representation of Python's None.
type None struct{}

// Tuple is a representation of Python's tuple.
type Tuple []any

// Bytes represents Python's bytes.
type Bytes string

// ByteString represents str from Python2. It is an 8-bit clean string that
// can contain both text and binary data.
//
// See AsString and AsBytes for accepting ByteString together with its
// Python3 counterparts.
type ByteString string

// Class represents a Python class reference, as pushed by the GLOBAL family
// of opcodes.
type Class struct {
	Module, Name string
}

func (c Class) String() string {
	if c.Module == "" {
		return c.Name
	}
	return c.Module + "." + c.Name
}

// Ref is the default representation for a Python persistent reference.
//
// Such references are used when one pickle somehow references another pickle
// in e.g. a database.
//
// See https://docs.python.org/3/library/pickle.html#pickle-persistent for details.
//
// See DecoderConfig.PersistentLoad and EncoderConfig for ways to handle
// persistent references with application logic.
type Ref struct {
	// persistent ID of referenced object.
	//
	// used to be string for protocol 0, but "upgraded" to be arbitrary
	// object for later protocols.
	Pid any
}

// List represents Python's list.
//
// It is a pointer-like cell rather than a bare slice: a memo reference to a
// list yields another handle to the same cell, so elements appended by later
// opcodes are visible through every handle. This is what makes
// self-referential pickles come out as actual cycles.
type List struct {
	Items []any
}

// NewList returns a new list holding a copy of items.
func NewList(items ...any) *List {
	return &List{Items: append([]any(nil), items...)}
}

func (l *List) Append(v any) { l.Items = append(l.Items, v) }

func (l *List) Len() int { return len(l.Items) }

func (l *List) String() string {
	elems := make([]string, len(l.Items))
	for i, v := range l.Items {
		elems[i] = fmt.Sprintf("%v", v)
	}
	return "[" + strings.Join(elems, ", ") + "]"
}

// Set represents Python's set.
//
// Like Dict it is pointer-like: the zero value is a nil set invalid to Add to.
type Set struct {
	d Dict
}

// NewSet returns a new set holding items.
//
// NewSet panics if an item's type is not allowed to be used as an element.
func NewSet(items ...any) Set {
	s := Set{d: NewDictWithSizeHint(len(items))}
	for _, v := range items {
		s.Add(v)
	}
	return s
}

// Add inserts an element, replacing any equal one.
func (s Set) Add(v any) { s.d.Set(v, None{}) }

// Has reports whether an element equal to v is present.
func (s Set) Has(v any) bool {
	_, ok := s.d.Get_(v)
	return ok
}

func (s Set) Len() int { return s.d.Len() }

// Iter returns an iterator over the elements in arbitrary order.
func (s Set) Iter() func(yield func(any) bool) {
	return func(yield func(any) bool) {
		s.d.Iter()(func(k, _ any) bool {
			return yield(k)
		})
	}
}

func (s Set) String() string { return setString("set", s.d) }

// FrozenSet represents Python's frozenset. Unlike Set it is hashable and can
// itself be used as a Dict key or set element.
type FrozenSet struct {
	d Dict
}

// NewFrozenSet returns a new frozenset holding items.
func NewFrozenSet(items ...any) FrozenSet {
	return FrozenSet{d: NewSet(items...).d}
}

func (s FrozenSet) Has(v any) bool {
	_, ok := s.d.Get_(v)
	return ok
}

func (s FrozenSet) Len() int { return s.d.Len() }

func (s FrozenSet) Iter() func(yield func(any) bool) {
	return Set{d: s.d}.Iter()
}

func (s FrozenSet) String() string { return setString("frozenset", s.d) }

func setString(kind string, d Dict) string {
	elems := make([]string, 0, d.Len())
	d.Iter()(func(k, _ any) bool {
		elems = append(elems, fmt.Sprintf("%v", k))
		return true
	})
	sort.Strings(elems)
	return kind + "{" + strings.Join(elems, ", ") + "}"
}

// Record is the decoded form of an instance whose class has no registered
// constructor. It keeps the instance attributes in insertion order together
// with a "__class__" field naming the original class.
type Record struct {
	names []string
	attrs map[string]any
}

// NewRecord returns a record tagged with class via its "__class__" field.
func NewRecord(class string) *Record {
	r := &Record{attrs: make(map[string]any)}
	r.SetField("__class__", class)
	return r
}

// ClassName returns the value of the "__class__" field.
func (r *Record) ClassName() string {
	c, _ := r.attrs["__class__"].(string)
	return c
}

// SetField sets a field, keeping the position of an already present name.
func (r *Record) SetField(name string, v any) {
	if _, dup := r.attrs[name]; !dup {
		r.names = append(r.names, name)
	}
	r.attrs[name] = v
}

// Field returns the named field value.
func (r *Record) Field(name string) (any, bool) {
	v, ok := r.attrs[name]
	return v, ok
}

// Fields returns the field names in insertion order, "__class__" included.
func (r *Record) Fields() []string {
	return append([]string(nil), r.names...)
}

// Len returns the number of fields, "__class__" included.
func (r *Record) Len() int { return len(r.names) }

func (r *Record) String() string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(r.ClassName())
	for _, name := range r.names {
		if name == "__class__" {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", name, r.attrs[name])
	}
	b.WriteString(">")
	return b.String()
}
