package korniszon

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
)

// Decoder is a decoder for pickle streams.
//
// A Decoder is not safe for concurrent use; independent Decoders are.
type Decoder struct {
	r      *bufio.Reader
	config *DecoderConfig

	stack []any
	// marks records, for every MARK seen, the stack depth at that moment.
	// Container opcodes slice the stack at the depth the topmost mark
	// recorded. Keeping marks out of the value stack means no sentinel can
	// ever leak into a decoded object.
	marks []int
	memo  memoTable

	// a reusable buffer for the counted reads; decoding functions must copy
	// data out before the next read
	buf bytes.Buffer

	// reusable buffer for readLine
	line []byte

	// pos is the stream offset of the next byte to read,
	// opPos the offset of the opcode being executed.
	pos   int64
	opPos int64

	// protocol version seen in last PROTO opcode; 0 by default.
	protocol int
}

// DecoderConfig allows to tune Decoder.
type DecoderConfig struct {
	// Registry resolves class references to constructors.
	// nil means DefaultRegistry().
	Registry *Registry

	// PersistentLoad will be used by decoder to handle persistent references.
	//
	// Whenever the decoder finds an object reference in the pickle stream
	// it will call PersistentLoad. If PersistentLoad returns !nil object
	// without error, the decoder will use that object instead of Ref in
	// the resulted built Go object; a nil result keeps the Ref as is.
	//
	// An example use-case for PersistentLoad is to transform persistent
	// references in a ZODB-style database, of form (type, oid) tuple, into
	// an application ghost object.
	//
	// If PersistentLoad is nil, persistent references fail the decode with
	// ErrUnsupported.
	PersistentLoad func(ref Ref) (any, error)
}

// NewDecoder constructs a new Decoder which will decode the pickle stream in r.
func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderWithConfig(r, &DecoderConfig{})
}

// NewDecoderWithConfig is similar to NewDecoder, but allows specifying decoder configuration.
func NewDecoderWithConfig(r io.Reader, config *DecoderConfig) *Decoder {
	return &Decoder{
		r:      bufio.NewReader(r),
		config: config,
	}
}

func (d *Decoder) registry() *Registry {
	if d.config.Registry != nil {
		return d.config.Registry
	}
	return defaultRegistry
}

// Decode decodes the next pickle from the stream and returns the result.
//
// Interpreter state - stack, marks and memo - is reset on every call, so
// several pickles can be decoded one after another from the same stream.
// All errors are returned as *DecodeError; a stream that ends, or fails,
// before STOP yields ErrTruncated, empty input included.
func (d *Decoder) Decode() (any, error) {
	d.stack = d.stack[:0]
	d.marks = d.marks[:0]
	d.memo.reset()

loop:
	for {
		d.opPos = d.pos
		op, err := d.r.ReadByte()
		if err != nil {
			// a pickle ends with STOP; running out of input here means
			// the stream was cut
			return nil, d.truncated(err)
		}
		d.pos++

		switch op {
		case opMark:
			d.marks = append(d.marks, len(d.stack))
		case opStop:
			break loop
		case opPop:
			err = d.loadPop()
		case opPopMark:
			err = d.popMark()
		case opDup:
			err = d.dup()
		case opFloat:
			err = d.loadFloat()
		case opInt:
			err = d.loadInt()
		case opBinint:
			err = d.loadBinInt()
		case opBinint1:
			err = d.loadBinInt1()
		case opBinint2:
			err = d.loadBinInt2()
		case opLong:
			err = d.loadLong()
		case opLong1:
			err = d.loadLong1()
		case opLong4:
			err = d.loadLong4()
		case opNone:
			d.push(None{})
		case opNewtrue:
			d.push(true)
		case opNewfalse:
			d.push(false)
		case opPersid:
			err = d.loadPersid()
		case opBinpersid:
			err = d.loadBinPersid()
		case opReduce:
			err = d.reduce()
		case opString:
			err = d.loadString()
		case opBinstring:
			err = d.loadBinString()
		case opShortBinstring:
			err = d.loadShortBinString()
		case opUnicode:
			err = d.loadUnicode()
		case opBinunicode:
			err = d.loadBinUnicode()
		case opShortBinUnicode:
			err = d.loadShortBinUnicode()
		case opBinunicode8:
			err = d.loadBinUnicode8()
		case opBinbytes:
			err = d.loadBinBytes()
		case opShortBinbytes:
			err = d.loadShortBinBytes()
		case opBinbytes8:
			err = d.loadBinBytes8()
		case opBytearray8:
			err = d.loadBytearray8()
		case opAppend:
			err = d.loadAppend()
		case opAppends:
			err = d.loadAppends()
		case opList:
			err = d.loadList()
		case opEmptyList:
			d.push(NewList())
		case opTuple:
			err = d.loadTuple()
		case opTuple1:
			err = d.tupleN(1)
		case opTuple2:
			err = d.tupleN(2)
		case opTuple3:
			err = d.tupleN(3)
		case opEmptyTuple:
			d.push(Tuple{})
		case opDict:
			err = d.loadDict()
		case opEmptyDict:
			d.push(NewDict())
		case opSetitem:
			err = d.loadSetItem()
		case opSetitems:
			err = d.loadSetItems()
		case opEmptySet:
			d.push(NewSet())
		case opAddItems:
			err = d.loadAddItems()
		case opFrozenSet:
			err = d.loadFrozenSet()
		case opGet:
			err = d.loadGet()
		case opBinget:
			err = d.binGet()
		case opLongBinget:
			err = d.longBinGet()
		case opPut:
			err = d.loadPut()
		case opBinput:
			err = d.binPut()
		case opLongBinput:
			err = d.longBinPut()
		case opMemoize:
			err = d.loadMemoize()
		case opGlobal:
			err = d.global()
		case opStackGlobal:
			err = d.stackGlobal()
		case opInst:
			err = d.inst()
		case opObj:
			err = d.obj()
		case opNewobj:
			err = d.newObj()
		case opNewobjEx:
			err = d.newObjEx()
		case opBuild:
			err = d.build()
		case opBinfloat:
			err = d.binFloat()
		case opProto:
			err = d.loadProto()
		case opFrame:
			err = d.loadFrame()
		case opExt1:
			err = d.loadExt(1)
		case opExt2:
			err = d.loadExt(2)
		case opExt4:
			err = d.loadExt(4)
		case opNextBuffer, opReadOnlyBuffer:
			err = &DecodeError{Kind: ErrUnsupported, Msg: "out-of-band buffers are not supported"}
		default:
			return nil, &DecodeError{
				Kind: ErrUnknownOpcode,
				Op:   op,
				Pos:  d.opPos,
				Msg:  fmt.Sprintf("%#02x (%q)", op, op),
			}
		}

		if err != nil {
			return nil, d.fail(op, err)
		}
	}

	v, err := d.pop()
	if err != nil {
		return nil, d.fail(opStop, err)
	}
	return v, nil
}

// fail decorates an opcode handler error with the opcode and its offset.
// Handler errors outside the DecodeError taxonomy, e.g. from strconv, count
// as protocol violations.
func (d *Decoder) fail(op byte, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		if de.Op == 0 {
			de.Op = op
			de.Pos = d.opPos
		}
		return err
	}
	return &DecodeError{Kind: ErrProtocol, Op: op, Pos: d.opPos, Err: err}
}

// truncated converts a read failure into ErrTruncated. A source closed to
// abort a decode surfaces here as well.
func (d *Decoder) truncated(err error) error {
	return &DecodeError{Kind: ErrTruncated, Pos: d.opPos, Msg: "unexpected end of pickle stream", Err: err}
}

// ---- reading ----

func (d *Decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, d.truncated(err)
	}
	d.pos++
	return b, nil
}

func (d *Decoder) readFull(b []byte) error {
	n, err := io.ReadFull(d.r, b)
	d.pos += int64(n)
	if err != nil {
		return d.truncated(err)
	}
	return nil
}

// readData fetches an n-byte counted payload into d.buf and returns its
// bytes. The slice is valid only until the next read; callers keeping the
// data must copy it out.
func (d *Decoder) readData(n uint64) ([]byte, error) {
	if n > math.MaxInt64 {
		return nil, &DecodeError{Kind: ErrOverflow, Msg: fmt.Sprintf("counted payload of %d bytes", n)}
	}
	d.buf.Reset()
	// don't let a malicious `<bigsize> nodata` make us run out of memory
	prealloc := int(n)
	if maxgrow := 0x10000; prealloc > maxgrow {
		prealloc = maxgrow
	}
	d.buf.Grow(prealloc)
	m, err := io.CopyN(&d.buf, d.r, int64(n))
	d.pos += m
	if err != nil {
		return nil, d.truncated(err)
	}
	return d.buf.Bytes(), nil
}

// readLine reads the next text operand line from the pickle stream.
//
// returned line does not contain \n.
// returned line is valid only till next call to readLine.
func (d *Decoder) readLine() ([]byte, error) {
	d.line = d.line[:0]
	for {
		data, err := d.r.ReadSlice('\n')
		d.line = append(d.line, data...)
		d.pos += int64(len(data))
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return nil, d.truncated(err)
		}
		return d.line[:len(d.line)-1], nil
	}
}

// readCount4 reads an LE32 length prefix.
func (d *Decoder) readCount4() (uint64, error) {
	var b [4]byte
	if err := d.readFull(b[:]); err != nil {
		return 0, err
	}
	return decodeUint4(b[:])
}

// readCount8 reads an LE64 length prefix.
func (d *Decoder) readCount8() (uint64, error) {
	var b [8]byte
	if err := d.readFull(b[:]); err != nil {
		return 0, err
	}
	return decodeUint8(b[:])
}

// ---- stack ----

func (d *Decoder) push(v any) {
	d.stack = append(d.stack, v)
}

// stackBase returns the lowest stack index reachable without crossing the
// topmost mark.
func (d *Decoder) stackBase() int {
	if n := len(d.marks); n > 0 {
		return d.marks[n-1]
	}
	return 0
}

// need fails with ErrStackUnderflow unless n stack items can be taken
// without crossing a mark.
func (d *Decoder) need(n int) error {
	if len(d.stack)-d.stackBase() < n {
		return &DecodeError{Kind: ErrStackUnderflow, Msg: fmt.Sprintf("need %d stack items, have %d", n, len(d.stack)-d.stackBase())}
	}
	return nil
}

// pop removes and returns the stack top.
func (d *Decoder) pop() (any, error) {
	if err := d.need(1); err != nil {
		return nil, err
	}
	return d.xpop(), nil
}

// xpop pops when the caller already checked the stack via need.
func (d *Decoder) xpop() any {
	l := len(d.stack) - 1
	v := d.stack[l]
	d.stack = d.stack[:l]
	return v
}

// marker pops the topmost mark and returns the stack depth it recorded.
func (d *Decoder) marker() (int, error) {
	n := len(d.marks)
	if n == 0 {
		return 0, &DecodeError{Kind: ErrNoMark, Msg: "no mark on stack"}
	}
	m := d.marks[n-1]
	d.marks = d.marks[:n-1]
	if m > len(d.stack) {
		return 0, &DecodeError{Kind: ErrStackUnderflow, Msg: "mark above stack top"}
	}
	return m, nil
}

// ---- opcodes ----

// POP discards the stack top; with nothing above the topmost mark it
// discards the mark instead, as CPython does.
func (d *Decoder) loadPop() error {
	if n := len(d.marks); n > 0 && d.marks[n-1] == len(d.stack) {
		d.marks = d.marks[:n-1]
		return nil
	}
	_, err := d.pop()
	return err
}

// POP_MARK discards everything above the topmost mark.
func (d *Decoder) popMark() error {
	m, err := d.marker()
	if err != nil {
		return err
	}
	d.stack = d.stack[:m]
	return nil
}

// DUP duplicates the top stack item.
func (d *Decoder) dup() error {
	if err := d.need(1); err != nil {
		return err
	}
	d.push(d.stack[len(d.stack)-1])
	return nil
}

// Push a float
func (d *Decoder) loadFloat() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	v, err := strconv.ParseFloat(string(line), 64)
	if err != nil {
		return err
	}
	d.push(v)
	return nil
}

// Push an int
func (d *Decoder) loadInt() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}

	var val any

	switch string(line) {
	case opFalse[1:3]:
		val = false
	case opTrue[1:3]:
		val = true
	default:
		i, err := strconv.ParseInt(string(line), 10, 64)
		if err != nil {
			return err
		}
		val = i
	}

	d.push(val)
	return nil
}

// Push a four-byte signed int
func (d *Decoder) loadBinInt() error {
	var b [4]byte
	if err := d.readFull(b[:]); err != nil {
		return err
	}
	v, err := decodeInt4(b[:]) // NOTE signed, unlike the length prefixes
	if err != nil {
		return err
	}
	d.push(v)
	return nil
}

// Push a 1-byte unsigned int
func (d *Decoder) loadBinInt1() error {
	b, err := d.readByte()
	if err != nil {
		return err
	}
	d.push(int64(b))
	return nil
}

// Push a 2-byte unsigned int
func (d *Decoder) loadBinInt2() error {
	var b [2]byte
	if err := d.readFull(b[:]); err != nil {
		return err
	}
	v, err := decodeUint2(b[:])
	if err != nil {
		return err
	}
	d.push(v)
	return nil
}

// Push a long; decimal string argument with py2's optional L suffix
func (d *Decoder) loadLong() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	s := string(line)
	if l := len(s); l > 0 && s[l-1] == 'L' {
		s = s[:l-1]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid long literal %q", s)
	}
	d.push(v)
	return nil
}

// Push a long from < 256 bytes
func (d *Decoder) loadLong1() error {
	n, err := d.readByte()
	if err != nil {
		return err
	}
	data, err := d.readData(uint64(n))
	if err != nil {
		return err
	}
	d.push(decodeLong(data))
	return nil
}

// Push a really big long
func (d *Decoder) loadLong4() error {
	var b [4]byte
	if err := d.readFull(b[:]); err != nil {
		return err
	}
	n, err := decodeInt4(b[:])
	if err != nil {
		return err
	}
	if n < 0 {
		return &DecodeError{Kind: ErrProtocol, Msg: fmt.Sprintf("negative payload length %d", n)}
	}
	data, err := d.readData(uint64(n))
	if err != nil {
		return err
	}
	d.push(decodeLong(data))
	return nil
}

// Push a persistent object id taken from a text line
func (d *Decoder) loadPersid() error {
	pid, err := d.readLine()
	if err != nil {
		return err
	}
	return d.handleRef(Ref{Pid: string(pid)})
}

// Push a persistent object id taken from the stack
func (d *Decoder) loadBinPersid() error {
	pid, err := d.pop()
	if err != nil {
		return err
	}
	return d.handleRef(Ref{Pid: pid})
}

// handleRef is common place to handle Refs.
func (d *Decoder) handleRef(ref Ref) error {
	load := d.config.PersistentLoad
	if load == nil {
		return &DecodeError{Kind: ErrUnsupported, Msg: "persistent reference requires DecoderConfig.PersistentLoad"}
	}
	obj, err := load(ref)
	if err != nil {
		return &DecodeError{Kind: ErrConstructor, Msg: "persistent load", Err: err}
	}
	if obj == nil {
		// PersistentLoad asked to leave the reference as is
		obj = ref
	}
	d.push(obj)
	return nil
}

// REDUCE applies a callable to an argument tuple, both on the stack.
func (d *Decoder) reduce() error {
	if err := d.need(2); err != nil {
		return err
	}
	xargs := d.xpop()
	xclass := d.xpop()
	args, ok := xargs.(Tuple)
	if !ok {
		return fmt.Errorf("reduce: invalid args: %T", xargs)
	}
	class, ok := xclass.(Class)
	if !ok {
		return fmt.Errorf("reduce: invalid class: %T", xclass)
	}
	return d.construct(class, args)
}

// construct resolves class in the registry and invokes its constructor.
// The registry is total: an unregistered class builds a *Record.
func (d *Decoder) construct(class Class, args Tuple) error {
	obj, err := d.registry().Resolve(class).Construct(args...)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return err
		}
		return &DecodeError{Kind: ErrConstructor, Msg: class.String(), Err: err}
	}
	d.push(obj)
	return nil
}

// Push a py2 string; quoted, escaped, NL-terminated argument
func (d *Decoder) loadString() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}

	if len(line) < 2 {
		return fmt.Errorf("invalid string literal %q", line)
	}

	var delim byte
	switch line[0] {
	case '\'':
		delim = '\''
	case '"':
		delim = '"'
	default:
		return fmt.Errorf("invalid string delimiter: %c", line[0])
	}
	if line[len(line)-1] != delim {
		return fmt.Errorf("unbalanced string delimiter in %q", line)
	}

	s, err := decodeStringEscape(string(line[1 : len(line)-1]))
	if err != nil {
		return err
	}
	d.push(s)
	return nil
}

func (d *Decoder) loadBinString() error {
	n, err := d.readCount4()
	if err != nil {
		return err
	}
	data, err := d.readData(n)
	if err != nil {
		return err
	}
	d.push(ByteString(data))
	return nil
}

func (d *Decoder) loadShortBinString() error {
	n, err := d.readByte()
	if err != nil {
		return err
	}
	data, err := d.readData(uint64(n))
	if err != nil {
		return err
	}
	d.push(ByteString(data))
	return nil
}

// Push a unicode string; raw-unicode-escape'd NL-terminated argument
func (d *Decoder) loadUnicode() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	text, err := decodeUnicodeEscape(string(line))
	if err != nil {
		return err
	}
	d.push(text)
	return nil
}

func (d *Decoder) loadBinUnicode() error {
	n, err := d.readCount4()
	if err != nil {
		return err
	}
	data, err := d.readData(n)
	if err != nil {
		return err
	}
	d.push(string(data))
	return nil
}

func (d *Decoder) loadShortBinUnicode() error {
	n, err := d.readByte()
	if err != nil {
		return err
	}
	data, err := d.readData(uint64(n))
	if err != nil {
		return err
	}
	d.push(string(data))
	return nil
}

func (d *Decoder) loadBinUnicode8() error {
	n, err := d.readCount8()
	if err != nil {
		return err
	}
	data, err := d.readData(n)
	if err != nil {
		return err
	}
	d.push(string(data))
	return nil
}

func (d *Decoder) loadBinBytes() error {
	n, err := d.readCount4()
	if err != nil {
		return err
	}
	data, err := d.readData(n)
	if err != nil {
		return err
	}
	d.push(Bytes(data))
	return nil
}

func (d *Decoder) loadShortBinBytes() error {
	n, err := d.readByte()
	if err != nil {
		return err
	}
	data, err := d.readData(uint64(n))
	if err != nil {
		return err
	}
	d.push(Bytes(data))
	return nil
}

func (d *Decoder) loadBinBytes8() error {
	n, err := d.readCount8()
	if err != nil {
		return err
	}
	data, err := d.readData(n)
	if err != nil {
		return err
	}
	d.push(Bytes(data))
	return nil
}

func (d *Decoder) loadBytearray8() error {
	n, err := d.readCount8()
	if err != nil {
		return err
	}
	data, err := d.readData(n)
	if err != nil {
		return err
	}
	// copy out of d.buf; []byte conversion of the slice would alias it
	d.push(append([]byte{}, data...))
	return nil
}

// APPEND moves the stack top into the list below it, in place: every memo
// handle of the list sees the new element.
func (d *Decoder) loadAppend() error {
	if err := d.need(2); err != nil {
		return err
	}
	v := d.xpop()
	l, ok := d.stack[len(d.stack)-1].(*List)
	if !ok {
		return fmt.Errorf("append: expected a list, got %T", d.stack[len(d.stack)-1])
	}
	l.Append(v)
	return nil
}

// APPENDS moves everything above the topmost mark into the list below it.
func (d *Decoder) loadAppends() error {
	m, err := d.marker()
	if err != nil {
		return err
	}
	if m < 1 {
		return &DecodeError{Kind: ErrStackUnderflow, Msg: "no list under mark"}
	}
	l, ok := d.stack[m-1].(*List)
	if !ok {
		return fmt.Errorf("appends: expected a list, got %T", d.stack[m-1])
	}
	l.Items = append(l.Items, d.stack[m:]...)
	d.stack = d.stack[:m]
	return nil
}

// LIST builds a list from everything above the topmost mark.
func (d *Decoder) loadList() error {
	m, err := d.marker()
	if err != nil {
		return err
	}
	l := NewList(d.stack[m:]...)
	d.stack = append(d.stack[:m], l)
	return nil
}

// TUPLE builds a tuple from everything above the topmost mark.
func (d *Decoder) loadTuple() error {
	m, err := d.marker()
	if err != nil {
		return err
	}
	v := append(Tuple{}, d.stack[m:]...)
	d.stack = append(d.stack[:m], v)
	return nil
}

// tupleN creates a tuple from the top n stack objects.
// It serves the TUPLE{1,2,3} opcode handlers.
func (d *Decoder) tupleN(n int) error {
	if err := d.need(n); err != nil {
		return err
	}
	k := len(d.stack) - n
	v := append(Tuple{}, d.stack[k:]...)
	d.stack = append(d.stack[:k], v)
	return nil
}

// DICT builds a dict from key/value pairs above the topmost mark.
func (d *Decoder) loadDict() error {
	m, err := d.marker()
	if err != nil {
		return err
	}
	items := d.stack[m:]
	if len(items)%2 != 0 {
		return fmt.Errorf("dict: odd number of elements")
	}
	dict := NewDictWithSizeHint(len(items) / 2)
	for i := 0; i < len(items); i += 2 {
		if !dictTryAssign(dict, items[i], items[i+1]) {
			return fmt.Errorf("dict: invalid key type %T", items[i])
		}
	}
	d.stack = append(d.stack[:m], dict)
	return nil
}

// SETITEM stores one key/value pair into the dict below them, in place.
func (d *Decoder) loadSetItem() error {
	if err := d.need(3); err != nil {
		return err
	}
	v := d.xpop()
	k := d.xpop()
	dict, ok := d.stack[len(d.stack)-1].(Dict)
	if !ok {
		return fmt.Errorf("setitem: expected a dict, got %T", d.stack[len(d.stack)-1])
	}
	if !dictTryAssign(dict, k, v) {
		return fmt.Errorf("setitem: invalid key type %T", k)
	}
	return nil
}

// SETITEMS stores the key/value pairs above the topmost mark into the dict
// below it, in place.
func (d *Decoder) loadSetItems() error {
	m, err := d.marker()
	if err != nil {
		return err
	}
	if m < 1 {
		return &DecodeError{Kind: ErrStackUnderflow, Msg: "no dict under mark"}
	}
	dict, ok := d.stack[m-1].(Dict)
	if !ok {
		return fmt.Errorf("setitems: expected a dict, got %T", d.stack[m-1])
	}
	items := d.stack[m:]
	if len(items)%2 != 0 {
		return fmt.Errorf("setitems: odd number of elements")
	}
	for i := 0; i < len(items); i += 2 {
		if !dictTryAssign(dict, items[i], items[i+1]) {
			return fmt.Errorf("setitems: invalid key type %T", items[i])
		}
	}
	d.stack = d.stack[:m]
	return nil
}

// ADDITEMS moves everything above the topmost mark into the set below it.
func (d *Decoder) loadAddItems() error {
	m, err := d.marker()
	if err != nil {
		return err
	}
	if m < 1 {
		return &DecodeError{Kind: ErrStackUnderflow, Msg: "no set under mark"}
	}
	s, ok := d.stack[m-1].(Set)
	if !ok {
		return fmt.Errorf("additems: expected a set, got %T", d.stack[m-1])
	}
	for _, v := range d.stack[m:] {
		if !dictTryAssign(s.d, v, None{}) {
			return fmt.Errorf("additems: unhashable element %T", v)
		}
	}
	d.stack = d.stack[:m]
	return nil
}

// FROZENSET builds a frozenset from everything above the topmost mark.
func (d *Decoder) loadFrozenSet() error {
	m, err := d.marker()
	if err != nil {
		return err
	}
	s := NewFrozenSet()
	for _, v := range d.stack[m:] {
		if !dictTryAssign(s.d, v, None{}) {
			return fmt.Errorf("frozenset: unhashable element %T", v)
		}
	}
	d.stack = append(d.stack[:m], s)
	return nil
}

// ---- memo ----

func (d *Decoder) memoGet(idx int) error {
	v, ok := d.memo.get(idx)
	if !ok {
		return &DecodeError{Kind: ErrMemoMiss, Msg: fmt.Sprintf("memo index %d was never set", idx)}
	}
	d.push(v)
	return nil
}

// memoPut stores the stack top at idx; the stack is unchanged.
func (d *Decoder) memoPut(idx int) error {
	if err := d.need(1); err != nil {
		return err
	}
	d.memo.put(idx, d.stack[len(d.stack)-1])
	return nil
}

// memoIndexLine parses the text memo index of the PUT/GET opcodes.
func (d *Decoder) memoIndexLine() (int, error) {
	line, err := d.readLine()
	if err != nil {
		return 0, err
	}
	idx, err := strconv.Atoi(string(line))
	if err != nil {
		return 0, err
	}
	if idx < 0 {
		return 0, &DecodeError{Kind: ErrProtocol, Msg: fmt.Sprintf("negative memo index %d", idx)}
	}
	return idx, nil
}

func (d *Decoder) loadGet() error {
	idx, err := d.memoIndexLine()
	if err != nil {
		return err
	}
	return d.memoGet(idx)
}

func (d *Decoder) binGet() error {
	b, err := d.readByte()
	if err != nil {
		return err
	}
	return d.memoGet(int(b))
}

func (d *Decoder) longBinGet() error {
	n, err := d.readCount4()
	if err != nil {
		return err
	}
	return d.memoGet(int(n))
}

func (d *Decoder) loadPut() error {
	idx, err := d.memoIndexLine()
	if err != nil {
		return err
	}
	return d.memoPut(idx)
}

func (d *Decoder) binPut() error {
	b, err := d.readByte()
	if err != nil {
		return err
	}
	return d.memoPut(int(b))
}

func (d *Decoder) longBinPut() error {
	n, err := d.readCount4()
	if err != nil {
		return err
	}
	return d.memoPut(int(n))
}

// MEMOIZE stores the stack top at the next sequential memo index.
func (d *Decoder) loadMemoize() error {
	return d.memoPut(d.memo.len())
}

// ---- classes and instances ----

// GLOBAL pushes a class reference; registry resolution happens at the
// construction opcode, so a pickle of a bare class decodes to Class.
func (d *Decoder) global() error {
	module, err := d.readLine()
	if err != nil {
		return err
	}
	smodule := string(module)
	name, err := d.readLine()
	if err != nil {
		return err
	}
	d.push(Class{Module: smodule, Name: string(name)})
	return nil
}

// STACK_GLOBAL is GLOBAL with the names taken from the stack.
func (d *Decoder) stackGlobal() error {
	if err := d.need(2); err != nil {
		return err
	}
	xname := d.xpop()
	xmodule := d.xpop()

	name, err := AsString(xname)
	if err != nil {
		return fmt.Errorf("stack_global: invalid name: %T", xname)
	}
	module, err := AsString(xmodule)
	if err != nil {
		return fmt.Errorf("stack_global: invalid module: %T", xmodule)
	}

	d.push(Class{Module: module, Name: name})
	return nil
}

// INST builds an instance from mark-delimited args plus two text lines
// naming the class.
func (d *Decoder) inst() error {
	m, err := d.marker()
	if err != nil {
		return err
	}
	args := append(Tuple{}, d.stack[m:]...)
	d.stack = d.stack[:m]

	module, err := d.readLine()
	if err != nil {
		return err
	}
	smodule := string(module)
	name, err := d.readLine()
	if err != nil {
		return err
	}
	return d.construct(Class{Module: smodule, Name: string(name)}, args)
}

// OBJ is INST with the class pushed on the stack just above the mark.
func (d *Decoder) obj() error {
	m, err := d.marker()
	if err != nil {
		return err
	}
	items := d.stack[m:]
	if len(items) < 1 {
		return &DecodeError{Kind: ErrStackUnderflow, Msg: "no class under mark"}
	}
	class, ok := items[0].(Class)
	if !ok {
		return fmt.Errorf("obj: expected a class, got %T", items[0])
	}
	args := append(Tuple{}, items[1:]...)
	d.stack = d.stack[:m]
	return d.construct(class, args)
}

// NEWOBJ builds an object from a class and an argument tuple on the stack.
func (d *Decoder) newObj() error {
	if err := d.need(2); err != nil {
		return err
	}
	xargs := d.xpop()
	xclass := d.xpop()
	args, ok := xargs.(Tuple)
	if !ok {
		return fmt.Errorf("newobj: invalid args: %T", xargs)
	}
	class, ok := xclass.(Class)
	if !ok {
		return fmt.Errorf("newobj: invalid class: %T", xclass)
	}
	return d.construct(class, args)
}

// NEWOBJ_EX additionally carries a keyword dict. Constructors take
// positional arguments only, so a non-empty dict cannot be represented.
func (d *Decoder) newObjEx() error {
	if err := d.need(3); err != nil {
		return err
	}
	xkw := d.xpop()
	xargs := d.xpop()
	xclass := d.xpop()

	kw, ok := xkw.(Dict)
	if !ok {
		return fmt.Errorf("newobj_ex: invalid kwargs: %T", xkw)
	}
	if kw.Len() != 0 {
		return &DecodeError{Kind: ErrUnsupported, Msg: "non-empty keyword arguments"}
	}
	args, ok := xargs.(Tuple)
	if !ok {
		return fmt.Errorf("newobj_ex: invalid args: %T", xargs)
	}
	class, ok := xclass.(Class)
	if !ok {
		return fmt.Errorf("newobj_ex: invalid class: %T", xclass)
	}
	return d.construct(class, args)
}

// BUILD applies state to the object below it: via PySetState when the object
// implements it, else by merging a dict state into a *Record.
func (d *Decoder) build() error {
	if err := d.need(2); err != nil {
		return err
	}
	state := d.xpop()
	obj := d.stack[len(d.stack)-1]

	if ss, ok := obj.(StateSetter); ok {
		if err := ss.PySetState(state); err != nil {
			return &DecodeError{Kind: ErrConstructor, Msg: "setstate", Err: err}
		}
		return nil
	}

	rec, ok := obj.(*Record)
	if !ok {
		return &DecodeError{Kind: ErrConstructor, Msg: fmt.Sprintf("%T does not accept state", obj)}
	}
	dict, ok := state.(Dict)
	if !ok {
		return &DecodeError{Kind: ErrConstructor, Msg: fmt.Sprintf("record state must be a dict, not %T", state)}
	}

	var err error
	dict.Iter()(func(k, v any) bool {
		name, e := AsString(k)
		if e != nil {
			err = &DecodeError{Kind: ErrConstructor, Msg: fmt.Sprintf("record field name must be a string, not %T", k)}
			return false
		}
		rec.SetField(name, v)
		return true
	})
	return err
}

// ---- misc ----

func (d *Decoder) binFloat() error {
	var b [8]byte
	if err := d.readFull(b[:]); err != nil {
		return err
	}
	v, err := decodeFloat8BE(b[:])
	if err != nil {
		return err
	}
	d.push(v)
	return nil
}

func (d *Decoder) loadProto() error {
	v, err := d.readByte()
	if err != nil {
		return err
	}
	// The PROTO opcode documentation says the version must be in [2, 256),
	// but CPython loads versions 0 and 1 without error as well.
	if v > highestProtocol {
		return &DecodeError{Kind: ErrProtocol, Msg: fmt.Sprintf("unsupported pickle protocol %d", v)}
	}
	d.protocol = int(v)
	return nil
}

// loadFrame discards the framing information; it only exists to let readers
// batch reads. https://www.python.org/dev/peps/pep-3154/#framing
func (d *Decoder) loadFrame() error {
	var b [8]byte
	return d.readFull(b[:])
}

// EXT* reference the copyreg extension registry, which has no counterpart
// here.
func (d *Decoder) loadExt(n int) error {
	var b [4]byte
	if err := d.readFull(b[:n]); err != nil {
		return err
	}
	var code uint32
	for i := 0; i < n; i++ {
		code |= uint32(b[i]) << (8 * i)
	}
	return &DecodeError{Kind: ErrUnsupported, Msg: fmt.Sprintf("extension code %d", code)}
}
