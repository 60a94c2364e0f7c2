package korniszon

import "fmt"

// ErrKind classifies decode failures.
type ErrKind int

const (
	// ErrTruncated: the stream ended, or the source failed, before the
	// pickle reached STOP. Closing the input mid-decode surfaces as this.
	ErrTruncated ErrKind = iota + 1

	// ErrUnknownOpcode: a byte that is not a pickle opcode.
	ErrUnknownOpcode

	// ErrStackUnderflow: an opcode needed more stack items than present.
	ErrStackUnderflow

	// ErrNoMark: an opcode needed a mark that was never pushed.
	ErrNoMark

	// ErrMemoMiss: GET of a memo index that was never PUT.
	ErrMemoMiss

	// ErrBadEscape: malformed escape sequence in a STRING/UNICODE operand.
	ErrBadEscape

	// ErrConstructor: a constructor or state application failed.
	ErrConstructor

	// ErrUnsupported: a recognized feature with no counterpart here, such
	// as extension codes, out-of-band buffers, or a persistent reference
	// without a configured resolver.
	ErrUnsupported

	// ErrProtocol: structurally valid bytes that violate pickle semantics,
	// e.g. an odd number of dict items or an unparseable number literal.
	ErrProtocol

	// ErrOverflow: a counted payload too large to materialize.
	ErrOverflow
)

func (k ErrKind) String() string {
	switch k {
	case ErrTruncated:
		return "truncated input"
	case ErrUnknownOpcode:
		return "unknown opcode"
	case ErrStackUnderflow:
		return "stack underflow"
	case ErrNoMark:
		return "missing mark"
	case ErrMemoMiss:
		return "missing memo reference"
	case ErrBadEscape:
		return "malformed escape sequence"
	case ErrConstructor:
		return "constructor failure"
	case ErrUnsupported:
		return "unsupported feature"
	case ErrProtocol:
		return "protocol violation"
	case ErrOverflow:
		return "magnitude overflow"
	}
	return fmt.Sprintf("ErrKind(%d)", int(k))
}

// DecodeError is the error type Decode returns.
//
// Op and Pos identify the opcode being executed and its byte offset in the
// stream. Errors raised by helpers before an opcode is known carry Op = 0
// until the decode loop stamps them.
type DecodeError struct {
	Kind ErrKind
	Op   byte
	Pos  int64
	Msg  string
	Err  error
}

func (e *DecodeError) Error() string {
	s := "pickle: " + e.Kind.String()
	if e.Op != 0 {
		s += fmt.Sprintf(": opcode %#02x (%q) at offset %d", e.Op, e.Op, e.Pos)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *DecodeError) Unwrap() error { return e.Err }
