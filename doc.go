// Package korniszon(*) is a library for decoding/encoding Python's pickle format.
//
// Use Decoder to decode a pickle from input stream, for example:
//
//	d := korniszon.NewDecoder(r)
//	obj, err := d.Decode() // obj is interface{} representing decoded Python object
//
// Use Encoder to encode an object as pickle into output stream, for example:
//
//	e := korniszon.NewEncoder(w)
//	err := e.Encode(obj)
//
// The following table summarizes mapping of basic types in between Python and Go:
//
//	Python	   Go
//	------	   --
//
//	None	↔  korniszon.None
//	bool	↔  bool
//	int	↔  int64
//	int	←  int, intX, uintX
//	long	↔  *big.Int
//	float	↔  float64
//	float	←  floatX
//	list	↔  *korniszon.List
//	tuple	↔  korniszon.Tuple
//	dict	↔  korniszon.Dict
//	set	↔  korniszon.Set
//	frozenset  ↔  korniszon.FrozenSet
//	complex	↔  complex128
//
//	unicode    ↔  string
//	str(py2)   ↔  korniszon.ByteString  (+)
//	bytes      ↔  korniszon.Bytes       (~)
//	bytearray  ↔  []byte
//
// A list decodes into *List, a pointer-like cell, rather than a bare slice:
// this preserves object identity, so a pickle where the same list is
// referenced twice decodes into two handles of the same *List, and
// self-referential pickles come out as actual cycles.
//
//
// # Classes and instances
//
// A reference to a Python class is decoded into Class. An instance of a class
// is built by looking the class up in a Registry of constructors. By default
// only constructors for a small set of builtins (bytearray, complex, set,
// frozenset and friends) are registered, and an instance of any other class
// is decoded into *Record - a generic bag of the instance attributes tagged
// with the class name:
//
//	Python				Go
//	------	   			--
//
//	decimal.Decimal            ↔    korniszon.Class{"decimal", "Decimal"}
//	mymod.Point(x=1, y=2)      →    *korniszon.Record  ("mymod.Point"; x=1 y=2)
//
// An application that wants its own types back registers a Constructor, either
// in the shared DefaultRegistry:
//
//	korniszon.RegisterConstructor("mymod", "Point", korniszon.ConstructorFunc(newPoint))
//
// or in a private Registry passed via DecoderConfig. A constructed object may
// additionally implement StateSetter to receive the state the BUILD opcode
// carries, which is how __setstate__ types round-trip.
//
// No registered constructor ever gets invoked implicitly with attacker-chosen
// code: on Go side it is thus by default safe to decode pickles from
// untrusted sources(^).
//
//
// # Pickle protocol versions
//
// Over the time the pickle stream format was evolving. The original protocol
// version 0 is human-readable with versions 1 and 2 extending the protocol in
// backward-compatible way with binary encodings for efficiency. Protocol
// version 2 is the highest protocol version that is understood by standard
// pickle module of Python2. Protocol version 3 added ways to represent Python
// bytes objects from Python3(~). Protocol version 4 further enhances on
// version 3 and completely switches to binary-only encoding. Protocol
// version 5 added support for out-of-band data(%). Please see
// https://docs.python.org/3/library/pickle.html#data-stream-format for details.
//
// On decoding korniszon detects which protocol is being used and automatically
// handles all necessary details.
//
// On encoding, for compatibility with Python2, by default korniszon produces
// pickles with protocol 2. Bytes thus, by default, will be unpickled as str on
// Python2 and as bytes on Python3. If an earlier protocol is desired, or on
// the other hand, if Bytes needs to be encoded efficiently (protocol 2
// encoding for bytes is far from optimal), and compatibility with pure Python2
// is not an issue, the protocol to use for encoding could be explicitly
// specified, for example:
//
//	e := korniszon.NewEncoderWithConfig(w, &korniszon.EncoderConfig{
//		Protocol: 3,
//	})
//	err := e.Encode(obj)
//
// See EncoderConfig.Protocol for details.
//
//
// # Persistent references
//
// Pickle was originally created for serialization in ZODB (http://zodb.org)
// object database, where on-disk objects can reference each other similarly to
// how one in-RAM object can have a reference to another in-RAM object.
//
// Whether and how to resolve such references is application policy, so by
// default decoding one fails with ErrUnsupported. An application opts in by
// hooking into decoding, for example loading the referenced object from the
// database:
//
//	d := korniszon.NewDecoderWithConfig(r, &korniszon.DecoderConfig{
//		PersistentLoad: ...
//	})
//	obj, err := d.Decode()
//
// The hook may also return nil to keep the reference as a Ref placeholder.
// Similarly, for encoding, an application can hook into serialization process
// and turn pointers to some in-RAM objects into persistent references.
//
// Please see DecoderConfig.PersistentLoad and EncoderConfig.PersistentRef for details.
//
//
// # Errors
//
// All decode failures are reported as *DecodeError carrying an ErrKind, the
// offending opcode and its offset in the stream. Use errors.As plus the Kind
// field, for example to distinguish a short read (ErrTruncated) from a
// malformed pickle (ErrProtocol).
//
// --------
//
// (*) korniszon is Polish for "gherkin".
//
// (+) str from Python2 is decoded into ByteString, which AsString and AsBytes
// accept together with the respective Python3 type, because a py2 str may
// carry either text or binary data.
//
// (~) bytes can be produced only by Python3 or zodbpickle (https://pypi.org/project/zodbpickle),
// not by standard Python2. Respectively, for protocol ≤ 2, what korniszon produces
// is unpickled as bytes by Python3 or zodbpickle, and as str by Python2.
//
// (^) contrary to Python implementation, where malicious pickle can cause the
// decoder to run arbitrary code, including e.g. os.system("rm -rf /").
//
// (%) korniszon does not support out-of-band data.
package korniszon
