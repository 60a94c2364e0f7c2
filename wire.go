package korniszon

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
)

// Fixed-width operand decoding. The pickle wire format mixes little-endian
// integers (lengths, BININT*) with big-endian IEEE floats (BINFLOAT and the
// array machine formats), and keeps one signed/unsigned asymmetry: 4-byte
// BININT operands are signed while 4-byte length prefixes are not.

func needBytes(b []byte, n int) error {
	if len(b) < n {
		return &DecodeError{Kind: ErrTruncated, Msg: fmt.Sprintf("need %d bytes, have %d", n, len(b))}
	}
	return nil
}

// decodeUint2 decodes a 2-byte little-endian unsigned integer.
func decodeUint2(b []byte) (int64, error) {
	if err := needBytes(b, 2); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint16(b)), nil
}

// decodeInt4 decodes a 4-byte little-endian signed integer.
func decodeInt4(b []byte) (int64, error) {
	if err := needBytes(b, 4); err != nil {
		return 0, err
	}
	return int64(int32(binary.LittleEndian.Uint32(b))), nil
}

// decodeUint4 decodes a 4-byte little-endian unsigned length prefix.
func decodeUint4(b []byte) (uint64, error) {
	if err := needBytes(b, 4); err != nil {
		return 0, err
	}
	return uint64(binary.LittleEndian.Uint32(b)), nil
}

// decodeUint8 decodes an 8-byte little-endian unsigned length prefix.
func decodeUint8(b []byte) (uint64, error) {
	if err := needBytes(b, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// decodeInt8 decodes an 8-byte little-endian signed integer.
func decodeInt8(b []byte) (int64, error) {
	if err := needBytes(b, 8); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// decodeFloat8BE decodes an 8-byte big-endian IEEE 754 double.
func decodeFloat8BE(b []byte) (float64, error) {
	if err := needBytes(b, 8); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// decodeFloat4BE decodes a 4-byte big-endian IEEE 754 single.
func decodeFloat4BE(b []byte) (float64, error) {
	if err := needBytes(b, 4); err != nil {
		return 0, err
	}
	return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
}

// decodeLong converts a two's-complement little-endian byte string, as used
// by LONG1/LONG4 operands, into a big integer. Zero bytes decode to 0.
// There is no cap on the magnitude.
func decodeLong(data []byte) *big.Int {
	v := new(big.Int)
	if len(data) == 0 {
		return v
	}

	be := make([]byte, len(data))
	for i, c := range data {
		be[len(data)-1-i] = c
	}
	v.SetBytes(be)

	// sign bit of the most significant byte
	if data[len(data)-1] > 127 {
		shift := new(big.Int).Lsh(big.NewInt(1), uint(len(data))*8)
		v.Sub(v, shift)
	}
	return v
}

// encodeLong is the inverse of decodeLong. Zero encodes to no bytes.
func encodeLong(v *big.Int) []byte {
	if v.Sign() == 0 {
		return nil
	}

	n := v.BitLen()/8 + 1
	u := new(big.Int)
	if v.Sign() < 0 {
		u.Lsh(big.NewInt(1), uint(n)*8)
		u.Add(u, v)
	} else {
		u.Set(v)
	}

	be := u.Bytes()
	le := make([]byte, n)
	for i, c := range be {
		le[len(be)-1-i] = c
	}

	// drop a redundant sign byte, matching pickle.encode_long
	if v.Sign() < 0 && n > 1 && le[n-1] == 0xff && le[n-2]&0x80 != 0 {
		le = le[:n-1]
	}
	return le
}
