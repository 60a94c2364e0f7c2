package korniszon

import (
	"math/big"
	"testing"
)

func TestAsInt64(t *testing.T) {
	ok := []struct {
		in   any
		want int64
	}{
		{int64(0), 0},
		{int64(-5), -5},
		{bigInt("123"), 123},
		{bigInt("-9223372036854775808"), -9223372036854775808},
	}
	for _, tt := range ok {
		v, err := AsInt64(tt.in)
		if err != nil || v != tt.want {
			t.Errorf("AsInt64(%v) = %v, %v; want %v", tt.in, v, err, tt.want)
		}
	}

	bad := []any{
		bigInt("9223372036854775808"),
		"1",
		1.0,
		nil,
	}
	for _, in := range bad {
		if v, err := AsInt64(in); err == nil {
			t.Errorf("AsInt64(%#v) = %v; expected an error", in, v)
		}
	}
}

func TestAsFloat64(t *testing.T) {
	ok := []struct {
		in   any
		want float64
	}{
		{1.5, 1.5},
		{int64(3), 3},
		{bigInt("4503599627370496"), 4503599627370496}, // 2^52, exact
	}
	for _, tt := range ok {
		v, err := AsFloat64(tt.in)
		if err != nil || v != tt.want {
			t.Errorf("AsFloat64(%v) = %v, %v; want %v", tt.in, v, err, tt.want)
		}
	}

	// 2^64+1 has no exact float64 representation
	inexact := new(big.Int).Add(bigInt("18446744073709551616"), big.NewInt(1))
	bad := []any{inexact, "1.5", nil}
	for _, in := range bad {
		if v, err := AsFloat64(in); err == nil {
			t.Errorf("AsFloat64(%#v) = %v; expected an error", in, v)
		}
	}
}

func TestAsBytesString(t *testing.T) {
	// AsBytes accepts Bytes and ByteString, AsString accepts string and
	// ByteString; neither crosses over.
	if v, err := AsBytes(Bytes("abc")); err != nil || v != Bytes("abc") {
		t.Errorf("AsBytes(Bytes) = %q, %v", v, err)
	}
	if v, err := AsBytes(ByteString("abc")); err != nil || v != Bytes("abc") {
		t.Errorf("AsBytes(ByteString) = %q, %v", v, err)
	}
	if _, err := AsBytes("abc"); err == nil {
		t.Error("AsBytes(string): expected an error")
	}

	if v, err := AsString("abc"); err != nil || v != "abc" {
		t.Errorf("AsString(string) = %q, %v", v, err)
	}
	if v, err := AsString(ByteString("abc")); err != nil || v != "abc" {
		t.Errorf("AsString(ByteString) = %q, %v", v, err)
	}
	if _, err := AsString(Bytes("abc")); err == nil {
		t.Error("AsString(Bytes): expected an error")
	}

	if !stringEQ(ByteString("x"), "x") || stringEQ(Bytes("x"), "x") || stringEQ(int64(1), "1") {
		t.Error("stringEQ misclassifies")
	}
}
