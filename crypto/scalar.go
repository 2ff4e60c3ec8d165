package crypto

import (
	"fmt"

	"filippo.io/edwards25519"
)

// ScalarOrder is the order L of the Ed25519 prime-order subgroup,
// 2^252 + 27742317777372353535851937790883648493, little-endian.
var ScalarOrder = [32]byte{
	0xed, 0xd3, 0xf5, 0x5c, 0x1a, 0x63, 0x12, 0x58,
	0xd6, 0x9c, 0xf7, 0xa2, 0xde, 0xf9, 0xde, 0x14,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10,
}

// ScalarAdd returns (a + b) mod L for canonical little-endian scalars a, b < L.
//
// The sum is computed byte by byte with carry and then reduced by a single
// conditional subtraction of L, selected without branching on secret data.
// Since a + b < 2L < 2^254 the intermediate sum always fits in 32 bytes.
func ScalarAdd(a, b [32]byte) [32]byte {
	var sum [32]byte
	var carry uint16
	for i := 0; i < 32; i++ {
		t := uint16(a[i]) + uint16(b[i]) + carry
		sum[i] = byte(t)
		carry = t >> 8
	}

	var diff [32]byte
	var borrow uint16
	for i := 0; i < 32; i++ {
		t := uint16(sum[i]) - uint16(ScalarOrder[i]) - borrow
		diff[i] = byte(t)
		borrow = (t >> 8) & 1
	}

	// borrow == 1 means sum < L and the unreduced sum is kept.
	keepSum := byte(0) - byte(borrow)
	var out [32]byte
	for i := 0; i < 32; i++ {
		out[i] = (sum[i] & keepSum) | (diff[i] &^ keepSum)
	}
	return out
}

// IsCanonicalScalar reports whether s < L.
func IsCanonicalScalar(s [32]byte) bool {
	for i := 31; i >= 0; i-- {
		if s[i] < ScalarOrder[i] {
			return true
		}
		if s[i] > ScalarOrder[i] {
			return false
		}
	}
	return false
}

// ReduceScalar interprets up to 64 little-endian bytes as an integer and reduces it mod L.
func ReduceScalar(b []byte) [32]byte {
	if len(b) > 64 {
		panic("crypto: ReduceScalar input longer than 64 bytes")
	}
	var wide [64]byte
	copy(wide[:], b)
	s, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		panic(err)
	}
	var out [32]byte
	copy(out[:], s.Bytes())
	return out
}

// ScalarBaseMult returns the compressed point s·G.
func ScalarBaseMult(s [32]byte) ([32]byte, error) {
	var out [32]byte
	sc, err := edwards25519.NewScalar().SetCanonicalBytes(s[:])
	if err != nil {
		return out, fmt.Errorf("non-canonical scalar: %w", err)
	}
	copy(out[:], new(edwards25519.Point).ScalarBaseMult(sc).Bytes())
	return out, nil
}

// PointAdd returns the compressed sum of two compressed Edwards points.
func PointAdd(a, b [32]byte) ([32]byte, error) {
	var out [32]byte
	pa, err := new(edwards25519.Point).SetBytes(a[:])
	if err != nil {
		return out, fmt.Errorf("invalid point: %w", err)
	}
	pb, err := new(edwards25519.Point).SetBytes(b[:])
	if err != nil {
		return out, fmt.Errorf("invalid point: %w", err)
	}
	copy(out[:], new(edwards25519.Point).Add(pa, pb).Bytes())
	return out, nil
}

// IsOnCurve reports whether b decodes to a valid Edwards point.
func IsOnCurve(b [32]byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b[:])
	return err == nil
}
