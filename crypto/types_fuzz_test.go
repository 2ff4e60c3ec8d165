package crypto

import (
	"bytes"
	"crypto/ed25519"
	"strings"
	"testing"
)

func FuzzSignWithScalar(f *testing.F) {
	f.Add(make([]byte, 32), []byte{})
	f.Add(bytes.Repeat([]byte{0xff}, 64), []byte("claim vault"))
	f.Add([]byte{1}, make([]byte, 1000))

	f.Fuzz(func(t *testing.T, seed []byte, msg []byte) {
		if len(seed) > 64 {
			seed = seed[:64]
		}
		scalar := ReduceScalar(seed)
		if scalar == ([32]byte{}) {
			return
		}
		pub, err := ScalarBaseMult(scalar)
		if err != nil {
			t.Fatalf("base mult: %v", err)
		}

		sig, err := SignWithScalar(scalar, pub, msg)
		if err != nil {
			t.Fatalf("signing failed: %v", err)
		}
		if !ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig) {
			t.Fatal("scalar signature rejected by crypto/ed25519")
		}
		if !sig.Verify(PublicKey(pub[:]), msg) {
			t.Fatal("scalar signature rejected by Signature.Verify")
		}

		again, _ := SignWithScalar(scalar, pub, msg)
		if !bytes.Equal(sig, again) {
			t.Error("scalar signing is not deterministic")
		}

		tampered := append([]byte{}, msg...)
		tampered = append(tampered, 0)
		if sig.Verify(PublicKey(pub[:]), tampered) {
			t.Error("signature verified over a different message")
		}

		other := pub
		other[0] ^= 1
		if _, err := SignWithScalar(scalar, other, msg); err == nil {
			t.Error("signed for a public key that does not match the scalar")
		}
	})
}

func FuzzPrivateKeyFromSeed(f *testing.F) {
	f.Add(make([]byte, 32))
	f.Add(bytes.Repeat([]byte{0xab}, 32))

	f.Fuzz(func(t *testing.T, seed []byte) {
		if len(seed) != ed25519.SeedSize {
			return
		}
		sk := NewPrivateKeyFromBytes(seed)
		if len(sk) != ed25519.PrivateKeySize {
			t.Fatalf("private key wrong size: got %d", len(sk))
		}
		if !bytes.Equal(sk, NewPrivateKeyFromBytes(seed)) {
			t.Error("seed expansion is not deterministic")
		}

		pub, err := sk.PublicKey()
		if err != nil {
			t.Fatal(err)
		}
		sig, err := Sign(sk, seed)
		if err != nil {
			t.Fatal(err)
		}
		if !sig.Verify(pub, seed) {
			t.Error("signature from seeded key does not verify")
		}
	})
}

func FuzzNewPublicKeyFromString(f *testing.F) {
	f.Add("")
	f.Add("00")
	f.Add("0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")
	f.Add("0g")

	f.Fuzz(func(t *testing.T, input string) {
		pk, err := NewPublicKeyFromString(input)
		if err != nil {
			return
		}
		if len(pk) != ed25519.PublicKeySize {
			t.Fatalf("accepted a %d-byte key", len(pk))
		}
		if !strings.EqualFold(pk.String(), input) {
			t.Errorf("string round trip failed: got %s, want %s", pk.String(), input)
		}
		arr := pk.Array()
		if !bytes.Equal(arr[:], pk) {
			t.Error("Array does not carry the key bytes")
		}
	})
}
