package crypto

import (
	"golang.org/x/crypto/sha3"
)

// SHA3 returns SHA3-256 over the concatenation of parts.
func SHA3(parts ...[]byte) [32]byte {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// HashToScalar returns SHA3-256(parts...) reduced mod L.
func HashToScalar(parts ...[]byte) [32]byte {
	digest := SHA3(parts...)
	return ReduceScalar(digest[:])
}
