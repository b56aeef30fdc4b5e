// Package cryptoprim defines the capability interfaces the rest of the
// module uses for the handful of cryptographic primitives it needs:
// HMAC-SHA1 (MESSAGE-INTEGRITY), CRC-32 (FINGERPRINT), and cryptographically
// strong randomness (transaction IDs, credentials, tie-breakers).
//
// Implementations of these primitives are out of scope for this module
// (spec.md §1 lists them as external, callable primitives); this package
// only fixes the seam so a caller can swap the standard-library backed
// Default implementation for another one without touching the STUN, ICE,
// or TURN code.
package cryptoprim

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // required by RFC 5389 MESSAGE-INTEGRITY
	"hash/crc32"
)

// HMAC computes a MESSAGE-INTEGRITY digest over a message body for a given
// key. The returned slice is always 20 bytes (SHA-1 output size).
type HMAC interface {
	Sum(key, body []byte) []byte
}

// CRC32 computes the FINGERPRINT checksum (IEEE 802.3 polynomial) over a
// message body.
type CRC32 interface {
	Checksum(body []byte) uint32
}

// Random produces cryptographically random bytes, used for STUN transaction
// IDs, ICE tie-breakers, and short-term credentials.
type Random interface {
	Read(p []byte) (int, error)
}

// Primitives bundles the three capabilities an Agent needs at construction.
type Primitives struct {
	HMAC   HMAC
	CRC32  CRC32
	Random Random
}

// Default returns the standard-library-backed Primitives: crypto/hmac with
// crypto/sha1, hash/crc32 with the IEEE polynomial, and crypto/rand.
func Default() Primitives {
	return Primitives{
		HMAC:   hmacSHA1{},
		CRC32:  crc32IEEE{},
		Random: cryptoRandReader{},
	}
}

type hmacSHA1 struct{}

func (hmacSHA1) Sum(key, body []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(body) //nolint:errcheck // hash.Hash.Write never returns an error
	return mac.Sum(nil)
}

type crc32IEEE struct{}

func (crc32IEEE) Checksum(body []byte) uint32 {
	return crc32.ChecksumIEEE(body)
}

type cryptoRandReader struct{}

func (cryptoRandReader) Read(p []byte) (int, error) {
	return rand.Read(p)
}
