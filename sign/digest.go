package sign

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the length of a Digest in bytes.
const DigestSize = blake2b.Size256

// Digest is the blake2b-256 hash identifying blocks, votes and timeouts.
type Digest [DigestSize]byte

// String returns the hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first bytes of the hex encoding, for logging.
func (d Digest) Short() string {
	return d.String()[:16]
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Hasher accumulates fields into a digest in a fixed order.
type Hasher struct {
	buf []byte
}

// WriteBytes appends a length-prefixed byte string.
func (h *Hasher) WriteBytes(b []byte) *Hasher {
	h.buf = binary.BigEndian.AppendUint64(h.buf, uint64(len(b)))
	h.buf = append(h.buf, b...)
	return h
}

// WriteString appends a length-prefixed string.
func (h *Hasher) WriteString(s string) *Hasher {
	return h.WriteBytes([]byte(s))
}

// WriteUint64 appends a big endian integer.
func (h *Hasher) WriteUint64(v uint64) *Hasher {
	h.buf = binary.BigEndian.AppendUint64(h.buf, v)
	return h
}

// WriteDigest appends a digest.
func (h *Hasher) WriteDigest(d Digest) *Hasher {
	h.buf = append(h.buf, d[:]...)
	return h
}

// Sum returns the digest of everything written so far.
func (h *Hasher) Sum() Digest {
	return Digest(blake2b.Sum256(h.buf))
}

// Hash returns the digest of data.
func Hash(data []byte) Digest {
	return Digest(blake2b.Sum256(data))
}
