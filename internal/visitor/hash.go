package visitor

import (
	"encoding/hex"
	"strconv"

	"github.com/zeebo/blake3"
)

// computeFingerprintHash derives the stable 128-bit digest spec.md §4.1
// defines: a deterministic concatenation of canonical IP, raw UA,
// accept+accept-language+accept-encoding, and (if present) the hashes
// embedded in the fingerprint sub-objects. Same inputs always yield the
// same hash (spec.md §8's determinism invariant); blake3 is used for speed
// under the §1 "few milliseconds" budget, matching the teacher's go.mod
// (zeebo/blake3, carried as an indirect dep from the proxy dependency
// chain) and rohmanhakim-docs-crawler's direct use of a blake3 variant for
// content hashing.
func computeFingerprintHash(ip, rawUA, accept, acceptLang, acceptEnc string, fp *Fingerprint) string {
	h := blake3.New()

	writeField := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{0})
		h.Write([]byte(s))
	}

	writeField(ip)
	writeField(rawUA)
	writeField(accept)
	writeField(acceptLang)
	writeField(acceptEnc)

	if fp != nil {
		if fp.Canvas != nil {
			writeField(fp.Canvas.Hash)
		}
		if fp.WebGL != nil {
			writeField(fp.WebGL.Hash)
		}
		if fp.Audio != nil {
			writeField(fp.Audio.ContextHash)
			writeField(fp.Audio.OscillatorHash)
			writeField(fp.Audio.DynamicsHash)
		}
	}

	sum := h.Sum(nil)
	// Truncate to 128 bits (16 bytes) — a full digest is unnecessary for a
	// cache key and would only lengthen the Redis keyspace.
	if len(sum) > 16 {
		sum = sum[:16]
	}
	return hex.EncodeToString(sum)
}
