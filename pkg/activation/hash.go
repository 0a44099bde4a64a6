package activation

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash computes the stable content-hash used by the dedup gate
// (§4.4). SHA-256 is not specified by the reference (§9 Open Questions:
// "any stable collision-resistant hash suffices"); truncated to 32 hex
// chars, which is still far beyond any realistic collision risk for this
// use and keeps stored hashes short.
func ContentHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0}) // separator, prevents "ab"+"c" colliding with "a"+"bc"
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return sum[:32]
}
