// Chained content hash for tamper evidence. Each invoice's hash covers the
// previous invoice's hash plus its own canonical XML bytes, forming a linked
// chain per tenant/environment sequence. Recomputing from stored XML must
// always reproduce the stored hash.

package zatca

import (
	"crypto/sha256"
	"encoding/base64"
)

// GenesisHash anchors the chain for the first invoice of a tenant/environment
// sequence: base64(SHA-256("0")).
var GenesisHash = func() string {
	h := sha256.Sum256([]byte("0"))
	return base64.StdEncoding.EncodeToString(h[:])
}()

// ChainHash computes base64(SHA-256(previousHash ‖ canonicalXML)). The
// previous hash enters the digest in its base64 string form, exactly as it is
// persisted, so the chain can be re-verified from stored records alone. An
// empty previousHash means chain start and is replaced by GenesisHash.
func ChainHash(canonicalXML []byte, previousHash string) string {
	if previousHash == "" {
		previousHash = GenesisHash
	}
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(canonicalXML)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ValidHash reports whether s is a well-formed chain hash: base64 decoding to
// a 256-bit digest.
func ValidHash(s string) bool {
	b, err := base64.StdEncoding.DecodeString(s)
	return err == nil && len(b) == sha256.Size
}
