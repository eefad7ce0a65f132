package zatca_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invorya/clearance-api/internal/domain/zatca"
)

// ──────────────────────────────────────────────────────────────────────────────
// TestChainHash_ExactVector pins the chain-hash construction to known values.
//
// This test is the canary of the whole clearance integration: if anyone
// inadvertently changes the digest input order, the genesis value or the
// encoding, the stored hash chain of every tenant stops verifying — and this
// test fails first.
//
// Vectors computed independently:
//
//	genesis = base64(SHA-256("0"))
//	h1      = base64(SHA-256(genesis ‖ "<Invoice/>"))
//	h2      = base64(SHA-256(h1 ‖ "<Invoice/>"))
// ──────────────────────────────────────────────────────────────────────────────

const (
	expectedGenesis = "X+zrZv/IbzjZUnhsbWlsecLbwjndTpG0ZynXOif7V+k="
	expectedH1      = "+D9PEN4lRZnM/r5T5kd026gdvV6KFZrDZ4Q9LQEJFVA="
	expectedH2      = "XBBmdc4nf6CX929q5K+03clN7lpJczJKHG6XhwXa8g4="
)

func TestChainHash_ExactVector(t *testing.T) {
	require.Equal(t, expectedGenesis, zatca.GenesisHash,
		"genesis value must never change: it anchors every stored chain")

	h1 := zatca.ChainHash([]byte("<Invoice/>"), "")
	assert.Equal(t, expectedH1, h1, "first link must chain from the genesis value")

	h2 := zatca.ChainHash([]byte("<Invoice/>"), h1)
	assert.Equal(t, expectedH2, h2, "second link must chain from the first")
}

// TestChainHash_Deterministic verifies the round-trip property: recomputing
// the hash from the same XML and predecessor always reproduces it.
func TestChainHash_Deterministic(t *testing.T) {
	xml := []byte("<Invoice><cbc:ID>INV-1</cbc:ID></Invoice>")
	h1 := zatca.ChainHash(xml, zatca.GenesisHash)
	h2 := zatca.ChainHash(xml, zatca.GenesisHash)
	assert.Equal(t, h1, h2, "same input must always produce the same hash")
}

func TestChainHash_EmptyPreviousMeansGenesis(t *testing.T) {
	xml := []byte("<Invoice/>")
	assert.Equal(t, zatca.ChainHash(xml, zatca.GenesisHash), zatca.ChainHash(xml, ""),
		"empty previous hash must be treated as chain start")
}

// TestChainHash_PredecessorSensitivity: changing only the predecessor changes
// the hash, which is what makes omission or reordering detectable.
func TestChainHash_PredecessorSensitivity(t *testing.T) {
	xml := []byte("<Invoice/>")
	a := zatca.ChainHash(xml, zatca.GenesisHash)
	b := zatca.ChainHash(xml, a)
	assert.NotEqual(t, a, b, "same XML under different predecessors must hash differently")
}

func TestChainHash_ContentSensitivity(t *testing.T) {
	a := zatca.ChainHash([]byte("<Invoice>a</Invoice>"), zatca.GenesisHash)
	b := zatca.ChainHash([]byte("<Invoice>b</Invoice>"), zatca.GenesisHash)
	assert.NotEqual(t, a, b, "a single byte of content difference must change the hash")
}

func TestValidHash(t *testing.T) {
	assert.True(t, zatca.ValidHash(zatca.GenesisHash), "genesis is a valid 256-bit hash")
	assert.True(t, zatca.ValidHash(zatca.ChainHash([]byte("x"), "")))
	assert.False(t, zatca.ValidHash("not-base64!!"), "invalid base64 must be rejected")
	assert.False(t, zatca.ValidHash("c2hvcnQ="), "digest of the wrong size must be rejected")
}
