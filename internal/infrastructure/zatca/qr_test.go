package zatca_test

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invorya/clearance-api/internal/infrastructure/zatca"
)

func phase1Input() zatca.QRInput {
	return zatca.QRInput{
		SellerName: "Najd Trading Co",
		VATNumber:  "310122393500003",
		IssueTime:  time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		GrandTotal: "1150.00",
		TaxAmount:  "150.00",
	}
}

func TestEncodeQR_Phase1RoundTrip(t *testing.T) {
	payload, err := zatca.EncodeQR(phase1Input())
	require.NoError(t, err)

	tags, err := zatca.DecodeQR(payload)
	require.NoError(t, err)

	assert.Equal(t, "Najd Trading Co", string(tags[1]))
	assert.Equal(t, "310122393500003", string(tags[2]))
	assert.Equal(t, "2026-03-14T09:26:53Z", string(tags[3]))
	assert.Equal(t, "1150.00", string(tags[4]))
	assert.Equal(t, "150.00", string(tags[5]))

	// Phase-1 payloads never carry the signature tags.
	assert.NotContains(t, tags, byte(6))
	assert.NotContains(t, tags, byte(7))
	assert.NotContains(t, tags, byte(8))
}

func TestEncodeQR_Phase2AddsSignatureTags(t *testing.T) {
	in := phase1Input()
	in.Hash = "contentHash=="
	in.Signature = []byte("sig-bytes")
	in.PublicKey = []byte{0x30, 0x82, 0x01, 0x22}

	payload, err := zatca.EncodeQR(in)
	require.NoError(t, err)

	tags, err := zatca.DecodeQR(payload)
	require.NoError(t, err)

	assert.Equal(t, "contentHash==", string(tags[6]))
	assert.Equal(t, "sig-bytes", string(tags[7]))
	assert.Equal(t, []byte{0x30, 0x82, 0x01, 0x22}, tags[8])
}

func TestEncodeQR_TimestampNormalizedToUTC(t *testing.T) {
	riyadh := time.FixedZone("AST", 3*60*60)
	in := phase1Input()
	in.IssueTime = time.Date(2026, 3, 14, 12, 26, 53, 0, riyadh)

	payload, err := zatca.EncodeQR(in)
	require.NoError(t, err)
	tags, err := zatca.DecodeQR(payload)
	require.NoError(t, err)

	assert.Equal(t, "2026-03-14T09:26:53Z", string(tags[3]))
}

func TestEncodeQR_RealSignerOutputRoundTrip(t *testing.T) {
	// A 2048-bit RSA certificate produces a 256-byte raw signature and a
	// ~294-byte DER public key, both past a single TLV length byte.
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("<Invoice/>"))
	signature, err := rsa.SignPKCS1v15(nil, key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	require.Greater(t, len(signature), 255)
	require.Greater(t, len(pubDER), 255)

	in := phase1Input()
	in.Hash = "contentHash=="
	in.Signature = signature
	in.PublicKey = pubDER

	payload, err := zatca.EncodeQR(in)
	require.NoError(t, err)

	tags, err := zatca.DecodeQR(payload)
	require.NoError(t, err)
	assert.Equal(t, signature, tags[7])
	assert.Equal(t, pubDER, tags[8])
	assert.Equal(t, "310122393500003", string(tags[2]),
		"short fields must survive alongside extended-length ones")
}

func TestEncodeQR_OversizedValueRejected(t *testing.T) {
	in := phase1Input()
	in.Hash = "h"
	in.Signature = []byte(strings.Repeat("x", 0x10000))
	in.PublicKey = []byte("pub")

	_, err := zatca.EncodeQR(in)
	assert.Error(t, err, "TLV values are limited to 65535 bytes")
}

func TestDecodeQR_RejectsGarbage(t *testing.T) {
	_, err := zatca.DecodeQR("not-base64!!")
	assert.Error(t, err)

	// Valid base64, truncated TLV value.
	_, err = zatca.DecodeQR("AQU=") // tag 1, declared length 5, no value bytes
	assert.Error(t, err)

	// Extended length marker with no length bytes behind it.
	_, err = zatca.DecodeQR("Af8=") // tag 1, 0xFF marker, nothing else
	assert.Error(t, err)
}

func TestRenderPNG(t *testing.T) {
	payload, err := zatca.EncodeQR(phase1Input())
	require.NoError(t, err)

	png, err := zatca.RenderPNG(payload, 256)
	require.NoError(t, err)
	require.NotEmpty(t, png)
	assert.Equal(t, "\x89PNG", string(png[:4]))
}
