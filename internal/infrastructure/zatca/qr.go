package zatca

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	domzatca "github.com/invorya/clearance-api/internal/domain/zatca"
)

// TLV tags of the QR payload. Tags 1–5 form the Phase-1 payload; Phase-2 adds
// the content hash, the signature and the signing public key.
const (
	tagSellerName = 1
	tagVATNumber  = 2
	tagTimestamp  = 3
	tagGrandTotal = 4
	tagTaxAmount  = 5
	tagHash       = 6
	tagSignature  = 7
	tagPublicKey  = 8
)

// QRInput is the material encoded into the TLV payload.
type QRInput struct {
	SellerName string
	VATNumber  string
	IssueTime  time.Time
	GrandTotal string // already formatted, 2 decimals
	TaxAmount  string
	Hash       string // phase2: chained content hash (base64)
	Signature  []byte // phase2: raw signature bytes
	PublicKey  []byte // phase2: DER-encoded public key
}

// EncodeQR builds the base64 TLV payload. Each field is tag (1 byte), length,
// value. Values under 255 bytes use a single length byte; longer values (raw
// RSA signatures are 256 bytes at 2048 bits, DER public keys ~294) use the
// extended form: 0xFF marker followed by a big-endian uint16 length.
func EncodeQR(in QRInput) (string, error) {
	var buf bytes.Buffer
	write := func(tag byte, value []byte) error {
		if len(value) > 0xFFFF {
			return fmt.Errorf("zatca: TLV tag %d value exceeds 65535 bytes", tag)
		}
		buf.WriteByte(tag)
		if len(value) < 0xFF {
			buf.WriteByte(byte(len(value)))
		} else {
			buf.WriteByte(0xFF)
			buf.WriteByte(byte(len(value) >> 8))
			buf.WriteByte(byte(len(value)))
		}
		buf.Write(value)
		return nil
	}

	type tlvField struct {
		tag   byte
		value []byte
	}
	fields := []tlvField{
		{tagSellerName, []byte(in.SellerName)},
		{tagVATNumber, []byte(in.VATNumber)},
		{tagTimestamp, []byte(in.IssueTime.UTC().Format(time.RFC3339))},
		{tagGrandTotal, []byte(in.GrandTotal)},
		{tagTaxAmount, []byte(in.TaxAmount)},
	}
	if in.Hash != "" {
		fields = append(fields,
			tlvField{tagHash, []byte(in.Hash)},
			tlvField{tagSignature, in.Signature},
			tlvField{tagPublicKey, in.PublicKey},
		)
	}
	for _, f := range fields {
		if err := write(f.tag, f.value); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeQR parses a TLV payload back into its tag map. Used by tests and by
// the verification tooling; the engine itself only encodes.
func DecodeQR(payload string) (map[byte][]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("zatca: QR payload is not base64: %w", err)
	}
	out := map[byte][]byte{}
	for i := 0; i < len(raw); {
		if i+2 > len(raw) {
			return nil, fmt.Errorf("zatca: truncated TLV header at offset %d", i)
		}
		tag, length := raw[i], int(raw[i+1])
		i += 2
		if length == 0xFF {
			// Extended length: big-endian uint16 follows the marker.
			if i+2 > len(raw) {
				return nil, fmt.Errorf("zatca: truncated extended TLV length for tag %d", tag)
			}
			length = int(raw[i])<<8 | int(raw[i+1])
			i += 2
		}
		if i+length > len(raw) {
			return nil, fmt.Errorf("zatca: truncated TLV value for tag %d", tag)
		}
		out[tag] = raw[i : i+length]
		i += length
	}
	return out, nil
}

// QRInputFromRequest assembles the Phase-1 fields from a validated request.
func QRInputFromRequest(req *domzatca.InvoiceRequest) QRInput {
	return QRInput{
		SellerName: req.Seller.Name,
		VATNumber:  req.Seller.VATNumber,
		IssueTime:  req.IssueTime,
		GrandTotal: req.Totals.GrandTotal.Round(2).StringFixed(2),
		TaxAmount:  req.Totals.TaxAmount.Round(2).StringFixed(2),
	}
}

// RenderPNG renders the payload as a QR PNG for the printable invoice.
func RenderPNG(payload string, size int) ([]byte, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("zatca: render QR: %w", err)
	}
	return png, nil
}
