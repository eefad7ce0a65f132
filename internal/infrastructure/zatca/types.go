// Package zatca implements the canonical UBL 2.1 XML generation, the QR
// payload and the clearance API client for the two-phase e-invoicing scheme.
package zatca

import (
	"github.com/invorya/clearance-api/internal/domain/zatca"
)

// BuildContext carries everything the XML builder needs for one invoice. The
// same context always yields byte-identical XML.
type BuildContext struct {
	Request *zatca.InvoiceRequest

	// UUID is the document UUID written into cbc:UUID. For Phase-2 it is
	// either supplied by the caller or generated by the orchestrator before
	// building.
	UUID string

	// ICV is the invoice counter value within the tenant/environment sequence.
	ICV int64

	// PreviousHash is the predecessor's content hash (chain link); the
	// genesis value for the first invoice of a sequence.
	PreviousHash string
}
