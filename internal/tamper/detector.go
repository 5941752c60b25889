package tamper

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"time"

	"fee-receipt-service/internal/receipt"
)

// DisplayDateFormat is the format rendered receipts print the completion
// timestamp in. The date check matches the full date-and-time string so a
// time-only edit is still caught.
const DisplayDateFormat = "02 Jan 2006 15:04:05"

// Report is the outcome of cross-checking an artifact's rendered text
// against its QR payload. A tampered report is conclusive on its own; a
// clean report still needs cryptographic confirmation of Payload.
type Report struct {
	Tampered bool               `json:"tampered"`
	Field    string             `json:"field,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	Payload  *receipt.QRPayload `json:"payload,omitempty"`
}

// Detector cross-validates the untrusted rendered text of a receipt
// artifact against the trusted signed payload embedded in its QR code. A
// forger can edit the visible text of a PDF but cannot forge a new valid
// signature, so any disagreement between the two channels is tampering.
type Detector struct {
	verbose bool
}

// NewDetector creates a tamper detector.
func NewDetector(verbose bool) *Detector {
	return &Detector{verbose: verbose}
}

// InspectPDF extracts the QR payload and text layer from a PDF receipt and
// cross-checks them. Artifact parse failures, a missing QR code, and a
// malformed QR payload are returned as distinct errors; tampering is
// reported in the Report, not as an error.
func (d *Detector) InspectPDF(r io.ReaderAt, size int64) (*Report, error) {
	text, qrData, err := extractPDF(r, size)
	if err != nil {
		return nil, err
	}

	return d.check(qrData, text)
}

// InspectImage extracts the QR payload from an image receipt. Images carry
// no extractable text layer, so only the payload is recovered; the
// cryptographic check is the sole defence for image artifacts.
func (d *Detector) InspectImage(r io.Reader) (*Report, error) {
	qrData, err := extractImageQR(r)
	if err != nil {
		return nil, err
	}

	return d.check(qrData, "")
}

func (d *Detector) check(qrData, text string) (*Report, error) {
	var payload receipt.QRPayload
	if err := json.Unmarshal([]byte(qrData), &payload); err != nil {
		return nil, fmt.Errorf("%w: not valid JSON", ErrBadPayload)
	}
	if payload.Sig == "" || payload.Data == "" {
		return nil, fmt.Errorf("%w: missing signature or data", ErrBadPayload)
	}

	fields, version, err := receipt.ParseCanonical(payload.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	// Legacy receipts predate the rendered-text cross-check: their signed
	// data never contained the name or date printed on the artifact.
	if version == receipt.VersionLegacy || text == "" {
		return &Report{Payload: &payload}, nil
	}

	if field, reason := d.checkFields(fields, text); field != "" {
		if d.verbose {
			log.Printf("[TAMPER] Detected: %s", reason)
		}
		return &Report{
			Tampered: true,
			Field:    field,
			Reason:   reason,
			Payload:  &payload,
		}, nil
	}

	return &Report{Payload: &payload}, nil
}

// checkFields asserts each canonical field appears in the rendered text
// using strict boundary matching. Returns the first mismatched field.
func (d *Detector) checkFields(fields *receipt.VerifiedFields, text string) (string, string) {
	if !containsWord(text, fields.StudentName) {
		return "student_name", fmt.Sprintf("visible name does not match digital record (%q not found)", fields.StudentName)
	}

	if !containsAmount(text, fields.Amount) {
		return "amount", fmt.Sprintf("visible amount does not match digital record (%s)", fields.Amount)
	}

	if !containsTimestamp(text, fields.Date) {
		return "date", "visible date/time does not match digital record"
	}

	if !containsWord(text, fields.TransactionID) {
		return "transaction_id", fmt.Sprintf("visible transaction ID does not match digital record (%s)", fields.TransactionID)
	}

	return "", ""
}

// containsAmount matches the amount as an isolated numeral: the matched
// text must not adjoin another digit on either side, so 12000 does not
// match inside 120000. Thousands separators in the rendered text are
// stripped before matching.
func containsAmount(text, amount string) bool {
	clean := strings.ReplaceAll(text, ",", "")
	re, err := regexp.Compile(`(^|[^0-9])` + regexp.QuoteMeta(amount) + `([^0-9]|$)`)
	if err != nil {
		return false
	}
	return re.MatchString(clean)
}

// containsWord matches s on word boundaries, so a prefix of a longer token
// does not count as present.
func containsWord(text, s string) bool {
	if s == "" {
		return false
	}
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(s) + `\b`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// containsTimestamp requires the fully formatted date-and-time string to be
// present, in either the display format or the canonical RFC3339 form. No
// date-only fallback: a receipt whose date matches but whose time was
// edited is tampered.
func containsTimestamp(text, canonicalDate string) bool {
	candidates := []string{canonicalDate}
	if t, err := time.Parse(time.RFC3339, canonicalDate); err == nil {
		candidates = append(candidates, t.UTC().Format(DisplayDateFormat))
	}

	for _, candidate := range candidates {
		re, err := regexp.Compile(`(^|[^0-9])` + regexp.QuoteMeta(candidate) + `([^0-9]|$)`)
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			return true
		}
	}

	return false
}
