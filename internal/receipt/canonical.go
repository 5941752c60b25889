package receipt

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Receipt data format versions. V2 is the current pipe-delimited layout;
// legacy is the dash-delimited layout of receipts issued before signing
// covered the full field set.
const (
	VersionV2     = "v2"
	VersionLegacy = "legacy"
)

const v2Tag = "v2"

// VerifiedFields are the display fields recovered from canonical receipt
// data after a successful signature check.
type VerifiedFields struct {
	StudentID     string `json:"student_id"`
	StudentName   string `json:"student_name"`
	Amount        string `json:"amount"`
	Date          string `json:"date"`
	TransactionID string `json:"transaction_id"`
}

// FormatAmount renders an amount in its canonical string form. Whole
// amounts have no decimal part ("5000", not "5000.00"); signer and verifier
// must agree byte for byte.
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// FormatDate renders a timestamp in its canonical string form (UTC RFC3339).
func FormatDate(date time.Time) string {
	return date.UTC().Format(time.RFC3339)
}

// BuildCanonical assembles the canonical receipt string. Field order and
// delimiter are part of the signing contract: any change to a value, the
// order, or the delimiter changes the hash.
func BuildCanonical(studentID, studentName string, amount float64, date time.Time, transactionID string) string {
	return strings.Join([]string{
		v2Tag,
		studentID,
		studentName,
		FormatAmount(amount),
		FormatDate(date),
		transactionID,
	}, "|")
}

// ParseCanonical recovers display fields from canonical receipt data and
// reports the detected format version. Tagged v2 strings carry an explicit
// "v2" first segment; untagged 5-field pipe strings are accepted for
// receipts issued before the tag was introduced; anything without a pipe is
// treated as a legacy dash-delimited receipt.
func ParseCanonical(data string) (*VerifiedFields, string, error) {
	if strings.Contains(data, "|") {
		parts := strings.Split(data, "|")

		switch {
		case len(parts) == 6 && parts[0] == v2Tag:
			parts = parts[1:]
		case len(parts) == 5:
			// untagged v2, issued before the explicit version tag
		default:
			return nil, "", fmt.Errorf("malformed pipe-delimited receipt data: expected 5 fields, got %d", len(parts))
		}

		return &VerifiedFields{
			StudentID:     parts[0],
			StudentName:   parts[1],
			Amount:        parts[2],
			Date:          parts[3],
			TransactionID: parts[4],
		}, VersionV2, nil
	}

	// Legacy format: studentID-amount-...-transactionID. Only three fields
	// are recoverable; name and date were never part of the signed data.
	parts := strings.Split(data, "-")
	if len(parts) < 3 {
		return nil, "", fmt.Errorf("malformed legacy receipt data: expected at least 3 fields, got %d", len(parts))
	}

	return &VerifiedFields{
		StudentID:     parts[0],
		Amount:        parts[1],
		TransactionID: parts[len(parts)-1],
		StudentName:   "(Legacy Receipt)",
		Date:          "Legacy Date",
	}, VersionLegacy, nil
}
