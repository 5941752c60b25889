package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"log"

	"fee-receipt-service/internal/keys"
)

// Result is the structured trust verdict returned by the verifier. The
// contract is "always answer valid/invalid with a reason": malformed input
// produces an invalid Result, never a panic.
type Result struct {
	Valid   bool            `json:"valid"`
	Message string          `json:"message"`
	Fields  *VerifiedFields `json:"verified_fields,omitempty"`
	Version string          `json:"version,omitempty"`
	Note    string          `json:"note,omitempty"`
}

// Verifier checks receipt signatures using the public key. Inputs come from
// untrusted callers (QR scans submitted by anyone holding a printed
// receipt), never from storage.
type Verifier struct {
	keys    *keys.Service
	verbose bool
}

// NewVerifier creates a verifier backed by the given key material.
func NewVerifier(keySvc *keys.Service, verbose bool) *Verifier {
	return &Verifier{
		keys:    keySvc,
		verbose: verbose,
	}
}

// Verify recomputes the hash of canonicalData, checks the signature against
// it, and on success parses out the display fields. The call has no side
// effects: verifying the same pair twice yields the same result.
func (v *Verifier) Verify(signature, canonicalData string) *Result {
	sum := sha256.Sum256([]byte(canonicalData))
	hash := hex.EncodeToString(sum[:])

	if v.verbose {
		log.Printf("[VERIFY] Checking signature against hash %s...", hash[:8])
	}

	if !v.keys.Verify(hash, signature) {
		// Generic message: do not leak whether the signature was malformed
		// or merely did not match.
		return &Result{
			Valid:   false,
			Message: "Tampered / invalid receipt",
		}
	}

	fields, version, err := ParseCanonical(canonicalData)
	if err != nil {
		return &Result{
			Valid:   false,
			Message: "Receipt data format not recognized: " + err.Error(),
		}
	}

	note := "Full cryptographic verification active."
	if version == VersionLegacy {
		note = "Legacy receipt verified (limited detail)."
	}

	return &Result{
		Valid:   true,
		Message: "Verified authentic - trusted source",
		Fields:  fields,
		Version: version,
		Note:    note,
	}
}
