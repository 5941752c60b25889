package receipt

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/skip2/go-qrcode"

	"fee-receipt-service/internal/keys"
)

const qrCodeSize = 256

// SignedReceipt is the authoritative proof of payment, created once at
// payment completion and immutable thereafter. Hash is a cached value:
// recomputing SHA-256 over CanonicalData always reproduces it.
type SignedReceipt struct {
	CanonicalData string
	Hash          string
	Signature     string
}

// QRPayload is the wire format embedded in the QR code printed on the
// rendered receipt. It is the only channel the verifier trusts.
type QRPayload struct {
	Sig  string `json:"sig"`
	Data string `json:"data"`
}

// Signer produces signed receipts for completed transactions.
type Signer struct {
	keys    *keys.Service
	verbose bool
}

// NewSigner creates a signer backed by the given key material.
func NewSigner(keySvc *keys.Service, verbose bool) *Signer {
	return &Signer{
		keys:    keySvc,
		verbose: verbose,
	}
}

// SignTransaction builds the canonical receipt string for the transaction
// attributes, hashes it, and signs the hash. Hash-then-sign: the signature
// covers the hex SHA-256 digest, and the verifier performs the same
// two-stage reconstruction.
func (s *Signer) SignTransaction(studentID, studentName string, amount float64, date time.Time, transactionID string) (*SignedReceipt, error) {
	canonical := BuildCanonical(studentID, studentName, amount, date, transactionID)

	sum := sha256.Sum256([]byte(canonical))
	hash := hex.EncodeToString(sum[:])

	signature, err := s.keys.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign receipt: %v", err)
	}

	if s.verbose {
		log.Printf("[RECEIPT] Signed receipt for transaction %s (hash %s...)", transactionID, hash[:8])
	}

	return &SignedReceipt{
		CanonicalData: canonical,
		Hash:          hash,
		Signature:     signature,
	}, nil
}

// QRPayloadJSON returns the JSON-serialized QR payload for the receipt.
func (r *SignedReceipt) QRPayloadJSON() (string, error) {
	payload, err := json.Marshal(QRPayload{
		Sig:  r.Signature,
		Data: r.CanonicalData,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal QR payload: %v", err)
	}

	return string(payload), nil
}

// QRCodeDataURL renders the receipt's QR payload as a PNG data URL for
// embedding in the receipt artifact.
func (r *SignedReceipt) QRCodeDataURL() (string, error) {
	payload, err := r.QRPayloadJSON()
	if err != nil {
		return "", err
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, qrCodeSize)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %v", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
