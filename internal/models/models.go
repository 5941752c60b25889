package models

import (
	"fmt"
	"strings"
	"time"

	"fee-receipt-service/internal/receipt"
)

// TransactionStatus represents the lifecycle state of a payment transaction
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "Pending"
	StatusCompleted TransactionStatus = "Completed"
)

// Transaction is one fee payment attempt. Completed transactions are
// immutable with respect to their receipt hash and signature.
type Transaction struct {
	ID                string            `json:"id"`
	StudentID         string            `json:"student_id"`
	StudentName       string            `json:"student_name"`
	StudentEmail      string            `json:"student_email"`
	FeeID             string            `json:"fee_id"`
	Amount            float64           `json:"amount"`
	EncryptedCardData string            `json:"-"`
	CardIV            string            `json:"-"`
	Status            TransactionStatus `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
	CompletedAt       time.Time         `json:"completed_at,omitempty"`
	ReceiptHash       string            `json:"receipt_hash,omitempty"`
	DigitalSignature  string            `json:"digital_signature,omitempty"`
}

// InitiateRequest starts a payment: card data is encrypted and an OTP is
// dispatched to the student
type InitiateRequest struct {
	StudentID    string  `json:"student_id"`
	StudentName  string  `json:"student_name"`
	StudentEmail string  `json:"student_email"`
	FeeID        string  `json:"fee_id"`
	Amount       float64 `json:"amount"`
	CardNumber   string  `json:"card_number"`
	CVV          string  `json:"cvv"`
}

// Validate checks an initiate request
func (req *InitiateRequest) Validate() error {
	if req.StudentID == "" {
		return fmt.Errorf("student_id is required")
	}
	if req.StudentName == "" {
		return fmt.Errorf("student_name is required")
	}
	if req.StudentEmail == "" || !strings.Contains(req.StudentEmail, "@") {
		return fmt.Errorf("student_email must be a valid email address")
	}
	if req.FeeID == "" {
		return fmt.Errorf("fee_id is required")
	}
	if req.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if req.CardNumber == "" {
		return fmt.Errorf("card_number is required")
	}
	if req.CVV == "" {
		return fmt.Errorf("cvv is required")
	}
	return nil
}

// InitiateResponse acknowledges a payment initiation
type InitiateResponse struct {
	TransactionID string `json:"transaction_id"`
	Message       string `json:"message"`
}

// ConfirmRequest completes a payment with the emailed OTP
type ConfirmRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	OTP           string `json:"otp" binding:"required"`
}

// ConfirmResponse carries the signed receipt back to the student
type ConfirmResponse struct {
	Message string         `json:"message"`
	Receipt ReceiptPayload `json:"receipt"`
}

// ReceiptPayload is the receipt as rendered to the paying student
type ReceiptPayload struct {
	TransactionID string  `json:"transaction_id"`
	StudentName   string  `json:"student_name"`
	Amount        float64 `json:"amount"`
	Date          string  `json:"date"`
	Hash          string  `json:"hash"`
	Signature     string  `json:"signature"`
	QRCodeURL     string  `json:"qr_code_url"`
}

// VerifyRequest is the public verification request: signature and canonical
// data as extracted from a receipt's QR code
type VerifyRequest struct {
	Signature    string `json:"signature" binding:"required"`
	OriginalData string `json:"original_data" binding:"required"`
}

// PublicKeyResponse exposes the receipt signing public key
type PublicKeyResponse struct {
	Algorithm string `json:"algorithm"`
	Format    string `json:"format"`
	PublicKey string `json:"public_key"`
}

// InspectResponse is the outcome of inspecting an uploaded receipt
// artifact: the rendered-text tamper verdict plus, for clean artifacts,
// the cryptographic verification result
type InspectResponse struct {
	Tampered     bool            `json:"tampered"`
	Field        string          `json:"field,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Verification *receipt.Result `json:"verification,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
