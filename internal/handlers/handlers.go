package handlers

import (
	"bytes"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fee-receipt-service/internal/crypto"
	"fee-receipt-service/internal/email"
	"fee-receipt-service/internal/keys"
	"fee-receipt-service/internal/models"
	"fee-receipt-service/internal/otp"
	"fee-receipt-service/internal/receipt"
	"fee-receipt-service/internal/storage"
	"fee-receipt-service/internal/tamper"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	keys      *keys.Service
	encryptor *crypto.Encryptor
	signer    *receipt.Signer
	verifier  *receipt.Verifier
	detector  *tamper.Detector
	store     *storage.MemoryStorage
	otps      *otp.Store
	mailer    email.Service
	verbose   bool
}

// NewHandler creates a new handler instance
func NewHandler(
	keySvc *keys.Service,
	encryptor *crypto.Encryptor,
	signer *receipt.Signer,
	verifier *receipt.Verifier,
	detector *tamper.Detector,
	store *storage.MemoryStorage,
	otps *otp.Store,
	mailer email.Service,
	verbose bool,
) *Handler {
	return &Handler{
		keys:      keySvc,
		encryptor: encryptor,
		signer:    signer,
		verifier:  verifier,
		detector:  detector,
		store:     store,
		otps:      otps,
		mailer:    mailer,
		verbose:   verbose,
	}
}

// SetupRouter wires the HTTP routes. Verbose mode enables gin's request
// logging; release mode keeps only the recovery middleware.
func SetupRouter(h *Handler, verbose bool) *gin.Engine {
	var router *gin.Engine
	if verbose {
		gin.SetMode(gin.DebugMode)
		router = gin.Default()
	} else {
		gin.SetMode(gin.ReleaseMode)
		router = gin.New()
		router.Use(gin.Recovery())
	}

	router.POST("/payments/initiate", h.InitiatePayment)
	router.POST("/payments/confirm", h.ConfirmPayment)

	// Public trust boundary: anyone holding a printed receipt can verify
	// it, which is the point of asymmetric signing.
	router.POST("/verify-receipt", h.VerifyReceipt)
	router.POST("/inspect-receipt", h.InspectReceipt)
	router.GET("/public-key", h.GetPublicKey)
	router.GET("/health", h.Health)

	return router
}

// InitiatePayment handles POST /payments/initiate: encrypts the card data,
// records a pending transaction and dispatches a confirmation code.
func (h *Handler) InitiatePayment(c *gin.Context) {
	var req models.InitiateRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request format"})
		return
	}

	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	if h.store.HasCompleted(req.StudentID, req.FeeID) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Fee already paid"})
		return
	}

	// Card number and CVV never leave this handler in the clear.
	encrypted, err := h.encryptor.Encrypt(req.CardNumber + ":" + req.CVV)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to process card data"})
		return
	}

	tx := h.store.FindPending(req.StudentID, req.FeeID)
	if tx != nil {
		// Re-initiation updates the pending attempt instead of duplicating it
		if err := h.store.UpdatePending(tx.ID, req.Amount, encrypted.CiphertextHex, encrypted.IVHex); err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to update transaction"})
			return
		}
	} else {
		tx = &models.Transaction{
			ID:                uuid.NewString(),
			StudentID:         req.StudentID,
			StudentName:       req.StudentName,
			StudentEmail:      req.StudentEmail,
			FeeID:             req.FeeID,
			Amount:            req.Amount,
			EncryptedCardData: encrypted.CiphertextHex,
			CardIV:            encrypted.IVHex,
			Status:            models.StatusPending,
			CreatedAt:         time.Now().UTC(),
		}
		if err := h.store.Store(tx); err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to store transaction"})
			return
		}
	}

	code, err := h.otps.Generate(tx.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to generate verification code"})
		return
	}

	// Fire-and-forget: a failed send is logged but must not fail the
	// initiation response.
	go func(toEmail, toName, code string, amount float64, txID string) {
		if err := h.mailer.SendOTP(toEmail, toName, code, amount); err != nil {
			log.Printf("[EMAIL] Failed to send OTP for transaction %s: %v", txID, err)
		}
	}(req.StudentEmail, req.StudentName, code, req.Amount, tx.ID)

	if h.verbose {
		log.Printf("[PAYMENT] Initiated: student %s, fee %s, transaction %s", req.StudentID, req.FeeID, tx.ID)
	}

	c.JSON(http.StatusOK, models.InitiateResponse{
		TransactionID: tx.ID,
		Message:       "OTP sent",
	})
}

// ConfirmPayment handles POST /payments/confirm: consumes the OTP, marks
// the transaction completed and issues the signed receipt.
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req models.ConfirmRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request format"})
		return
	}

	if err := h.otps.Consume(req.TransactionID, req.OTP); err != nil {
		switch {
		case errors.Is(err, otp.ErrCodeExpired):
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "OTP expired"})
		default:
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid OTP"})
		}
		return
	}

	tx, err := h.store.Get(req.TransactionID)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Transaction not found"})
		return
	}

	completedAt := time.Now().UTC()

	signed, err := h.signer.SignTransaction(tx.StudentID, tx.StudentName, tx.Amount, completedAt, tx.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to sign receipt"})
		return
	}

	tx, err = h.store.Complete(tx.ID, completedAt, signed.Hash, signed.Signature)
	if err != nil {
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error()})
		return
	}

	qrCodeURL, err := signed.QRCodeDataURL()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to render QR code"})
		return
	}

	if h.verbose {
		log.Printf("[PAYMENT] Completed: %s - Rs. %.2f", tx.StudentName, tx.Amount)
	}

	c.JSON(http.StatusOK, models.ConfirmResponse{
		Message: "Payment successful",
		Receipt: models.ReceiptPayload{
			TransactionID: tx.ID,
			StudentName:   tx.StudentName,
			Amount:        tx.Amount,
			Date:          receipt.FormatDate(completedAt),
			Hash:          signed.Hash,
			Signature:     signed.Signature,
			QRCodeURL:     qrCodeURL,
		},
	})
}

// VerifyReceipt handles POST /verify-receipt. The endpoint always answers
// with a structured valid/invalid result; only a structurally invalid
// request body is rejected before verification.
func (h *Handler) VerifyReceipt(c *gin.Context) {
	var req models.VerifyRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "signature and original_data are required"})
		return
	}

	c.JSON(http.StatusOK, h.verifier.Verify(req.Signature, req.OriginalData))
}

// InspectReceipt handles POST /inspect-receipt: multipart upload of a
// rendered receipt (PDF or image). The rendered text is cross-checked
// against the QR payload; clean artifacts are then verified
// cryptographically as the authoritative check.
func (h *Handler) InspectReceipt(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "file is required"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Failed to read uploaded file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Failed to read uploaded file"})
		return
	}

	var report *tamper.Report
	if isPDF(fileHeader, data) {
		report, err = h.detector.InspectPDF(bytes.NewReader(data), int64(len(data)))
	} else {
		report, err = h.detector.InspectImage(bytes.NewReader(data))
	}

	if err != nil {
		var artifactErr *tamper.ArtifactError
		switch {
		case errors.As(err, &artifactErr):
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: artifactErr.Reason})
		case errors.Is(err, tamper.ErrNoQRFound):
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "No QR code detected in the file"})
		case errors.Is(err, tamper.ErrBadPayload):
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "The QR code does not contain valid receipt data"})
		default:
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to inspect receipt"})
		}
		return
	}

	resp := models.InspectResponse{
		Tampered: report.Tampered,
		Field:    report.Field,
		Reason:   report.Reason,
	}

	// A tamper hit is already conclusive; skip the signature check.
	if !report.Tampered {
		resp.Verification = h.verifier.Verify(report.Payload.Sig, report.Payload.Data)
	}

	c.JSON(http.StatusOK, resp)
}

// GetPublicKey handles GET /public-key
func (h *Handler) GetPublicKey(c *gin.Context) {
	c.JSON(http.StatusOK, models.PublicKeyResponse{
		Algorithm: "RSA",
		Format:    "PEM",
		PublicKey: h.keys.PublicKeyPEM(),
	})
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	total, completed := h.store.Stats()

	c.JSON(http.StatusOK, gin.H{
		"status":                 "healthy",
		"transactions_total":     total,
		"transactions_completed": completed,
		"otps_pending":           h.otps.Pending(),
		"timestamp":              time.Now().UTC().Format(time.RFC3339),
	})
}

func isPDF(header *multipart.FileHeader, data []byte) bool {
	return header.Header.Get("Content-Type") == "application/pdf" ||
		bytes.HasPrefix(data, []byte("%PDF"))
}
