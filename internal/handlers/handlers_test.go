package handlers

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	qrgen "github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fee-receipt-service/internal/crypto"
	"fee-receipt-service/internal/email"
	"fee-receipt-service/internal/keys"
	"fee-receipt-service/internal/models"
	"fee-receipt-service/internal/otp"
	"fee-receipt-service/internal/receipt"
	"fee-receipt-service/internal/storage"
	"fee-receipt-service/internal/tamper"
)

// captureMailer records dispatched OTP codes for tests
type captureMailer struct {
	codes chan string
}

var _ email.Service = (*captureMailer)(nil)

func (m *captureMailer) SendOTP(toEmail, toName, code string, amount float64) error {
	m.codes <- code
	return nil
}

func (m *captureMailer) waitForCode(t *testing.T) string {
	t.Helper()

	select {
	case code := <-m.codes:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for OTP dispatch")
		return ""
	}
}

type testEnv struct {
	router *gin.Engine
	mailer *captureMailer
	keys   *keys.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	keySvc, err := keys.NewService("test-secret", t.TempDir(), false)
	require.NoError(t, err)

	encryptor, err := crypto.NewEncryptor(keySvc.SymmetricKey(), false)
	require.NoError(t, err)

	mailer := &captureMailer{codes: make(chan string, 4)}

	handler := NewHandler(
		keySvc,
		encryptor,
		receipt.NewSigner(keySvc, false),
		receipt.NewVerifier(keySvc, false),
		tamper.NewDetector(false),
		storage.NewMemoryStorage(false),
		otp.NewStore(time.Minute, false),
		mailer,
		false,
	)

	return &testEnv{
		router: SetupRouter(handler, false),
		mailer: mailer,
		keys:   keySvc,
	}
}

func (env *testEnv) postJSON(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func initiateBody() models.InitiateRequest {
	return models.InitiateRequest{
		StudentID:    "S1",
		StudentName:  "Alice",
		StudentEmail: "alice@example.edu",
		FeeID:        "F1",
		Amount:       5000,
		CardNumber:   "4111111111111111",
		CVV:          "123",
	}
}

func TestPaymentFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.postJSON(t, "/payments/initiate", initiateBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var initResp models.InitiateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &initResp))
	require.NotEmpty(t, initResp.TransactionID)

	code := env.mailer.waitForCode(t)

	// Wrong code is rejected and leaves the real one usable
	w = env.postJSON(t, "/payments/confirm", models.ConfirmRequest{
		TransactionID: initResp.TransactionID,
		OTP:           "000000",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.postJSON(t, "/payments/confirm", models.ConfirmRequest{
		TransactionID: initResp.TransactionID,
		OTP:           code,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var confirmResp models.ConfirmResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &confirmResp))
	assert.Equal(t, "Alice", confirmResp.Receipt.StudentName)
	assert.NotEmpty(t, confirmResp.Receipt.Hash)
	assert.NotEmpty(t, confirmResp.Receipt.Signature)
	assert.Contains(t, confirmResp.Receipt.QRCodeURL, "data:image/png;base64,")

	// The issued receipt verifies through the public endpoint
	completedAt, err := time.Parse(time.RFC3339, confirmResp.Receipt.Date)
	require.NoError(t, err)
	canonical := receipt.BuildCanonical("S1", "Alice", 5000, completedAt, initResp.TransactionID)

	w = env.postJSON(t, "/verify-receipt", models.VerifyRequest{
		Signature:    confirmResp.Receipt.Signature,
		OriginalData: canonical,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result receipt.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Valid, result.Message)
	assert.Equal(t, "Alice", result.Fields.StudentName)

	// The consumed code cannot confirm again
	w = env.postJSON(t, "/payments/confirm", models.ConfirmRequest{
		TransactionID: initResp.TransactionID,
		OTP:           code,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The fee cannot be paid twice
	w = env.postJSON(t, "/payments/initiate", initiateBody())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInitiateReusesPendingTransaction(t *testing.T) {
	env := newTestEnv(t)

	w := env.postJSON(t, "/payments/initiate", initiateBody())
	require.Equal(t, http.StatusOK, w.Code)
	var first models.InitiateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	body := initiateBody()
	body.Amount = 6000
	w = env.postJSON(t, "/payments/initiate", body)
	require.Equal(t, http.StatusOK, w.Code)
	var second models.InitiateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))

	assert.Equal(t, first.TransactionID, second.TransactionID)
}

func TestInitiateValidation(t *testing.T) {
	env := newTestEnv(t)

	body := initiateBody()
	body.CardNumber = ""

	w := env.postJSON(t, "/payments/initiate", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmUnknownTransaction(t *testing.T) {
	env := newTestEnv(t)

	w := env.postJSON(t, "/payments/confirm", models.ConfirmRequest{
		TransactionID: "missing",
		OTP:           "123456",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyReceiptEndpoint(t *testing.T) {
	env := newTestEnv(t)

	data := "S1|Alice|5000|2024-01-01T00:00:00Z|T100"
	sum := sha256.Sum256([]byte(data))
	signature, err := env.keys.Sign(hex.EncodeToString(sum[:]))
	require.NoError(t, err)

	w := env.postJSON(t, "/verify-receipt", models.VerifyRequest{
		Signature:    signature,
		OriginalData: data,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result receipt.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Valid)

	// Tampered data: structured invalid result, not an error status
	w = env.postJSON(t, "/verify-receipt", models.VerifyRequest{
		Signature:    signature,
		OriginalData: "S1|Alice|50000|2024-01-01T00:00:00Z|T100",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.False(t, result.Valid)

	// Structurally invalid request is the only rejected shape
	w = env.postJSON(t, "/verify-receipt", map[string]string{"signature": signature})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublicKeyEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.get(t, "/public-key")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.PublicKeyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "RSA", resp.Algorithm)
	assert.Equal(t, "PEM", resp.Format)
	assert.Contains(t, resp.PublicKey, "BEGIN PUBLIC KEY")
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestInspectReceiptEndpoint(t *testing.T) {
	env := newTestEnv(t)

	// A genuine receipt QR: canonical data signed with the live key
	completedAt := time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)
	canonical := receipt.BuildCanonical("S1", "Alice", 5000, completedAt, "T100")
	sum := sha256.Sum256([]byte(canonical))
	signature, err := env.keys.Sign(hex.EncodeToString(sum[:]))
	require.NoError(t, err)

	payload, err := json.Marshal(receipt.QRPayload{Sig: signature, Data: canonical})
	require.NoError(t, err)

	png, err := qrgen.Encode(string(payload), qrgen.Medium, 256)
	require.NoError(t, err)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "receipt.png")
	require.NoError(t, err)
	_, err = fw.Write(png)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/inspect-receipt", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.InspectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Tampered)
	require.NotNil(t, resp.Verification)
	assert.True(t, resp.Verification.Valid)
}

func TestInspectReceiptRejectsGarbage(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "receipt.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("definitely not an image"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/inspect-receipt", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
