package email

import (
	"fmt"
	"log"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Service delivers one-time payment confirmation codes. Delivery is
// fire-and-forget relative to the request that triggered it: a failed send
// is logged, never surfaced as a payment failure.
type Service interface {
	SendOTP(toEmail, toName, code string, amount float64) error
}

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

type sendgridService struct {
	key       string
	from      *sgmail.Email
	fromEmail string
}

var _ Service = (*sendgridService)(nil)

// NewSendgridService creates a sendgrid-backed mail service.
func NewSendgridService(apiKey, fromName, fromEmail string) Service {
	return &sendgridService{
		key:  apiKey,
		from: sgmail.NewEmail(fromName, fromEmail),
	}
}

func (svc *sendgridService) SendOTP(toEmail, toName, code string, amount float64) error {
	subject := "Payment Verification Code"
	body := fmt.Sprintf(
		"Your One-Time Password (OTP) for payment confirmation is: %s\n\nAmount: Rs. %.2f\n\nThis code is valid for this transaction only.",
		code, amount,
	)

	m := sgmail.NewSingleEmail(svc.from, subject, sgmail.NewEmail(toName, toEmail), body, "")

	request := sendgrid.GetRequest(svc.key, sendgridEndpoint, sendgridHost)
	request.Method = http.MethodPost
	request.Body = sgmail.GetRequestBody(m)

	resp, err := sendgrid.API(request)
	if err != nil {
		return fmt.Errorf("failed to send OTP email: %v", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}

	return nil
}

type consoleService struct{}

var _ Service = (*consoleService)(nil)

// NewConsoleService creates a mail service that writes codes to the log
// instead of sending them. Used in development and tests.
func NewConsoleService() Service {
	return &consoleService{}
}

func (svc *consoleService) SendOTP(toEmail, toName, code string, amount float64) error {
	log.Printf("[EMAIL] OTP for %s <%s>: %s (amount: Rs. %.2f)", toName, toEmail, code, amount)
	return nil
}
