package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"fee-receipt-service/internal/config"
	"fee-receipt-service/internal/crypto"
	"fee-receipt-service/internal/email"
	"fee-receipt-service/internal/handlers"
	"fee-receipt-service/internal/keys"
	"fee-receipt-service/internal/otp"
	"fee-receipt-service/internal/receipt"
	"fee-receipt-service/internal/storage"
	"fee-receipt-service/internal/tamper"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// .env is optional; the secret itself is not
	_ = godotenv.Load()

	serverSecret := os.Getenv("APP_SECRET")
	if serverSecret == "" {
		log.Fatalf("CRITICAL: APP_SECRET is missing. Cannot start secure server.")
	}

	// Key material: derived symmetric key plus the persisted RSA identity.
	// Corrupt key files abort startup; regenerating would invalidate every
	// previously issued receipt signature.
	keySvc, err := keys.NewService(serverSecret, cfg.Keys.Dir, cfg.Server.Verbose)
	if err != nil {
		log.Fatalf("Failed to initialize key material: %v", err)
	}

	encryptor, err := crypto.NewEncryptor(keySvc.SymmetricKey(), cfg.Server.Verbose)
	if err != nil {
		log.Fatalf("Failed to initialize encryptor: %v", err)
	}

	signer := receipt.NewSigner(keySvc, cfg.Server.Verbose)
	verifier := receipt.NewVerifier(keySvc, cfg.Server.Verbose)
	detector := tamper.NewDetector(cfg.Server.Verbose)

	store := storage.NewMemoryStorage(cfg.Server.Verbose)

	otpStore := otp.NewStore(cfg.OTPTTL, cfg.Server.Verbose)
	otpStore.StartCleanupRoutine(cfg.OTPCleanupInterval)

	var mailer email.Service
	if cfg.Email.Provider == "sendgrid" {
		apiKey := os.Getenv("SENDGRID_API_KEY")
		if apiKey == "" {
			log.Fatalf("SENDGRID_API_KEY is required when email provider is sendgrid")
		}
		mailer = email.NewSendgridService(apiKey, cfg.Email.FromName, cfg.Email.FromEmail)
	} else {
		mailer = email.NewConsoleService()
		log.Printf("[MAIN] Using console email service - OTP codes will be logged")
	}

	handler := handlers.NewHandler(keySvc, encryptor, signer, verifier, detector, store, otpStore, mailer, cfg.Server.Verbose)
	router := handlers.SetupRouter(handler, cfg.Server.Verbose)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting fee receipt service on port %d", cfg.Server.Port)

	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
