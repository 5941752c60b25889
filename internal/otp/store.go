package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"
)

// Consume failure modes callers branch on.
var (
	ErrNoCode       = errors.New("no pending verification code")
	ErrCodeExpired  = errors.New("verification code expired")
	ErrCodeMismatch = errors.New("verification code does not match")
)

type entry struct {
	code      string
	expiresAt time.Time
}

// Store is a short-lived, keyed map of pending one-time payment
// confirmation codes. Codes are consumed at most once: a successful
// Consume deletes the code, and resubmitting it fails.
type Store struct {
	mu      sync.Mutex
	codes   map[string]entry // key: transaction ID
	ttl     time.Duration
	verbose bool
}

// NewStore creates an OTP store with the given code lifetime.
func NewStore(ttl time.Duration, verbose bool) *Store {
	return &Store{
		codes:   make(map[string]entry),
		ttl:     ttl,
		verbose: verbose,
	}
}

// Generate creates a fresh 6-digit code for the transaction, replacing any
// previous one, and returns it for delivery to the student.
func (s *Store) Generate(transactionID string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %v", err)
	}
	code := fmt.Sprintf("%06d", n.Int64()+100000)

	s.mu.Lock()
	s.codes[transactionID] = entry{
		code:      code,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	if s.verbose {
		log.Printf("[OTP] Generated code for transaction %s (ttl %v)", transactionID, s.ttl)
	}

	return code, nil
}

// Consume atomically checks and deletes the code for the transaction. A
// mismatch leaves the code in place for a retry; success and expiry both
// remove it, so no two confirmations can consume the same code.
func (s *Store) Consume(transactionID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.codes[transactionID]
	if !exists {
		return ErrNoCode
	}

	if time.Now().After(e.expiresAt) {
		delete(s.codes, transactionID)
		return ErrCodeExpired
	}

	if e.code != code {
		return ErrCodeMismatch
	}

	delete(s.codes, transactionID)

	if s.verbose {
		log.Printf("[OTP] Code consumed for transaction %s", transactionID)
	}

	return nil
}

// Cleanup removes expired codes.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0

	for transactionID, e := range s.codes {
		if now.After(e.expiresAt) {
			delete(s.codes, transactionID)
			removed++
		}
	}

	if s.verbose && removed > 0 {
		log.Printf("[OTP] Cleanup completed: removed %d expired codes", removed)
	}
}

// StartCleanupRoutine starts a background routine to clean up expired codes.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			s.Cleanup()
		}
	}()

	if s.verbose {
		log.Printf("[OTP] Started cleanup routine (interval: %v)", interval)
	}
}

// Pending returns the number of codes currently awaiting confirmation.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}
