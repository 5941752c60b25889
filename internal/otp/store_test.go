package otp

import (
	"errors"
	"regexp"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	store := NewStore(time.Minute, false)

	code, err := store.Generate("tx-1")
	if err != nil {
		t.Fatalf("Failed to generate code: %v", err)
	}

	if !regexp.MustCompile(`^\d{6}$`).MatchString(code) {
		t.Errorf("Expected a 6-digit code, got %q", code)
	}
	if store.Pending() != 1 {
		t.Errorf("Expected 1 pending code, got %d", store.Pending())
	}
}

func TestConsumeAtMostOnce(t *testing.T) {
	store := NewStore(time.Minute, false)

	code, err := store.Generate("tx-1")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Consume("tx-1", code); err != nil {
		t.Fatalf("First consume failed: %v", err)
	}

	// Double submission of a consumed code must fail
	if err := store.Consume("tx-1", code); !errors.Is(err, ErrNoCode) {
		t.Fatalf("Expected ErrNoCode on second consume, got %v", err)
	}
}

func TestConsumeMismatchAllowsRetry(t *testing.T) {
	store := NewStore(time.Minute, false)

	code, err := store.Generate("tx-1")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Consume("tx-1", "000000"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("Expected ErrCodeMismatch, got %v", err)
	}

	// A mismatch must not consume the code
	if err := store.Consume("tx-1", code); err != nil {
		t.Fatalf("Retry with the correct code failed: %v", err)
	}
}

func TestConsumeExpired(t *testing.T) {
	store := NewStore(-time.Second, false)

	code, err := store.Generate("tx-1")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Consume("tx-1", code); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("Expected ErrCodeExpired, got %v", err)
	}
	if store.Pending() != 0 {
		t.Error("Expired code must be removed on consume")
	}
}

func TestConsumeUnknownTransaction(t *testing.T) {
	store := NewStore(time.Minute, false)

	if err := store.Consume("tx-unknown", "123456"); !errors.Is(err, ErrNoCode) {
		t.Fatalf("Expected ErrNoCode, got %v", err)
	}
}

func TestCleanup(t *testing.T) {
	store := NewStore(-time.Second, false)

	if _, err := store.Generate("tx-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Generate("tx-2"); err != nil {
		t.Fatal(err)
	}

	store.Cleanup()

	if store.Pending() != 0 {
		t.Errorf("Expected 0 pending codes after cleanup, got %d", store.Pending())
	}
}
