package storage

import (
	"fmt"
	"log"
	"sync"
	"time"

	"fee-receipt-service/internal/models"
)

// MemoryStorage provides thread-safe in-memory storage for transactions
type MemoryStorage struct {
	mu           sync.RWMutex
	transactions map[string]*models.Transaction // key: transaction ID
	verbose      bool
}

// NewMemoryStorage creates a new in-memory storage instance
func NewMemoryStorage(verbose bool) *MemoryStorage {
	return &MemoryStorage{
		transactions: make(map[string]*models.Transaction),
		verbose:      verbose,
	}
}

// Store stores a transaction indexed by its ID
func (ms *MemoryStorage) Store(tx *models.Transaction) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.transactions[tx.ID]; exists {
		return fmt.Errorf("transaction ID already exists")
	}

	cp := *tx
	ms.transactions[tx.ID] = &cp

	if ms.verbose {
		log.Printf("[STORAGE] Stored transaction %s (%s)", tx.ID, tx.Status)
	}

	return nil
}

// Get retrieves a transaction by ID
func (ms *MemoryStorage) Get(id string) (*models.Transaction, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	tx, exists := ms.transactions[id]
	if !exists {
		return nil, fmt.Errorf("transaction not found")
	}

	cp := *tx
	return &cp, nil
}

// FindPending returns the pending transaction for a student and fee, if any.
// Re-initiating a payment updates this record instead of duplicating it.
func (ms *MemoryStorage) FindPending(studentID, feeID string) *models.Transaction {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, tx := range ms.transactions {
		if tx.StudentID == studentID && tx.FeeID == feeID && tx.Status == models.StatusPending {
			cp := *tx
			return &cp
		}
	}

	return nil
}

// HasCompleted reports whether the student has already paid the fee
func (ms *MemoryStorage) HasCompleted(studentID, feeID string) bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, tx := range ms.transactions {
		if tx.StudentID == studentID && tx.FeeID == feeID && tx.Status == models.StatusCompleted {
			return true
		}
	}

	return false
}

// UpdatePending overwrites the card data and amount of a pending transaction
func (ms *MemoryStorage) UpdatePending(id string, amount float64, encryptedCard, cardIV string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	tx, exists := ms.transactions[id]
	if !exists {
		return fmt.Errorf("transaction not found")
	}
	if tx.Status != models.StatusPending {
		return fmt.Errorf("transaction is not pending")
	}

	tx.Amount = amount
	tx.EncryptedCardData = encryptedCard
	tx.CardIV = cardIV

	if ms.verbose {
		log.Printf("[STORAGE] Updated pending transaction %s", id)
	}

	return nil
}

// Complete marks a pending transaction completed and attaches its receipt
// hash and signature. Completed transactions cannot be completed again:
// this is the single signing opportunity.
func (ms *MemoryStorage) Complete(id string, completedAt time.Time, hash, signature string) (*models.Transaction, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	tx, exists := ms.transactions[id]
	if !exists {
		return nil, fmt.Errorf("transaction not found")
	}
	if tx.Status == models.StatusCompleted {
		return nil, fmt.Errorf("transaction already completed")
	}

	tx.Status = models.StatusCompleted
	tx.CompletedAt = completedAt
	tx.ReceiptHash = hash
	tx.DigitalSignature = signature

	if ms.verbose {
		log.Printf("[STORAGE] Completed transaction %s", id)
	}

	cp := *tx
	return &cp, nil
}

// Stats returns storage statistics
func (ms *MemoryStorage) Stats() (int, int) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	total := len(ms.transactions)
	completed := 0

	for _, tx := range ms.transactions {
		if tx.Status == models.StatusCompleted {
			completed++
		}
	}

	return total, completed
}
