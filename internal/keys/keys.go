package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

const (
	privateKeyFile = "private.pem"
	publicKeyFile  = "public.pem"

	// Fixed salt: the symmetric key is deterministically derived from the
	// server secret so every process arrives at the same key without any
	// key exchange. Rotation requires rotating the server secret itself.
	keyDerivationSalt = "salt"

	rsaKeyBits = 2048
)

// Service holds the loaded-once key material. It is immutable after
// construction and safe for unsynchronized concurrent use.
type Service struct {
	aesKey     []byte
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	publicPEM  string
	verbose    bool
}

// NewService derives the symmetric key from the server secret and loads the
// persisted RSA keypair from keysDir, generating and persisting a new pair
// if none exists yet. A missing secret or corrupt key files are returned as
// errors; callers treat both as fatal (regenerating over a corrupt pair
// would invalidate every previously issued signature).
func NewService(serverSecret, keysDir string, verbose bool) (*Service, error) {
	if serverSecret == "" {
		return nil, fmt.Errorf("server secret is required")
	}

	// scrypt with N=16384, r=8, p=1 for a 32-byte AES-256 key
	aesKey, err := scrypt.Key([]byte(serverSecret), []byte(keyDerivationSalt), 16384, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive symmetric key: %v", err)
	}

	privPath := filepath.Join(keysDir, privateKeyFile)
	pubPath := filepath.Join(keysDir, publicKeyFile)

	if !fileExists(privPath) || !fileExists(pubPath) {
		if err := generateAndPersist(keysDir, privPath, pubPath, verbose); err != nil {
			return nil, err
		}
	}

	// Always load from disk so that concurrent cold starts all end up with
	// the persisted pair, whichever instance won the generation race.
	privateKey, err := loadPrivateKey(privPath)
	if err != nil {
		return nil, err
	}

	publicPEM, publicKey, err := loadPublicKey(pubPath)
	if err != nil {
		return nil, err
	}

	if verbose {
		log.Printf("[KEYS] RSA keypair loaded from %s", keysDir)
	}

	return &Service{
		aesKey:     aesKey,
		privateKey: privateKey,
		publicKey:  publicKey,
		publicPEM:  publicPEM,
		verbose:    verbose,
	}, nil
}

// SymmetricKey returns the derived 32-byte AES key.
func (s *Service) SymmetricKey() []byte {
	return s.aesKey
}

// Sign signs the hex-encoded receipt hash with the private key and returns
// the signature base64-encoded. The signature covers the hex digest string,
// not the raw canonical data; Verify reconstructs the exact same input.
func (s *Service) Sign(hashHex string) (string, error) {
	digest := sha256.Sum256([]byte(hashHex))

	signature, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign hash: %v", err)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}

// Verify checks a base64 signature against the hex-encoded hash using the
// public key.
func (s *Service) Verify(hashHex, signatureBase64 string) bool {
	signature, err := base64.StdEncoding.DecodeString(signatureBase64)
	if err != nil {
		return false
	}

	digest := sha256.Sum256([]byte(hashHex))
	return rsa.VerifyPKCS1v15(s.publicKey, crypto.SHA256, digest[:], signature) == nil
}

// PublicKeyPEM returns the PEM-encoded public key for distribution.
func (s *Service) PublicKeyPEM() string {
	return s.publicPEM
}

// generateAndPersist generates a fresh RSA keypair and persists both halves.
// Writes are create-if-absent (temp file + hard link), so when multiple cold
// instances race, exactly one generation wins and the losers load the
// winner's pair from disk.
func generateAndPersist(keysDir, privPath, pubPath string, verbose bool) error {
	if err := os.MkdirAll(keysDir, 0o700); err != nil {
		return fmt.Errorf("failed to create keys dir: %v", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return fmt.Errorf("failed to generate RSA keypair: %v", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	if err := writeIfAbsent(privPath, privPEM, 0o600); err != nil {
		return err
	}
	if err := writeIfAbsent(pubPath, pubPEM, 0o644); err != nil {
		return err
	}

	if verbose {
		log.Printf("[KEYS] Generated new RSA keypair in %s", keysDir)
	}

	return nil
}

// writeIfAbsent writes data to path atomically, keeping an existing file if
// another process created it first.
func writeIfAbsent(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".key-*")
	if err != nil {
		return fmt.Errorf("failed to create temp key file: %v", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write key file: %v", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod key file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close key file: %v", err)
	}

	// Hard link fails with EEXIST if a concurrent instance already
	// persisted its pair; that instance won and we load its files.
	if err := os.Link(tmpName, path); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to persist key file: %v", err)
	}

	return nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %v", err)
	}

	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block for private key")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	return privateKey, nil
}

func loadPublicKey(path string) (string, *rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read public key: %v", err)
	}

	block, _ := pem.Decode(keyData)
	if block == nil {
		return "", nil, fmt.Errorf("failed to decode PEM block for public key")
	}

	publicKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse public key: %v", err)
	}

	rsaPublicKey, ok := publicKey.(*rsa.PublicKey)
	if !ok {
		return "", nil, fmt.Errorf("public key is not RSA")
	}

	return string(keyData), rsaPublicKey, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
