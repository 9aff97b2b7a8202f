package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize   = 32
	saltSize  = 16
	nonceSize = 12

	// DefaultIterations is the PBKDF2-HMAC-SHA256 work factor for password keys.
	DefaultIterations = 600_000
	minIterations     = 100_000
)

// AESGCMEncryptor encrypts files with AES-256-GCM.
//
// Output layout is [salt(16), password keys only][nonce(12)][ciphertext+tag].
// GCM authenticates the whole message at once, so files are sealed in memory.
type AESGCMEncryptor struct {
	key        []byte // nil when the key is derived from password
	password   []byte
	iterations int
}

var _ Encryptor = (*AESGCMEncryptor)(nil)

// NewAESFromPassword derives a fresh key per file from password and a random salt.
func NewAESFromPassword(password string) *AESGCMEncryptor {
	return &AESGCMEncryptor{password: []byte(password), iterations: DefaultIterations}
}

// NewAESFromKey uses a 32-byte key directly.
func NewAESFromKey(key []byte) (*AESGCMEncryptor, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("AES-256 key must be %d bytes, got %d", keySize, len(key))
	}
	k := make([]byte, keySize)
	copy(k, key)
	return &AESGCMEncryptor{key: k}, nil
}

// SetIterations overrides the PBKDF2 work factor. Values below 100,000 are rejected.
func (e *AESGCMEncryptor) SetIterations(n int) error {
	if n < minIterations {
		return fmt.Errorf("PBKDF2 iterations must be at least %d, got %d", minIterations, n)
	}
	e.iterations = n
	return nil
}

func (e *AESGCMEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading plaintext: %w", err)
	}

	var salt []byte
	key := e.key
	if key == nil {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("generating salt: %w", err)
		}
		key = e.derive(salt)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	if len(salt) > 0 {
		if _, err := w.Write(salt); err != nil {
			return fmt.Errorf("writing salt: %w", err)
		}
	}
	if _, err := w.Write(nonce); err != nil {
		return fmt.Errorf("writing nonce: %w", err)
	}
	if _, err := w.Write(gcm.Seal(nil, nonce, plaintext, nil)); err != nil {
		return fmt.Errorf("writing ciphertext: %w", err)
	}
	return nil
}

func (e *AESGCMEncryptor) Decrypt(r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading ciphertext: %w", err)
	}

	key := e.key
	if key == nil {
		if len(data) < saltSize {
			return fmt.Errorf("%w: missing salt", ErrDecryptionFailure)
		}
		key = e.derive(data[:saltSize])
		data = data[saltSize:]
	}

	gcm, err := newGCM(key)
	if err != nil {
		return err
	}
	if len(data) < nonceSize+gcm.Overhead() {
		return fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailure)
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return ErrDecryptionFailure
	}

	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("writing plaintext: %w", err)
	}
	return nil
}

func (e *AESGCMEncryptor) derive(salt []byte) []byte {
	return pbkdf2.Key(e.password, salt, e.iterations, keySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// GenerateKeyFile writes a new random 256-bit key to path as hex.
func GenerateKeyFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("key file already exists at %s", path)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generating key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

// LoadKeyFile reads a key stored either as 32 raw bytes or as 64 hex characters.
func LoadKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	if len(data) == keySize {
		return data, nil
	}

	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) == hex.EncodedLen(keySize) {
		key, err := hex.DecodeString(trimmed)
		if err == nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("key file %s must hold %d raw bytes or %d hex characters", path, keySize, hex.EncodedLen(keySize))
}
