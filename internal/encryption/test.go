package encryption

import (
	"bytes"
	"fmt"
	"io"
)

// testHeader is prepended by TestEncryptor so output differs from plaintext.
var testHeader = []byte("DSENC\x00\x00\x00")

// TestEncryptor is a deterministic, reversible stand-in for real encryption.
// It prepends a fixed 8-byte header on Encrypt and strips it on Decrypt, so
// sync tests can exercise the encrypted copy path without key derivation.
type TestEncryptor struct{}

var _ Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a new TestEncryptor.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("%w: reading test header: %v", ErrDecryptionFailure, err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("%w: invalid test header", ErrDecryptionFailure)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
