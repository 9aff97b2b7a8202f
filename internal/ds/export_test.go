package ds

import (
	"testing"

	"drivesync/internal/encryption"
)

// SetEncryptorFactory swaps the encryptor constructor until t finishes.
func SetEncryptorFactory(t testing.TB, f func(encryption.Options) (encryption.Encryptor, error)) {
	prev := newEncryptor
	newEncryptor = f
	t.Cleanup(func() { newEncryptor = prev })
}
