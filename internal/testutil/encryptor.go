package testutil

import (
	"drivesync/internal/encryption"
)

// TestEncryptionOptions selects the deterministic test encryptor in sync options.
func TestEncryptionOptions() encryption.Options {
	return encryption.Options{Type: "test"}
}
