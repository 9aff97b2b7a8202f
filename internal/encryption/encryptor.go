package encryption

import (
	"errors"
	"fmt"
	"io"
)

// Suffix is appended to the name of every encrypted file.
const Suffix = ".enc"

// ErrDecryptionFailure is returned when ciphertext cannot be authenticated:
// the key or password is wrong, or the data was corrupted.
var ErrDecryptionFailure = errors.New("decryption failed: wrong key or corrupted data")

// Encryptor encrypts and decrypts whole file streams.
type Encryptor interface {
	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Decrypt reads ciphertext from r and writes plaintext to w. Authentication
	// failures are reported as ErrDecryptionFailure; no plaintext is written
	// for data that fails authentication.
	Decrypt(r io.Reader, w io.Writer) error
}

// Options selects an encryption scheme and its key material.
// Exactly one of Password and KeyFile must be set.
type Options struct {
	Type     string `toml:"type"` // "", "aes-256-gcm", "age" or "test"
	Password string `toml:"-"`
	KeyFile  string `toml:"key_file,omitempty"`
}

// Enabled reports whether files should be encrypted at all.
func (o Options) Enabled() bool {
	return o.Type != ""
}

// NewEncryptor creates an Encryptor based on the options type.
func NewEncryptor(opts Options) (Encryptor, error) {
	if opts.Type == "test" {
		return NewTestEncryptor(), nil
	}
	if opts.Password == "" && opts.KeyFile == "" {
		return nil, fmt.Errorf("encryption type %q requires a password or key file", opts.Type)
	}
	if opts.Password != "" && opts.KeyFile != "" {
		return nil, fmt.Errorf("encryption type %q: password and key file are mutually exclusive", opts.Type)
	}

	switch opts.Type {
	case "aes-256-gcm", "aes":
		if opts.Password != "" {
			return NewAESFromPassword(opts.Password), nil
		}
		key, err := LoadKeyFile(opts.KeyFile)
		if err != nil {
			return nil, err
		}
		return NewAESFromKey(key)
	case "age":
		if opts.Password != "" {
			return NewAgePassphraseEncryptor(opts.Password), nil
		}
		return NewAgeIdentityEncryptor(opts.KeyFile)
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", opts.Type)
	}
}
