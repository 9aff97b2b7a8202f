package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
)

// AgeEncryptor implements Encryptor using filippo.io/age. It either encrypts
// to a passphrase (scrypt) or to the X25519 identity stored in a key file.
type AgeEncryptor struct {
	recipient age.Recipient
	identity  age.Identity
}

var _ Encryptor = (*AgeEncryptor)(nil)

// NewAgePassphraseEncryptor encrypts with age's scrypt passphrase recipient.
func NewAgePassphraseEncryptor(passphrase string) *AgeEncryptor {
	return newAgePassphrase(passphrase, 0)
}

// newAgePassphrase allows tests to lower the scrypt work factor.
func newAgePassphrase(passphrase string, workFactor int) *AgeEncryptor {
	recipient, rerr := age.NewScryptRecipient(passphrase)
	identity, ierr := age.NewScryptIdentity(passphrase)
	if rerr != nil || ierr != nil {
		// Only an empty passphrase fails here; NewEncryptor rejects it first.
		return &AgeEncryptor{}
	}
	if workFactor > 0 {
		recipient.SetWorkFactor(workFactor)
	}
	return &AgeEncryptor{recipient: recipient, identity: identity}
}

// NewAgeIdentityEncryptor loads an X25519 identity file created by GenerateAgeIdentity.
func NewAgeIdentityEncryptor(path string) (*AgeEncryptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing identity file: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in %s", path)
	}

	x, ok := identities[0].(*age.X25519Identity)
	if !ok {
		return nil, fmt.Errorf("identity in %s is not an X25519 identity", path)
	}
	return &AgeEncryptor{recipient: x.Recipient(), identity: x}, nil
}

// GenerateAgeIdentity writes a new X25519 identity to path. The public
// recipient is returned so it can be shown to the operator.
func GenerateAgeIdentity(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("identity file already exists at %s", path)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("creating identity directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(identity.String()+"\n"), 0600); err != nil {
		return "", fmt.Errorf("writing identity file: %w", err)
	}
	return identity.Recipient().String(), nil
}

// Encrypt reads plaintext from r and writes age ciphertext to w.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if e.recipient == nil {
		return fmt.Errorf("age encryptor has no recipient")
	}

	encWriter, err := age.Encrypt(w, e.recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}

	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}

	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Decrypt authenticates the whole stream before writing any plaintext to w.
func (e *AgeEncryptor) Decrypt(r io.Reader, w io.Writer) error {
	if e.identity == nil {
		return fmt.Errorf("age encryptor has no identity")
	}

	decReader, err := age.Decrypt(r, e.identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return ErrDecryptionFailure
		}
		return fmt.Errorf("%w: %v", ErrDecryptionFailure, err)
	}

	var plain bytes.Buffer
	if _, err := io.Copy(&plain, decReader); err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailure, err)
	}

	if _, err := plain.WriteTo(w); err != nil {
		return fmt.Errorf("writing plaintext: %w", err)
	}
	return nil
}
