package ds

import (
	"fmt"
	"io"
	"strings"

	"drivesync/internal/compress"
	"drivesync/internal/encryption"
)

// transform is the optional compress-then-encrypt stage of the copy path.
// The zero value copies bytes unchanged.
type transform struct {
	codec compress.Codec
	level int
	enc   encryption.Encryptor
}

// newEncryptor is replaced in tests.
var newEncryptor = encryption.NewEncryptor

func newTransform(opts AdvancedSyncOptions) (*transform, error) {
	x := &transform{level: opts.Compression.Level}

	if opts.Compression.Type != "" {
		codec, err := compress.Lookup(strings.ToLower(opts.Compression.Type))
		if err != nil {
			return nil, err
		}
		x.codec = codec
	}

	if opts.Encryption.Enabled() {
		enc, err := newEncryptor(opts.Encryption)
		if err != nil {
			return nil, fmt.Errorf("configuring encryption: %w", err)
		}
		x.enc = enc
	}
	return x, nil
}

func (x *transform) identity() bool {
	return x.codec == nil && x.enc == nil
}

// suffix is appended to stored names: the codec suffix, then ".enc".
func (x *transform) suffix() string {
	var s string
	if x.codec != nil {
		s += x.codec.Suffix()
	}
	if x.enc != nil {
		s += encryption.Suffix
	}
	return s
}

// plainName strips the stored suffix. ok is false for names that were not
// written through this transform.
func (x *transform) plainName(stored string) (string, bool) {
	suf := x.suffix()
	if suf == "" {
		return stored, true
	}
	if len(stored) <= len(suf) || !strings.HasSuffix(stored, suf) {
		return stored, false
	}
	return strings.TrimSuffix(stored, suf), true
}

// encode reads plaintext from r and writes the stored form to w.
func (x *transform) encode(r io.Reader, w io.Writer) error {
	switch {
	case x.identity():
		_, err := io.Copy(w, r)
		return err
	case x.enc == nil:
		return x.compressTo(r, w)
	case x.codec == nil:
		return x.enc.Encrypt(r, w)
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(x.compressTo(r, pw))
	}()

	err := x.enc.Encrypt(pr, w)
	// Unblocks the compressor if Encrypt stopped reading early.
	pr.CloseWithError(io.ErrClosedPipe)
	<-done
	return err
}

func (x *transform) compressTo(r io.Reader, w io.Writer) error {
	cw, err := x.codec.NewWriter(w, x.level)
	if err != nil {
		return fmt.Errorf("creating %s writer: %w", x.codec.Name(), err)
	}
	if _, err := io.Copy(cw, r); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

// decode reads the stored form from r and writes plaintext to w.
func (x *transform) decode(r io.Reader, w io.Writer) error {
	if x.enc == nil {
		return x.decompressTo(r, w)
	}
	if x.codec == nil {
		return x.enc.Decrypt(r, w)
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(x.enc.Decrypt(r, pw))
	}()

	err := x.decompressTo(pr, w)
	pr.CloseWithError(io.ErrClosedPipe)
	<-done
	return err
}

func (x *transform) decompressTo(r io.Reader, w io.Writer) error {
	if x.codec == nil {
		_, err := io.Copy(w, r)
		return err
	}
	cr, err := x.codec.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating %s reader: %w", x.codec.Name(), err)
	}
	defer cr.Close()
	_, err = io.Copy(w, cr)
	return err
}
