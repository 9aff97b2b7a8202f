package ds

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	fsutil "drivesync/internal/fs"
)

// countingWriter counts bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// writeAtomic fills a temp file next to dst and renames it over dst, so a
// reader never observes a partial file. Permissions and times are applied
// before the rename. It returns the number of bytes written.
func writeAtomic(dst string, perm fs.FileMode, atime, mtime time.Time, fill func(w io.Writer) error) (int64, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, fsutil.TempPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	cw := &countingWriter{w: tmp}
	if err := fill(cw); err != nil {
		cleanup()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Chtimes(tmpName, atime, mtime); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("setting times: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("renaming into place: %w", err)
	}
	return cw.n, nil
}

// copyPlain copies src to dst byte for byte, preserving metadata. It is the
// copy used by conflict resolution.
func copyPlain(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = writeAtomic(dst, info.Mode().Perm(), fsutil.AccessTime(info), info.ModTime(), func(w io.Writer) error {
		_, err := io.Copy(w, f)
		return err
	})
	return err
}

func newHash() hash.Hash { return sha256.New() }

func hexSum(h hash.Hash) string { return hex.EncodeToString(h.Sum(nil)) }

// hashFile returns the SHA-256 of the file content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := newHash()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hexSum(h), nil
}

// hashDecoded returns the SHA-256 of the plaintext of a stored file.
func hashDecoded(path string, x *transform) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := newHash()
	if err := x.decode(f, h); err != nil {
		return "", err
	}
	return hexSum(h), nil
}

// trackKey joins the track prefix and an OS relative path into a slash-separated key.
func trackKey(prefix, rel string) string {
	if prefix == "" {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(filepath.Join(filepath.FromSlash(prefix), rel))
}
