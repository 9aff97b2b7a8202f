package compress

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec is a streaming compression format.
type Codec interface {
	Name() string
	// Suffix is appended to the name of every file stored with this codec.
	Suffix() string
	// NewWriter compresses into w. Level 0 selects the codec default.
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	switch name {
	case "gzip", "gz":
		return Gzip{}, nil
	case "zstd":
		return Zstd{}, nil
	default:
		return nil, fmt.Errorf("unknown compression type: %q", name)
	}
}

// Gzip is the portable default codec.
type Gzip struct{}

func (Gzip) Name() string   { return "gzip" }
func (Gzip) Suffix() string { return ".gz" }

func (Gzip) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	zw, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	return zw, nil
}

func (Gzip) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	return zr, nil
}

// Zstd is the faster alternative codec. Levels follow the zstd command line (1-22).
type Zstd struct{}

func (Zstd) Name() string   { return "zstd" }
func (Zstd) Suffix() string { return ".zst" }

func (Zstd) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	opts := []zstd.EOption{}
	if level != 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	zw, err := zstd.NewWriter(w, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating zstd writer: %w", err)
	}
	return zw, nil
}

func (Zstd) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	return zr.IOReadCloser(), nil
}

// CompressFile compresses src into dst and returns the original and compressed sizes.
func CompressFile(c Codec, src, dst string, level int) (original, compressed int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, 0, fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, 0, fmt.Errorf("creating destination: %w", err)
	}
	defer out.Close()

	counter := &countingWriter{w: out}
	zw, err := c.NewWriter(counter, level)
	if err != nil {
		return 0, 0, err
	}

	original, err = io.Copy(zw, in)
	if err != nil {
		zw.Close()
		return 0, 0, fmt.Errorf("compressing %s: %w", src, err)
	}
	if err := zw.Close(); err != nil {
		return 0, 0, fmt.Errorf("finishing %s stream: %w", c.Name(), err)
	}
	if err := out.Close(); err != nil {
		return 0, 0, fmt.Errorf("closing destination: %w", err)
	}
	return original, counter.n, nil
}

// DecompressFile is the inverse of CompressFile. It returns the compressed
// and restored sizes.
func DecompressFile(c Codec, src, dst string) (compressed, original int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, 0, fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("stat source: %w", err)
	}

	zr, err := c.NewReader(in)
	if err != nil {
		return 0, 0, err
	}
	defer zr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, 0, fmt.Errorf("creating destination: %w", err)
	}
	defer out.Close()

	original, err = io.Copy(out, zr)
	if err != nil {
		return 0, 0, fmt.Errorf("decompressing %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return 0, 0, fmt.Errorf("closing destination: %w", err)
	}
	return info.Size(), original, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
