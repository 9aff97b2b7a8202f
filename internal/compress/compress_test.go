package compress

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestCodecs_FileRoundTrip(t *testing.T) {
	t.Parallel()

	input := bytes.Repeat([]byte("highly compressible project text\n"), 2000)

	for _, name := range []string{"gzip", "zstd"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c, err := Lookup(name)
			if err != nil {
				t.Fatalf("Lookup(%q) error = %v", name, err)
			}

			dir := t.TempDir()
			src := filepath.Join(dir, "in.txt")
			packed := filepath.Join(dir, "in.txt"+c.Suffix())
			restored := filepath.Join(dir, "out.txt")
			if err := os.WriteFile(src, input, 0644); err != nil {
				t.Fatal(err)
			}

			orig, comp, err := CompressFile(c, src, packed, 0)
			if err != nil {
				t.Fatalf("CompressFile() error = %v", err)
			}
			if orig != int64(len(input)) {
				t.Errorf("original = %d, want %d", orig, len(input))
			}
			if comp >= orig {
				t.Errorf("compressed = %d, want less than %d", comp, orig)
			}
			info, _ := os.Stat(packed)
			if info.Size() != comp {
				t.Errorf("reported compressed size %d, file has %d", comp, info.Size())
			}

			gotComp, gotOrig, err := DecompressFile(c, packed, restored)
			if err != nil {
				t.Fatalf("DecompressFile() error = %v", err)
			}
			if gotComp != comp || gotOrig != orig {
				t.Errorf("DecompressFile() = (%d, %d), want (%d, %d)", gotComp, gotOrig, comp, orig)
			}

			got, _ := os.ReadFile(restored)
			if !bytes.Equal(got, input) {
				t.Error("restored content differs from input")
			}
		})
	}
}

func TestLookup_Unknown(t *testing.T) {
	t.Parallel()
	if _, err := Lookup("lzma"); err == nil {
		t.Error("Lookup(lzma) expected error")
	}
}

func TestSavings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		original    int64
		stored      int64
		wantRatio   float64
		wantPercent float64
	}{
		{name: "empty input", original: 0, stored: 0, wantRatio: 1, wantPercent: 0},
		{name: "half size", original: 1000, stored: 500, wantRatio: 0.5, wantPercent: 50},
		{name: "grew", original: 100, stored: 120, wantRatio: 1.2, wantPercent: -20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Savings
			s.Add(tt.original, tt.stored)
			if math.Abs(s.Ratio()-tt.wantRatio) > 1e-9 {
				t.Errorf("Ratio() = %v, want %v", s.Ratio(), tt.wantRatio)
			}
			if math.Abs(s.PercentSaved()-tt.wantPercent) > 1e-9 {
				t.Errorf("PercentSaved() = %v, want %v", s.PercentSaved(), tt.wantPercent)
			}
		})
	}
}
