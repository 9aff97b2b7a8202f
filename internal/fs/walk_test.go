package fs

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWalk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "bb")
	writeFile(t, filepath.Join(root, "sub", "debug.log"), "log")
	writeFile(t, filepath.Join(root, "cache", "c.bin"), "c")
	writeFile(t, filepath.Join(root, ".drivesync-tmp-123"), "partial")
	writeFile(t, filepath.Join(root, IgnoreFileName), "*.log\ncache/\n")
	if err := os.Symlink(filepath.Join(root, "a.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Fatal(err)
	}

	matcher, err := LoadMatcher(root, nil)
	if err != nil {
		t.Fatalf("LoadMatcher() error = %v", err)
	}

	files, err := Walk(root, matcher, nil)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	want := []string{"a.txt", filepath.Join("sub", "b.txt")}
	if len(files) != len(want) {
		t.Fatalf("Walk() returned %d files, want %d: %v", len(files), len(want), files)
	}
	for i, f := range files {
		if f.RelativePath != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, f.RelativePath, want[i])
		}
	}
	if files[1].Info.Size() != 2 {
		t.Errorf("size of sub/b.txt = %d, want 2", files[1].Info.Size())
	}
}

func TestWalk_SkipsUnreadableSubtree(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ok.txt"), "ok")
	locked := filepath.Join(root, "locked")
	writeFile(t, filepath.Join(locked, "secret.txt"), "s")
	if err := os.Chmod(locked, 0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(locked, 0755) })

	var skipped []string
	files, err := Walk(root, nil, func(path string, err error) {
		skipped = append(skipped, path)
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(files) != 1 || files[0].RelativePath != "ok.txt" {
		t.Errorf("Walk() = %v, want only ok.txt", files)
	}
	if len(skipped) != 1 || skipped[0] != locked {
		t.Errorf("skipped = %v, want [%s]", skipped, locked)
	}
}

func TestWalk_MissingRoot(t *testing.T) {
	t.Parallel()
	if _, err := Walk(filepath.Join(t.TempDir(), "missing"), nil, nil); err == nil {
		t.Error("Walk() on missing root expected error")
	}
}

func TestResolveDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	got, err := ResolveDir(dir)
	if err != nil {
		t.Fatalf("ResolveDir() error = %v", err)
	}
	if got != dir {
		t.Errorf("ResolveDir() = %q, want %q", got, dir)
	}

	file := filepath.Join(dir, "f")
	writeFile(t, file, "x")
	if _, err := ResolveDir(file); err == nil {
		t.Error("ResolveDir(file) expected error")
	}
}
