package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File describes one regular file discovered by Walk.
type File struct {
	RelativePath string
	Path         string
	Info         fs.FileInfo
}

// SkipFunc is called for every subtree or file that could not be read.
// Walk continues after calling it.
type SkipFunc func(path string, err error)

// ResolveDir converts rawPath to an absolute path and checks that it is a directory.
func ResolveDir(rawPath string) (string, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", absPath)
	}
	return absPath, nil
}

// Walk returns every regular file under root that the matcher does not
// ignore, in lexical order. Symlinks, devices, pipes and sockets are not
// followed or returned. Permission errors on files or subtrees are reported
// to skip and otherwise ignored; any other error aborts the walk.
func Walk(root string, matcher *IgnoreMatcher, skip SkipFunc) ([]File, error) {
	var files []File

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			if errors.Is(err, fs.ErrPermission) {
				if skip != nil {
					skip(p, err)
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			return err
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if matcher.MatchDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if matcher.Match(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if errors.Is(err, fs.ErrPermission) {
				if skip != nil {
					skip(p, err)
				}
				return nil
			}
			return fmt.Errorf("stat %s: %w", p, err)
		}

		files = append(files, File{RelativePath: rel, Path: p, Info: info})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	return files, nil
}

// LoadMatcher combines the given patterns with the root's ignore file.
func LoadMatcher(root string, extra []string) (*IgnoreMatcher, error) {
	filePatterns, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}

	patterns := make([]string, 0, len(defaultIgnorePatterns)+len(extra)+len(filePatterns))
	patterns = append(patterns, defaultIgnorePatterns...)
	patterns = append(patterns, extra...)
	patterns = append(patterns, filePatterns...)
	return NewIgnoreMatcher(patterns), nil
}
