package collection

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/Ning0612/siteupdater/internal/core/checksum"
	"github.com/Ning0612/siteupdater/internal/domain"
)

// Scanner observes the local installation tree
type Scanner struct {
	fs     afero.Fs
	root   string
	calc   *checksum.Calculator
	ignore []string
}

// NewScanner creates a scanner for root on fs.
// Paths matching any ignore pattern are never managed.
func NewScanner(fs afero.Fs, root string, calc *checksum.Calculator, ignore []string) *Scanner {
	if calc == nil {
		calc = checksum.NewDefaultCalculator()
	}
	return &Scanner{fs: fs, root: filepath.Clean(root), calc: calc, ignore: ignore}
}

// Scan walks the tree and returns the state of every regular file keyed by
// slash-separated relative path
func (s *Scanner) Scan(ctx context.Context) (map[string]domain.LocalState, error) {
	out := make(map[string]domain.LocalState)

	if _, err := s.fs.Stat(s.root); err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("stat root: %w", err)
	}

	err := afero.Walk(s.fs, s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if ShouldIgnore(rel, s.ignore) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		sum, err := s.calc.SumFile(ctx, s.fs, p)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", rel, err)
		}
		out[rel] = domain.LocalState{
			Checksum:  sum,
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.root, err)
	}
	return out, nil
}

// Stat returns the state of a single relative path, or nil if it is not a
// regular file on disk
func (s *Scanner) Stat(ctx context.Context, rel string) (*domain.LocalState, error) {
	full := s.Abs(rel)
	info, err := s.fs.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, nil
	}
	sum, err := s.calc.SumFile(ctx, s.fs, full)
	if err != nil {
		return nil, fmt.Errorf("checksum %s: %w", rel, err)
	}
	return &domain.LocalState{Checksum: sum, Timestamp: info.ModTime(), Size: info.Size()}, nil
}

// Abs maps a relative managed path to its location on fs
func (s *Scanner) Abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Fs returns the filesystem being scanned
func (s *Scanner) Fs() afero.Fs {
	return s.fs
}

// Apply replaces the local presence of every file in c with states
func Apply(c *Collection, states map[string]domain.LocalState) {
	for _, f := range c.Files() {
		if _, ok := states[f.Path]; !ok {
			c.SetLocal(f.Path, nil)
		}
	}
	for p, st := range states {
		st := st
		c.SetLocal(p, &st)
	}
	c.PruneEmpty()
}

// CleanPath normalizes a user supplied relative path.
// It rejects absolute paths and paths escaping the root.
func CleanPath(p string) (string, error) {
	p = filepath.ToSlash(strings.TrimSpace(p))
	if p == "" || strings.HasPrefix(p, "/") || filepath.IsAbs(p) {
		return "", &domain.UnknownPathError{Path: p}
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", &domain.UnknownPathError{Path: p}
	}
	return clean, nil
}

// ShouldIgnore checks if a path matches any ignore pattern.
// A pattern matches the base name, the whole path, or (ending in "/**")
// everything below a directory.
func ShouldIgnore(p string, patterns []string) bool {
	for _, pattern := range patterns {
		if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
			if p == dir || strings.HasPrefix(p, dir+"/") {
				return true
			}
			continue
		}
		if matched, err := path.Match(pattern, path.Base(p)); err == nil && matched {
			return true
		}
		if matched, err := path.Match(pattern, p); err == nil && matched {
			return true
		}
	}
	return false
}
