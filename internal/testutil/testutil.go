package testutil

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// TempDir creates a temporary directory for testing
// It returns the directory path and a cleanup function
func TempDir(t *testing.T) (string, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "siteupdater-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	cleanup := func() {
		os.RemoveAll(dir)
	}

	return dir, cleanup
}

// WriteTree creates every file of tree under root, keyed by slash path
func WriteTree(t *testing.T, root string, tree map[string]string) {
	t.Helper()

	for rel, content := range tree {
		WriteFile(t, root, rel, content)
	}
}

// WriteFile creates or replaces one file under root, creating parents
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create parent of %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", rel, err)
	}
	return path
}

// RemoveFile deletes one file under root
func RemoveFile(t *testing.T, root, rel string) {
	t.Helper()

	if err := os.Remove(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
		t.Fatalf("failed to remove %s: %v", rel, err)
	}
}

// ListTree returns every regular file below root as sorted slash paths
func ListTree(t *testing.T, root string) []string {
	t.Helper()

	var out []string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("failed to list %s: %v", root, err)
	}
	sort.Strings(out)
	return out
}

// RandomBytes returns size bytes of random content
func RandomBytes(size int) []byte {
	b := make([]byte, size)
	rand.Read(b)
	return b
}

// RandomString generates a random string of the given length
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
