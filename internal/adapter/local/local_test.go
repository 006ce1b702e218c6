package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/Ning0612/siteupdater/internal/domain"
)

func TestWriteRead(t *testing.T) {
	fs := afero.NewMemMapFs()
	a, err := New(fs, "/sites/default")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	if err := a.Write(ctx, "files/macros/a.ijm-1", strings.NewReader("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := a.Write(ctx, "files/macros/a.ijm-1", strings.NewReader("replaced")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	rc, err := a.Read(ctx, "files/macros/a.ijm-1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "replaced" {
		t.Errorf("Read = %q, want %q", data, "replaced")
	}

	if ok, _ := afero.Exists(fs, filepath.Join("/sites/default", "files/macros/a.ijm-1"+tempSuffix)); ok {
		t.Error("temp file left behind")
	}

	info, err := a.Stat(ctx, "files/macros/a.ijm-1")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size != int64(len("replaced")) {
		t.Errorf("Size = %d", info.Size)
	}
}

func TestNotFound(t *testing.T) {
	a, err := New(afero.NewMemMapFs(), "/site")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := a.Read(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Read: expected ErrNotFound, got %v", err)
	}
	if _, err := a.Stat(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Stat: expected ErrNotFound, got %v", err)
	}
	if err := a.Delete(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Delete: expected ErrNotFound, got %v", err)
	}
}

func TestWrite_CancelledLeavesPrevious(t *testing.T) {
	a, err := New(afero.NewMemMapFs(), "/site")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Write(context.Background(), "db.json.gz", strings.NewReader("v1")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Write(ctx, "db.json.gz", bytes.NewReader([]byte("v2"))); err == nil {
		t.Fatal("expected cancelled write to fail")
	}

	rc, err := a.Read(context.Background(), "db.json.gz")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "v1" {
		t.Errorf("previous content lost: %q", data)
	}
}

// TestSecurity_PathTraversal tests protection against path traversal attacks
func TestSecurity_PathTraversal(t *testing.T) {
	a, err := New(afero.NewMemMapFs(), "/safe-root")
	if err != nil {
		t.Fatal(err)
	}

	maliciousPaths := []string{
		"../../../etc/passwd",
		"folder/../../outside",
		"/absolute",
		"",
	}

	for _, p := range maliciousPaths {
		if _, err := a.resolvePath(p); !errors.Is(err, domain.ErrPermissionDenied) {
			t.Errorf("resolvePath(%q) = %v, want ErrPermissionDenied", p, err)
		}
	}

	if got, err := a.resolvePath("folder/../inside.txt"); err != nil || got != filepath.Join("/safe-root", "inside.txt") {
		t.Errorf("resolvePath inside root = %q, %v", got, err)
	}
}

func TestNew_RootIsFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/file", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(fs, "/file"); err == nil {
		t.Error("expected error when root is a file")
	}
}
