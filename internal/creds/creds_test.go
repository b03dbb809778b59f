package creds

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestFileProviderLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	p := NewFileProvider(path)

	if p.Valid() {
		t.Error("Valid() should be false before any token is saved")
	}
	if _, err := p.Token(); err == nil {
		t.Error("Token() should fail before any token is saved")
	}

	if err := p.Save("  secret-token \n"); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	token, err := p.Token()
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	if token != "secret-token" {
		t.Errorf("Token() = %q, want trimmed %q", token, "secret-token")
	}
	if !p.Valid() {
		t.Error("Valid() should be true after Save")
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat() failed: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("token file mode = %o, want 0600", perm)
		}
	}

	if err := p.Clear(); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if p.Valid() {
		t.Error("Valid() should be false after Clear")
	}
	if err := p.Clear(); err != nil {
		t.Errorf("clearing absent credentials = %v, want nil", err)
	}
}

func TestSaveRejectsEmptyToken(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "token"))

	if err := p.Save("   "); err == nil {
		t.Error("Save() with a blank token should fail")
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "nested", "dir", "token"))

	if err := p.Save("tok"); err != nil {
		t.Fatalf("Save() into a missing directory failed: %v", err)
	}
	if !p.Valid() {
		t.Error("Valid() should be true after Save")
	}
}
