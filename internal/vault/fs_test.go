package vault

import (
	"os"
	"path/filepath"
	"testing"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	v := tempVault(t)
	content := []byte("# Hello\nWorld\n")
	if err := v.Write("notes/note.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := v.Read("notes/note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	v := tempVault(t)
	if err := v.Write("a/b/c.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := v.Read("a/b/c.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestDelete(t *testing.T) {
	v := tempVault(t)
	_ = v.Write("notes/del.md", []byte("bye"))
	if err := v.Delete("notes/del.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := v.Read("notes/del.md"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestTraversalBlocked(t *testing.T) {
	v := tempVault(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := v.Read(p); err == nil {
			t.Errorf("expected error for read of %q", p)
		}
		if err := v.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
		if err := v.Delete(p); err == nil {
			t.Errorf("expected error for delete of %q", p)
		}
	}
}

func TestAtomicWriteNoCorruption(t *testing.T) {
	v := tempVault(t)
	_ = v.Write("notes/atomic.md", []byte("original content"))

	updated := []byte("updated content")
	if err := v.Write("notes/atomic.md", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := v.Read("notes/atomic.md")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	// Confirm no leftover temp files next to the target.
	matches, _ := filepath.Glob(filepath.Join(v.Root(), "notes", ".ansuz-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/ansuz-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "ansuz-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
