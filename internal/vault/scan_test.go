package vault

import "testing"

func TestScan_TypedLayout(t *testing.T) {
	v := tempVault(t)
	_ = v.Write("notes/a.md", []byte("# A\n"))
	_ = v.Write("projects/sub/deep.md", []byte("# Deep\n"))
	_ = v.Write("readme.md", []byte("root-level, not a note\n"))
	_ = v.Write("notes/data.txt", []byte("not markdown\n"))
	_ = v.Write(".ansuz/shadow.md", []byte("index internals\n"))

	files, err := v.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(files), files)
	}

	byPath := make(map[string]FileInfo, len(files))
	for _, f := range files {
		byPath[f.RelPath] = f
	}
	a, ok := byPath["notes/a.md"]
	if !ok {
		t.Fatalf("notes/a.md missing from scan: %+v", files)
	}
	if a.Type != "notes" || a.Filename != "a.md" {
		t.Errorf("a = %+v", a)
	}
	if a.Size == 0 || a.Mtime.IsZero() {
		t.Errorf("stat metadata missing: %+v", a)
	}

	// Nesting below a type directory keeps the top-level segment as the type.
	deep, ok := byPath["projects/sub/deep.md"]
	if !ok || deep.Type != "projects" || deep.Filename != "deep.md" {
		t.Errorf("deep = %+v (found %v)", deep, ok)
	}
}

func TestScan_EmptyVault(t *testing.T) {
	v := tempVault(t)
	files, err := v.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("files = %+v", files)
	}
}

func TestInfo(t *testing.T) {
	v := tempVault(t)
	_ = v.Write("notes/i.md", []byte("body\n"))

	f, err := v.Info("notes/i.md")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if f.RelPath != "notes/i.md" || f.Type != "notes" || f.Filename != "i.md" || f.Size == 0 {
		t.Errorf("info = %+v", f)
	}

	if _, err := v.Info("rootfile.md"); err == nil {
		t.Error("root-level path accepted")
	}
	if _, err := v.Info(".ansuz/hidden.md"); err == nil {
		t.Error("hidden directory path accepted")
	}
	if _, err := v.Info("notes/absent.md"); err == nil {
		t.Error("missing file accepted")
	}
}
