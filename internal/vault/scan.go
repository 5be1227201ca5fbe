package vault

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// FileInfo describes one note file found by Scan. Type is the name of the
// top-level directory the file lives under; Filename is the base name.
type FileInfo struct {
	RelPath  string
	Type     string
	Filename string
	Size     int64
	Mtime    time.Time
}

// Scan enumerates every .md file under the vault's type directories with
// stat metadata only; content is not read or hashed here. Hidden directories
// (including the index's own dir) and files directly at the root are skipped.
func (f *FS) Scan() ([]FileInfo, error) {
	var out []FileInfo
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != f.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return nil
		}
		noteType := typeOf(rel)
		if noteType == "" {
			// Root-level files have no type directory and are not notes.
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, FileInfo{
			RelPath:  rel,
			Type:     noteType,
			Filename: d.Name(),
			Size:     info.Size(),
			Mtime:    info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vault: scan: %w", err)
	}
	return out, nil
}

// Info returns the FileInfo for a single vault-relative path. Paths outside
// a type directory are rejected.
func (f *FS) Info(rel string) (FileInfo, error) {
	noteType := typeOf(rel)
	if noteType == "" || strings.HasPrefix(noteType, ".") {
		return FileInfo{}, fmt.Errorf("vault: %s: not under a type directory", rel)
	}
	st, err := f.Stat(rel)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		RelPath:  rel,
		Type:     noteType,
		Filename: filepath.Base(rel),
		Size:     st.Size(),
		Mtime:    st.ModTime(),
	}, nil
}

// typeOf returns the first path segment of a vault-relative path, or "" for
// root-level files.
func typeOf(rel string) string {
	rel = filepath.ToSlash(rel)
	i := strings.Index(rel, "/")
	if i <= 0 {
		return ""
	}
	return rel[:i]
}
