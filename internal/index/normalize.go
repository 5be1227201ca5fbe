package index

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/frontmatter"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/vault"
	"github.com/starford/ansuz/internal/wikilink"
)

// reservedFields are front-matter keys the engine interprets itself; they are
// not stored as metadata rows.
var reservedFields = map[string]bool{
	"ansuz-id": true,
	"title":    true,
	"type":     true,
	"kind":     true,
	"parent":   true,
	"position": true,
	"archived": true,
}

// legacyFields maps pre-migration key names to their current equivalents,
// in migration order. When both names are present the legacy one is dropped.
var legacyFields = [][2]string{
	{"id", "ansuz-id"},
	{"category", "type"},
	{"archive", "archived"},
}

// normalizePasses is the ordered rewrite pipeline. Each pass takes the
// current file bytes and returns replacement bytes only when it changed
// something, so an already-normalized file flows through untouched and the
// pipeline is idempotent.
var normalizePasses = []struct {
	name  string
	apply func(ctx context.Context, e *Engine, content []byte, f vault.FileInfo) ([]byte, bool, error)
}{
	{"legacy-fields", passLegacyFields},
	{"identifier", passIdentifier},
	{"type", passType},
	{"title", passTitle},
	{"wikilinks", passWikilinks},
}

// normalizeContent folds the file bytes through every pass. The single
// returned buffer is the only in-flight copy; passes never write to disk
// themselves.
func (e *Engine) normalizeContent(ctx context.Context, content []byte, f vault.FileInfo) ([]byte, bool, error) {
	changed := false
	for _, p := range normalizePasses {
		out, did, err := p.apply(ctx, e, content, f)
		if err != nil {
			return nil, false, fmt.Errorf("index: %s pass: %w", p.name, err)
		}
		if did {
			content = out
			changed = true
		}
	}
	return content, changed, nil
}

// passLegacyFields renames old unprefixed keys to their current names,
// keeping each field's position in the mapping.
func passLegacyFields(_ context.Context, _ *Engine, content []byte, _ vault.FileInfo) ([]byte, bool, error) {
	doc := frontmatter.Parse(content)
	changed := false
	for _, pair := range legacyFields {
		old, cur := pair[0], pair[1]
		if !doc.Has(old) {
			continue
		}
		if doc.Has(cur) {
			doc.Delete(old)
		} else {
			doc.Rename(old, cur)
		}
		changed = true
	}
	if !changed {
		return content, false, nil
	}
	out, err := doc.Compose()
	return out, true, err
}

// passIdentifier guarantees a well-formed ansuz-id. A fresh id is minted when
// the field is missing or malformed, and also when the embedded id already
// belongs to a different file that still exists on disk, which means this
// file is a copy. A stale path on the old row means the file moved, and the
// id travels with it.
func passIdentifier(ctx context.Context, e *Engine, content []byte, f vault.FileInfo) ([]byte, bool, error) {
	doc := frontmatter.Parse(content)
	cur, _ := doc.GetString("ansuz-id")
	cur = strings.TrimSpace(cur)
	if models.ValidNoteID(cur) || models.LegacyNoteID(cur) {
		dup, err := e.idBelongsToOtherLiveFile(ctx, cur, f.RelPath)
		if err != nil {
			return nil, false, err
		}
		if !dup {
			return content, false, nil
		}
		e.logger.Warn("index: duplicate note id, reminting",
			slog.String("id", cur),
			slog.String("path", f.RelPath))
	}

	id, err := e.mintNoteID(ctx)
	if err != nil {
		return nil, false, err
	}
	e.logger.Info("index: assigned note id",
		slog.String("id", id),
		slog.String("path", f.RelPath))
	doc.Set("ansuz-id", id)
	out, err := doc.Compose()
	return out, true, err
}

// passType keeps the front-matter type in step with the directory the file
// lives in. The directory is authoritative.
func passType(_ context.Context, _ *Engine, content []byte, f vault.FileInfo) ([]byte, bool, error) {
	doc := frontmatter.Parse(content)
	if cur, ok := doc.GetString("type"); ok && cur == f.Type {
		return content, false, nil
	}
	doc.Set("type", f.Type)
	out, err := doc.Compose()
	return out, true, err
}

// passTitle synthesizes a title from the filename when the note has none.
// Under the preserve policy empty titles are left alone.
func passTitle(_ context.Context, e *Engine, content []byte, f vault.FileInfo) ([]byte, bool, error) {
	if e.titlePolicy == TitlePolicyPreserve {
		return content, false, nil
	}
	doc := frontmatter.Parse(content)
	if v, ok := doc.Get("title"); ok {
		if strings.TrimSpace(stringify(v)) != "" {
			return content, false, nil
		}
	}
	title := deriveTitle(f.Filename)
	if title == "" {
		return content, false, nil
	}
	doc.Set("title", title)
	out, err := doc.Compose()
	return out, true, err
}

// passWikilinks rewrites body links that resolve by title, filename, or path
// into the id-addressed form, preserving the original text as the display.
// Links that resolve to nothing stay as written.
func passWikilinks(ctx context.Context, e *Engine, content []byte, _ vault.FileInfo) ([]byte, bool, error) {
	doc := frontmatter.Parse(content)
	if doc.Body == "" {
		return content, false, nil
	}
	body, changed := wikilink.Rewrite(doc.Body, func(target string) (string, bool) {
		return e.resolveLinkTarget(ctx, target)
	})
	if !changed {
		return content, false, nil
	}
	doc.Body = body
	out, err := doc.Compose()
	return out, true, err
}

// mintNoteID generates an unused canonical id. Collisions in a 32-bit space
// are unlikely but cheap to check, so minting retries a few times before
// giving up.
func (e *Engine) mintNoteID(ctx context.Context) (string, error) {
	conn, err := e.conns.Writer()
	if err != nil {
		return "", err
	}
	for attempt := 0; attempt < 16; attempt++ {
		buf := make([]byte, 4)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("index: mint id: %w", err)
		}
		id := "n-" + hex.EncodeToString(buf)
		var one int
		err := conn.QueryRowContext(ctx, `SELECT 1 FROM notes WHERE id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("index: check minted id: %w", err)
		}
	}
	return "", errors.New("index: mint id: retries exhausted")
}

// idBelongsToOtherLiveFile reports whether id is indexed under a different
// path whose file still exists.
func (e *Engine) idBelongsToOtherLiveFile(ctx context.Context, id, rel string) (bool, error) {
	conn, err := e.conns.Writer()
	if err != nil {
		return false, err
	}
	var path string
	err = conn.QueryRowContext(ctx, `SELECT path FROM notes WHERE id = ?`, id).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("index: lookup id owner: %w", err)
	}
	if path == rel {
		return false, nil
	}
	if _, err := e.fs.Stat(path); err != nil {
		return false, nil
	}
	return true, nil
}

// resolveLinkTarget maps a link reference to a note id, trying exact title,
// filename (with and without extension), then vault path. Lookup failures
// resolve to nothing rather than erroring so a flaky index never corrupts a
// body rewrite.
func (e *Engine) resolveLinkTarget(ctx context.Context, target string) (string, bool) {
	conn, err := e.conns.Writer()
	if err != nil {
		return "", false
	}
	queries := []struct {
		sql  string
		args []any
	}{
		{`SELECT id FROM notes WHERE title = ? COLLATE NOCASE ORDER BY updated DESC LIMIT 1`, []any{target}},
		{`SELECT id FROM notes WHERE filename = ? OR filename = ? ORDER BY updated DESC LIMIT 1`, []any{target, target + ".md"}},
		{`SELECT id FROM notes WHERE path = ? OR path = ? ORDER BY updated DESC LIMIT 1`, []any{target, target + ".md"}},
	}
	for _, q := range queries {
		var id string
		err := conn.QueryRowContext(ctx, q.sql, q.args...).Scan(&id)
		if err == nil {
			return id, true
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", false
		}
	}
	return "", false
}

var (
	camelAcronymRe = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	camelBoundRe   = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// deriveTitle turns a filename into a display title: extension stripped,
// hyphens/underscores/camelCase split into words, each word title-cased.
func deriveTitle(filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	base = camelAcronymRe.ReplaceAllString(base, "$1 $2")
	base = camelBoundRe.ReplaceAllString(base, "$1 $2")
	words := strings.Fields(base)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// IndexFile reads, normalizes, and indexes one vault file, returning the
// indexed note. Normalization rewrites go through the tracked writer; stat
// metadata is refreshed after a rewrite so size and mtime match what landed
// on disk.
func (e *Engine) IndexFile(ctx context.Context, rel string) (*Note, error) {
	f, err := e.fs.Info(rel)
	if err != nil {
		return nil, err
	}
	raw, err := e.fs.Read(rel)
	if err != nil {
		return nil, err
	}

	content, changed, err := e.normalizeContent(ctx, raw, f)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := e.writeVault(rel, content); err != nil {
			return nil, err
		}
		if f, err = e.fs.Info(rel); err != nil {
			return nil, err
		}
	}

	doc := frontmatter.Parse(content)
	p, err := e.buildUpsert(ctx, doc, content, f)
	if err != nil {
		return nil, err
	}
	if err := e.UpsertNote(ctx, p); err != nil {
		return nil, err
	}
	return e.GetNoteByID(ctx, p.ID)
}

// buildUpsert derives the full row set for one normalized file.
func (e *Engine) buildUpsert(ctx context.Context, doc *frontmatter.Doc, content []byte, f vault.FileInfo) (UpsertParams, error) {
	id, _ := doc.GetString("ansuz-id")
	id = strings.TrimSpace(id)
	if !models.ValidNoteID(id) && !models.LegacyNoteID(id) {
		return UpsertParams{}, fmt.Errorf("index: %s: no note id after normalization", f.RelPath)
	}

	title := ""
	if v, ok := doc.Get("title"); ok {
		title = strings.TrimSpace(stringify(v))
	}

	kind, _ := doc.GetString("kind")
	if kind == "" {
		kind = models.KindMarkdown
	}

	archived := false
	if v, ok := doc.Get("archived"); ok {
		switch b := v.(type) {
		case bool:
			archived = b
		case string:
			archived = b == "true"
		}
	}

	parentID := ""
	position := 0
	if v, ok := doc.Get("parent"); ok {
		parentID = e.resolveParentRef(ctx, parentRefString(v))
	}
	if v, ok := doc.Get("position"); ok {
		if n := DetectValue(v); n.Type == models.ValueNumber {
			position = int(n.Num)
		}
	}

	var meta []models.MetadataEntry
	for key, v := range doc.Fields() {
		if reservedFields[key] {
			continue
		}
		enc, vt := EncodeValue(DetectValue(v))
		meta = append(meta, models.MetadataEntry{NoteID: id, Key: key, Value: enc, ValueType: vt})
	}

	var links []models.LinkEdge
	for _, l := range wikilink.Extract(doc.Body) {
		edge := models.LinkEdge{
			SourceID:     id,
			Relationship: models.RelReferences,
			DisplayText:  l.Display,
			Position:     l.Position,
		}
		if edge.DisplayText == "" {
			edge.DisplayText = l.Target
		}
		if wikilink.IsID(l.Target) {
			edge.TargetID = l.Target
		} else {
			edge.Unresolved = l.Target
		}
		links = append(links, edge)
	}

	return UpsertParams{
		ID:          id,
		Title:       title,
		Content:     doc.Body,
		Type:        f.Type,
		Kind:        kind,
		Filename:    f.Filename,
		Path:        f.RelPath,
		Size:        f.Size,
		ContentHash: checksum.Sum(content),
		FileMtime:   f.Mtime,
		Archived:    archived,
		Metadata:    meta,
		Links:       links,
		ParentID:    parentID,
		Position:    position,
	}, nil
}

// resolveParentRef maps a front-matter parent reference (bare id, wikilink
// form, title, or path) to a note id. Unresolvable parents produce no edge.
func (e *Engine) resolveParentRef(ctx context.Context, raw string) string {
	target := parseWikiRef(raw)
	if target == "" {
		return ""
	}
	if wikilink.IsID(target) {
		return target
	}
	if id, ok := e.resolveLinkTarget(ctx, target); ok {
		return id
	}
	return ""
}

// parseWikiRef strips an optional [[...]] wrapper and alias from a reference.
func parseWikiRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "[[") && strings.HasSuffix(ref, "]]") {
		ref = ref[2 : len(ref)-2]
	}
	if i := strings.Index(ref, "|"); i >= 0 {
		ref = ref[:i]
	}
	return strings.TrimSpace(ref)
}

// parentRefString renders the decoded parent field as text. An unquoted
// [[link]] YAML-parses as a nested sequence, so that shape is unwrapped.
func parentRefString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) == 1 {
			if inner, ok := t[0].([]any); ok && len(inner) == 1 {
				return stringify(inner[0])
			}
			return stringify(t[0])
		}
	}
	return stringify(v)
}
