// Package wikilink extracts and rewrites [[bracketed]] links in note bodies.
package wikilink

import (
	"regexp"
	"strings"

	"github.com/starford/ansuz/internal/models"
)

var linkRe = regexp.MustCompile(`\[\[([^\[\]]+?)\]\]`)

// Link is one wikilink occurrence. Target is the raw link text before the
// optional "|" alias; Display is the alias (empty when none). Position is the
// ordinal index of the link within the body.
type Link struct {
	Target   string
	Display  string
	Position int
}

// Extract returns every wikilink in body in document order. Links with a
// blank target are skipped; duplicates are kept because each occurrence
// becomes its own edge.
func Extract(body string) []Link {
	matches := linkRe.FindAllStringSubmatch(body, -1)
	var out []Link
	for _, m := range matches {
		target, display := splitAlias(m[1])
		if target == "" {
			continue
		}
		out = append(out, Link{Target: target, Display: display, Position: len(out)})
	}
	return out
}

// IsID reports whether target is already a note identifier (canonical or
// legacy form) rather than a title or path reference.
func IsID(target string) bool {
	return models.ValidNoteID(target) || models.LegacyNoteID(target)
}

// Rewrite replaces non-id link targets that resolve to a note id with the
// id-addressed form [[id|display]], keeping the original text visible as the
// display. Unresolvable links are left untouched. The second return reports
// whether anything changed.
func Rewrite(body string, resolve func(target string) (string, bool)) (string, bool) {
	changed := false
	out := linkRe.ReplaceAllStringFunc(body, func(match string) string {
		inner := match[2 : len(match)-2]
		target, display := splitAlias(inner)
		if target == "" || IsID(target) {
			return match
		}
		id, ok := resolve(target)
		if !ok {
			return match
		}
		if display == "" {
			display = target
		}
		changed = true
		return "[[" + id + "|" + display + "]]"
	})
	return out, changed
}

func splitAlias(raw string) (target, display string) {
	target = raw
	if i := strings.Index(raw, "|"); i >= 0 {
		target = raw[:i]
		display = strings.TrimSpace(raw[i+1:])
	}
	return strings.TrimSpace(target), display
}
