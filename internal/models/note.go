// Package models defines the domain types for Ansuz.
package models

import (
	"encoding/json"
	"regexp"
	"time"
)

// NoteIDPattern matches canonical note identifiers: "n-" followed by
// eight lowercase hex characters.
var NoteIDPattern = regexp.MustCompile(`^n-[0-9a-f]{8}$`)

// legacyIDPattern matches pre-migration identifiers of the form "type/filename".
var legacyIDPattern = regexp.MustCompile(`^[^/\s]+/[^/\s]+$`)

// ValidNoteID reports whether id is a canonical note identifier.
func ValidNoteID(id string) bool {
	return NoteIDPattern.MatchString(id)
}

// LegacyNoteID reports whether id uses the old "type/filename" form.
// Legacy identifiers remain addressable; they are never minted for new notes.
func LegacyNoteID(id string) bool {
	return legacyIDPattern.MatchString(id)
}

// NoteRecord is one row of the notes table. The vault file is authoritative;
// every field here is derivable from the file plus scan metadata.
type NoteRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	Type        string    `json:"type"`
	Kind        string    `json:"kind"`
	Filename    string    `json:"filename"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"content_hash"`
	FileMtime   time.Time `json:"file_mtime"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
	Archived    bool      `json:"archived"`
}

// MetadataEntry is one row of the note_metadata table: a single front-matter
// field flattened to text plus its type tag.
type MetadataEntry struct {
	NoteID    string    `json:"note_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ValueType ValueType `json:"value_type"`
}

// HierarchyEdge is a parent/child relation derived from the child note's
// front matter.
type HierarchyEdge struct {
	ParentID string `json:"parent_id"`
	ChildID  string `json:"child_id"`
	Position int    `json:"position"`
}

// RelReferences is the default relationship for body wikilinks.
const RelReferences = "references"

// Rendering kinds for NoteRecord.Kind.
const (
	KindMarkdown = "markdown"
	KindEPUB     = "epub"
	KindOther    = "other"
)

// LinkEdge is a directed wikilink between notes. Exactly one of TargetID and
// Unresolved is set: Unresolved carries the literal link text when the target
// could not be resolved to a note id.
type LinkEdge struct {
	SourceID     string `json:"source_id"`
	TargetID     string `json:"target_id,omitempty"`
	Unresolved   string `json:"unresolved_target,omitempty"`
	Relationship string `json:"relationship"`
	DisplayText  string `json:"display_text,omitempty"`
	Position     int    `json:"position"`
}

// ValueType tags the decoded type of a metadata value.
type ValueType string

// Metadata value types.
const (
	ValueString  ValueType = "string"
	ValueNumber  ValueType = "number"
	ValueBoolean ValueType = "boolean"
	ValueDate    ValueType = "date"
	ValueArray   ValueType = "array"
)

// Value is a tagged union over the metadata value types. Type selects the
// active arm; for dates Raw preserves the text exactly as written in the
// front matter so encoding round-trips byte for byte.
type Value struct {
	Type ValueType
	Str  string
	Num  float64
	Bool bool
	Date time.Time
	Raw  string
	List []string
}

// StringValue returns a string-typed Value.
func StringValue(s string) Value { return Value{Type: ValueString, Str: s} }

// NumberValue returns a number-typed Value.
func NumberValue(f float64) Value { return Value{Type: ValueNumber, Num: f} }

// BoolValue returns a boolean-typed Value.
func BoolValue(b bool) Value { return Value{Type: ValueBoolean, Bool: b} }

// DateValue returns a date-typed Value. raw is the original text form and may
// be empty, in which case encoding falls back to RFC 3339.
func DateValue(t time.Time, raw string) Value {
	return Value{Type: ValueDate, Date: t, Raw: raw}
}

// ListValue returns an array-typed Value.
func ListValue(items []string) Value { return Value{Type: ValueArray, List: items} }

// MarshalJSON renders the active arm as its natural JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case ValueNumber:
		return json.Marshal(v.Num)
	case ValueBoolean:
		return json.Marshal(v.Bool)
	case ValueDate:
		if v.Raw != "" {
			return json.Marshal(v.Raw)
		}
		return json.Marshal(v.Date.Format(time.RFC3339))
	case ValueArray:
		if v.List == nil {
			return json.Marshal([]string{})
		}
		return json.Marshal(v.List)
	default:
		return json.Marshal(v.Str)
	}
}
