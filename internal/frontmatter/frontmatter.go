// Package frontmatter parses and re-serializes YAML front-matter blocks.
//
// Unlike a plain map round trip, documents keep their key order (and scalar
// styles) across Parse/Compose, so a targeted field edit rewrites only the
// lines it touches. That property keeps normalization diffs minimal.
package frontmatter

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const delim = "---"

// Doc is a parsed note file: an optional front-matter mapping plus the
// Markdown body. The zero value is a document with no front matter.
type Doc struct {
	mapping *yaml.Node // kind == MappingNode, nil when absent
	Body    string
}

// Parse splits raw note bytes into front matter and body. A missing or
// unparseable front-matter block degrades to a body-only document.
func Parse(data []byte) *Doc {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return &Doc{Body: string(data)}
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return &Doc{Body: string(data)}
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var root yaml.Node
	if err := yaml.Unmarshal(yamlBlock, &root); err != nil {
		return &Doc{Body: string(data)}
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return &Doc{Body: body}
	}
	return &Doc{mapping: root.Content[0], Body: body}
}

// Compose serializes the document back to note bytes. Documents without any
// front-matter fields render as the bare body.
func (d *Doc) Compose() ([]byte, error) {
	if d.mapping == nil || len(d.mapping.Content) == 0 {
		return []byte(d.Body), nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.mapping); err != nil {
		return nil, fmt.Errorf("frontmatter: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("frontmatter: close encoder: %w", err)
	}

	var out bytes.Buffer
	out.WriteString(delim + "\n")
	out.Write(buf.Bytes())
	out.WriteString(delim + "\n")
	if d.Body != "" {
		out.WriteString("\n")
		out.WriteString(d.Body)
	}
	return out.Bytes(), nil
}

// Has reports whether key is present.
func (d *Doc) Has(key string) bool {
	return d.keyIndex(key) >= 0
}

// Get returns the decoded value for key.
func (d *Doc) Get(key string) (any, bool) {
	i := d.keyIndex(key)
	if i < 0 {
		return nil, false
	}
	var v any
	if err := d.mapping.Content[i+1].Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// GetString returns the value for key when it is a plain string.
func (d *Doc) GetString(key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set assigns value to key, appending the key when absent.
func (d *Doc) Set(key string, value any) {
	val := scalarNode(value)
	if i := d.keyIndex(key); i >= 0 {
		d.mapping.Content[i+1] = val
		return
	}
	if d.mapping == nil {
		d.mapping = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}
	k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	d.mapping.Content = append(d.mapping.Content, k, val)
}

// Delete removes key. It reports whether the key was present.
func (d *Doc) Delete(key string) bool {
	i := d.keyIndex(key)
	if i < 0 {
		return false
	}
	d.mapping.Content = append(d.mapping.Content[:i], d.mapping.Content[i+2:]...)
	return true
}

// Rename changes the key of a field in place, keeping its value and position.
// It reports whether oldKey was present.
func (d *Doc) Rename(oldKey, newKey string) bool {
	i := d.keyIndex(oldKey)
	if i < 0 {
		return false
	}
	d.mapping.Content[i].Value = newKey
	return true
}

// Fields decodes the whole mapping into a plain map. Returns nil when the
// document has no front matter.
func (d *Doc) Fields() map[string]any {
	if d.mapping == nil {
		return nil
	}
	var out map[string]any
	if err := d.mapping.Decode(&out); err != nil {
		return nil
	}
	return out
}

// keyIndex returns the index of the key node for key within the mapping's
// flat Content slice, or -1.
func (d *Doc) keyIndex(key string) int {
	if d.mapping == nil {
		return -1
	}
	for i := 0; i+1 < len(d.mapping.Content); i += 2 {
		if d.mapping.Content[i].Value == key {
			return i
		}
	}
	return -1
}

// scalarNode builds a yaml node for the value types normalization writes.
func scalarNode(value any) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode}
	switch v := value.(type) {
	case string:
		n.Tag = "!!str"
		n.Value = v
	case bool:
		n.Tag = "!!bool"
		n.Value = strconv.FormatBool(v)
	case int:
		n.Tag = "!!int"
		n.Value = strconv.Itoa(v)
	case float64:
		n.Tag = "!!float"
		n.Value = strconv.FormatFloat(v, 'g', -1, 64)
	case []string:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: item})
		}
		return seq
	default:
		n.Tag = "!!str"
		n.Value = fmt.Sprintf("%v", v)
	}
	return n
}
