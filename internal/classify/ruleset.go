package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidRuleSet is returned for rule documents that fail validation.
var ErrInvalidRuleSet = errors.New("invalid rule set")

// ruleSetSchema describes the on-disk document: an object mapping category
// labels to lists of rule strings.
const ruleSetSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "propertyNames": {"minLength": 1},
  "additionalProperties": {
    "type": ["array", "null"],
    "items": {"type": "string"}
  }
}`

var compiledRuleSetSchema = jsonschema.MustCompileString("categories.schema.json", ruleSetSchema)

// CategoryRules is one category entry of a rule document.
type CategoryRules struct {
	Category string
	Rules    []string
}

// RuleSet is an ordered rule document. It encodes as a JSON object whose key
// order is the classification priority, so it must never pass through a Go map.
type RuleSet []CategoryRules

// Clone returns a deep copy.
func (rs RuleSet) Clone() RuleSet {
	out := make(RuleSet, len(rs))
	for i, cr := range rs {
		out[i] = CategoryRules{Category: cr.Category}
		if cr.Rules != nil {
			out[i].Rules = append([]string(nil), cr.Rules...)
		}
	}
	return out
}

// HasRules reports whether at least one category carries a non-blank rule.
func (rs RuleSet) HasRules() bool {
	for _, cr := range rs {
		for _, r := range cr.Rules {
			if strings.TrimSpace(r) != "" {
				return true
			}
		}
	}
	return false
}

// Table compiles the document into a substring-matching table. Empty rule
// lists and blank rules are skipped.
func (rs RuleSet) Table() *Table {
	categories := make([]Category, 0, len(rs))
	for _, cr := range rs {
		c := Category{Label: cr.Category}
		for _, r := range cr.Rules {
			if m := NewSubstringMatcher(r); m != nil {
				c.Matchers = append(c.Matchers, m)
			}
		}
		categories = append(categories, c)
	}
	return NewTable(categories)
}

// MarshalJSON writes the categories as one JSON object in document order.
func (rs RuleSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, cr := range rs {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(&buf, cr.Category); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		rules := cr.Rules
		if rules == nil {
			rules = []string{}
		}
		if err := writeJSON(&buf, rules); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// writeJSON encodes v without HTML escaping so "&" in labels stays readable.
func writeJSON(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

// UnmarshalJSON reads a JSON object keeping its key order. Duplicate
// category labels are rejected.
func (rs *RuleSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: expected object", ErrInvalidRuleSet)
	}

	out := RuleSet{}
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		label, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: expected category label", ErrInvalidRuleSet)
		}
		if seen[label] {
			return fmt.Errorf("%w: duplicate category %q", ErrInvalidRuleSet, label)
		}
		seen[label] = true

		var rules []string
		if err := dec.Decode(&rules); err != nil {
			return fmt.Errorf("%w: category %q: %v", ErrInvalidRuleSet, label, err)
		}
		out = append(out, CategoryRules{Category: label, Rules: rules})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*rs = out
	return nil
}

// Validate checks a raw document against the rule-set schema.
func Validate(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}
	if err := compiledRuleSetSchema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}
	return nil
}

// Parse validates and decodes a rule document.
func Parse(data []byte) (RuleSet, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var rs RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		if errors.Is(err, ErrInvalidRuleSet) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}
	return rs, nil
}

// Encode renders a rule document the way it is stored on disk.
func Encode(rs RuleSet) ([]byte, error) {
	raw, err := rs.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// LoadFile reads and validates the rule document at path.
func LoadFile(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	rs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing rule file %s: %w", path, err)
	}
	return rs, nil
}

// BackupPath is where SaveFile keeps the previous document.
func BackupPath(path string) string {
	return path + ".backup"
}

// SaveFile writes rs to path. An existing document is copied to
// BackupPath(path) first, and the new one is written through a temp file and
// renamed into place.
func SaveFile(path string, rs RuleSet) error {
	data, err := Encode(rs)
	if err != nil {
		return fmt.Errorf("encoding rule set: %w", err)
	}

	if err := copyFile(path, BackupPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("backing up rule file: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating rule directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".categories-*.json")
	if err != nil {
		return fmt.Errorf("creating temp rule file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp rule file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp rule file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing rule file: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
