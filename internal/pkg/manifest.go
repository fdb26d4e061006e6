package pkg

import (
	"bytes"
	"encoding/json"
)

// DefaultMain is the main module assumed when a manifest has none.
const DefaultMain = "index"

// Manifest is a parsed package.json.
type Manifest struct {
	fields map[string]json.RawMessage
}

// ParseManifest parses package.json content.
func ParseManifest(data []byte) (*Manifest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return &Manifest{fields: fields}, nil
}

// Name returns the "name" field. A string is returned as is. Any other truthy
// value is returned as compact JSON text (so {"name": 7} yields "7"), keeping
// Name non-empty exactly when HasName is true. Falsy values yield "".
func (m *Manifest) Name() string {
	raw, ok := m.fields["name"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if !truthy(raw) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(bytes.TrimSpace(raw))
	}
	return buf.String()
}

// HasName reports whether the "name" field is set to a truthy value.
func (m *Manifest) HasName() bool {
	return truthy(m.fields["name"])
}

// Main returns the "main" field, or DefaultMain when it is missing or empty.
func (m *Manifest) Main() string {
	var s string
	if raw, ok := m.fields["main"]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	if s == "" {
		return DefaultMain
	}
	return s
}

// FieldKind classifies the shape of an override field.
type FieldKind int

const (
	// FieldAbsent covers missing fields and shapes that carry no overrides.
	FieldAbsent FieldKind = iota
	// FieldSingle is a string: it replaces the package main.
	FieldSingle
	// FieldTable is an object mapping specifiers to replacements.
	FieldTable
)

// Field is an override field of a manifest.
type Field struct {
	Kind   FieldKind
	Single string
	Table  Table
}

// Field classifies the manifest field name.
//
// Falsy values and shapes other than strings and objects are FieldAbsent.
// Table entries whose value is neither a string nor false are dropped.
func (m *Manifest) Field(name string) Field {
	raw, ok := m.fields[name]
	if !ok || !truthy(raw) {
		return Field{Kind: FieldAbsent}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return Field{Kind: FieldSingle, Single: s}
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return Field{Kind: FieldAbsent}
	}
	table := make(Table, len(entries))
	for key, value := range entries {
		if r, ok := parseReplacement(value); ok {
			table[key] = r
		}
	}
	return Field{Kind: FieldTable, Table: table}
}

func parseReplacement(raw json.RawMessage) (Replacement, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return Redirect(s), true
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil && !b {
		return Stub(), true
	}
	return Replacement{}, false
}

// truthy mirrors JavaScript truthiness for a JSON value.
func truthy(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return false
	}
	switch string(v) {
	case "null", "false", `""`:
		return false
	}
	var n float64
	if err := json.Unmarshal(v, &n); err == nil {
		return n != 0
	}
	return true
}
