package pkg

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/albertocavalcante/pkgres/internal/fastpath"
)

// DefaultOverrideFields lists the manifest fields read for overrides, lowest
// precedence first.
var DefaultOverrideFields = []string{"browserify", "browser", "react-native"}

// DefaultGlobalField is the project manifest field holding project-wide
// overrides.
const DefaultGlobalField = "global-react-native"

// Replacement is the value of an override entry: either another specifier or
// a stub marker telling the bundler to treat the module as empty.
type Replacement struct {
	target string
	stub   bool
}

// Redirect returns a replacement pointing at target.
func Redirect(target string) Replacement {
	return Replacement{target: target}
}

// Stub returns the replacement for an entry whose value is false.
func Stub() Replacement {
	return Replacement{stub: true}
}

// IsStub reports whether the entry stubs the module out.
func (r Replacement) IsStub() bool { return r.stub }

// Target returns the replacement specifier. It is empty for stubs.
func (r Replacement) Target() string { return r.target }

// String renders the replacement the way it appears in package.json.
func (r Replacement) String() string {
	if r.stub {
		return "false"
	}
	return r.target
}

// MarshalJSON encodes stubs as false and redirects as strings.
func (r Replacement) MarshalJSON() ([]byte, error) {
	if r.stub {
		return []byte("false"), nil
	}
	return json.Marshal(r.target)
}

// Table maps specifiers to replacements.
type Table map[string]Replacement

// Keys returns the table keys in sorted order.
func (t Table) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Overrides builds the override table of m from fields, in order, with later
// fields winning on collision. extra is merged beneath every field.
func Overrides(m *Manifest, fields []string, extra Table) Table {
	table := make(Table, len(extra))
	for k, v := range extra {
		table[k] = v
	}
	for _, name := range fields {
		f := m.Field(name)
		switch f.Kind {
		case FieldSingle:
			table[m.Main()] = Redirect(f.Single)
		case FieldTable:
			for k, v := range f.Table {
				table[k] = v
			}
		}
	}
	return table
}

// Lookup finds the override for specifier, as required from a package rooted
// at root.
//
// A trailing .js or .json is stripped first. The table is then probed with the
// bare specifier and its .js and .json forms. Path specifiers (starting with
// "." or "/") are also probed in the same three forms relative to root
// ("./" + path relative to root); package names never are, so "events" does
// not match a "./events" key. The first key present wins. A nil table never
// matches.
func (t Table) Lookup(root, specifier string) (Replacement, bool) {
	return t.lookup(root, specifier, fastpath.IsPathSpecifier(specifier))
}

// LookupPath is Lookup for p known to be a file inside the package, such as
// the main field, so "lib/index.js" also matches "./lib/index.js".
func (t Table) LookupPath(root, p string) (Replacement, bool) {
	return t.lookup(root, p, true)
}

func (t Table) lookup(root, specifier string, relative bool) (Replacement, bool) {
	if t == nil {
		return Replacement{}, false
	}

	bare := trimModuleExt(specifier)
	keys := []string{bare, bare + ".js", bare + ".json"}
	if relative {
		rel := "./" + fastpath.Relative(root, bare)
		keys = append(keys, rel, rel+".js", rel+".json")
	}

	for _, key := range keys {
		r, ok := t[key]
		if !ok {
			continue
		}
		if !r.stub && r.target == "" {
			return Replacement{}, false
		}
		return r, true
	}
	return Replacement{}, false
}

func trimModuleExt(s string) string {
	if trimmed, ok := strings.CutSuffix(s, ".js"); ok {
		return trimmed
	}
	if trimmed, ok := strings.CutSuffix(s, ".json"); ok {
		return trimmed
	}
	return s
}
