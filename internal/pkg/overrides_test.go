package pkg

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testRoot = "/app/node_modules/foo"

func TestOverrides_Precedence(t *testing.T) {
	m := mustParse(t, `{
		"main": "lib/index.js",
		"browserify": {"./a": "./from-browserify", "./only-browserify": "./x"},
		"browser": {"./a": "./from-browser", "./b": "./from-browser"},
		"react-native": {"./b": "./from-rn"}
	}`)
	extra := Table{
		"./a":      Redirect("./from-global"),
		"./global": Stub(),
	}

	got := Overrides(m, DefaultOverrideFields, extra)
	want := Table{
		"./a":               Redirect("./from-browser"),
		"./b":               Redirect("./from-rn"),
		"./only-browserify": Redirect("./x"),
		"./global":          Stub(),
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(Replacement{})); diff != "" {
		t.Errorf("Overrides() mismatch (-want +got):\n%s", diff)
	}

	if _, ok := extra["./b"]; ok {
		t.Error("Overrides() modified extra")
	}
}

func TestOverrides_StringFieldsReplaceMain(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		fields []string
		want   Table
	}{
		{
			name:   "browser string with default main",
			src:    `{"browser": "shim.js"}`,
			fields: DefaultOverrideFields,
			want:   Table{"index": Redirect("shim.js")},
		},
		{
			name:   "react-native string wins over browser string",
			src:    `{"main": "main.js", "browser": "b.js", "react-native": "rn.js"}`,
			fields: DefaultOverrideFields,
			want:   Table{"main.js": Redirect("rn.js")},
		},
		{
			name:   "browserify skipped when not listed",
			src:    `{"browserify": "bfy.js"}`,
			fields: []string{"browser", "react-native"},
			want:   Table{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Overrides(mustParse(t, tt.src), tt.fields, nil)
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(Replacement{})); diff != "" {
				t.Errorf("Overrides() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTable_Lookup(t *testing.T) {
	table := Table{
		"./x":              Redirect("./x-literal"),
		"./x.js":           Redirect("./x-suffixed"),
		"./lib/foo":        Stub(),
		"./only-js.js":     Redirect("./js"),
		"./only-json.json": Redirect("./json"),
		"lodash":           Redirect("lodash-es"),
		"./empty":          Redirect(""),
		"./events":         Redirect("./events-shim.js"),
	}

	tests := []struct {
		name      string
		specifier string
		want      Replacement
		wantOK    bool
	}{
		{"literal form wins", "./x", Redirect("./x-literal"), true},
		{"suffix stripped before probing", "./x.js", Redirect("./x-literal"), true},
		{"stub", "./lib/foo", Stub(), true},
		{"stub with js suffix", "./lib/foo.js", Stub(), true},
		{"stub with json suffix", "./lib/foo.json", Stub(), true},
		{"absolute path uses root-relative form", testRoot + "/lib/foo.js", Stub(), true},
		{"js keyed entry", "./only-js", Redirect("./js"), true},
		{"json keyed entry", "./only-json", Redirect("./json"), true},
		{"package name", "lodash", Redirect("lodash-es"), true},
		{"empty replacement is no entry", "./empty", Replacement{}, false},
		{"miss", "./nothing", Replacement{}, false},
		{"package name skips root-relative keys", "events", Replacement{}, false},
		{"path to local file", "./events", Redirect("./events-shim.js"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := table.Lookup(testRoot, tt.specifier)
			if ok != tt.wantOK {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.specifier, ok, tt.wantOK)
			}
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(Replacement{})); diff != "" {
				t.Errorf("Lookup(%q) mismatch (-want +got):\n%s", tt.specifier, diff)
			}
		})
	}
}

func TestTable_LookupPath(t *testing.T) {
	table := Table{"./lib/node.js": Stub()}

	if _, ok := table.Lookup(testRoot, "lib/node.js"); ok {
		t.Error("Lookup(lib/node.js) matched a ./ key")
	}
	got, ok := table.LookupPath(testRoot, "lib/node.js")
	if !ok || !got.IsStub() {
		t.Errorf("LookupPath(lib/node.js) = %v, %v, want stub", got, ok)
	}
}

func TestTable_LookupNil(t *testing.T) {
	var table Table
	if _, ok := table.Lookup(testRoot, "./a"); ok {
		t.Error("Lookup() on nil table matched")
	}
}

func TestTable_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Table{"./a": Redirect("./b"), "fs": Stub()})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"./a":"./b","fs":false}`
	if string(data) != want {
		t.Errorf("json.Marshal() = %s, want %s", data, want)
	}
}

func TestTable_Keys(t *testing.T) {
	got := Table{"b": Stub(), "a": Stub(), "c": Stub()}.Keys()
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
}
