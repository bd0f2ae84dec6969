package cases

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestBindParams_DefaultsApplied(t *testing.T) {
	def, _ := mustCatalog(t).Lookup(ToolListCases, KindTool)

	b, err := bindParams(def, nil)
	if err != nil {
		t.Fatalf("bindParams: %v", err)
	}
	if b.integer("limit") != 10 || b.integer("offset") != 0 {
		t.Errorf("limit/offset = %d/%d, want 10/0", b.integer("limit"), b.integer("offset"))
	}
	if b.supplied["limit"] {
		t.Error("defaulted limit should not count as supplied")
	}
}

func TestBindParams_MissingRequired(t *testing.T) {
	def, _ := mustCatalog(t).Lookup(ToolCreateCase, KindTool)

	for _, raw := range []map[string]any{
		{"priority": "3"},
		{"short_description": nil},
		{"short_description": "   "},
	} {
		_, err := bindParams(def, raw)
		var ce *Error
		if !errors.As(err, &ce) || ce.Kind != KindValidation {
			t.Fatalf("bindParams(%v) error = %v, want validation error", raw, err)
		}
		if !reflect.DeepEqual(ce.Fields, []string{"short_description"}) {
			t.Errorf("fields = %v, want [short_description]", ce.Fields)
		}
	}
}

func TestBindParams_Coercion(t *testing.T) {
	def := Definition{Name: "t", Kind: KindTool, Action: ActionList, Params: []Param{
		{Name: "n", Type: ParamInteger},
		{Name: "s", Type: ParamString},
	}}

	tests := []struct {
		name    string
		raw     map[string]any
		wantN   int
		wantS   string
		wantErr string
	}{
		{"native", map[string]any{"n": 5, "s": "x"}, 5, "x", ""},
		{"json float", map[string]any{"n": float64(7), "s": float64(3)}, 7, "3", ""},
		{"json number", map[string]any{"n": json.Number("12"), "s": json.Number("4")}, 12, "4", ""},
		{"numeric string", map[string]any{"n": " 9 "}, 9, "", ""},
		{"fractional", map[string]any{"n": 2.5}, 0, "", "n"},
		{"word", map[string]any{"n": "ten"}, 0, "", "n"},
		{"bool string", map[string]any{"s": true}, 0, "", "s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := bindParams(def, tt.raw)
			if tt.wantErr != "" {
				var ce *Error
				if !errors.As(err, &ce) || ce.Kind != KindValidation {
					t.Fatalf("error = %v, want validation error", err)
				}
				if len(ce.Fields) != 1 || ce.Fields[0] != tt.wantErr {
					t.Errorf("fields = %v, want [%s]", ce.Fields, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("bindParams: %v", err)
			}
			if b.integer("n") != tt.wantN {
				t.Errorf("n = %d, want %d", b.integer("n"), tt.wantN)
			}
			if b.str("s") != tt.wantS {
				t.Errorf("s = %q, want %q", b.str("s"), tt.wantS)
			}
		})
	}
}

func TestBindParams_UnknownCollected(t *testing.T) {
	def, _ := mustCatalog(t).Lookup(ToolGetCase, KindTool)

	b, err := bindParams(def, map[string]any{"case_id": "CS0001001", "verbose": true})
	if err != nil {
		t.Fatalf("bindParams: %v", err)
	}
	if !reflect.DeepEqual(b.unknown, []string{"verbose"}) {
		t.Errorf("unknown = %v, want [verbose]", b.unknown)
	}
}

func mustCatalog(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return reg
}
