package cases

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

func TestNewCatalog_Operations(t *testing.T) {
	reg, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	var resources, tools []string
	for _, d := range reg.Definitions(KindResource) {
		resources = append(resources, d.Name)
	}
	for _, d := range reg.Definitions(KindTool) {
		tools = append(tools, d.Name)
	}

	if want := []string{"cases", "case"}; !reflect.DeepEqual(resources, want) {
		t.Errorf("resources = %v, want %v", resources, want)
	}
	if want := []string{"create_case", "update_case", "list_cases", "get_case"}; !reflect.DeepEqual(tools, want) {
		t.Errorf("tools = %v, want %v", tools, want)
	}
}

func TestNewCatalog_Schemas(t *testing.T) {
	reg, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	tests := []struct {
		name     string
		kind     Kind
		action   Action
		required []string
		optional []string
	}{
		{"cases", KindResource, ActionList, nil, []string{"limit", "offset", "state", "priority", "query"}},
		{"case", KindResource, ActionGet, []string{"case_id"}, nil},
		{"create_case", KindTool, ActionCreate, []string{"short_description"},
			[]string{"description", "contact", "account", "priority", "state", "assigned_to", "assignment_group"}},
		{"update_case", KindTool, ActionUpdate, []string{"case_id"},
			[]string{"short_description", "description", "contact", "account", "priority", "state", "assigned_to", "assignment_group"}},
		{"list_cases", KindTool, ActionList, nil, []string{"limit", "offset", "state", "priority", "query"}},
		{"get_case", KindTool, ActionGet, []string{"case_id"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := reg.Lookup(tt.name, tt.kind)
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if def.Action != tt.action {
				t.Errorf("action = %q, want %q", def.Action, tt.action)
			}

			var required, optional []string
			for _, p := range def.Params {
				if p.Required {
					required = append(required, p.Name)
				} else {
					optional = append(optional, p.Name)
				}
				if p.Description == "" {
					t.Errorf("param %q has no description", p.Name)
				}
			}
			if !reflect.DeepEqual(required, tt.required) {
				t.Errorf("required = %v, want %v", required, tt.required)
			}
			if !reflect.DeepEqual(optional, tt.optional) {
				t.Errorf("optional = %v, want %v", optional, tt.optional)
			}
		})
	}
}

func TestNewCatalog_ListDefaults(t *testing.T) {
	reg, _ := NewCatalog()
	def, err := reg.Lookup(ToolListCases, KindTool)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	limit, _ := def.Param("limit")
	offset, _ := def.Param("offset")
	if limit.Default != 10 || limit.Type != ParamInteger {
		t.Errorf("limit = %+v, want integer default 10", limit)
	}
	if offset.Default != 0 || offset.Type != ParamInteger {
		t.Errorf("offset = %+v, want integer default 0", offset)
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	reg := NewRegistry()
	def := Definition{Name: "get_case", Kind: KindTool, Action: ActionGet}
	if err := reg.Register(def); err != nil {
		t.Fatalf("first Register: %v", err)
	}

	err := reg.Register(def)
	if !errors.Is(err, ErrDuplicateOperation) {
		t.Fatalf("second Register error = %v, want ErrDuplicateOperation", err)
	}

	// Same name under another kind is a different operation.
	if err := reg.Register(Definition{Name: "get_case", Kind: KindResource, Action: ActionGet}); err != nil {
		t.Errorf("Register under resource kind: %v", err)
	}
}

func TestRegistry_InvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{"empty name", Definition{Kind: KindTool, Action: ActionGet}},
		{"unknown kind", Definition{Name: "x", Kind: "prompt", Action: ActionGet}},
		{"unknown action", Definition{Name: "x", Kind: KindTool, Action: "delete"}},
		{"repeated param", Definition{Name: "x", Kind: KindTool, Action: ActionGet, Params: []Param{
			{Name: "case_id", Type: ParamString}, {Name: "case_id", Type: ParamString},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewRegistry().Register(tt.def); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRegistry_LookupUnknown(t *testing.T) {
	reg, _ := NewCatalog()

	_, err := reg.Lookup("delete_case", KindTool)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}

	// Resources and tools do not share a namespace.
	if _, err := reg.Lookup(ResourceCases, KindTool); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(cases, tool) error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_LookupReturnsCopy(t *testing.T) {
	reg, _ := NewCatalog()

	def, _ := reg.Lookup(ToolCreateCase, KindTool)
	def.Params[0].Required = false
	def.Params = def.Params[:1]

	again, _ := reg.Lookup(ToolCreateCase, KindTool)
	if len(again.Params) != 8 {
		t.Fatalf("params = %d, want 8", len(again.Params))
	}
	if !again.Params[0].Required {
		t.Error("mutating a looked-up definition changed the registry")
	}
}

func TestRegistry_ConcurrentLookup(t *testing.T) {
	reg, _ := NewCatalog()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, def := range CatalogDefinitions() {
				if _, err := reg.Lookup(def.Name, def.Kind); err != nil {
					t.Errorf("Lookup(%s): %v", def.Name, err)
				}
			}
		}()
	}
	wg.Wait()
}
