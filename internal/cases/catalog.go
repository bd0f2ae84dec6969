package cases

import "fmt"

// Operation names of the fixed catalog.
const (
	ResourceCases  = "cases"
	ResourceCase   = "case"
	ToolCreateCase = "create_case"
	ToolUpdateCase = "update_case"
	ToolListCases  = "list_cases"
	ToolGetCase    = "get_case"
)

// Default pagination window.
const (
	DefaultLimit  = 10
	DefaultOffset = 0
)

var fieldDescriptions = map[string]string{
	"short_description": "Short description of the case",
	"description":       "Detailed description of the case",
	"contact":           "Contact associated with the case",
	"account":           "Account associated with the case",
	"priority":          "Priority of the case",
	"state":             "State of the case",
	"assigned_to":       "User assigned to the case",
	"assignment_group":  "Group assigned to the case",
}

func caseIDParam() Param {
	return Param{Name: "case_id", Type: ParamString, Required: true, Description: "Case number (e.g. CS0001001) or sys_id"}
}

func listParams() []Param {
	return []Param{
		{Name: "limit", Type: ParamInteger, Default: DefaultLimit, Description: "Maximum number of cases to return"},
		{Name: "offset", Type: ParamInteger, Default: DefaultOffset, Description: "Offset for pagination"},
		{Name: "state", Type: ParamString, Description: "Filter by case state"},
		{Name: "priority", Type: ParamString, Description: "Filter by case priority"},
		{Name: "query", Type: ParamString, Description: "Search text matched against short and long description"},
	}
}

// fieldParams returns one string parameter per writable case field.
// short_description is required when requireShort is set.
func fieldParams(requireShort bool) []Param {
	params := make([]Param, 0, len(writableFields))
	for _, f := range writableFields {
		params = append(params, Param{
			Name:        f,
			Type:        ParamString,
			Required:    requireShort && f == "short_description",
			Description: fieldDescriptions[f],
		})
	}
	return params
}

// CatalogDefinitions returns the fixed set of case operations.
func CatalogDefinitions() []Definition {
	return []Definition{
		{
			Name:        ResourceCases,
			Kind:        KindResource,
			Action:      ActionList,
			Description: "Customer service cases, filtered and paginated",
			Params:      listParams(),
		},
		{
			Name:        ResourceCase,
			Kind:        KindResource,
			Action:      ActionGet,
			Description: "A single customer service case by number or sys_id",
			Params:      []Param{caseIDParam()},
		},
		{
			Name:        ToolCreateCase,
			Kind:        KindTool,
			Action:      ActionCreate,
			Description: "Create a new customer service case",
			Params:      fieldParams(true),
		},
		{
			Name:        ToolUpdateCase,
			Kind:        KindTool,
			Action:      ActionUpdate,
			Description: "Update an existing customer service case; only the supplied fields change",
			Params:      append([]Param{caseIDParam()}, fieldParams(false)...),
		},
		{
			Name:        ToolListCases,
			Kind:        KindTool,
			Action:      ActionList,
			Description: "List customer service cases with optional state, priority and text filters",
			Params:      listParams(),
		},
		{
			Name:        ToolGetCase,
			Kind:        KindTool,
			Action:      ActionGet,
			Description: "Get a customer service case by number or sys_id",
			Params:      []Param{caseIDParam()},
		},
	}
}

// NewCatalog builds a registry holding the fixed case catalog.
func NewCatalog() (*Registry, error) {
	r := NewRegistry()
	for _, def := range CatalogDefinitions() {
		if err := r.Register(def); err != nil {
			return nil, fmt.Errorf("building case catalog: %w", err)
		}
	}
	return r, nil
}
