// Package cases exposes ServiceNow Customer Service cases as a fixed set of
// named operations.
//
// A [Registry] holds the immutable operation definitions (built once by
// [NewCatalog]) and a [Translator] turns an invocation of one of them into a
// Table API call against the case table and maps the outcome back to a
// [Case], a [ListResult] or an [*Error].
package cases

import (
	"fmt"
	"strconv"
)

// Case is the transient view of one sn_customerservice_case record.
type Case struct {
	SysID            string `json:"sys_id"`
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description,omitempty"`
	Contact          string `json:"contact,omitempty"`
	Account          string `json:"account,omitempty"`
	Priority         string `json:"priority,omitempty"`
	State            string `json:"state,omitempty"`
	AssignedTo       string `json:"assigned_to,omitempty"`
	AssignmentGroup  string `json:"assignment_group,omitempty"`
	CreatedOn        string `json:"created_on,omitempty"`
	UpdatedOn        string `json:"updated_on,omitempty"`

	// DisplayValues holds the display value of each field whose display
	// value differs from its raw value (for example the user name behind an
	// assigned_to sys_id).
	DisplayValues map[string]string `json:"display_values,omitempty"`
}

// Writable case fields, in the order they are declared on create/update.
var writableFields = []string{
	"short_description",
	"description",
	"contact",
	"account",
	"priority",
	"state",
	"assigned_to",
	"assignment_group",
}

// readFields is sent as sysparm_fields on every request.
var readFields = func() []string {
	f := []string{"sys_id", "number"}
	f = append(f, writableFields...)
	return append(f, "sys_created_on", "sys_updated_on")
}()

// caseFromRecord maps a Table API record onto a Case. Values may be plain
// scalars or, with sysparm_display_value=all, {"value":..,"display_value":..}
// objects.
func caseFromRecord(rec map[string]interface{}) Case {
	c := Case{}
	targets := map[string]*string{
		"sys_id":            &c.SysID,
		"number":            &c.Number,
		"short_description": &c.ShortDescription,
		"description":       &c.Description,
		"contact":           &c.Contact,
		"account":           &c.Account,
		"priority":          &c.Priority,
		"state":             &c.State,
		"assigned_to":       &c.AssignedTo,
		"assignment_group":  &c.AssignmentGroup,
		"sys_created_on":    &c.CreatedOn,
		"sys_updated_on":    &c.UpdatedOn,
	}

	for _, name := range readFields {
		v, ok := rec[name]
		if !ok {
			continue
		}
		raw, display := fieldValue(v)
		*targets[name] = raw
		if display != "" && display != raw {
			if c.DisplayValues == nil {
				c.DisplayValues = make(map[string]string)
			}
			c.DisplayValues[publicName(name)] = display
		}
	}
	return c
}

// publicName maps system column names to the names used on Case.
func publicName(field string) string {
	switch field {
	case "sys_created_on":
		return "created_on"
	case "sys_updated_on":
		return "updated_on"
	}
	return field
}

// fieldValue returns the raw and display value of a record field.
func fieldValue(v interface{}) (raw, display string) {
	switch t := v.(type) {
	case nil:
		return "", ""
	case string:
		return t, ""
	case map[string]interface{}:
		raw, _ = fieldValue(t["value"])
		display, _ = fieldValue(t["display_value"])
		return raw, display
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), ""
	case bool:
		return strconv.FormatBool(t), ""
	default:
		return fmt.Sprint(t), ""
	}
}

// snapshot returns the raw values of c keyed by event field name.
func (c Case) snapshot() map[string]string {
	return map[string]string{
		"sys_id":            c.SysID,
		"number":            c.Number,
		"short_description": c.ShortDescription,
		"description":       c.Description,
		"contact":           c.Contact,
		"account":           c.Account,
		"priority":          c.Priority,
		"state":             c.State,
		"assigned_to":       c.AssignedTo,
		"assignment_group":  c.AssignmentGroup,
		"updated_on":        c.UpdatedOn,
	}
}
