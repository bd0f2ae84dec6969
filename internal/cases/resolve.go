package cases

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"github.com/RaikaSurendra/servicenow-case-mcp/internal/servicenow"
)

// sysIDPattern matches the 32 lowercase hex characters of a ServiceNow sys_id.
var sysIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// Resolution tells how a case identifier was matched.
type Resolution int

const (
	Unresolved Resolution = iota
	ResolvedByIdentity
	ResolvedByNumber
)

func (r Resolution) String() string {
	switch r {
	case ResolvedByIdentity:
		return "sys_id"
	case ResolvedByNumber:
		return "number"
	default:
		return "unresolved"
	}
}

// Resolved is the tagged outcome of resolving a case identifier. Record is
// nil when By is Unresolved.
type Resolved struct {
	By     Resolution
	Record servicenow.Record
}

// looksLikeSysID reports whether v has the shape of a sys_id.
func looksLikeSysID(v string) bool {
	return sysIDPattern.MatchString(v)
}

// resolve finds a case by identity first (for sys_id-shaped values) and by
// number otherwise, or when the identity read found nothing. An identifier
// that matches neither is Unresolved with a nil error; transport and
// authorization failures are returned as errors.
func (t *Translator) resolve(ctx context.Context, caseID string) (Resolved, error) {
	if looksLikeSysID(caseID) {
		rec, err := t.client.GetRecord(ctx, t.table, caseID, readFields, t.readOptions()...)
		switch {
		case err == nil && recordSysID(rec) != "":
			return Resolved{By: ResolvedByIdentity, Record: rec}, nil
		case err == nil, isRemoteNotFound(err):
			// Fall through to the number lookup.
		default:
			return Resolved{}, mapRemoteError(err)
		}
	}

	query := servicenow.NewQueryBuilder().WhereEquals("number", caseID)
	recs, err := t.client.GetRecords(ctx, t.table, query, 0, 1, readFields, t.readOptions()...)
	if err != nil {
		return Resolved{}, mapRemoteError(err)
	}
	if len(recs) == 0 {
		return Resolved{By: Unresolved}, nil
	}
	return Resolved{By: ResolvedByNumber, Record: recs[0]}, nil
}

func isRemoteNotFound(err error) bool {
	var apiErr *servicenow.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// recordSysID returns the raw sys_id of a record.
func recordSysID(rec servicenow.Record) string {
	raw, _ := fieldValue(rec["sys_id"])
	return raw
}
