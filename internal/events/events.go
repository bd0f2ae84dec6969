// Package events publishes a notification for every case the server creates
// or updates. Publishing is best effort: the mutation has already happened
// in ServiceNow when an event is emitted, so callers log failures instead of
// failing the invocation.
package events

import (
	"context"
	"strings"
	"time"
)

// Actions carried in CaseEvent.Action.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// SnapshotFields are the case fields copied into every event.
var SnapshotFields = []string{
	"sys_id",
	"number",
	"short_description",
	"description",
	"contact",
	"account",
	"priority",
	"state",
	"assigned_to",
	"assignment_group",
	"updated_on",
}

// CaseEvent describes one successful create or update.
type CaseEvent struct {
	Action       string
	InvocationID string
	OccurredAt   time.Time
	// Changed lists the fields the caller supplied.
	Changed []string
	// Fields is the case as returned by ServiceNow, keyed by SnapshotFields.
	Fields map[string]string
}

// SysID returns the sys_id of the case the event is about.
func (e CaseEvent) SysID() string { return e.Fields["sys_id"] }

// payloadFields is the flat record layout used for both JSON and Avro.
func payloadFields() []string {
	return append([]string{"action", "invocation_id", "occurred_at", "changed_fields"}, SnapshotFields...)
}

// payload flattens the event into nullable string fields. Snapshot fields the
// case does not carry are nil.
func (e CaseEvent) payload() map[string]interface{} {
	p := map[string]interface{}{
		"action":         e.Action,
		"invocation_id":  nullable(e.InvocationID),
		"occurred_at":    e.OccurredAt.UTC().Format(time.RFC3339Nano),
		"changed_fields": strings.Join(e.Changed, ","),
	}
	for _, f := range SnapshotFields {
		p[f] = nullable(e.Fields[f])
	}
	return p
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Publisher delivers case events.
type Publisher interface {
	Publish(ctx context.Context, event CaseEvent) error
	Close()
}

// NopPublisher drops every event. It is used when events are disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, CaseEvent) error { return nil }
func (NopPublisher) Close()                                   {}
