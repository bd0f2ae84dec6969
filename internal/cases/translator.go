package cases

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/RaikaSurendra/servicenow-case-mcp/internal/config"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/events"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/servicenow"
)

// Filter selects a window of cases.
type Filter struct {
	Limit    int
	Offset   int
	State    string
	Priority string
	Query    string
}

// Fields holds the case fields supplied by a caller, keyed by field name.
// Only the keys present are written.
type Fields map[string]string

// Result is returned by Execute: a *ListResult, *Case or *MutationResult.
type Result interface {
	isResult()
}

// ListResult is one page of cases in the order ServiceNow returned them.
type ListResult struct {
	Count      int    `json:"count"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
	NextOffset int    `json:"next_offset"`
	Cases      []Case `json:"cases"`
}

// MutationResult describes a created or updated case.
type MutationResult struct {
	CaseID     string `json:"case_id"`
	CaseNumber string `json:"case_number"`
	Message    string `json:"message"`
	Case       Case   `json:"case"`
}

func (*ListResult) isResult()     {}
func (*Case) isResult()           {}
func (*MutationResult) isResult() {}

type invocationKey struct{}

// WithInvocationID attaches an invocation id to ctx. It is copied into
// emitted case events.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationKey{}, id)
}

func invocationID(ctx context.Context) string {
	id, _ := ctx.Value(invocationKey{}).(string)
	return id
}

// Translator turns case operations into Table API calls. It is stateless
// apart from its configuration and safe for concurrent use. It never retries;
// retries belong to the servicenow.Client.
type Translator struct {
	client       servicenow.Client
	table        string
	maxLimit     int
	displayValue string
	publisher    events.Publisher
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Translator.
type Option func(*Translator)

// WithPublisher emits a case event after every successful create or update.
func WithPublisher(p events.Publisher) Option {
	return func(t *Translator) {
		if p != nil {
			t.publisher = p
		}
	}
}

// NewTranslator creates a Translator for the configured case table.
func NewTranslator(client servicenow.Client, cfg config.CasesConfig, logger *slog.Logger, opts ...Option) *Translator {
	t := &Translator{
		client:       client,
		table:        cfg.Table,
		maxLimit:     cfg.MaxLimit,
		displayValue: cfg.DisplayValue,
		publisher:    events.NopPublisher{},
		now:          time.Now,
		logger:       logger.With("component", "case-translator"),
	}
	if t.table == "" {
		t.table = "sn_customerservice_case"
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Execute validates params against def and performs its action.
func (t *Translator) Execute(ctx context.Context, def Definition, params map[string]any) (Result, error) {
	b, err := bindParams(def, params)
	if err != nil {
		return nil, err
	}
	if len(b.unknown) > 0 {
		t.logger.Debug("ignoring undeclared parameters",
			"operation", def.Name,
			"params", b.unknown,
		)
	}

	switch def.Action {
	case ActionList:
		return result(t.List(ctx, Filter{
			Limit:    b.integer("limit"),
			Offset:   b.integer("offset"),
			State:    b.str("state"),
			Priority: b.str("priority"),
			Query:    b.str("query"),
		}))
	case ActionGet:
		return result(t.Get(ctx, b.str("case_id")))
	case ActionCreate:
		return result(t.Create(ctx, suppliedFields(b)))
	case ActionUpdate:
		return result(t.Update(ctx, b.str("case_id"), suppliedFields(b)))
	}
	return nil, fmt.Errorf("operation %q has unknown action %q", def.Name, def.Action)
}

// result keeps a failed call from returning a typed nil inside Result.
func result[T Result](r T, err error) (Result, error) {
	if err != nil {
		return nil, err
	}
	return r, nil
}

func suppliedFields(b boundParams) Fields {
	f := Fields{}
	for _, name := range writableFields {
		if b.supplied[name] {
			f[name] = b.str(name)
		}
	}
	return f
}

// List returns at most f.Limit cases starting at f.Offset. Empty filter
// values are not applied. Results keep the remote order.
func (t *Translator) List(ctx context.Context, f Filter) (*ListResult, error) {
	if f.Limit < 1 {
		return nil, validationError(fmt.Sprintf("limit must be at least 1, got %d", f.Limit), "limit")
	}
	if t.maxLimit > 0 && f.Limit > t.maxLimit {
		return nil, validationError(fmt.Sprintf("limit must not exceed %d, got %d", t.maxLimit, f.Limit), "limit")
	}
	if f.Offset < 0 {
		return nil, validationError(fmt.Sprintf("offset must not be negative, got %d", f.Offset), "offset")
	}

	query := servicenow.NewQueryBuilder()
	if f.State != "" {
		query.WhereEquals("state", f.State)
	}
	if f.Priority != "" {
		query.WhereEquals("priority", f.Priority)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		query.WhereLike("short_description", q).OrWhereLike("description", q)
	}

	recs, err := t.client.GetRecords(ctx, t.table, query, f.Offset, f.Limit, readFields, t.readOptions()...)
	if err != nil {
		return nil, mapRemoteError(err)
	}
	if len(recs) > f.Limit {
		recs = recs[:f.Limit]
	}

	out := &ListResult{
		Count:  len(recs),
		Limit:  f.Limit,
		Offset: f.Offset,
		Cases:  make([]Case, 0, len(recs)),
	}
	for _, rec := range recs {
		out.Cases = append(out.Cases, caseFromRecord(rec))
	}
	out.NextOffset = f.Offset + out.Count
	return out, nil
}

// Get resolves caseID as a sys_id or case number.
func (t *Translator) Get(ctx context.Context, caseID string) (*Case, error) {
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return nil, validationError("parameter \"case_id\" must not be blank", "case_id")
	}

	res, err := t.resolve(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if res.By == Unresolved {
		return nil, notFoundError("case %q not found", caseID)
	}
	t.logger.Debug("case resolved", "case_id", caseID, "by", res.By.String())

	c := caseFromRecord(res.Record)
	return &c, nil
}

// Create inserts a case. short_description is required and must not be blank.
func (t *Translator) Create(ctx context.Context, fields Fields) (*MutationResult, error) {
	if err := checkFields(fields); err != nil {
		return nil, err
	}
	if strings.TrimSpace(fields["short_description"]) == "" {
		return nil, validationError("parameter \"short_description\" is required", "short_description")
	}

	rec, err := t.client.InsertRecord(ctx, t.table, toRecord(fields), t.writeOptions()...)
	if err != nil {
		return nil, mapRemoteError(err)
	}
	c := caseFromRecord(*rec)
	if c.SysID == "" {
		return nil, &Error{Kind: KindRemote, Message: "create response did not include a sys_id"}
	}

	t.logger.Info("case created", "sys_id", c.SysID, "number", c.Number)
	t.publish(ctx, events.ActionCreate, c, fields)

	return &MutationResult{
		CaseID:     c.SysID,
		CaseNumber: c.Number,
		Message:    "Case created successfully",
		Case:       c,
	}, nil
}

// Update resolves caseID and patches only the supplied fields.
func (t *Translator) Update(ctx context.Context, caseID string, fields Fields) (*MutationResult, error) {
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return nil, validationError("parameter \"case_id\" must not be blank", "case_id")
	}
	if err := checkFields(fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, validationError("no fields to update")
	}

	res, err := t.resolve(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if res.By == Unresolved {
		return nil, notFoundError("case %q not found", caseID)
	}
	sysID := recordSysID(res.Record)

	rec, err := t.client.UpdateRecord(ctx, t.table, sysID, toRecord(fields), t.writeOptions()...)
	if err != nil {
		return nil, mapRemoteError(err)
	}
	c := caseFromRecord(*rec)
	if c.SysID == "" {
		c.SysID = sysID
	}

	t.logger.Info("case updated", "sys_id", c.SysID, "number", c.Number, "fields", sortedKeys(fields))
	t.publish(ctx, events.ActionUpdate, c, fields)

	return &MutationResult{
		CaseID:     c.SysID,
		CaseNumber: c.Number,
		Message:    "Case updated successfully",
		Case:       c,
	}, nil
}

// checkFields rejects keys that are not writable case fields.
func checkFields(fields Fields) error {
	var bad []string
	for name := range fields {
		if !slices.Contains(writableFields, name) {
			bad = append(bad, name)
		}
	}
	if len(bad) > 0 {
		slices.Sort(bad)
		return validationError("unknown case fields: "+strings.Join(bad, ", "), bad...)
	}
	return nil
}

func toRecord(fields Fields) servicenow.Record {
	rec := make(servicenow.Record, len(fields))
	for k, v := range fields {
		rec[k] = v
	}
	return rec
}

func sortedKeys(fields Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (t *Translator) readOptions() []servicenow.RequestOption {
	return []servicenow.RequestOption{servicenow.WithDisplayValue(t.displayValue)}
}

func (t *Translator) writeOptions() []servicenow.RequestOption {
	return []servicenow.RequestOption{
		servicenow.WithDisplayValue(t.displayValue),
		servicenow.WithFields(readFields),
	}
}

// publish emits a case event. Failures are logged; the mutation has already
// been applied.
func (t *Translator) publish(ctx context.Context, action string, c Case, changed Fields) {
	ev := events.CaseEvent{
		Action:       action,
		InvocationID: invocationID(ctx),
		OccurredAt:   t.now(),
		Changed:      sortedKeys(changed),
		Fields:       c.snapshot(),
	}
	if err := t.publisher.Publish(ctx, ev); err != nil {
		t.logger.Warn("failed to publish case event",
			"action", action,
			"sys_id", c.SysID,
			"error", err,
		)
	}
}
