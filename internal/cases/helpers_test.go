package cases

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/RaikaSurendra/servicenow-case-mcp/internal/config"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/events"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/servicenow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCasesConfig() config.CasesConfig {
	return config.CasesConfig{
		Table:        "sn_customerservice_case",
		MaxLimit:     100,
		DisplayValue: "all",
	}
}

// fakeCall records one call made to fakeClient.
type fakeCall struct {
	method string
	sysID  string
	query  string
	offset int
	limit  int
	body   servicenow.Record
}

// fakeClient is an in-memory case table. It understands the subset of the
// encoded query syntax the translator emits.
type fakeClient struct {
	mu      sync.Mutex
	records []servicenow.Record
	calls   []fakeCall
	seq     int

	// err, when set, is returned by every call.
	err error
}

func newFakeClient(records ...servicenow.Record) *fakeClient {
	return &fakeClient{records: records, seq: len(records)}
}

func (f *fakeClient) record(c fakeCall) {
	f.calls = append(f.calls, c)
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) lastCall() fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeClient) GetRecords(_ context.Context, _ string, query *servicenow.QueryBuilder, offset, limit int, _ []string, _ ...servicenow.RequestOption) ([]servicenow.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := query.Build()
	f.record(fakeCall{method: http.MethodGet, query: q, offset: offset, limit: limit})
	if f.err != nil {
		return nil, f.err
	}

	var matched []servicenow.Record
	for _, rec := range f.records {
		if matchQuery(rec, q) {
			matched = append(matched, copyRecord(rec))
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (f *fakeClient) GetRecord(_ context.Context, table, sysID string, _ []string, _ ...servicenow.RequestOption) (servicenow.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fakeCall{method: http.MethodGet, sysID: sysID})
	if f.err != nil {
		return nil, f.err
	}
	if rec := f.find(sysID); rec != nil {
		return copyRecord(rec), nil
	}
	return nil, &servicenow.APIError{StatusCode: http.StatusNotFound, Method: http.MethodGet, Table: table, Message: "No Record found"}
}

func (f *fakeClient) InsertRecord(_ context.Context, _ string, record servicenow.Record, _ ...servicenow.RequestOption) (*servicenow.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fakeCall{method: http.MethodPost, body: copyRecord(record)})
	if f.err != nil {
		return nil, f.err
	}

	f.seq++
	rec := copyRecord(record)
	rec["sys_id"] = fmt.Sprintf("%032x", f.seq)
	rec["number"] = fmt.Sprintf("CS%07d", 1000+f.seq)
	rec["sys_created_on"] = "2026-01-02 03:04:05"
	rec["sys_updated_on"] = "2026-01-02 03:04:05"
	f.records = append(f.records, rec)
	out := copyRecord(rec)
	return &out, nil
}

func (f *fakeClient) UpdateRecord(_ context.Context, table, sysID string, record servicenow.Record, _ ...servicenow.RequestOption) (*servicenow.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fakeCall{method: http.MethodPatch, sysID: sysID, body: copyRecord(record)})
	if f.err != nil {
		return nil, f.err
	}

	rec := f.find(sysID)
	if rec == nil {
		return nil, &servicenow.APIError{StatusCode: http.StatusNotFound, Method: http.MethodPatch, Table: table, Message: "No Record found"}
	}
	for k, v := range record {
		rec[k] = v
	}
	rec["sys_updated_on"] = "2026-01-02 04:05:06"
	out := copyRecord(rec)
	return &out, nil
}

func (f *fakeClient) Close() {}

func (f *fakeClient) find(sysID string) servicenow.Record {
	for _, rec := range f.records {
		if rec["sys_id"] == sysID {
			return rec
		}
	}
	return nil
}

func copyRecord(r servicenow.Record) servicenow.Record {
	out := make(servicenow.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// matchQuery evaluates an encoded query of ANDed terms, where a term may
// carry ^OR alternatives.
func matchQuery(rec servicenow.Record, q string) bool {
	if q == "" {
		return true
	}
	for _, group := range strings.Split(strings.ReplaceAll(q, "^OR", "\x00"), "^") {
		ok := false
		for _, term := range strings.Split(group, "\x00") {
			if matchTerm(rec, term) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func matchTerm(rec servicenow.Record, term string) bool {
	if field, value, ok := strings.Cut(term, "LIKE"); ok {
		s, _ := rec[field].(string)
		return strings.Contains(strings.ToLower(s), strings.ToLower(value))
	}
	field, value, _ := strings.Cut(term, "=")
	s, _ := rec[field].(string)
	return s == value
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.CaseEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.CaseEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) published() []events.CaseEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.CaseEvent(nil), p.events...)
}

func sampleCases(n int) []servicenow.Record {
	recs := make([]servicenow.Record, 0, n)
	for i := 1; i <= n; i++ {
		recs = append(recs, servicenow.Record{
			"sys_id":            fmt.Sprintf("%032x", i),
			"number":            fmt.Sprintf("CS%07d", 1000+i),
			"short_description": fmt.Sprintf("case %d", i),
			"priority":          fmt.Sprint(1 + i%4),
			"state":             "1",
		})
	}
	return recs
}

func servicenowConfig(baseURL string) config.ServiceNowConfig {
	return config.ServiceNowConfig{
		BaseURL:        baseURL,
		TableAPIPath:   "/api/now/table",
		TimeoutSeconds: 5,
	}
}
