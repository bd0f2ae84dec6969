package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/RaikaSurendra/servicenow-case-mcp/internal/cases"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMCPConfig(pkg string) config.MCPConfig {
	return config.MCPConfig{
		ToolPackage: pkg,
		Packages: map[string][]string{
			config.PackageCaseReadOnly: {cases.ToolListCases, cases.ToolGetCase},
			config.PackageNone:         {},
		},
	}
}

type executedCall struct {
	name   string
	kind   cases.Kind
	params map[string]any
}

// fakeExecutor returns canned results per operation name.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []executedCall
	results map[string]cases.Result
	errs    map[string]error
}

func (f *fakeExecutor) Execute(_ context.Context, def cases.Definition, params map[string]any) (cases.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, executedCall{name: def.Name, kind: def.Kind, params: params})
	if err := f.errs[def.Name]; err != nil {
		return nil, err
	}
	if res, ok := f.results[def.Name]; ok {
		return res, nil
	}
	return &cases.ListResult{Cases: []cases.Case{}}, nil
}

func (f *fakeExecutor) lastCall(t *testing.T) executedCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("executor was not called")
	}
	return f.calls[len(f.calls)-1]
}

func newTestServer(t *testing.T, exec Executor, pkg string) *Server {
	t.Helper()
	reg, err := cases.NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	srv, err := New(reg, exec, testMCPConfig(pkg), "test", testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

// connect opens an in-memory client session against srv.
func connect(t *testing.T, srv *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := srv.MCP().Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content items = %d, want 1", len(res.Content))
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want *mcp.TextContent", res.Content[0])
	}
	return text.Text
}

func decodeResult(t *testing.T, res *mcp.CallToolResult, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(resultText(t, res)), v); err != nil {
		t.Fatalf("decode tool result: %v", err)
	}
}

// caseTable is a minimal in-memory Table API for sn_customerservice_case.
type caseTable struct {
	mu      sync.Mutex
	records map[string]map[string]any
	seq     int
}

func newCaseTable() *caseTable {
	return &caseTable{records: map[string]map[string]any{}}
}

func (c *caseTable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	const prefix = "/api/now/table/sn_customerservice_case"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	sysID := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")

	switch {
	case r.Method == http.MethodPost && sysID == "":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.seq++
		body["sys_id"] = fmt.Sprintf("%032x", c.seq)
		body["number"] = fmt.Sprintf("CS%07d", 1000+c.seq)
		c.records[body["sys_id"].(string)] = body
		writeResult(w, http.StatusCreated, body)

	case r.Method == http.MethodPatch && sysID != "":
		rec, ok := c.records[sysID]
		if !ok {
			writeNotFound(w)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		for k, v := range body {
			rec[k] = v
		}
		writeResult(w, http.StatusOK, rec)

	case r.Method == http.MethodGet && sysID != "":
		rec, ok := c.records[sysID]
		if !ok {
			writeNotFound(w)
			return
		}
		writeResult(w, http.StatusOK, rec)

	case r.Method == http.MethodGet:
		number := strings.TrimPrefix(r.URL.Query().Get("sysparm_query"), "number=")
		out := []map[string]any{}
		for _, rec := range c.records {
			if rec["number"] == number {
				out = append(out, rec)
			}
		}
		writeResult(w, http.StatusOK, out)

	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func writeResult(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"result": v})
}

func writeNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error":{"message":"No Record found","detail":"Record doesn't exist or ACL restricts the record retrieval"},"status":"failure"}`))
}
