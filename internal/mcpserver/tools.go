package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/RaikaSurendra/servicenow-case-mcp/internal/cases"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/config"
)

func (s *Server) registerTools(enabled []string) error {
	if s.pkg != config.PackageNone {
		s.mcp.AddTool(&mcp.Tool{
			Name:        ToolListPackages,
			Description: "Lists available tool packages and the currently loaded one.",
			InputSchema: emptyInputSchema(),
			Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
		}, s.handleListPackages)
		s.tools = append(s.tools, ToolListPackages)
	}

	for _, name := range enabled {
		def, err := s.registry.Lookup(name, cases.KindTool)
		if errors.Is(err, cases.ErrNotFound) {
			s.logger.Warn("tool package names an unknown tool", "package", s.pkg, "tool", name)
			continue
		}
		if err != nil {
			return fmt.Errorf("registering tool %s: %w", name, err)
		}

		s.mcp.AddTool(&mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: inputSchema(def),
			Annotations: toolAnnotations(def),
		}, s.toolHandler(def))
		s.tools = append(s.tools, def.Name)
	}
	return nil
}

func toolAnnotations(def cases.Definition) *mcp.ToolAnnotations {
	readOnly := def.Action == cases.ActionList || def.Action == cases.ActionGet
	destructive := false
	return &mcp.ToolAnnotations{
		ReadOnlyHint:    readOnly,
		IdempotentHint:  readOnly || def.Action == cases.ActionUpdate,
		DestructiveHint: &destructive,
	}
}

func (s *Server) toolHandler(def cases.Definition) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var raw json.RawMessage
		if req != nil && req.Params != nil {
			raw = req.Params.Arguments
		}
		params, err := decodeArguments(raw)
		if err != nil {
			return errorResult(err), nil
		}

		res, err := s.invoke(ctx, def, params)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(res)
	}
}

func (s *Server) handleListPackages(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.packagesResult())
}

// errorPayload is the body of a failed tool call.
type errorPayload struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    cases.ErrorKind `json:"kind"`
	Message string          `json:"message"`
	Fields  []string        `json:"fields,omitempty"`
	Status  int             `json:"status,omitempty"`
}

func newErrorPayload(err error) errorPayload {
	var ce *cases.Error
	if errors.As(err, &ce) {
		return errorPayload{Error: errorBody{
			Kind:    ce.Kind,
			Message: ce.Message,
			Fields:  ce.Fields,
			Status:  ce.Status,
		}}
	}
	return errorPayload{Error: errorBody{Kind: cases.KindRemote, Message: err.Error()}}
}

// errorResult reports err to the model as a tool-level failure.
func errorResult(err error) *mcp.CallToolResult {
	payload := newErrorPayload(err)
	data, mErr := json.MarshalIndent(payload, "", "  ")
	if mErr != nil {
		data = []byte(err.Error())
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
		StructuredContent: payload,
		IsError:           true,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
		StructuredContent: v,
	}, nil
}
