package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/RaikaSurendra/servicenow-case-mcp/internal/cases"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/observability"
)

const outcomeOK = "ok"

// invoke runs def through the executor under a fresh invocation id and
// records the outcome.
func (s *Server) invoke(ctx context.Context, def cases.Definition, params map[string]any) (cases.Result, error) {
	id := uuid.NewString()
	ctx = cases.WithInvocationID(ctx, id)
	start := time.Now()

	res, err := s.exec.Execute(ctx, def, params)

	elapsed := time.Since(start)
	outcome := outcomeOK
	if err != nil {
		outcome = string(errorKind(err))
	}
	observability.Metrics.OperationsTotal.WithLabelValues(def.Name, string(def.Kind), outcome).Inc()
	observability.Metrics.OperationDuration.WithLabelValues(def.Name, string(def.Kind)).Observe(elapsed.Seconds())

	attrs := []any{
		"invocation_id", id,
		"operation", def.Name,
		"kind", def.Kind,
		"action", def.Action,
		"outcome", outcome,
		"duration", elapsed,
	}
	switch {
	case err == nil:
		s.logger.Info("operation completed", attrs...)
	case outcome == string(cases.KindRemote):
		s.logger.Error("operation failed", append(attrs, "error", err)...)
	default:
		s.logger.Warn("operation rejected", append(attrs, "error", err)...)
	}
	return res, err
}

// errorKind classifies err for metrics and error payloads. Errors that did
// not come from the case layer count as remote failures.
func errorKind(err error) cases.ErrorKind {
	var ce *cases.Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return cases.KindRemote
}

// decodeArguments parses tool arguments, keeping numbers as json.Number so
// integers are not routed through float64.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, &cases.Error{Kind: cases.KindValidation, Message: "arguments must be a JSON object: " + err.Error(), Err: err}
	}
	return args, nil
}
