package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/RaikaSurendra/servicenow-case-mcp/internal/cases"
)

const (
	uriScheme      = "servicenow"
	casesURI       = uriScheme + "://cases"
	casesQueryTmpl = casesURI + "{?limit,offset,state,priority,query}"
	caseURITmpl    = casesURI + "/{case_id}"
	jsonMIMEType   = "application/json"
)

func (s *Server) registerResources() error {
	list, err := s.registry.Lookup(cases.ResourceCases, cases.KindResource)
	if err != nil {
		return fmt.Errorf("registering resources: %w", err)
	}
	get, err := s.registry.Lookup(cases.ResourceCase, cases.KindResource)
	if err != nil {
		return fmt.Errorf("registering resources: %w", err)
	}

	listHandler := s.resourceHandler(list)
	s.mcp.AddResource(&mcp.Resource{
		Name:        list.Name,
		Title:       "Cases",
		Description: list.Description,
		MIMEType:    jsonMIMEType,
		URI:         casesURI,
	}, listHandler)
	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        list.Name + "_query",
		Title:       "Cases (filtered)",
		Description: list.Description + ". Query parameters: limit, offset, state, priority, query.",
		MIMEType:    jsonMIMEType,
		URITemplate: casesQueryTmpl,
	}, listHandler)
	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        get.Name,
		Title:       "Case",
		Description: get.Description,
		MIMEType:    jsonMIMEType,
		URITemplate: caseURITmpl,
	}, s.resourceHandler(get))
	return nil
}

func (s *Server) resourceHandler(def cases.Definition) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if req == nil || req.Params == nil || req.Params.URI == "" {
			return nil, fmt.Errorf("resource uri is required")
		}
		uri := req.Params.URI

		params, err := resourceParams(def, uri)
		if err != nil {
			return nil, err
		}

		res, err := s.invoke(ctx, def, params)
		if err != nil {
			if errors.Is(err, cases.ErrNotFound) {
				return nil, mcp.ResourceNotFoundError(uri)
			}
			return nil, fmt.Errorf("read %s: %w", uri, err)
		}

		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", uri, err)
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      uri,
					MIMEType: jsonMIMEType,
					Text:     string(data),
				},
			},
		}, nil
	}
}

// resourceParams extracts operation parameters from a resource URI:
// servicenow://cases?... for list and servicenow://cases/{case_id} for get.
func resourceParams(def cases.Definition, uri string) (map[string]any, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse resource uri %q: %w", uri, err)
	}
	if u.Scheme != uriScheme || u.Host != "cases" {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	id := strings.Trim(u.Path, "/")

	switch def.Action {
	case cases.ActionList:
		if id != "" {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		params := map[string]any{}
		for key, values := range u.Query() {
			if len(values) > 0 && values[0] != "" {
				params[key] = values[0]
			}
		}
		return params, nil

	case cases.ActionGet:
		if id == "" || strings.Contains(id, "/") || u.RawQuery != "" {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		return map[string]any{"case_id": id}, nil
	}
	return nil, fmt.Errorf("resource %s has unsupported action %q", def.Name, def.Action)
}
