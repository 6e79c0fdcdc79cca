// Package mcpserver exposes the parity harness building blocks via MCP tools:
// adaptability decisions, fixture parsing, response comparison and corpus
// listing.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/thipages/js-crud-api/internal/fixture"
	"github.com/thipages/js-crud-api/internal/oracle"
	"github.com/thipages/js-crud-api/internal/shadow"
	"github.com/thipages/js-crud-api/internal/wire"
)

// Deps are the collaborators the tools read from. Corpus may be nil, in which
// case list_fixtures reports an error result.
type Deps struct {
	Oracle     *oracle.Oracle
	Corpus     *fixture.Corpus
	Exclusions fixture.Exclusions
	Backend    string
}

// RegisterTools registers all parity MCP tools on the given server.
func RegisterTools(server *mcp.Server, d Deps) {
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "can_adapt",
			Description: "Decide whether a recorded request can run through the CRUD client, and why",
		},
		canAdaptHandler(d.Oracle),
	)

	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "parse_fixture",
			Description: "Parse fixture text into request/response pairs",
		},
		parseFixtureHandler(d.Backend),
	)

	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "compare_responses",
			Description: "Compare an actual raw response against the expected one after normalization",
		},
		compareHandler(),
	)

	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "list_fixtures",
			Description: "List fixture files in the corpus with their exclusion status",
		},
		listFixturesHandler(d.Corpus, d.Exclusions),
	)
}

type canAdaptInput struct {
	Method  string            `json:"method" jsonschema:"HTTP method"`
	Path    string            `json:"path" jsonschema:"request path relative to the API base, with query"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

func canAdaptHandler(o *oracle.Oracle) mcp.ToolHandlerFor[canAdaptInput, any] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input canAdaptInput) (*mcp.CallToolResult, any, error) {
		if input.Method == "" || input.Path == "" {
			return errorResult("method and path are required"), nil, nil
		}
		h := wire.Headers{}
		for k, v := range input.Headers {
			h.Add(k, v)
		}
		return textResult(o.CanAdapt(input.Method, input.Path, h, input.Body))
	}
}

type parseFixtureInput struct {
	Content string `json:"content" jsonschema:"fixture file text"`
	Backend string `json:"backend,omitempty"`
}

func parseFixtureHandler(backend string) mcp.ToolHandlerFor[parseFixtureInput, any] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input parseFixtureInput) (*mcp.CallToolResult, any, error) {
		if input.Content == "" {
			return errorResult("content is required"), nil, nil
		}
		b := backend
		if input.Backend != "" {
			b = input.Backend
		}
		f := fixture.Parse(input.Content, b)

		type pairView struct {
			Index    int           `json:"index"`
			Request  wire.Request  `json:"request"`
			Response wire.Response `json:"response"`
			Error    string        `json:"error,omitempty"`
		}
		out := struct {
			Skip   bool       `json:"skip"`
			Reason string     `json:"reason,omitempty"`
			Pairs  []pairView `json:"pairs"`
		}{Skip: f.Skip, Reason: f.Reason, Pairs: []pairView{}}
		for _, p := range f.Pairs {
			v := pairView{Index: p.Index, Request: p.Request, Response: p.Response}
			if p.Err != nil {
				v.Error = p.Err.Error()
			}
			out.Pairs = append(out.Pairs, v)
		}
		return textResult(out)
	}
}

type compareInput struct {
	Actual   string `json:"actual" jsonschema:"raw response block received"`
	Expected string `json:"expected" jsonschema:"raw response block recorded"`
	Strict   bool   `json:"strict,omitempty"`
}

func compareHandler() mcp.ToolHandlerFor[compareInput, any] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input compareInput) (*mcp.CallToolResult, any, error) {
		actual, err := wire.ParseResponse(input.Actual)
		if err != nil {
			return errorResult("actual: " + err.Error()), nil, nil
		}
		expected, err := wire.ParseResponse(input.Expected)
		if err != nil {
			return errorResult("expected: " + err.Error()), nil, nil
		}
		return textResult(shadow.Comparator{Strict: input.Strict}.Compare(actual, expected))
	}
}

type listFixturesInput struct {
	Pattern string `json:"pattern,omitempty" jsonschema:"only list paths matching this glob"`
}

type fixtureEntry struct {
	Path     string `json:"path"`
	Excluded string `json:"excluded,omitempty"`
}

func listFixturesHandler(c *fixture.Corpus, ex fixture.Exclusions) mcp.ToolHandlerFor[listFixturesInput, any] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input listFixturesInput) (*mcp.CallToolResult, any, error) {
		if c == nil {
			return errorResult("no corpus configured"), nil, nil
		}
		paths, err := c.Paths()
		if err != nil {
			return nil, nil, fmt.Errorf("list_fixtures: %w", err)
		}
		filter := fixture.Exclusions{{Pattern: input.Pattern}}
		entries := []fixtureEntry{}
		for _, p := range paths {
			if input.Pattern != "" {
				if _, ok := filter.Match(p); !ok {
					continue
				}
			}
			e := fixtureEntry{Path: p}
			if reason, ok := ex.Match(p); ok {
				e.Excluded = reason
			}
			entries = append(entries, e)
		}
		return textResult(entries)
	}
}

func textResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("marshal result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
