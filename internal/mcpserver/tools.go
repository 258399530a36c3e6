// Package mcpserver registers MCP tools that expose the backend's REST
// collections. Every call goes through the gateway client, so tools share
// the session created by "dashgate login".
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/alexjbarnes/dashgate/internal/gateway"
	"github.com/alexjbarnes/dashgate/internal/render"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterTools adds all dashboard tools to the given MCP server.
func RegisterTools(server *mcp.Server, c *gateway.Client) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "dash_resources",
		Description: "List the resource names accepted by the other dash_ tools, such as rh/employees or stock/items.",
	}, resourcesHandler())

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dash_list",
		Description: "List records of a resource. Optional query parameters are passed to the backend as filters (for example search, status, page).",
	}, listHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dash_get",
		Description: "Fetch one record of a resource by id.",
	}, getHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dash_create",
		Description: "Create a record in a resource. The body is sent as the JSON payload.",
	}, createHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dash_update",
		Description: "Update a record. Replaces the record (PUT) unless partial is true, in which case only the given fields change (PATCH).",
	}, updateHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dash_delete",
		Description: "Delete a record of a resource by id.",
	}, deleteHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dash_whoami",
		Description: "Return the profile of the logged-in user, including their role.",
	}, whoamiHandler(c))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// ResourcesInput has no parameters.
type ResourcesInput struct{}

// ResourcesResult lists the catalogue.
type ResourcesResult struct {
	Resources []string `json:"resources"`
}

// ListInput holds parameters for dash_list.
type ListInput struct {
	Resource string            `json:"resource" jsonschema:"required,resource name from dash_resources"`
	Query    map[string]string `json:"query,omitempty" jsonschema:"query parameters sent with the request"`
}

// GetInput holds parameters for dash_get and dash_delete.
type GetInput struct {
	Resource string `json:"resource" jsonschema:"required,resource name from dash_resources"`
	ID       string `json:"id" jsonschema:"required,record id"`
}

// CreateInput holds parameters for dash_create.
type CreateInput struct {
	Resource string         `json:"resource" jsonschema:"required,resource name from dash_resources"`
	Body     map[string]any `json:"body" jsonschema:"required,record fields"`
}

// UpdateInput holds parameters for dash_update.
type UpdateInput struct {
	Resource string         `json:"resource" jsonschema:"required,resource name from dash_resources"`
	ID       string         `json:"id" jsonschema:"required,record id"`
	Body     map[string]any `json:"body" jsonschema:"required,record fields"`
	Partial  bool           `json:"partial,omitempty" jsonschema:"send only the given fields (PATCH), defaults to false"`
}

// WhoamiInput has no parameters.
type WhoamiInput struct{}

// --- Handlers ---
// Handlers returning backend payloads use Out=any: the payload shape
// depends on the resource, so no output schema is declared.

func resourcesHandler() mcp.ToolHandlerFor[ResourcesInput, *ResourcesResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ ResourcesInput) (*mcp.CallToolResult, *ResourcesResult, error) {
		result := &ResourcesResult{Resources: gateway.ResourceNames()}
		return textResult(result), result, nil
	}
}

func listHandler(c *gateway.Client) mcp.ToolHandlerFor[ListInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListInput) (*mcp.CallToolResult, any, error) {
		r, err := c.ResourceByName(input.Resource)
		if err != nil {
			return nil, nil, err
		}

		var query url.Values
		if len(input.Query) > 0 {
			query = url.Values{}
			for k, v := range input.Query {
				query.Set(k, v)
			}
		}

		raw, err := r.List(ctx, query)
		if err != nil {
			return nil, nil, err
		}
		return rawResult(raw), nil, nil
	}
}

func getHandler(c *gateway.Client) mcp.ToolHandlerFor[GetInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, any, error) {
		r, err := c.ResourceByName(input.Resource)
		if err != nil {
			return nil, nil, err
		}
		raw, err := r.Get(ctx, input.ID)
		if err != nil {
			return nil, nil, err
		}
		return rawResult(raw), nil, nil
	}
}

func createHandler(c *gateway.Client) mcp.ToolHandlerFor[CreateInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CreateInput) (*mcp.CallToolResult, any, error) {
		r, err := c.ResourceByName(input.Resource)
		if err != nil {
			return nil, nil, err
		}
		raw, err := r.Create(ctx, input.Body)
		if err != nil {
			return nil, nil, err
		}
		return rawResult(raw), nil, nil
	}
}

func updateHandler(c *gateway.Client) mcp.ToolHandlerFor[UpdateInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input UpdateInput) (*mcp.CallToolResult, any, error) {
		r, err := c.ResourceByName(input.Resource)
		if err != nil {
			return nil, nil, err
		}

		update := r.Update
		if input.Partial {
			update = r.Patch
		}

		raw, err := update(ctx, input.ID, input.Body)
		if err != nil {
			return nil, nil, err
		}
		return rawResult(raw), nil, nil
	}
}

func deleteHandler(c *gateway.Client) mcp.ToolHandlerFor[GetInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, any, error) {
		r, err := c.ResourceByName(input.Resource)
		if err != nil {
			return nil, nil, err
		}
		raw, err := r.Delete(ctx, input.ID)
		if err != nil {
			return nil, nil, err
		}
		return rawResult(raw), nil, nil
	}
}

func whoamiHandler(c *gateway.Client) mcp.ToolHandlerFor[WhoamiInput, *gateway.Profile] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ WhoamiInput) (*mcp.CallToolResult, *gateway.Profile, error) {
		p, err := c.Me(ctx)
		if err != nil {
			return nil, nil, err
		}
		return textResult(p), p, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("error marshaling result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// rawResult wraps a backend payload as indented JSON text.
func rawResult(raw json.RawMessage) *mcp.CallToolResult {
	var buf bytes.Buffer
	if err := render.Write(&buf, raw, render.JSON); err != nil {
		return errorResult(fmt.Sprintf("error formatting result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: buf.String()}},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
