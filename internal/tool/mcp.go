package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumeon/arbiter/internal/orcerr"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPSource exposes a remote MCP server's tools through the Tool interface.
type MCPSource struct {
	session *mcp.ClientSession
}

// ConnectMCP dials an MCP server over streamable HTTP.
func ConnectMCP(ctx context.Context, endpoint string) (*MCPSource, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "arbiter", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: endpoint}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp server %s: %w", endpoint, err)
	}
	return &MCPSource{session: session}, nil
}

// Close terminates the MCP session.
func (s *MCPSource) Close() error {
	return s.session.Close()
}

// RegisterAll lists the server's tools and registers each one.
func (s *MCPSource) RegisterAll(ctx context.Context, r *Registry) error {
	res, err := s.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return fmt.Errorf("list mcp tools: %w", err)
	}
	for _, t := range res.Tools {
		r.Register(&mcpTool{session: s.session, def: t})
	}
	return nil
}

type mcpTool struct {
	session *mcp.ClientSession
	def     *mcp.Tool
}

func (t *mcpTool) Name() string        { return t.def.Name }
func (t *mcpTool) Description() string { return t.def.Description }

func (t *mcpTool) InputSchema() map[string]any {
	return schemaToMap(t.def.InputSchema)
}

func (t *mcpTool) OutputSchema() map[string]any {
	return schemaToMap(t.def.OutputSchema)
}

func (t *mcpTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{Name: t.def.Name, Arguments: args})
	if err != nil {
		return nil, orcerr.Wrap(err, orcerr.CodeToolFailure, orcerr.ComponentTool, orcerr.SeverityError, "mcp tool call failed").
			WithContext("tool", t.def.Name)
	}
	text := textContent(res)
	if res.IsError {
		return nil, orcerr.New(orcerr.CodeToolFailure, orcerr.ComponentTool, orcerr.SeverityError, text).
			WithContext("tool", t.def.Name)
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	return text, nil
}

func textContent(res *mcp.CallToolResult) string {
	var b strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}
