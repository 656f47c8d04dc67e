package tooldispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/logx"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPServer bridges the tool registry onto the Model Context Protocol over
// stdio. The principal is fixed at startup (resolved from an API key the
// host process supplies); every call dispatches through the same gauntlet
// as the HTTP surface.
type MCPServer struct {
	dispatcher *Dispatcher
	auth       *kernel.AuthContext
	version    string
}

func NewMCPServer(dispatcher *Dispatcher, auth *kernel.AuthContext, version string) *MCPServer {
	return &MCPServer{dispatcher: dispatcher, auth: auth, version: version}
}

// Serve runs the MCP server on stdio until ctx is cancelled or the client
// disconnects.
func (s *MCPServer) Serve(ctx context.Context) error {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "aimemory",
		Version: s.version,
	}, nil)

	for _, info := range s.dispatcher.Registry().List(true) {
		s.addTool(server, info)
	}

	logx.Infof("mcp: serving %d tools on stdio", len(s.dispatcher.Registry().List(true)))
	return server.Run(ctx, &mcp.StdioTransport{})
}

func (s *MCPServer) addTool(server *mcp.Server, info ToolInfo) {
	name := info.Name // captured per tool

	mcp.AddTool(server, &mcp.Tool{
		Name:        name,
		Description: info.Description,
		InputSchema: info.InputSchema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input json.RawMessage) (*mcp.CallToolResult, any, error) {
		output, err := s.dispatcher.Dispatch(ctx, s.auth, name, input, true)
		if err != nil {
			return textResult(err.Error(), true), nil, nil
		}

		raw, err := json.Marshal(output)
		if err != nil {
			return nil, nil, fmt.Errorf("serialize tool output: %w", err)
		}
		return textResult(string(raw), false), nil, nil
	})
}

func textResult(text string, isErr bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: isErr,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
