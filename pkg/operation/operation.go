package operation

import (
	"github.com/go-training/xero-oauth/pkg/operation/authorization"

	"github.com/mark3labs/mcp-go/server"
)

/*
RegisterAuthorizationTools registers the Xero authorization tools to the specified MCPServer instance.

Parameters:
  - s: Pointer to the MCPServer instance where the tools will be registered.
  - h: Handlers bound to the authorization controller and token store.

The status tool may renew the token, so it is registered as a write operation.
*/
func RegisterAuthorizationTools(s *server.MCPServer, h *authorization.Handlers) {
	tool := &Tool{}

	tool.RegisterWrite(server.ServerTool{
		Tool:    authorization.StatusTool,
		Handler: h.HandleStatus,
	})
	tool.RegisterRead(server.ServerTool{
		Tool:    authorization.ShowAccessTokenTool,
		Handler: h.HandleShowAccessToken,
	})

	s.AddTools(tool.Tools()...)
}

// Tool collects ServerTools before registering them with an MCPServer.
// Write tools are listed ahead of read tools.
type Tool struct {
	write []server.ServerTool
	read  []server.ServerTool
}

// RegisterWrite registers a tool that changes state.
func (t *Tool) RegisterWrite(s server.ServerTool) {
	t.write = append(t.write, s)
}

// RegisterRead registers a read-only tool.
func (t *Tool) RegisterRead(s server.ServerTool) {
	t.read = append(t.read, s)
}

// Tools returns the write tools followed by the read tools.
func (t *Tool) Tools() []server.ServerTool {
	tools := make([]server.ServerTool, 0, len(t.write)+len(t.read))
	tools = append(tools, t.write...)
	tools = append(tools, t.read...)
	return tools
}
