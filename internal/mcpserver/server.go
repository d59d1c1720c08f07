package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Verigate ops tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("verigate", "1.0.0")
	client := NewGateClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolVerificationStatus, h.HandleVerificationStatus)
	s.AddTool(ToolListRecords, h.HandleListRecords)
	s.AddTool(ToolListAssessments, h.HandleListAssessments)
	s.AddTool(ToolGateStats, h.HandleGateStats)
	s.AddTool(ToolResetSession, h.HandleResetSession)
	s.AddTool(ToolServiceHealth, h.HandleServiceHealth)

	return s
}
