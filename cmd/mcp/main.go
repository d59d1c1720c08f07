// Verigate MCP Server - Exposes verification gate ops as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/verigate/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:      envOrDefault("VERIGATE_API_URL", "http://localhost:8080"),
		AdminSecret: os.Getenv("VERIGATE_ADMIN_SECRET"),
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
