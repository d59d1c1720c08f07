package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Verigate ops MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolVerificationStatus = mcp.NewTool("verification_status",
	mcp.WithDescription(
		"Get the current verification state for a session on the Verigate gate. "+
			"Shows the session status (idle/presented/verified/retry/denied/blocked), "+
			"attempt count, the active challenge if one is presented, and any block countdown."),
	mcp.WithString("session",
		mcp.Required(),
		mcp.Description("The session ID to look up")),
)

var ToolListRecords = mcp.NewTool("list_records",
	mcp.WithDescription(
		"List the verification attempt log for a session. "+
			"Each record shows the outcome, challenge kind, behavior score, risk level, and attempt number. "+
			"Use this to investigate why a session keeps failing or getting blocked."),
	mcp.WithString("session",
		mcp.Required(),
		mcp.Description("The session ID to look up")),
)

var ToolListAssessments = mcp.NewTool("list_assessments",
	mcp.WithDescription(
		"List the threat assessment audit trail for a session. "+
			"Each assessment shows the overall confidence, risk level (minimal/low/medium/high/critical), "+
			"and the individual threats detected (automation, headless browser, suspicious network)."),
	mcp.WithString("session",
		mcp.Required(),
		mcp.Description("The session ID to look up")),
)

var ToolGateStats = mcp.NewTool("gate_stats",
	mcp.WithDescription(
		"Get live statistics from the Verigate realtime hub: connected WebSocket clients, "+
			"total events broadcast, and peak concurrency. Requires the admin secret."),
)

var ToolResetSession = mcp.NewTool("reset_session",
	mcp.WithDescription(
		"Clear all verification state for a session: active challenge, verified flag, "+
			"attempt counters, and rate-limit backoff. The session starts over from idle. "+
			"Requires the admin secret. Use this to unblock a legitimate user who got rate limited."),
	mcp.WithString("session",
		mcp.Required(),
		mcp.Description("The session ID to reset")),
)

var ToolServiceHealth = mcp.NewTool("service_health",
	mcp.WithDescription(
		"Check the health of the Verigate API and its dependencies (storage backend)."),
)
