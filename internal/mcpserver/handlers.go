package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *GateClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *GateClient) *Handlers {
	return &Handlers{client: client}
}

// HandleVerificationStatus returns a session's verification state.
func (h *Handlers) HandleVerificationStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session := req.GetString("session", "")
	if session == "" {
		return mcp.NewToolResultError("session is required"), nil
	}

	raw, err := h.client.GetStatus(ctx, session)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get status: %v", err)), nil
	}

	text, err := formatStatus(session, raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse status: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListRecords returns a session's attempt log.
func (h *Handlers) HandleListRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session := req.GetString("session", "")
	if session == "" {
		return mcp.NewToolResultError("session is required"), nil
	}

	raw, err := h.client.GetRecords(ctx, session)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list records: %v", err)), nil
	}

	text, err := formatRecordList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse records: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListAssessments returns a session's threat assessment trail.
func (h *Handlers) HandleListAssessments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session := req.GetString("session", "")
	if session == "" {
		return mcp.NewToolResultError("session is required"), nil
	}

	raw, err := h.client.GetAssessments(ctx, session)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list assessments: %v", err)), nil
	}

	text, err := formatAssessmentList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessments: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGateStats returns realtime hub statistics.
func (h *Handlers) HandleGateStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetHubStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get gate stats: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleResetSession clears a session's verification state.
func (h *Handlers) HandleResetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session := req.GetString("session", "")
	if session == "" {
		return mcp.NewToolResultError("session is required"), nil
	}

	_, err := h.client.ResetSession(ctx, session)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Reset failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Session %s reset successfully.\n"+
			"Status: All verification state cleared, the session starts over from idle.",
		session)), nil
}

// HandleServiceHealth returns the API health report.
func (h *Handlers) HandleServiceHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetHealth(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Health check failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// --- Formatting helpers ---

func formatStatus(session string, raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session: %s\n", session)
	fmt.Fprintf(&sb, "Status: %s\n", getString(m, "status"))
	if v, ok := getFloat(m, "attempts"); ok {
		fmt.Fprintf(&sb, "Attempts: %.0f\n", v)
	}
	if v, ok := getFloat(m, "behaviorScore"); ok {
		fmt.Fprintf(&sb, "Behavior score: %.0f\n", v)
	}
	if v := getString(m, "reason"); v != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", v)
	}
	if v, ok := getFloat(m, "retryAfterSeconds"); ok {
		fmt.Fprintf(&sb, "Retry after: %.0fs\n", v)
	}

	if chl, ok := m["challenge"].(map[string]any); ok {
		sb.WriteString("\nActive challenge:\n")
		fmt.Fprintf(&sb, "  ID: %s\n", getString(chl, "id"))
		fmt.Fprintf(&sb, "  Kind: %s\n", getString(chl, "kind"))
		fmt.Fprintf(&sb, "  Prompt: %s\n", getString(chl, "prompt"))
		if v, ok := getFloat(chl, "difficulty"); ok {
			fmt.Fprintf(&sb, "  Difficulty: %.0f\n", v)
		}
	}

	if a, ok := m["assessment"].(map[string]any); ok {
		sb.WriteString("\nLatest assessment:\n")
		sb.WriteString(formatAssessment(a, "  "))
	}

	return sb.String(), nil
}

func formatRecordList(raw json.RawMessage) (string, error) {
	var resp struct {
		Session string           `json:"session"`
		Records []map[string]any `json:"records"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected records response format")
	}

	if len(resp.Records) == 0 {
		return fmt.Sprintf("No verification records for session %s.", resp.Session), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s has %d record(s):\n\n", resp.Session, len(resp.Records))
	for i, r := range resp.Records {
		outcome := "failed"
		if b, ok := r["success"].(bool); ok && b {
			outcome = "verified"
		}
		attempt := 0.0
		if v, ok := getFloat(r, "attempt"); ok {
			attempt = v
		}
		fmt.Fprintf(&sb, "%d. [attempt %.0f] %s at %s\n", i+1, attempt, outcome, getString(r, "at"))
		if v := getString(r, "challengeKind"); v != "" {
			fmt.Fprintf(&sb, "   Challenge: %s\n", v)
		}
		if v, ok := getFloat(r, "behaviorScore"); ok {
			fmt.Fprintf(&sb, "   Behavior score: %.0f\n", v)
		}
		if v := getString(r, "riskLevel"); v != "" {
			fmt.Fprintf(&sb, "   Risk level: %s\n", v)
		}
		if v := getString(r, "reason"); v != "" {
			fmt.Fprintf(&sb, "   Reason: %s\n", v)
		}
	}
	return sb.String(), nil
}

func formatAssessmentList(raw json.RawMessage) (string, error) {
	var resp struct {
		Session     string           `json:"session"`
		Assessments []map[string]any `json:"assessments"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected assessments response format")
	}

	if len(resp.Assessments) == 0 {
		return fmt.Sprintf("No threat assessments for session %s.", resp.Session), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s has %d assessment(s):\n\n", resp.Session, len(resp.Assessments))
	for i, a := range resp.Assessments {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, getString(a, "evaluatedAt"))
		sb.WriteString(formatAssessment(a, "   "))
		if i < len(resp.Assessments)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

// formatAssessment renders one assessment map with the given indent.
func formatAssessment(a map[string]any, indent string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%sLevel: %s\n", indent, getString(a, "level"))
	if v, ok := getFloat(a, "confidence"); ok {
		fmt.Fprintf(&sb, "%sConfidence: %.0f\n", indent, v)
	}
	if threats, ok := a["threats"].([]any); ok && len(threats) > 0 {
		fmt.Fprintf(&sb, "%sThreats:\n", indent)
		for _, t := range threats {
			tm, ok := t.(map[string]any)
			if !ok {
				continue
			}
			conf, _ := getFloat(tm, "confidence")
			fmt.Fprintf(&sb, "%s  - %s (confidence %.0f)\n", indent, getString(tm, "type"), conf)
		}
	}
	if recs, ok := a["recommendations"].([]any); ok && len(recs) > 0 {
		fmt.Fprintf(&sb, "%sRecommendations:\n", indent)
		for _, r := range recs {
			if s, ok := r.(string); ok {
				fmt.Fprintf(&sb, "%s  - %s\n", indent, s)
			}
		}
	}
	return sb.String()
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
