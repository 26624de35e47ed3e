package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/clarity/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Submissions SubmissionReader
}

// NewMCPServer creates an MCP server exposing read-only submission tools
// for operators.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"clarity",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("clarity: inspect user submissions and the AI results produced for them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_submissions",
			mcp.WithDescription("List the most recent submissions, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of submissions (default 10, max 100)")),
			mcp.WithString("status", mcp.Description("Only return submissions in this status: processing, done or failed")),
		),
		mcpListSubmissions(deps),
	)

	s.AddTool(
		mcp.NewTool("get_submission",
			mcp.WithDescription("Fetch one submission, including its AI result when done."),
			mcp.WithString("id", mcp.Description("Submission ID"), mcp.Required()),
		),
		mcpGetSubmission(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"submissions://recent",
			"Recent Submissions",
			mcp.WithResourceDescription("Last 10 submissions (without AI results)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpListSubmissions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		var filter storage.Status
		if v := req.GetString("status", ""); v != "" {
			filter = storage.Status(v)
			if !filter.Valid() {
				return mcpError(fmt.Sprintf("unknown status %q", v)), nil
			}
		}

		subs, err := deps.Submissions.ListSubmissions(ctx, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing submissions failed: %v", err)), nil
		}

		out := make([]storage.Submission, 0, len(subs))
		for _, s := range subs {
			if filter != "" && s.Status != filter {
				continue
			}
			out = append(out, s)
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal submissions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetSubmission(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		sub, err := deps.Submissions.GetSubmission(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("submission %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("fetching submission failed: %v", err)), nil
		}

		b, err := json.Marshal(sub)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal submission: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		subs, err := deps.Submissions.ListSubmissions(ctx, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to list submissions: %w", err)
		}

		type submissionSummary struct {
			ID        string         `json:"id"`
			CreatedAt string         `json:"created_at"`
			Email     string         `json:"email"`
			Status    storage.Status `json:"status"`
		}

		summaries := make([]submissionSummary, len(subs))
		for i, s := range subs {
			summaries[i] = submissionSummary{
				ID:        s.ID,
				CreatedAt: s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
				Email:     s.Email,
				Status:    s.Status,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal submissions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
