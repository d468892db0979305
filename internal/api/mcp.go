package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/karmgyan/internal/orchestrator"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service *orchestrator.Service
	UserID  string // identity every tool call acts as
	Version string
}

// NewMCPServer creates an MCP server exposing the astrology operations as
// tools, plus the user's credit balance as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := server.NewMCPServer(
		"karmgyan",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("karmgyan answers astrology questions and writes reports from a birth chart. Each question and report costs credits."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_question",
			mcp.WithDescription("Ask a question about a birth chart. Costs 1 credit on success; earlier exchanges in the conversation are sent as context."),
			mcp.WithString("chart_data", mcp.Description("Birth chart as a JSON object"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Conversation to continue (default: the user's default conversation)")),
		),
		mcpAskQuestion(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_report",
			mcp.WithDescription("Generate and archive a report for a birth chart. Costs 5 (career, marriage), 10 (comprehensive, other) or 15 (yearly) credits."),
			mcp.WithString("chart_data", mcp.Description("Birth chart as a JSON object"), mcp.Required()),
			mcp.WithString("report_type", mcp.Description("career, marriage, comprehensive or yearly (default comprehensive)")),
		),
		mcpGenerateReport(deps),
	)

	s.AddTool(
		mcp.NewTool("get_credits",
			mcp.WithDescription("Show the current credit balance and price list."),
		),
		mcpGetCredits(deps),
	)

	s.AddTool(
		mcp.NewTool("list_reports",
			mcp.WithDescription("List archived reports, newest first."),
		),
		mcpListReports(deps),
	)

	s.AddTool(
		mcp.NewTool("get_report",
			mcp.WithDescription("Fetch one archived report in full."),
			mcp.WithString("report_id", mcp.Description("Report id"), mcp.Required()),
		),
		mcpGetReport(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_conversation",
			mcp.WithDescription("Forget the exchanges of a conversation."),
			mcp.WithString("conversation_id", mcp.Description("Conversation id"), mcp.Required()),
		),
		mcpClearConversation(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"user://credits",
			"Credits",
			mcp.WithResourceDescription("Current credit balance and price list as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCredits(deps),
	)

	return s
}

func mcpAskQuestion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		chart, err := req.RequireString("chart_data")
		if err != nil {
			return mcpError("chart_data is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		out, err := deps.Service.Ask(ctx, orchestrator.AskInput{
			UserID:         deps.UserID,
			ChartData:      json.RawMessage(chart),
			Question:       question,
			ConversationID: req.GetString("conversation_id", ""),
		})
		if err != nil {
			return mcpServiceError(err), nil
		}
		return mcpJSON(out)
	}
}

func mcpGenerateReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		chart, err := req.RequireString("chart_data")
		if err != nil {
			return mcpError("chart_data is required"), nil
		}

		out, err := deps.Service.GenerateReport(ctx, orchestrator.ReportInput{
			UserID:     deps.UserID,
			ChartData:  json.RawMessage(chart),
			ReportType: req.GetString("report_type", ""),
		})
		if err != nil {
			return mcpServiceError(err), nil
		}
		return mcpJSON(out)
	}
}

func mcpGetCredits(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := deps.Service.Credits(ctx, deps.UserID)
		if err != nil {
			return mcpServiceError(err), nil
		}
		return mcpJSON(out)
	}
}

func mcpListReports(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := deps.Service.ListReports(ctx, deps.UserID)
		if err != nil {
			return mcpServiceError(err), nil
		}
		if len(list) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(list)
	}
}

func mcpGetReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("report_id")
		if err != nil {
			return mcpError("report_id is required"), nil
		}
		rep, err := deps.Service.GetReport(ctx, deps.UserID, id)
		if err != nil {
			return mcpServiceError(err), nil
		}
		return mcpJSON(rep)
	}
}

func mcpClearConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}
		if err := deps.Service.ClearConversation(ctx, deps.UserID, id); err != nil {
			return mcpServiceError(err), nil
		}
		return mcpText(fmt.Sprintf("Cleared conversation %s", id)), nil
	}
}

func mcpResourceCredits(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		out, err := deps.Service.Credits(ctx, deps.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to get credits: %w", err)
		}

		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal credits: %w", err)
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

// mcpServiceError turns an orchestrator error into a tool error carrying only
// the user-safe message.
func mcpServiceError(err error) *mcp.CallToolResult {
	var e *orchestrator.Error
	if errors.As(err, &e) {
		return mcpError(fmt.Sprintf("%s: %s", e.Kind, e.Message()))
	}
	return mcpError(fmt.Sprintf("request failed: %v", err))
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
