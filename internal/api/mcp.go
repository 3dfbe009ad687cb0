package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/traduki/traduki/internal/improve"
	"github.com/traduki/traduki/internal/storage"
	"github.com/traduki/traduki/internal/workflow"
)

// mcpClientAddr is the quota identity for anonymous MCP callers; the MCP
// transport has no network address of its own.
const mcpClientAddr = "mcp-local"

// NewMCPServer creates an MCP server exposing the translation workflow as
// tools, so agent hosts can translate and refine through the same engine as
// the HTTP API.
func NewMCPServer(deps AppDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"traduki",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("traduki — interactive translation with per-user glossaries and phrasing rules."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("translate",
			mcp.WithDescription("Translate a text and open a refinement conversation. Returns the translation and a conversation id for follow-up feedback."),
			mcp.WithString("text", mcp.Description("Text to translate"), mcp.Required()),
			mcp.WithString("source_language", mcp.Description("Source language code, e.g. en"), mcp.Required()),
			mcp.WithString("target_language", mcp.Description("Target language code, e.g. es"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("Optional user id whose glossary and rules apply")),
		),
		mcpTranslate(deps),
	)

	s.AddTool(
		mcp.NewTool("refine",
			mcp.WithDescription("Send feedback on a translation and get a refined version."),
			mcp.WithString("conversation_id", mcp.Description("Conversation id from a previous translate call"), mcp.Required()),
			mcp.WithString("feedback", mcp.Description("Feedback on the current translation"), mcp.Required()),
		),
		mcpRefine(deps),
	)

	s.AddTool(
		mcp.NewTool("list_improvements",
			mcp.WithDescription("List glossary and rule proposals extracted from the conversation's feedback."),
			mcp.WithString("conversation_id", mcp.Description("Conversation id"), mcp.Required()),
		),
		mcpListImprovements(deps),
	)

	s.AddTool(
		mcp.NewTool("apply_improvement",
			mcp.WithDescription("Accept a pending improvement proposal, persisting it as a glossary entry or phrasing rule."),
			mcp.WithString("conversation_id", mcp.Description("Conversation id"), mcp.Required()),
			mcp.WithString("proposal", mcp.Description("The proposal JSON exactly as returned by list_improvements"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("Optional user id to persist the improvement for")),
		),
		mcpApplyImprovement(deps),
	)

	s.AddTool(
		mcp.NewTool("add_glossary_entry",
			mcp.WithDescription("Add or update a glossary term for a language pair."),
			mcp.WithString("source_language", mcp.Description("Source language code"), mcp.Required()),
			mcp.WithString("target_language", mcp.Description("Target language code"), mcp.Required()),
			mcp.WithString("source_text", mcp.Description("The term in the source language"), mcp.Required()),
			mcp.WithString("target_text", mcp.Description("The translation to use"), mcp.Required()),
			mcp.WithString("note", mcp.Description("Optional note on when the term applies")),
			mcp.WithString("user_id", mcp.Description("Optional user id the entry belongs to")),
		),
		mcpAddGlossaryEntry(deps),
	)

	return s
}

func mcpTranslate(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		srcLang, err := req.RequireString("source_language")
		if err != nil {
			return mcpError("source_language is required"), nil
		}
		tgtLang, err := req.RequireString("target_language")
		if err != nil {
			return mcpError("target_language is required"), nil
		}
		if err := validateLanguagePair(srcLang, tgtLang); err != nil {
			return mcpError(err.Error()), nil
		}

		res, err := deps.Engine.Start(ctx, workflow.StartRequest{
			Text:           text,
			SourceLanguage: srcLang,
			TargetLanguage: tgtLang,
			UserID:         req.GetString("user_id", ""),
			ClientAddr:     mcpClientAddr,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("translation failed: %v", err)), nil
		}

		b, err := json.Marshal(translationResponse{
			ConversationID: res.ConversationID,
			Translation:    res.Translation,
			Status:         res.Status,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRefine(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversationID, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}
		feedback, err := req.RequireString("feedback")
		if err != nil {
			return mcpError("feedback is required"), nil
		}

		res, err := deps.Engine.Resume(ctx, conversationID, feedback)
		if err != nil {
			return mcpError(fmt.Sprintf("refinement failed: %v", err)), nil
		}

		b, err := json.Marshal(translationResponse{
			ConversationID: res.ConversationID,
			Translation:    res.Translation,
			Status:         res.Status,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListImprovements(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversationID, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}

		props, err := deps.Extractor.List(conversationID)
		if err != nil {
			return mcpError(fmt.Sprintf("listing improvements failed: %v", err)), nil
		}
		if len(props) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(props)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal improvements: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpApplyImprovement(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversationID, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}
		proposalJSON, err := req.RequireString("proposal")
		if err != nil {
			return mcpError("proposal is required"), nil
		}

		var p improve.Proposal
		if err := json.Unmarshal([]byte(proposalJSON), &p); err != nil {
			return mcpError(fmt.Sprintf("invalid proposal JSON: %v", err)), nil
		}

		if err := deps.Extractor.Apply(conversationID, p, req.GetString("user_id", "")); err != nil {
			return mcpError(fmt.Sprintf("apply failed: %v", err)), nil
		}
		return mcpText("applied"), nil
	}
}

func mcpAddGlossaryEntry(deps AppDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		srcLang, err := req.RequireString("source_language")
		if err != nil {
			return mcpError("source_language is required"), nil
		}
		tgtLang, err := req.RequireString("target_language")
		if err != nil {
			return mcpError("target_language is required"), nil
		}
		sourceText, err := req.RequireString("source_text")
		if err != nil {
			return mcpError("source_text is required"), nil
		}
		targetText, err := req.RequireString("target_text")
		if err != nil {
			return mcpError("target_text is required"), nil
		}

		entry := storage.GlossaryEntry{
			UserID:         req.GetString("user_id", ""),
			SourceLanguage: srcLang,
			TargetLanguage: tgtLang,
			SourceText:     sourceText,
			TargetText:     targetText,
			Note:           req.GetString("note", ""),
		}
		if err := deps.Glossary.Upsert(entry); err != nil {
			return mcpError(fmt.Sprintf("failed to save entry: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored glossary entry %q for %s-%s", sourceText, srcLang, tgtLang)), nil
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
