package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/menumap/internal/mapper"
	"github.com/kalambet/menumap/internal/retrieval"
	"github.com/kalambet/menumap/internal/storage"
)

const recentPredictionsURI = "menumap://predictions/recent"

// MCPRetriever abstracts semantic search over the master menu.
type MCPRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Candidate, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Mapper    MenuMapper
	Retriever MCPRetriever
}

// NewMCPServer creates an MCP server with all menumap tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"menumap",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("menumap maps free-text restaurant menu item names onto a canonical master menu."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("map_menu_item",
			mcp.WithDescription("Map a free-text menu item name to ranked master menu items."),
			mcp.WithString("menu_name", mcp.Description("Menu item name as printed on the menu or POS"), mcp.Required()),
		),
		mcpMapMenuItem(deps),
	)

	s.AddTool(
		mcp.NewTool("search_master_menu",
			mcp.WithDescription("Vector search over the master menu without LLM selection."),
			mcp.WithString("query", mcp.Description("Search text"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchMasterMenu(deps),
	)

	s.AddTool(
		mcp.NewTool("batch_status",
			mcp.WithDescription("Report progress and accuracy of an uploaded batch."),
			mcp.WithString("batch_id", mcp.Description("Batch id returned by the upload"), mcp.Required()),
		),
		mcpBatchStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			recentPredictionsURI,
			"Recent Predictions",
			mcp.WithResourceDescription("Last 20 menu mapping predictions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpMapMenuItem(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("menu_name")
		if err != nil || strings.TrimSpace(name) == "" {
			return mcpError("menu_name is required"), nil
		}

		res, err := deps.Mapper.Map(ctx, name)
		if errors.Is(err, mapper.ErrEmptyInput) {
			return mcpError(fmt.Sprintf("menu_name %q has no mappable text", name)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("mapping failed: %v", err)), nil
		}

		out := struct {
			Corrected string               `json:"corrected"`
			Ambiguous bool                 `json:"ambiguous"`
			MRP       bool                 `json:"mrp"`
			Matches   []mapper.QueryResult `json:"matches"`
		}{
			Corrected: res.Corrected,
			Ambiguous: res.Classification.Ambiguous,
			MRP:       res.Classification.MRP,
			Matches:   res.Matches,
		}
		if out.Matches == nil {
			out.Matches = []mapper.QueryResult{}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchMasterMenu(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		candidates, err := deps.Retriever.Retrieve(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(candidates) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(candidates)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpBatchStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("batch_id")
		if err != nil {
			return mcpError("batch_id is required"), nil
		}

		b, err := deps.Store.GetBatch(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("batch %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get batch: %v", err)), nil
		}
		acc, err := deps.Store.BatchAccuracy(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to compute accuracy: %v", err)), nil
		}

		b2, err := json.Marshal(batchStatus{Batch: b, Accuracy: acc})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal batch: %v", err)), nil
		}
		return mcpText(string(b2)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		preds, err := deps.Store.ListPredictions(20, 0, "")
		if err != nil {
			return nil, fmt.Errorf("failed to get recent predictions: %w", err)
		}

		type predictionSummary struct {
			ID            string `json:"id"`
			CreatedAt     string `json:"created_at"`
			MenuName      string `json:"menu_name"`
			PredictedID   int    `json:"predicted_menu_id"`
			PredictedName string `json:"predicted_menu_name"`
			IsApproved    *bool  `json:"is_approved"`
		}

		summaries := make([]predictionSummary, len(preds))
		for i, p := range preds {
			summaries[i] = predictionSummary{
				ID:            p.ID,
				CreatedAt:     p.CreatedAt.Format(time.RFC3339),
				MenuName:      p.MenuName,
				PredictedID:   p.PredictedMenuID,
				PredictedName: p.PredictedMenuName,
				IsApproved:    p.IsApproved,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal predictions: %w", err)
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
