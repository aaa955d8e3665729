package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/VoiceForge/internal/domain"
	"github.com/Strob0t/VoiceForge/internal/domain/review"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.nextItemTool(),
		s.claimItemTool(),
		s.releaseItemTool(),
		s.completeItemTool(),
		s.itemDetailTool(),
		s.queueStatsTool(),
		s.getExecutionTool(),
	)
}

func (s *Server) nextItemTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("review_next",
		mcplib.WithDescription("Get the next review item for a reviewer without claiming it"),
		mcplib.WithString("reviewer_id",
			mcplib.Required(),
			mcplib.Description("The reviewer asking for work"),
		),
		mcplib.WithString("language",
			mcplib.Description("Preferred language code, e.g. en-US; base-language matches rank next"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleNextItem}
}

func (s *Server) claimItemTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("review_claim",
		mcplib.WithDescription("Claim a pending review item"),
		mcplib.WithString("item_id", mcplib.Required(), mcplib.Description("The queue item ID")),
		mcplib.WithString("reviewer_id", mcplib.Required(), mcplib.Description("The claiming reviewer")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleClaimItem}
}

func (s *Server) releaseItemTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("review_release",
		mcplib.WithDescription("Return a claimed review item to the queue"),
		mcplib.WithString("item_id", mcplib.Required(), mcplib.Description("The queue item ID")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleReleaseItem}
}

func (s *Server) completeItemTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("review_complete",
		mcplib.WithDescription("Record the verdict on a claimed review item"),
		mcplib.WithString("item_id", mcplib.Required(), mcplib.Description("The queue item ID")),
		mcplib.WithString("reviewer_id", mcplib.Required(), mcplib.Description("The reviewer holding the claim")),
		mcplib.WithString("verdict",
			mcplib.Required(),
			mcplib.Enum(string(review.VerdictPass), string(review.VerdictFail)),
		),
		mcplib.WithString("notes", mcplib.Description("Free-form reviewer notes")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCompleteItem}
}

func (s *Server) itemDetailTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("review_detail",
		mcplib.WithDescription("Get a review item together with both judges' raw outputs"),
		mcplib.WithString("item_id", mcplib.Required(), mcplib.Description("The queue item ID")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleItemDetail}
}

func (s *Server) queueStatsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("review_stats",
		mcplib.WithDescription("Count review items per status"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleQueueStats}
}

func (s *Server) getExecutionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_execution",
		mcplib.WithDescription("Get an execution with its per-language step results"),
		mcplib.WithString("execution_id", mcplib.Required(), mcplib.Description("The execution ID")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetExecution}
}

func (s *Server) handleNextItem(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Reviews == nil {
		return mcplib.NewToolResultError("review queue not configured"), nil
	}
	reviewerID, ok := stringArg(req, "reviewer_id")
	if !ok {
		return mcplib.NewToolResultError("reviewer_id is required"), nil
	}
	lang, _ := stringArg(req, "language")
	item, err := s.deps.Reviews.Next(ctx, reviewerID, lang)
	if errors.Is(err, domain.ErrNotFound) {
		return mcplib.NewToolResultText("review queue is empty"), nil
	}
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to get next item", err), nil
	}
	return marshalResult(item)
}

func (s *Server) handleClaimItem(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Reviews == nil {
		return mcplib.NewToolResultError("review queue not configured"), nil
	}
	itemID, ok := stringArg(req, "item_id")
	if !ok {
		return mcplib.NewToolResultError("item_id is required"), nil
	}
	reviewerID, ok := stringArg(req, "reviewer_id")
	if !ok {
		return mcplib.NewToolResultError("reviewer_id is required"), nil
	}
	claimed, err := s.deps.Reviews.Claim(ctx, itemID, reviewerID)
	return transitionResult(itemID, "claim", claimed, err, "item is not pending")
}

func (s *Server) handleReleaseItem(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Reviews == nil {
		return mcplib.NewToolResultError("review queue not configured"), nil
	}
	itemID, ok := stringArg(req, "item_id")
	if !ok {
		return mcplib.NewToolResultError("item_id is required"), nil
	}
	released, err := s.deps.Reviews.Release(ctx, itemID)
	return transitionResult(itemID, "release", released, err, "item is not claimed")
}

func (s *Server) handleCompleteItem(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Reviews == nil {
		return mcplib.NewToolResultError("review queue not configured"), nil
	}
	itemID, ok := stringArg(req, "item_id")
	if !ok {
		return mcplib.NewToolResultError("item_id is required"), nil
	}
	reviewerID, ok := stringArg(req, "reviewer_id")
	if !ok {
		return mcplib.NewToolResultError("reviewer_id is required"), nil
	}
	verdict, _ := stringArg(req, "verdict")
	notes, _ := stringArg(req, "notes")
	done, err := s.deps.Reviews.Complete(ctx, itemID, reviewerID, review.CompleteRequest{
		Verdict: review.Verdict(verdict),
		Notes:   notes,
	})
	return transitionResult(itemID, "complete", done, err, "item is not claimed by this reviewer")
}

func (s *Server) handleItemDetail(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Reviews == nil {
		return mcplib.NewToolResultError("review queue not configured"), nil
	}
	itemID, ok := stringArg(req, "item_id")
	if !ok {
		return mcplib.NewToolResultError("item_id is required"), nil
	}
	d, err := s.deps.Reviews.Detail(ctx, itemID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get item %s", itemID), err), nil
	}
	return marshalResult(d)
}

func (s *Server) handleQueueStats(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Reviews == nil {
		return mcplib.NewToolResultError("review queue not configured"), nil
	}
	stats, err := s.deps.Reviews.Stats(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to get queue stats", err), nil
	}
	return marshalResult(stats)
}

func (s *Server) handleGetExecution(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Executions == nil {
		return mcplib.NewToolResultError("execution reader not configured"), nil
	}
	id, ok := stringArg(req, "execution_id")
	if !ok {
		return mcplib.NewToolResultError("execution_id is required"), nil
	}
	sum, err := s.deps.Executions.Summary(ctx, id)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get execution %s", id), err), nil
	}
	return marshalResult(sum)
}

func stringArg(req mcplib.CallToolRequest, key string) (string, bool) { //nolint:gocritic // hugeParam: mcp-go request type
	v, ok := req.GetArguments()[key].(string)
	return v, ok && v != ""
}

// transitionResult reports a compare-and-set queue transition. A lost race
// is an error result, not a protocol error.
func transitionResult(itemID, op string, ok bool, err error, conflictMsg string) (*mcplib.CallToolResult, error) {
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to %s item %s", op, itemID), err), nil
	}
	if !ok {
		return mcplib.NewToolResultError(conflictMsg), nil
	}
	return toolResultJSON(fmt.Sprintf(`{"ok":true,"item_id":%q}`, itemID)), nil
}

func marshalResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func toolResultJSON(text string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(text)
}
