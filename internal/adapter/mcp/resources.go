package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"voiceforge://review/stats",
			"Review Queue Stats",
			mcplib.WithResourceDescription("Pending, claimed and completed review item counts"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatsResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"voiceforge://defects",
			"Defects",
			mcplib.WithResourceDescription("Defects filed after consecutive failures of a scenario language"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDefectsResource,
	)
}

func (s *Server) handleStatsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Reviews == nil {
		return jsonResource(req.Params.URI, `{"error":"review queue not configured"}`), nil
	}
	stats, err := s.deps.Reviews.Stats(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, err
	}
	return jsonResource(req.Params.URI, string(data)), nil
}

func (s *Server) handleDefectsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Defects == nil {
		return jsonResource(req.Params.URI, `{"error":"defect lister not configured"}`), nil
	}
	defects, err := s.deps.Defects.ListDefects(ctx, "")
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(defects)
	if err != nil {
		return nil, err
	}
	return jsonResource(req.Params.URI, string(data)), nil
}

func jsonResource(uri, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		},
	}
}
