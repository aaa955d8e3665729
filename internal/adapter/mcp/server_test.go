package mcp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	cfmcp "github.com/Strob0t/VoiceForge/internal/adapter/mcp"
	"github.com/Strob0t/VoiceForge/internal/domain"
	"github.com/Strob0t/VoiceForge/internal/domain/defect"
	"github.com/Strob0t/VoiceForge/internal/domain/execution"
	"github.com/Strob0t/VoiceForge/internal/domain/review"
)

// --- Mocks ---

type mockQueue struct {
	items    map[string]*review.QueueItem
	claimed  map[string]string
	complete review.CompleteRequest
}

func newMockQueue() *mockQueue {
	return &mockQueue{
		items: map[string]*review.QueueItem{
			"q1": {ID: "q1", Priority: 2, LanguageCode: "en-US", Status: review.StatusPending},
		},
		claimed: map[string]string{},
	}
}

func (m *mockQueue) Next(_ context.Context, _, _ string) (*review.QueueItem, error) {
	for _, it := range m.items {
		if it.Status == review.StatusPending {
			return it, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockQueue) Claim(_ context.Context, itemID, reviewerID string) (bool, error) {
	it, ok := m.items[itemID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if it.Status != review.StatusPending {
		return false, nil
	}
	it.Status = review.StatusClaimed
	m.claimed[itemID] = reviewerID
	return true, nil
}

func (m *mockQueue) Release(_ context.Context, itemID string) (bool, error) {
	it, ok := m.items[itemID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if it.Status != review.StatusClaimed {
		return false, nil
	}
	it.Status = review.StatusPending
	return true, nil
}

func (m *mockQueue) Complete(_ context.Context, itemID, reviewerID string, req review.CompleteRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}
	if m.claimed[itemID] != reviewerID {
		return false, nil
	}
	m.items[itemID].Status = review.StatusCompleted
	m.complete = req
	return true, nil
}

func (m *mockQueue) Detail(_ context.Context, itemID string) (*review.Detail, error) {
	it, ok := m.items[itemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &review.Detail{Item: *it}, nil
}

func (m *mockQueue) Stats(context.Context) (review.Stats, error) {
	var st review.Stats
	for _, it := range m.items {
		switch it.Status {
		case review.StatusPending:
			st.Pending++
		case review.StatusClaimed:
			st.Claimed++
		case review.StatusCompleted:
			st.Completed++
		}
	}
	return st, nil
}

type mockExecutions struct{}

func (mockExecutions) Summary(_ context.Context, id string) (*execution.Summary, error) {
	if id != "e1" {
		return nil, domain.ErrNotFound
	}
	return &execution.Summary{Execution: execution.Execution{ID: "e1", Status: execution.StatusCompleted}}, nil
}

type mockDefects struct{}

func (mockDefects) ListDefects(context.Context, string) ([]defect.Defect, error) {
	return []defect.Defect{{ID: "d1", ScenarioID: "weather", Language: "de-DE", StreakLength: 3}}, nil
}

// --- Helpers ---

func newTestServer(q *mockQueue) *cfmcp.Server {
	return cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cfmcp.ServerDeps{
		Reviews:    q,
		Executions: mockExecutions{},
		Defects:    mockDefects{},
	})
}

func call(t *testing.T, s *cfmcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("%s tool not found", name)
	}
	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return result
}

func resultText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return text.Text
}

// --- Tests ---

func TestServerStartStop(t *testing.T) {
	s := cfmcp.NewServer(cfmcp.ServerConfig{Addr: "127.0.0.1:0", Name: "test", Version: "0.1.0"}, cfmcp.ServerDeps{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func TestToolRegistration(t *testing.T) {
	s := newTestServer(newMockQueue())

	tools := s.MCPServer().ListTools()
	expected := []string{
		"review_next", "review_claim", "review_release", "review_complete",
		"review_detail", "review_stats", "get_execution",
	}
	if len(tools) != len(expected) {
		t.Fatalf("expected %d tools, got %d", len(expected), len(tools))
	}
	for _, name := range expected {
		if _, ok := tools[name]; !ok {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestReviewToolFlow(t *testing.T) {
	q := newMockQueue()
	s := newTestServer(q)

	result := call(t, s, "review_next", map[string]any{"reviewer_id": "alice", "language": "en-GB"})
	if result.IsError {
		t.Fatalf("review_next returned error: %v", result.Content)
	}
	var item review.QueueItem
	if err := json.Unmarshal([]byte(resultText(t, result)), &item); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if item.ID != "q1" {
		t.Fatalf("expected q1, got %q", item.ID)
	}

	if r := call(t, s, "review_claim", map[string]any{"item_id": "q1", "reviewer_id": "alice"}); r.IsError {
		t.Fatalf("claim failed: %v", r.Content)
	}
	if r := call(t, s, "review_claim", map[string]any{"item_id": "q1", "reviewer_id": "bob"}); !r.IsError {
		t.Fatal("second claim should be rejected")
	}
	if r := call(t, s, "review_complete", map[string]any{"item_id": "q1", "reviewer_id": "alice", "verdict": "maybe"}); !r.IsError {
		t.Fatal("unknown verdict should be rejected")
	}
	r := call(t, s, "review_complete", map[string]any{"item_id": "q1", "reviewer_id": "alice", "verdict": "fail", "notes": "wrong city"})
	if r.IsError {
		t.Fatalf("complete failed: %v", r.Content)
	}
	if q.complete.Verdict != review.VerdictFail || q.complete.Notes != "wrong city" {
		t.Fatalf("unexpected completion %+v", q.complete)
	}

	result = call(t, s, "review_stats", nil)
	var stats review.Stats
	if err := json.Unmarshal([]byte(resultText(t, result)), &stats); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if stats != (review.Stats{Completed: 1}) {
		t.Fatalf("unexpected stats %+v", stats)
	}

	result = call(t, s, "review_next", map[string]any{"reviewer_id": "alice"})
	if result.IsError || resultText(t, result) != "review queue is empty" {
		t.Fatalf("expected empty queue, got %v", result.Content)
	}
}

func TestReviewToolsMissingArgs(t *testing.T) {
	s := newTestServer(newMockQueue())

	tests := []struct {
		tool string
		args map[string]any
	}{
		{"review_next", nil},
		{"review_claim", map[string]any{"item_id": "q1"}},
		{"review_release", nil},
		{"review_complete", map[string]any{"item_id": "q1"}},
		{"review_detail", nil},
		{"get_execution", nil},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			if r := call(t, s, tt.tool, tt.args); !r.IsError {
				t.Fatalf("expected error result for %s", tt.tool)
			}
		})
	}
}

func TestReleaseUnknownItem(t *testing.T) {
	s := newTestServer(newMockQueue())

	if r := call(t, s, "review_release", map[string]any{"item_id": "nope"}); !r.IsError {
		t.Fatal("expected error for unknown item")
	}
	if r := call(t, s, "review_release", map[string]any{"item_id": "q1"}); !r.IsError {
		t.Fatal("releasing a pending item should be rejected")
	}
}

func TestGetExecution(t *testing.T) {
	s := newTestServer(newMockQueue())

	result := call(t, s, "get_execution", map[string]any{"execution_id": "e1"})
	if result.IsError {
		t.Fatalf("get_execution returned error: %v", result.Content)
	}
	var sum execution.Summary
	if err := json.Unmarshal([]byte(resultText(t, result)), &sum); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if sum.Execution.Status != execution.StatusCompleted {
		t.Fatalf("expected completed, got %q", sum.Execution.Status)
	}

	if r := call(t, s, "get_execution", map[string]any{"execution_id": "missing"}); !r.IsError {
		t.Fatal("expected error for unknown execution")
	}
}

func TestHandleNilDeps(t *testing.T) {
	s := cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, cfmcp.ServerDeps{})

	if r := call(t, s, "review_stats", nil); !r.IsError {
		t.Fatal("expected error result when deps are nil")
	}
	if r := call(t, s, "get_execution", map[string]any{"execution_id": "e1"}); !r.IsError {
		t.Fatal("expected error result when deps are nil")
	}
}

func TestAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := cfmcp.AuthMiddleware("secret", next)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusForbidden},
		{"bearer", "Bearer secret", http.StatusOK},
		{"plain", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}

	if cfmcp.AuthMiddleware("", next) == nil {
		t.Fatal("disabled auth must pass through")
	}
}
