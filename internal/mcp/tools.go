package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/matching"
	"github.com/clinical-trial-matcher/internal/sanitize"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
)

// MatchInput is the match_trials argument object
type MatchInput struct {
	Patient        domain.PatientProfile `json:"patient" jsonschema:"clinical profile of the patient as structured conditions or free-text clinical notes; identity fields are never sent upstream"`
	MaxResults     int                   `json:"max_results,omitempty" jsonschema:"maximum number of trials to return" validate:"gte=0"`
	MinConfidence  *float64              `json:"min_confidence,omitempty" jsonschema:"minimum reasoning confidence in [0,1]" validate:"omitempty,gte=0,lte=1"`
	TimeoutSeconds int                   `json:"timeout_seconds,omitempty" jsonschema:"overall deadline in seconds" validate:"gte=0,lte=300"`
}

// SearchInput is the search_trials argument object
type SearchInput struct {
	Conditions []string `json:"conditions,omitempty" jsonschema:"conditions to search for"`
	Terms      []string `json:"terms,omitempty" jsonschema:"free-text search terms"`
	Statuses   []string `json:"statuses,omitempty" jsonschema:"recruitment statuses such as RECRUITING"`
	PageToken  string   `json:"page_token,omitempty" jsonschema:"token from a previous page"`
}

// GetTrialInput is the get_trial argument object
type GetTrialInput struct {
	NCTID string `json:"nct_id" jsonschema:"trial identifier such as NCT01234567"`
}

// StatusInput is the empty upstream_status argument object
type StatusInput struct{}

const toolCount = 4

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "match_trials",
		Description: "Find and rank clinical trials a patient may be eligible for, with step-by-step eligibility reasoning",
	}, s.matchTrials)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "search_trials",
		Description: "Search the trial registry by condition, term and recruitment status",
	}, s.searchTrials)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_trial",
		Description: "Fetch one trial by NCT identifier",
	}, s.getTrial)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "upstream_status",
		Description: "Report circuit breaker, rate limiter and cache state for each upstream",
	}, s.upstreamStatus)
	s.logger.WithField("tool_count", toolCount).Debug("Registered MCP tools")
}

func (s *Server) matchTrials(ctx context.Context, _ *mcp.CallToolRequest, in MatchInput) (*mcp.CallToolResult, any, error) {
	requestID := uuid.NewString()
	if err := domain.ValidateStruct(&in); err != nil {
		return s.toolError("match_trials", err, requestID), nil, nil
	}
	opts := matching.MatchOptions{
		MaxResults:    in.MaxResults,
		MinConfidence: in.MinConfidence,
		RequestID:     requestID,
	}
	if in.TimeoutSeconds > 0 {
		opts.Deadline = time.Now().Add(time.Duration(in.TimeoutSeconds) * time.Second)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	outcome, err := s.app.Orchestrator.Execute(ctx, &in.Patient, opts)
	if err != nil {
		return s.toolError("match_trials", err, requestID), nil, nil
	}
	return result(outcome), nil, nil
}

func (s *Server) searchTrials(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	page, err := s.app.Trials.Search(ctx, domain.SearchFilters{
		Conditions: in.Conditions,
		Terms:      in.Terms,
		Statuses:   in.Statuses,
	}, in.PageToken)
	if err != nil {
		return s.toolError("search_trials", err, uuid.NewString()), nil, nil
	}
	return result(page), nil, nil
}

func (s *Server) getTrial(ctx context.Context, _ *mcp.CallToolRequest, in GetTrialInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	trial, err := s.app.Trials.GetTrial(ctx, in.NCTID)
	if err != nil {
		return s.toolError("get_trial", err, uuid.NewString()), nil, nil
	}
	return result(trial), nil, nil
}

func (s *Server) upstreamStatus(context.Context, *mcp.CallToolRequest, StatusInput) (*mcp.CallToolResult, any, error) {
	return result(map[string]any{"upstreams": s.app.Upstreams()}), nil, nil
}

func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := s.app.Config.MCP.RequestTimeout; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// result renders v as JSON text and as structured content
func result(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: "failed to encode result"}},
		}
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
		StructuredContent: json.RawMessage(data),
	}
}

// toolError reports err as a tool-level error carrying only the sanitized API error body
func (s *Server) toolError(tool string, err error, requestID string) *mcp.CallToolResult {
	apiErr := domain.APIErrorFrom(err, requestID)
	s.logger.WithFields(logrus.Fields{
		"tool":       tool,
		"request_id": requestID,
		"error_kind": apiErr.Code,
		"error":      sanitize.Error(err),
	}).Warn("Tool call failed")

	data, _ := json.Marshal(map[string]any{"error": apiErr})
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
