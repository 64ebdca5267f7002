package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clinical-trial-matcher/internal/app"
	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/reasoning"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const study = `{
  "protocolSection": {
    "identificationModule": {"nctId": "NCT01000001", "briefTitle": "Metformin Add-on Study"},
    "statusModule": {"overallStatus": "RECRUITING"},
    "conditionsModule": {"conditions": ["Type 2 Diabetes"]},
    "eligibilityModule": {"sex": "ALL", "minimumAge": "18 Years", "maximumAge": "75 Years"}
  }
}`

const analysis = `CHAIN OF THOUGHT:
1. The patient is 45, inside the 18 to 75 range.
2. Type 2 diabetes is the studied condition.
3. No exclusion criteria apply.

ELIGIBILITY ASSESSMENT:
MET: Age 18 to 75 years

CONTRAINDICATION CHECK:
NONE

CONFIDENCE: 80%

RECOMMENDATION: ELIGIBLE`

type stubCompleter struct{}

func (stubCompleter) Complete(context.Context, []openai.ChatCompletionMessage) (*reasoning.Completion, error) {
	return &reasoning.Completion{Content: analysis, Model: "test-model"}, nil
}

func newSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/studies":
			_, _ = w.Write([]byte(`{"studies": [` + study + `]}`))
		case "/studies/NCT01000001":
			_, _ = w.Write([]byte(study))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(registry.Close)

	upstream := domain.UpstreamConfig{
		BaseURL:    registry.URL,
		Timeout:    5 * time.Second,
		RateLimit:  100,
		RateWindow: time.Minute,
		Circuit:    domain.CircuitConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute},
		CacheTTL:   time.Hour,
	}
	cfg := &domain.Config{
		Trials:    upstream,
		Reasoning: domain.ReasoningConfig{UpstreamConfig: upstream, Model: "test-model", MinSteps: 3},
		Retry:     domain.RetryConfig{InitialBackoff: 10 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2},
		Cache:     domain.CacheConfig{MaxEntries: 50},
		Matching: domain.MatchingConfig{
			MaxConcurrency:      2,
			DefaultTimeout:      10 * time.Second,
			MaxCandidates:       30,
			CandidateMultiplier: 3,
			MaxPages:            1,
			DefaultMaxResults:   3,
			MinConfidence:       0.5,
			EligibleThreshold:   0.7,
			AgeToleranceYears:   5,
		},
		Database: domain.DatabaseConfig{Driver: "memory"},
		MCP:      domain.MCPConfig{ServerName: "trial-matcher-test", RequestTimeout: 30 * time.Second},
	}

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	ctx := context.Background()
	a, err := app.New(ctx, cfg, app.WithLogger(logger), app.WithCompleter(stubCompleter{}))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(ctx) })

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := NewServer(a).Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (*mcp.CallToolResult, map[string]any) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &body), text.Text)
	return res, body
}

func TestListTools(t *testing.T) {
	session := newSession(t)

	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"match_trials", "search_trials", "get_trial", "upstream_status"}, names)
}

func TestMatchTrials(t *testing.T) {
	session := newSession(t)

	res, body := callTool(t, session, "match_trials", map[string]any{
		"patient": map[string]any{
			"age":        45,
			"sex":        "male",
			"conditions": []string{"type 2 diabetes"},
			"identity":   map[string]any{"name": "John Smith"},
		},
		"max_results": 2,
	})
	assert.False(t, res.IsError)
	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.Equal(t, "NCT01000001", results[0].(map[string]any)["trial_id"])

	data, err := json.Marshal(body)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "John Smith")
}

func TestMatchTrials_InvalidPatient(t *testing.T) {
	session := newSession(t)

	res, body := callTool(t, session, "match_trials", map[string]any{
		"patient": map[string]any{"age": 45, "sex": "male", "conditions": []string{}},
	})
	assert.True(t, res.IsError)
	apiErr := body["error"].(map[string]any)
	assert.Equal(t, string(domain.KindValidation), apiErr["code"])
	assert.NotEmpty(t, apiErr["request_id"])
}

func TestTrialTools(t *testing.T) {
	session := newSession(t)

	res, body := callTool(t, session, "search_trials", map[string]any{"conditions": []string{"diabetes"}})
	assert.False(t, res.IsError)
	assert.Len(t, body["candidates"], 1)

	res, body = callTool(t, session, "get_trial", map[string]any{"nct_id": "NCT01000001"})
	assert.False(t, res.IsError)
	assert.Equal(t, "NCT01000001", body["nct_id"])

	res, body = callTool(t, session, "get_trial", map[string]any{"nct_id": "NCT09999999"})
	assert.True(t, res.IsError)
	assert.Equal(t, string(domain.KindNotFound), body["error"].(map[string]any)["code"])

	res, body = callTool(t, session, "upstream_status", map[string]any{})
	assert.False(t, res.IsError)
	assert.Len(t, body["upstreams"], 2)
}
