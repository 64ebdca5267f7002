package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/pkg/cache"
	"github.com/clinical-trial-matcher/pkg/resilience"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testConfig(baseURL string) domain.ReasoningConfig {
	return domain.ReasoningConfig{
		UpstreamConfig: domain.UpstreamConfig{
			BaseURL:  baseURL,
			APIKey:   "test-key",
			Timeout:  5 * time.Second,
			CacheTTL: 30 * time.Minute,
		},
		Model:          "llama3.1-8b",
		Temperature:    0.1,
		MaxTokens:      2000,
		MinSteps:       3,
		MinStepsPolicy: PolicyReject,
		DepthPenalty:   0.5,
	}
}

type gatewayFixture struct {
	gateway *Gateway
	breaker *resilience.CircuitBreaker
}

func newFixture(t *testing.T, cfg domain.ReasoningConfig, attempts int, recovery time.Duration) gatewayFixture {
	t.Helper()
	logger := testLogger()
	breaker := resilience.NewCircuitBreaker(resilience.BreakerSettings{
		Upstream:         domain.UpstreamReasoning,
		FailureThreshold: 5,
		RecoveryTimeout:  recovery,
	}, logger)
	guard := resilience.NewGuard(domain.UpstreamReasoning,
		resilience.NewRateLimiter(domain.UpstreamReasoning, 60, time.Minute),
		breaker,
		resilience.RetryPolicy{
			MaxAttempts:    attempts,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     time.Second,
			Multiplier:     2,
			Jitter:         0.2,
		})
	results, err := cache.New[domain.ReasoningResult]("reasoning", 100, logger)
	require.NoError(t, err)
	return gatewayFixture{
		gateway: NewGateway(NewChatClient(cfg), guard, results, cfg, logger),
		breaker: breaker,
	}
}

func completionJSON(content string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "llama3.1-8b",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
	})
	return body
}

func testPatient() *domain.PatientProfile {
	p := &domain.PatientProfile{
		Age:         45,
		Sex:         "female",
		Conditions:  []string{"type 2 diabetes"},
		Medications: []string{"metformin"},
		Identity: domain.PatientIdentity{
			Name:  "Jane Roe",
			Email: "jane.roe@example.com",
			Phone: "555-123-4567",
			MRN:   "MRN-884422",
		},
	}
	p.ClinicalNotes = "Jane Roe, reachable at jane.roe@example.com or 555-123-4567, reports good adherence."
	return p
}

func testTrial() *domain.TrialCandidate {
	minAge, maxAge := 18.0, 75.0
	return &domain.TrialCandidate{
		NCTID:      "NCT01000001",
		Title:      "Metformin Add-on Study",
		Conditions: []string{"Type 2 Diabetes"},
		Eligibility: domain.EligibilityCriteria{
			Inclusion:   []string{"Age 18 to 75 years", "Diagnosis of type 2 diabetes"},
			Exclusion:   []string{"Pregnancy"},
			MinAgeYears: &minAge,
			MaxAgeYears: &maxAge,
			Sex:         domain.SexAll,
		},
	}
}

func TestGateway_Analyze(t *testing.T) {
	var (
		hits   atomic.Int32
		prompt string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		prompt = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(completionJSON(eligibleResponse))
	}))
	defer server.Close()

	f := newFixture(t, testConfig(server.URL), 3, time.Minute)
	result, err := f.gateway.Analyze(context.Background(), testPatient(), testTrial())
	require.NoError(t, err)

	assert.Equal(t, "NCT01000001", result.TrialID)
	assert.Equal(t, domain.VerdictEligible, result.Verdict)
	assert.GreaterOrEqual(t, result.Confidence, 0.7)
	assert.LessOrEqual(t, result.Confidence, 1.0)
	assert.Equal(t, 150, result.TokensUsed)
	assert.False(t, result.FromCache)

	for _, pii := range []string{"Jane", "Roe", "jane.roe@example.com", "555-123-4567", "MRN-884422"} {
		assert.NotContains(t, prompt, pii)
	}
	assert.Contains(t, prompt, "type 2 diabetes")

	again, err := f.gateway.Analyze(context.Background(), testPatient(), testTrial())
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGateway_Analyze_AuthenticationNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	f := newFixture(t, testConfig(server.URL), 4, time.Minute)
	_, err := f.gateway.Analyze(context.Background(), testPatient(), testTrial())

	var upErr *domain.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, domain.KindAuthentication, upErr.Kind)
	assert.Equal(t, 1, upErr.Attempts)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, resilience.StateClosed, f.breaker.State())
}

func TestGateway_Analyze_RateLimitHonorsRetryAfter(t *testing.T) {
	var hits atomic.Int32
	var first time.Time
	var second time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1:
			first = time.Now()
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
		default:
			second = time.Now()
			_, _ = w.Write(completionJSON(eligibleResponse))
		}
	}))
	defer server.Close()

	f := newFixture(t, testConfig(server.URL), 3, time.Minute)
	_, err := f.gateway.Analyze(context.Background(), testPatient(), testTrial())
	require.NoError(t, err)

	assert.Equal(t, int32(2), hits.Load())
	assert.GreaterOrEqual(t, second.Sub(first), 900*time.Millisecond)
}

func TestGateway_Analyze_ParseErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(completionJSON("I am unable to assess this."))
	}))
	defer server.Close()

	f := newFixture(t, testConfig(server.URL), 3, time.Minute)
	_, err := f.gateway.Analyze(context.Background(), testPatient(), testTrial())

	assert.Equal(t, domain.KindReasoningParse, domain.KindOf(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestGateway_Analyze_MinimumDepthPolicies(t *testing.T) {
	shallow := "CHAIN OF THOUGHT:\n1. Age fits.\n2. Condition fits.\n\nCONFIDENCE: 90%\n\nRECOMMENDATION: ELIGIBLE"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(completionJSON(shallow))
	}))
	defer server.Close()

	rejecting := newFixture(t, testConfig(server.URL), 1, time.Minute)
	_, err := rejecting.gateway.Analyze(context.Background(), testPatient(), testTrial())
	assert.True(t, errors.Is(err, domain.ErrInsufficientReasoning))
	assert.Equal(t, domain.KindReasoningParse, domain.KindOf(err))

	cfg := testConfig(server.URL)
	cfg.MinStepsPolicy = PolicyPenalize
	penalizing := newFixture(t, cfg, 1, time.Minute)
	result, err := penalizing.gateway.Analyze(context.Background(), testPatient(), testTrial())
	require.NoError(t, err)
	assert.True(t, result.LowQuality)
	assert.InDelta(t, 0.45, result.Confidence, 1e-9)
}

func TestGateway_Analyze_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var (
		hits    atomic.Int32
		healthy atomic.Bool
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if healthy.Load() {
			_, _ = w.Write(completionJSON(eligibleResponse))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := newFixture(t, testConfig(server.URL), 1, 100*time.Millisecond)
	ctx := context.Background()
	trial := testTrial()

	for i := 0; i < 5; i++ {
		trial.NCTID = "NCT0100000" + string(rune('1'+i))
		_, err := f.gateway.Analyze(ctx, testPatient(), trial)
		assert.Equal(t, domain.KindServiceUnavailable, domain.KindOf(err))
	}
	assert.Equal(t, resilience.StateOpen, f.breaker.State())
	assert.Equal(t, int32(5), hits.Load())

	_, err := f.gateway.Analyze(ctx, testPatient(), testTrial())
	assert.Equal(t, domain.KindCircuitOpen, domain.KindOf(err))
	assert.Equal(t, int32(5), hits.Load(), "no network attempt while open")

	time.Sleep(150 * time.Millisecond)
	healthy.Store(true)

	result, err := f.gateway.Analyze(ctx, testPatient(), testTrial())
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Equal(t, int32(6), hits.Load())
	assert.Equal(t, resilience.StateClosed, f.breaker.State())
}

func TestBuildMessages_OnlyClinicalFields(t *testing.T) {
	patient := testPatient()
	patient.Identity.Address = "12 Elm Street"
	patient.Location = &domain.Location{City: "Boston", State: "MA", Country: "USA"}

	messages, err := BuildMessages(patient, testTrial())
	require.NoError(t, err)
	require.Len(t, messages, 2)

	user := messages[1].Content
	assert.True(t, strings.HasPrefix(user, "PATIENT PROFILE:"))
	assert.Contains(t, user, "Boston")
	assert.Contains(t, user, "NCT01000001")
	assert.NotContains(t, user, "Elm")
	assert.NotContains(t, user, "Jane")
	assert.Contains(t, messages[0].Content, "CHAIN OF THOUGHT")
}

func TestBuildMessages_NotesIdentifiersWithoutIdentity(t *testing.T) {
	patient := &domain.PatientProfile{
		Age:           61,
		ClinicalNotes: "John Smith reports polyuria; wife Mary Smith drove him in. " +
			"National ID AB123456C. Type 2 diabetes, HbA1c 9.1%.",
	}

	messages, err := BuildMessages(patient, testTrial())
	require.NoError(t, err)

	user := messages[1].Content
	for _, secret := range []string{"John", "Mary", "Smith", "AB123456C", "polyuria"} {
		assert.NotContains(t, user, secret)
	}
	assert.Contains(t, user, "type 2 diabetes")
	assert.Contains(t, user, "9.1%")
}

func TestBuildMessages_TrialCriteriaKeptVerbatim(t *testing.T) {
	trial := testTrial()
	trial.Eligibility.Inclusion = []string{
		"MS: relapsing-remitting course",
		"Patient: must have stable disease",
	}

	messages, err := BuildMessages(testPatient(), trial)
	require.NoError(t, err)

	user := messages[1].Content
	assert.Contains(t, user, "MS: relapsing-remitting course")
	assert.Contains(t, user, "Patient: must have stable disease")
	assert.NotContains(t, user, "Jane")
}
