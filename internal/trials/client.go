// Package trials implements the trial registry gateway: guarded, cached and paginated
// search against the ClinicalTrials.gov v2 API with normalization into TrialCandidate.
package trials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/pkg/resilience"
)

const maxErrorBody = 4 << 10

// Client performs raw registry HTTP calls
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a registry client
func NewClient(config domain.UpstreamConfig) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "clinical-trial-matcher/1.0",
	}
}

// studiesResponse is the /studies payload
type studiesResponse struct {
	Studies       []json.RawMessage `json:"studies"`
	NextPageToken string            `json:"nextPageToken"`
	TotalCount    int               `json:"totalCount"`
}

// SearchStudies calls GET /studies with encoded query parameters
func (c *Client) SearchStudies(ctx context.Context, params url.Values) (*studiesResponse, error) {
	var out studiesResponse
	if err := c.get(ctx, "search", "/studies", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStudy calls GET /studies/{nctId}
func (c *Client) GetStudy(ctx context.Context, nctID string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.get(ctx, "get_trial", "/studies/"+url.PathEscape(nctID), url.Values{"format": {"json"}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.NewUpstreamError(domain.KindValidation, domain.UpstreamTrials, op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return classifyStatus(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewUpstreamError(domain.KindUpstream, domain.UpstreamTrials, op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// classifyStatus maps a non-200 response to the shared error taxonomy
func classifyStatus(op string, resp *http.Response) error {
	kind := domain.KindUpstream
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		kind = domain.KindValidation
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = domain.KindAuthentication
	case resp.StatusCode == http.StatusNotFound:
		kind = domain.KindNotFound
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		kind = domain.KindTimeout
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = domain.KindRateLimit
	case resp.StatusCode >= 500:
		kind = domain.KindServiceUnavailable
	}
	upErr := domain.NewUpstreamError(kind, domain.UpstreamTrials, op, nil)
	upErr.StatusCode = resp.StatusCode
	upErr.RetryAfter = resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	return upErr
}

func classifyTransportError(op string, err error) error {
	kind := domain.KindServiceUnavailable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = domain.KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.NewUpstreamError(kind, domain.UpstreamTrials, op, err)
}
