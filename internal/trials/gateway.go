package trials

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/metrics"
	"github.com/clinical-trial-matcher/internal/observability"
	"github.com/clinical-trial-matcher/pkg/cache"
	"github.com/clinical-trial-matcher/pkg/resilience"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	maxPageSize     = 1000
	defaultPageSize = 20
)

var nctIDPattern = regexp.MustCompile(`^NCT\d{8}$`)

// Gateway is the guarded, cached entry point to the trial registry
type Gateway struct {
	client  *Client
	guard   *resilience.Guard
	pages   *cache.ResponseCache[domain.TrialPage]
	config  domain.UpstreamConfig
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// GatewayOption customizes a Gateway
type GatewayOption func(*Gateway)

// WithMetrics records upstream calls
func WithMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// NewGateway creates a trials gateway. pages caches normalized registry pages
// before any patient-specific filtering.
func NewGateway(client *Client, guard *resilience.Guard, pages *cache.ResponseCache[domain.TrialPage], config domain.UpstreamConfig, logger *logrus.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		client: client,
		guard:  guard,
		pages:  pages,
		config: config,
		logger: logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Search returns one page of candidates for filters starting at pageToken.
// Identical (filters, pageToken) within the cache TTL are served without a network call.
func (g *Gateway) Search(ctx context.Context, filters domain.SearchFilters, pageToken string) (_ *domain.TrialPage, err error) {
	ctx, span := observability.StartSpan(ctx, "trials.search",
		attribute.Bool("trials.has_page_token", pageToken != ""))
	defer func() { observability.EndSpan(span, err) }()

	params, err := g.buildParams(filters, pageToken)
	if err != nil {
		return nil, err
	}
	key := cache.Fingerprint("trials.search", params.Encode())

	if cached, ok := g.pages.Get(ctx, key); ok {
		page := applyAgeFilter(cached, filters)
		page.FromCache = true
		return &page, nil
	}

	var resp *studiesResponse
	start := time.Now()
	outcome, err := g.guard.Do(ctx, "search", func(ctx context.Context) error {
		var callErr error
		resp, callErr = g.client.SearchStudies(ctx, params)
		return callErr
	})
	g.metrics.ObserveUpstream(domain.UpstreamTrials, metrics.Outcome(err), time.Since(start))
	span.SetAttributes(attribute.Int("trials.attempts", outcome.Attempts))
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"op":         "search",
			"attempts":   outcome.Attempts,
			"error_kind": domain.KindOf(err),
		}).Warn("Trial registry search failed")
		return nil, err
	}

	page := g.normalizePage(resp)
	g.pages.Put(ctx, key, page, g.config.CacheTTL)

	filtered := applyAgeFilter(page, filters)
	span.SetAttributes(attribute.Int("trials.candidates", len(filtered.Candidates)))
	return &filtered, nil
}

// SearchAll follows continuation tokens until target candidates are collected, the
// registry has no more pages, or maxPages pages were read. A failure on the first page
// is returned as the error; a later failure is reported in SearchResult.Err and the
// candidates gathered so far are kept.
func (g *Gateway) SearchAll(ctx context.Context, filters domain.SearchFilters, target, maxPages int) (*domain.SearchResult, error) {
	result := &domain.SearchResult{Candidates: []domain.TrialCandidate{}}
	token := ""
	for {
		if maxPages > 0 && result.Pages >= maxPages {
			break
		}
		page, err := g.Search(ctx, filters, token)
		if err != nil {
			if result.Pages == 0 {
				return nil, err
			}
			result.Err = err
			break
		}
		result.Pages++
		result.Candidates = append(result.Candidates, page.Candidates...)
		result.Dropped = append(result.Dropped, page.Dropped...)

		if page.NextPageToken == "" {
			result.Exhausted = true
			break
		}
		if target > 0 && len(result.Candidates) >= target {
			break
		}
		token = page.NextPageToken
	}

	if target > 0 && len(result.Candidates) > target {
		result.Candidates = result.Candidates[:target]
	}
	return result, nil
}

// GetTrial fetches a single trial by NCT identifier
func (g *Gateway) GetTrial(ctx context.Context, nctID string) (_ *domain.TrialCandidate, err error) {
	nctID = strings.ToUpper(strings.TrimSpace(nctID))
	if !nctIDPattern.MatchString(nctID) {
		return nil, domain.NewValidationError("nct_id", "must look like NCT followed by 8 digits")
	}

	ctx, span := observability.StartSpan(ctx, "trials.get", attribute.String("trials.nct_id", nctID))
	defer func() { observability.EndSpan(span, err) }()

	key := cache.Fingerprint("trials.get", nctID)
	if cached, ok := g.pages.Get(ctx, key); ok && len(cached.Candidates) == 1 {
		candidate := cached.Candidates[0]
		return &candidate, nil
	}

	var raw []byte
	start := time.Now()
	_, err = g.guard.Do(ctx, "get_trial", func(ctx context.Context) error {
		var callErr error
		raw, callErr = g.client.GetStudy(ctx, nctID)
		return callErr
	})
	g.metrics.ObserveUpstream(domain.UpstreamTrials, metrics.Outcome(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	candidate, err := Normalize(0, raw)
	if err != nil {
		return nil, domain.NewUpstreamError(domain.KindNormalization, domain.UpstreamTrials, "get_trial", err).
			WithContext("nct_id", nctID)
	}
	g.pages.Put(ctx, key, domain.TrialPage{Candidates: []domain.TrialCandidate{candidate}}, g.config.CacheTTL)
	return &candidate, nil
}

// Status reports breaker and limiter state for the registry upstream
func (g *Gateway) Status() resilience.GuardStatus {
	return g.guard.Status()
}

// CacheStats reports page cache effectiveness
func (g *Gateway) CacheStats() cache.Stats {
	return g.pages.Stats()
}

func (g *Gateway) normalizePage(resp *studiesResponse) domain.TrialPage {
	page := domain.TrialPage{
		Candidates:    make([]domain.TrialCandidate, 0, len(resp.Studies)),
		NextPageToken: resp.NextPageToken,
		TotalCount:    resp.TotalCount,
	}
	for i, raw := range resp.Studies {
		candidate, err := Normalize(i, raw)
		if err != nil {
			nerr := err.(*NormalizationError)
			g.logger.WithFields(logrus.Fields{
				"index":  nerr.Index,
				"nct_id": nerr.NCTID,
				"reason": nerr.Reason,
			}).Warn("Dropping trial record that failed normalization")
			page.Dropped = append(page.Dropped, nerr.Record())
			continue
		}
		page.Candidates = append(page.Candidates, candidate)
	}
	return page
}

// buildParams encodes filters into registry query parameters. A filter that cannot be
// encoded is a ValidationError, never silently dropped.
func (g *Gateway) buildParams(filters domain.SearchFilters, pageToken string) (url.Values, error) {
	f := filters.Normalized()
	if len(f.Conditions) == 0 && len(f.Terms) == 0 {
		return nil, domain.NewValidationError("filters", "at least one condition or term is required")
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("countTotal", "true")
	if len(f.Conditions) > 0 {
		params.Set("query.cond", strings.Join(f.Conditions, " OR "))
	}
	if len(f.Terms) > 0 {
		params.Set("query.term", strings.Join(f.Terms, " AND "))
	}
	if len(f.Statuses) > 0 {
		params.Set("filter.overallStatus", strings.Join(f.Statuses, ","))
	}
	if f.Geo != nil {
		geo, err := EncodeGeo(*f.Geo)
		if err != nil {
			return nil, err
		}
		params.Set("filter.geo", geo)
	}

	size := f.PageSize
	if size <= 0 {
		size = g.config.PageSize
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	params.Set("pageSize", strconv.Itoa(size))
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}
	return params, nil
}

// EncodeGeo renders a geo filter in the registry's distance(lat,lon,Nmi) syntax
func EncodeGeo(geo domain.GeoFilter) (string, error) {
	switch {
	case math.IsNaN(geo.Latitude) || geo.Latitude < -90 || geo.Latitude > 90:
		return "", domain.NewValidationError("geo.latitude", "must be between -90 and 90")
	case math.IsNaN(geo.Longitude) || geo.Longitude < -180 || geo.Longitude > 180:
		return "", domain.NewValidationError("geo.longitude", "must be between -180 and 180")
	case math.IsNaN(geo.RadiusMiles) || math.IsInf(geo.RadiusMiles, 0) || geo.RadiusMiles <= 0:
		return "", domain.NewValidationError("geo.radius_miles", "must be a positive number")
	}
	return fmt.Sprintf("distance(%s,%s,%smi)",
		strconv.FormatFloat(geo.Latitude, 'f', -1, 64),
		strconv.FormatFloat(geo.Longitude, 'f', -1, 64),
		strconv.FormatFloat(geo.RadiusMiles, 'f', -1, 64)), nil
}

// applyAgeFilter returns a copy of page without candidates whose age bounds exclude the
// patient by more than the tolerance. The cached page itself is never modified.
func applyAgeFilter(page domain.TrialPage, filters domain.SearchFilters) domain.TrialPage {
	out := page
	out.Dropped = append([]domain.RecordError(nil), page.Dropped...)
	if filters.PatientAge == nil {
		out.Candidates = append([]domain.TrialCandidate(nil), page.Candidates...)
		return out
	}
	age := float64(*filters.PatientAge)
	out.Candidates = make([]domain.TrialCandidate, 0, len(page.Candidates))
	for _, c := range page.Candidates {
		if c.Eligibility.AdmitsAge(age, filters.AgeTolerance) {
			out.Candidates = append(out.Candidates, c)
			continue
		}
		out.AgeFiltered++
	}
	return out
}
