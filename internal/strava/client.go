package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/calebwray/tempo/internal/analytics"
	"github.com/calebwray/tempo/internal/logging"
)

const (
	baseURL = "https://www.strava.com/api/v3"
	perPage = 200
)

// Default retry settings
const (
	defaultMaxRetries     = 5
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 5 * time.Minute
)

// RateLimitInfo contains rate limit information from the API
type RateLimitInfo struct {
	Limit15Min    int
	Usage15Min    int
	LimitDaily    int
	UsageDaily    int
	IsRateLimited bool
	// Calculated fields
	TimeUntil15MinReset time.Duration
	TimeUntilDailyReset time.Duration
	RecommendedWait     time.Duration
}

// Buffer to keep from rate limit boundaries (leave room for other operations)
const rateLimitBuffer = 5

// timeUntilNext15MinWindow calculates time until the next 15-minute boundary.
// Strava rate limits reset at 0, 15, 30, 45 minutes past each hour.
func timeUntilNext15MinWindow(now time.Time) time.Duration {
	minute := now.Minute()

	nextBoundary := ((minute / 15) + 1) * 15
	minutesUntil := nextBoundary - minute
	if nextBoundary >= 60 {
		minutesUntil = 60 - minute
	}

	wait := time.Duration(minutesUntil)*time.Minute -
		time.Duration(now.Second())*time.Second -
		time.Duration(now.Nanosecond())*time.Nanosecond

	// Small buffer to ensure we're past the boundary
	return wait + 2*time.Second
}

// timeUntilMidnightUTC calculates time until midnight UTC (daily reset)
func timeUntilMidnightUTC(now time.Time) time.Duration {
	nowUTC := now.UTC()
	midnight := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day()+1, 0, 0, 0, 0, time.UTC)
	return midnight.Sub(nowUTC) + 2*time.Second
}

// ShouldWaitForRateLimit returns the recommended wait duration (0 if no wait needed)
func (info *RateLimitInfo) ShouldWaitForRateLimit() time.Duration {
	return info.RecommendedWait
}

// IsApproaching15MinLimit returns true if we're close to the 15-minute limit
func (info *RateLimitInfo) IsApproaching15MinLimit() bool {
	if info.Limit15Min == 0 {
		return false
	}
	return info.Usage15Min >= info.Limit15Min-rateLimitBuffer
}

// IsApproachingDailyLimit returns true if we're close to the daily limit
func (info *RateLimitInfo) IsApproachingDailyLimit() bool {
	if info.LimitDaily == 0 {
		return false
	}
	return info.UsageDaily >= info.LimitDaily-rateLimitBuffer
}

// FetchResult contains the result of fetching one page of activities
type FetchResult struct {
	Activities   []analytics.RawActivity
	RateLimit    RateLimitInfo
	Page         int
	TotalFetched int
}

// ErrRateLimited indicates the API returned a 429 rate limit error
var ErrRateLimited = fmt.Errorf("rate limited")

// Client is a Strava API client with automatic retry and backoff.
// Activity pages are returned as raw JSON objects so every field the API
// provides survives into storage; normalization happens downstream.
type Client struct {
	httpClient  *retryablehttp.Client
	accessToken string
	baseURL     string
	rateMu      sync.RWMutex
	rateLimit   RateLimitInfo
}

// RetryConfig holds retry/backoff settings
type RetryConfig struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: defaultMaxRetries,
		MinWait:    defaultInitialBackoff,
		MaxWait:    defaultMaxBackoff,
	}
}

// NewClient creates a new Strava API client with automatic retry
func NewClient(accessToken string) *Client {
	return newClientWithConfig(accessToken, baseURL, DefaultRetryConfig())
}

// NewClientWithRetryConfig creates a new Strava API client with custom retry settings
func NewClientWithRetryConfig(accessToken string, cfg RetryConfig) *Client {
	return newClientWithConfig(accessToken, baseURL, cfg)
}

// NewClientWithBaseURL creates a new Strava API client with a custom base URL (for testing)
func NewClientWithBaseURL(accessToken, customBaseURL string) *Client {
	return newClientWithConfig(accessToken, customBaseURL, DefaultRetryConfig())
}

func newClientWithConfig(accessToken, baseURL string, cfg RetryConfig) *Client {
	log := logging.Logger
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = cfg.MinWait
	client.RetryWaitMax = cfg.MaxWait
	client.Logger = &logging.LeveledLogger{}

	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		// Retry on connection errors
		if err != nil {
			return true, nil
		}

		if resp.StatusCode == http.StatusNotFound {
			return false, nil
		}

		// Retry on 429 Too Many Requests (rate limited)
		if resp.StatusCode == http.StatusTooManyRequests {
			return true, nil
		}

		// Retry on 5xx server errors
		if resp.StatusCode >= 500 {
			return true, nil
		}

		return false, nil
	}

	// Custom backoff that waits for rate limit window resets
	client.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			// Honor Retry-After if Strava provides it
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					wait := time.Duration(seconds) * time.Second
					log.Info().
						Dur("wait", wait).
						Int("attempt", attemptNum).
						Msg("rate limited, waiting for Retry-After header")
					return wait
				}
			}

			wait := timeUntilNext15MinWindow(time.Now())
			log.Info().
				Dur("wait", wait).
				Int("attempt", attemptNum).
				Msg("rate limited, waiting for 15-minute window reset")
			return wait
		}

		// Exponential backoff for 5xx and connection errors
		wait := min * time.Duration(1<<uint(attemptNum))
		if wait > max {
			wait = max
		}
		log.Info().
			Dur("wait", wait).
			Int("attempt", attemptNum).
			Dur("max_wait", max).
			Msg("backing off before retry")
		return wait
	}

	client.RequestLogHook = func(logger retryablehttp.Logger, req *http.Request, retry int) {
		if retry > 0 {
			log.Info().
				Str("url", req.URL.Path).
				Int("attempt", retry+1).
				Msg("retrying request")
		}

		if logging.IsTraceEnabled() {
			log.Debug().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Str("headers", formatHeaders(req.Header)).
				Msg("request headers")
		}
	}

	client.ResponseLogHook = func(logger retryablehttp.Logger, resp *http.Response) {
		rateLimit := parseRateLimitHeaders(resp.Header, time.Now())

		if logging.IsTraceEnabled() {
			log.Debug().
				Int("status", resp.StatusCode).
				Str("url", resp.Request.URL.Path).
				Str("headers", formatHeaders(resp.Header)).
				Msg("response headers")
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			log.Warn().
				Int("status", resp.StatusCode).
				Str("url", resp.Request.URL.Path).
				Str("15min_usage", fmt.Sprintf("%d/%d", rateLimit.Usage15Min, rateLimit.Limit15Min)).
				Str("daily_usage", fmt.Sprintf("%d/%d", rateLimit.UsageDaily, rateLimit.LimitDaily)).
				Dur("wait_for_reset", rateLimit.TimeUntil15MinReset).
				Msg("rate limited by API")
		}
	}

	return &Client{
		httpClient:  client,
		accessToken: accessToken,
		baseURL:     baseURL,
	}
}

// WithRetryConfig sets custom retry configuration (useful for testing)
func (c *Client) WithRetryConfig(maxRetries int, initialBackoff, maxBackoff time.Duration) *Client {
	c.httpClient.RetryMax = maxRetries
	c.httpClient.RetryWaitMin = initialBackoff
	c.httpClient.RetryWaitMax = maxBackoff
	return c
}

// GetRateLimit returns the current rate limit info (with recalculated reset times)
func (c *Client) GetRateLimit() RateLimitInfo {
	c.rateMu.RLock()
	info := c.rateLimit
	c.rateMu.RUnlock()

	now := time.Now()
	info.TimeUntil15MinReset = timeUntilNext15MinWindow(now)
	info.TimeUntilDailyReset = timeUntilMidnightUTC(now)

	info.RecommendedWait = 0
	if info.Limit15Min > 0 && info.Usage15Min >= info.Limit15Min {
		info.IsRateLimited = true
		info.RecommendedWait = info.TimeUntil15MinReset
	} else if info.LimitDaily > 0 && info.UsageDaily >= info.LimitDaily {
		info.IsRateLimited = true
		info.RecommendedWait = info.TimeUntilDailyReset
	} else if info.IsApproaching15MinLimit() {
		info.RecommendedWait = info.TimeUntil15MinReset
	} else if info.IsApproachingDailyLimit() {
		info.RecommendedWait = info.TimeUntilDailyReset
	}

	return info
}

// WaitForRateLimit blocks until rate limits allow more requests, or context is cancelled
func (c *Client) WaitForRateLimit(ctx context.Context) error {
	log := logging.Logger
	rateLimit := c.GetRateLimit()
	waitDuration := rateLimit.ShouldWaitForRateLimit()

	if waitDuration <= 0 {
		return nil
	}

	log.Info().
		Dur("wait", waitDuration).
		Str("15min_usage", fmt.Sprintf("%d/%d", rateLimit.Usage15Min, rateLimit.Limit15Min)).
		Str("daily_usage", fmt.Sprintf("%d/%d", rateLimit.UsageDaily, rateLimit.LimitDaily)).
		Msg("waiting for rate limit window to reset")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(waitDuration):
		log.Info().Msg("rate limit window reset, resuming")
		return nil
	}
}

func (c *Client) updateRateLimit(resp *http.Response) RateLimitInfo {
	rateLimit := parseRateLimitHeaders(resp.Header, time.Now())
	if resp.StatusCode == http.StatusTooManyRequests {
		rateLimit.IsRateLimited = true
	}
	c.rateMu.Lock()
	c.rateLimit = rateLimit
	c.rateMu.Unlock()
	return rateLimit
}

// ProgressCallback is called after each page is fetched
type ProgressCallback func(result FetchResult)

// FetchAllActivities fetches every activity from the authenticated user's account
func (c *Client) FetchAllActivities(ctx context.Context, progress ProgressCallback) ([]analytics.RawActivity, error) {
	return c.fetchPaged(ctx, 0, progress)
}

// FetchActivitiesSince fetches activities after the given timestamp (for delta sync)
func (c *Client) FetchActivitiesSince(ctx context.Context, since time.Time, progress ProgressCallback) ([]analytics.RawActivity, error) {
	return c.fetchPaged(ctx, since.Unix(), progress)
}

func (c *Client) fetchPaged(ctx context.Context, after int64, progress ProgressCallback) ([]analytics.RawActivity, error) {
	var all []analytics.RawActivity
	page := 1

	for {
		activities, rateLimit, err := c.fetchActivitiesPage(ctx, page, after)

		if progress != nil {
			progress(FetchResult{
				Activities:   activities,
				RateLimit:    rateLimit,
				Page:         page,
				TotalFetched: len(all) + len(activities),
			})
		}

		if err != nil {
			return all, err
		}

		if len(activities) == 0 {
			break
		}

		all = append(all, activities...)
		page++
	}

	return all, nil
}

func (c *Client) fetchActivitiesPage(ctx context.Context, page int, after int64) ([]analytics.RawActivity, RateLimitInfo, error) {
	url := fmt.Sprintf("%s/athlete/activities?page=%d&per_page=%d", c.baseURL, page, perPage)
	if after > 0 {
		url += fmt.Sprintf("&after=%d", after)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, RateLimitInfo{}, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, RateLimitInfo{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	rateLimit := c.updateRateLimit(resp)

	if resp.StatusCode == http.StatusTooManyRequests {
		// Retries exhausted
		return nil, rateLimit, ErrRateLimited
	}

	if resp.StatusCode != http.StatusOK {
		return nil, rateLimit, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var activities []analytics.RawActivity
	if err := json.NewDecoder(resp.Body).Decode(&activities); err != nil {
		return nil, rateLimit, fmt.Errorf("decoding response: %w", err)
	}

	return activities, rateLimit, nil
}

// minPositive returns the minimum of two values, treating zero/unset as absent
func minPositive(a, b int) int {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

// parsePairHeader parses Strava's "15min,daily" comma pair headers
func parsePairHeader(value string) (int, int) {
	var first, second int
	parts := strings.Split(value, ",")
	if len(parts) >= 1 {
		first, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	}
	if len(parts) >= 2 {
		second, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return first, second
}

func parseRateLimitHeaders(headers http.Header, now time.Time) RateLimitInfo {
	var info RateLimitInfo

	// Strava returns two sets of rate limit headers: X-RateLimit-* (general)
	// and X-ReadRateLimit-* (read-specific, lower). Use the more restrictive
	// limit and the higher usage of the two.
	generalLimit15Min, generalLimitDaily := parsePairHeader(headers.Get("X-RateLimit-Limit"))
	generalUsage15Min, generalUsageDaily := parsePairHeader(headers.Get("X-RateLimit-Usage"))
	readLimit15Min, readLimitDaily := parsePairHeader(headers.Get("X-ReadRateLimit-Limit"))
	readUsage15Min, readUsageDaily := parsePairHeader(headers.Get("X-ReadRateLimit-Usage"))

	info.Limit15Min = minPositive(generalLimit15Min, readLimit15Min)
	info.LimitDaily = minPositive(generalLimitDaily, readLimitDaily)
	info.Usage15Min = max(generalUsage15Min, readUsage15Min)
	info.UsageDaily = max(generalUsageDaily, readUsageDaily)

	info.TimeUntil15MinReset = timeUntilNext15MinWindow(now)
	info.TimeUntilDailyReset = timeUntilMidnightUTC(now)

	info.RecommendedWait = 0
	if info.Limit15Min > 0 && info.Usage15Min >= info.Limit15Min {
		info.IsRateLimited = true
		info.RecommendedWait = info.TimeUntil15MinReset
	} else if info.LimitDaily > 0 && info.UsageDaily >= info.LimitDaily {
		info.IsRateLimited = true
		info.RecommendedWait = info.TimeUntilDailyReset
	} else if info.IsApproaching15MinLimit() {
		info.RecommendedWait = info.TimeUntil15MinReset
	} else if info.IsApproachingDailyLimit() {
		info.RecommendedWait = info.TimeUntilDailyReset
	}

	return info
}

// formatHeaders formats HTTP headers for logging, redacting sensitive values
func formatHeaders(headers http.Header) string {
	if len(headers) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}

		value := strings.Join(headers[k], ", ")
		lowerKey := strings.ToLower(k)
		if lowerKey == "authorization" || lowerKey == "cookie" || lowerKey == "set-cookie" {
			value = "[REDACTED]"
		}

		sb.WriteString(fmt.Sprintf("%s: %q", k, value))
	}
	sb.WriteString("}")
	return sb.String()
}
