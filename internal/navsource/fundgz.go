package navsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/fund-share-service/internal/logging"
	"golang.org/x/time/rate"
)

const (
	DefaultFundGZBaseURL = "http://fundgz.1234567.com.cn"
	DefaultTimeout       = 10 * time.Second
	DefaultRateLimit     = 5 // requests per second
	userAgent            = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// clientConfig is shared by the provider clients
type clientConfig struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
}

// ClientOption configures a provider client
type ClientOption func(*clientConfig)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *clientConfig) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.httpClient.Timeout = timeout
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *clientConfig) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

func newClientConfig(baseURL string, opts []ClientOption) clientConfig {
	c := clientConfig{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     logging.NewSilent(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// get performs a rate-limited GET and returns the body of a 200 response
func (c *clientConfig) get(ctx context.Context, reqURL string, headers map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", reqURL).Dur("elapsed", elapsed).Msg("nav request failed")
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrSourceUnavailable, err)
	}
	return body, nil
}

// FundGZClient reads the published NAV from the fund estimate JSONP feed
type FundGZClient struct {
	clientConfig
}

// NewFundGZClient creates a client for the fund estimate feed
func NewFundGZClient(opts ...ClientOption) *FundGZClient {
	return &FundGZClient{clientConfig: newClientConfig(DefaultFundGZBaseURL, opts)}
}

// Name identifies the source
func (c *FundGZClient) Name() string { return "fundgz" }

// FetchNav returns the last published NAV (dwjz) and its date (jzrq). The
// intraday estimate in the same payload is ignored.
func (c *FundGZClient) FetchNav(ctx context.Context, code string) (Quote, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/js/%s.js", c.baseURL, code), nil)
	if err != nil {
		return Quote{}, err
	}

	payload, err := unwrapJSONP(body)
	if err != nil {
		return Quote{}, err
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Quote{}, fmt.Errorf("%w: decode: %v", ErrSourceUnavailable, err)
	}

	navStr, err := stringAt(doc, "$.dwjz")
	if err != nil {
		return Quote{}, err
	}
	dateStr, err := stringAt(doc, "$.jzrq")
	if err != nil {
		return Quote{}, err
	}

	nav, err := decimal.NewFromString(navStr)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: bad nav %q", ErrSourceUnavailable, navStr)
	}
	asOf, err := parseDate(dateStr)
	if err != nil {
		return Quote{}, err
	}

	return Quote{Code: code, Nav: nav, AsOf: asOf, Source: c.Name()}, nil
}

// unwrapJSONP strips a jsonpgz(...); style callback wrapper
func unwrapJSONP(body []byte) ([]byte, error) {
	s := strings.TrimSpace(string(body))
	open := strings.IndexByte(s, '(')
	end := strings.LastIndexByte(s, ')')
	if open < 0 || end <= open {
		return nil, fmt.Errorf("%w: not a jsonp payload", ErrSourceUnavailable)
	}
	inner := strings.TrimSpace(s[open+1 : end])
	if inner == "" {
		return nil, fmt.Errorf("%w: empty jsonp payload", ErrSourceUnavailable)
	}
	return []byte(inner), nil
}

// stringAt evaluates a JSONPath expression and returns a non-empty scalar as string
func stringAt(doc any, path string) (string, error) {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, path, err)
	}
	// jsonpath may wrap single answers in a list
	if list, ok := v.([]any); ok && len(list) > 0 {
		v = list[0]
	}

	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("%w: %s is empty", ErrSourceUnavailable, path)
		}
		return strings.TrimSpace(val), nil
	case float64:
		return decimal.NewFromFloat(val).String(), nil
	default:
		return "", fmt.Errorf("%w: %s has unexpected value %v", ErrSourceUnavailable, path, v)
	}
}
