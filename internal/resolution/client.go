// Package resolution talks to the NPMRDS network-analysis service that turns
// a cell's descriptor chain into TMC codes and geometries.
package resolution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"tmcnotebook/internal/core"
	"tmcnotebook/pkg/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout = 30 * time.Second
	// DefaultRetryInterval is the pause before the single network retry.
	DefaultRetryInterval = 250 * time.Millisecond

	networkAnalysisPath = "/data-types/npmrds/network-analysis/"
	maxErrorBody        = 512
)

// Operation names, also used as metric labels.
const (
	OpTMCs                = "getTmcs"
	OpFeatures            = "getTmcFeatures"
	OpNetworkDescription  = "getTmcNetworkDescription"
	OpCrossYearSimilarity = "getTmcCrossYearSimilarity"
	OpCrossYearReference  = "getTmcCrossYearReference"
)

// Client is safe for concurrent use.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	retries       uint64
	retryInterval time.Duration
	metrics       *Metrics
	logger        core.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is left as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetryInterval sets the pause before retrying a network failure.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.retryInterval = d
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger used for failed calls.
func WithLogger(logger core.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient returns a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("resolution base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("resolution base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL:       strings.TrimRight(u.String(), "/"),
		httpClient:    &http.Client{Timeout: DefaultTimeout},
		retries:       1,
		retryInterval: DefaultRetryInterval,
		logger:        core.NoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized service root.
func (c *Client) BaseURL() string { return c.baseURL }

// TMCs resolves the chain in req to the ordered list of TMC codes.
func (c *Client) TMCs(ctx context.Context, req domain.ChainRequest) ([]string, error) {
	var tmcs []string
	if err := c.do(ctx, OpTMCs, http.MethodPost, nil, req, &tmcs); err != nil {
		return nil, err
	}
	if tmcs == nil {
		tmcs = []string{}
	}
	return tmcs, nil
}

// Features resolves the chain in req straight to a feature collection.
func (c *Client) Features(ctx context.Context, req domain.ChainRequest) (domain.FeatureCollection, error) {
	var fc domain.FeatureCollection
	if err := c.do(ctx, OpFeatures, http.MethodPost, nil, req, &fc); err != nil {
		return domain.FeatureCollection{}, err
	}
	return domain.NewFeatureCollection(fc.Features), nil
}

type featuresByTMCRequest struct {
	Year int      `json:"year"`
	TMCs []string `json:"tmcs"`
}

// FeaturesByTMC fetches the geometry of tmcs in year, keyed by TMC. Codes the
// service does not know are absent from the result.
func (c *Client) FeaturesByTMC(ctx context.Context, year int, tmcs []string) (map[string]domain.Feature, error) {
	if tmcs == nil {
		tmcs = []string{}
	}
	var out map[string]domain.Feature
	if err := c.do(ctx, OpFeatures, http.MethodPost, nil, featuresByTMCRequest{Year: year, TMCs: tmcs}, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]domain.Feature{}
	}
	return out, nil
}

// NetworkDescription returns the service's description of tmc in year. The
// payload shape is owned by the service and passed through untouched.
func (c *Client) NetworkDescription(ctx context.Context, tmc string, year int) (any, error) {
	var out any
	q := url.Values{"tmc": {tmc}, "year": {strconv.Itoa(year)}}
	if err := c.do(ctx, OpNetworkDescription, http.MethodGet, q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CrossYearSimilarity compares tmc between two years.
func (c *Client) CrossYearSimilarity(ctx context.Context, tmc string, yearA, yearB int) (any, error) {
	return c.crossYear(ctx, OpCrossYearSimilarity, tmc, yearA, yearB)
}

// CrossYearReference returns the reference mapping of tmc between two years.
func (c *Client) CrossYearReference(ctx context.Context, tmc string, yearA, yearB int) (any, error) {
	return c.crossYear(ctx, OpCrossYearReference, tmc, yearA, yearB)
}

func (c *Client) crossYear(ctx context.Context, op, tmc string, yearA, yearB int) (any, error) {
	var out any
	q := url.Values{"tmc": {tmc}, "year": {strconv.Itoa(yearA), strconv.Itoa(yearB)}}
	if err := c.do(ctx, op, http.MethodGet, q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CrossYearDescription bundles everything known about one TMC across two years.
type CrossYearDescription struct {
	NetworkDescriptionA any `json:"tmc_net_description_a"`
	NetworkDescriptionB any `json:"tmc_net_description_b"`
	Similarity          any `json:"tmc_cross_year_similarity"`
	Reference           any `json:"tmc_cross_year_reference"`
}

// CrossYearDescription issues the four description calls concurrently. The
// first failure cancels the rest.
func (c *Client) CrossYearDescription(ctx context.Context, tmc string, yearA, yearB int) (CrossYearDescription, error) {
	var out CrossYearDescription
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.NetworkDescriptionA, err = c.NetworkDescription(gctx, tmc, yearA)
		return err
	})
	g.Go(func() (err error) {
		out.NetworkDescriptionB, err = c.NetworkDescription(gctx, tmc, yearB)
		return err
	})
	g.Go(func() (err error) {
		out.Similarity, err = c.CrossYearSimilarity(gctx, tmc, yearA, yearB)
		return err
	})
	g.Go(func() (err error) {
		out.Reference, err = c.CrossYearReference(gctx, tmc, yearA, yearB)
		return err
	})
	if err := g.Wait(); err != nil {
		return CrossYearDescription{}, err
	}
	return out, nil
}

// do performs one logical call. Transport failures are retried once; any
// response from the service, including error statuses, is final.
func (c *Client) do(ctx context.Context, op, method string, query url.Values, in, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.observe(op, err == nil, time.Since(start))
		if err != nil {
			c.logger.Warn("resolution request failed", "operation", op, "error", err)
		}
	}()
	endpoint := c.baseURL + networkAnalysisPath + op
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var payload []byte
	if in != nil {
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("resolution %s: encode request: %w", op, err)
		}
	}
	attempt := 0
	call := func() error {
		attempt++
		if attempt > 1 {
			c.metrics.retried(op)
		}
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("resolution %s: %w", op, err))
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &domain.ResolutionServiceError{Op: op, Err: err}
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return backoff.Permanent(&domain.ResolutionServiceError{
				Op:         op,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%s", statusText(resp.StatusCode, msg)),
			})
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(&domain.ResolutionServiceError{
				Op:         op,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("decode response: %w", err),
			})
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryInterval), c.retries), ctx)
	err = backoff.Retry(call, policy)
	if err == nil {
		return nil
	}
	var svcErr *domain.ResolutionServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	// context expiry between attempts surfaces without the transport wrapper
	return &domain.ResolutionServiceError{Op: op, Err: err}
}

func statusText(code int, body []byte) string {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return http.StatusText(code)
	}
	return msg
}
