package passwords

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"brokercrm-backend/internal/shared/resilience"
)

const (
	defaultBaseURL  = "https://api.pwnedpasswords.com"
	defaultCacheTTL = time.Hour
	userAgent       = "brokercrm-backend"
)

var ErrUpstream = errors.New("breach lookup failed")

// RangeConfig configures RangeClient.
type RangeConfig struct {
	BaseURL           string
	HTTPClient        *http.Client
	Executor          *resilience.Executor
	CacheTTL          time.Duration
	RequestsPerSecond float64
}

// RangeClient queries the k-anonymity range API. Responses are cached per
// prefix and outbound calls are paced.
type RangeClient struct {
	baseURL string
	http    *http.Client
	exec    *resilience.Executor
	cache   *gocache.Cache
	limiter *rate.Limiter
}

func NewRangeClient(cfg RangeConfig) *RangeClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Executor == nil {
		cfg.Executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	return &RangeClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		exec:    cfg.Executor,
		cache:   gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
	}
}

type statusError struct {
	status int
}

func (e *statusError) Error() string { return fmt.Sprintf("range api status %d", e.status) }

// Range returns suffix → count for a five character SHA-1 prefix.
// Padding rows with a zero count are dropped.
func (c *RangeClient) Range(ctx context.Context, prefix string) (map[string]int, error) {
	prefix = strings.ToUpper(prefix)
	if cached, ok := c.cache.Get(prefix); ok {
		return cached.(map[string]int), nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var suffixes map[string]int
	err := c.exec.Do(ctx, "passwords.range", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/range/"+prefix, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Add-Padding", "true")
		req.Header.Set("User-Agent", userAgent)
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			return &statusError{status: resp.StatusCode}
		}
		suffixes, err = parseRange(resp.Body)
		return err
	}, classify)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	c.cache.SetDefault(prefix, suffixes)
	return suffixes, nil
}

func parseRange(r io.Reader) (map[string]int, error) {
	out := make(map[string]int)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		suffix, rawCount, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if !ok {
			continue
		}
		count, err := strconv.Atoi(strings.TrimSpace(rawCount))
		if err != nil || count <= 0 {
			continue
		}
		out[strings.ToUpper(suffix)] = count
	}
	return out, sc.Err()
}

func classify(err error) resilience.Outcome {
	var se *statusError
	if errors.As(err, &se) {
		if se.status == http.StatusTooManyRequests || se.status >= 500 {
			return resilience.Outcome{Retryable: true, RecordFailure: true}
		}
		return resilience.Outcome{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.Outcome{}
	}
	return resilience.Outcome{Retryable: true, RecordFailure: true}
}
