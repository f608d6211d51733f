package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leozw/uptime-sync/internal/core"
	"github.com/leozw/uptime-sync/internal/db"
)

const DefaultTimeout = 30 * time.Second

type Options struct {
	// RateLimit caps outbound requests per second across all sources; 0 disables it.
	RateLimit float64
	Burst     int
	UserAgent string
	Transport http.RoundTripper
}

// Client talks to the status-page API of a remote source.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	logger     *zap.Logger
}

func NewClient(opts Options, logger *zap.Logger) *Client {
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		limiter:   limiter,
		userAgent: opts.UserAgent,
		logger:    logger,
	}
}

func MonitorsURL(src *db.Source) string {
	return fmt.Sprintf("%s/api/status-page/%s", baseURL(src.URL), url.PathEscape(src.Slug))
}

func HeartbeatsURL(src *db.Source) string {
	return fmt.Sprintf("%s/api/status-page/heartbeat/%s", baseURL(src.URL), url.PathEscape(src.Slug))
}

func baseURL(u string) string {
	return strings.TrimRight(u, "/")
}

// FetchMonitors loads the status page. An unpublished page yields an empty
// payload rather than an error.
func (c *Client) FetchMonitors(ctx context.Context, src *db.Source, timeout time.Duration) (*StatusPagePayload, error) {
	var payload StatusPagePayload
	if err := c.getJSON(ctx, MonitorsURL(src), src.Slug, timeout, &payload); err != nil {
		return nil, err
	}

	if !payload.Config.Published {
		c.logger.Warn("Status page is not published, treating as empty",
			zap.String("source_id", src.ID),
			zap.String("slug", src.Slug),
		)
		payload.PublicGroupList = nil
		payload.HeartbeatList = nil
	}
	return &payload, nil
}

func (c *Client) FetchHeartbeats(ctx context.Context, src *db.Source, timeout time.Duration) (*HeartbeatPayload, error) {
	var payload HeartbeatPayload
	if err := c.getJSON(ctx, HeartbeatsURL(src), src.Slug, timeout, &payload); err != nil {
		return nil, err
	}
	if payload.HeartbeatList == nil {
		payload.HeartbeatList = map[string][]RawHeartbeat{}
	}
	return &payload, nil
}

func (c *Client) getJSON(ctx context.Context, target, slug string, timeout time.Duration, dest any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("GET %s after %s: %w", target, timeout, core.ErrTimeout)
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Remote request completed",
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &core.RemoteError{Slug: slug, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("GET %s after %s: %w", target, timeout, core.ErrTimeout)
		}
		return &core.RemoteError{Slug: slug, StatusCode: resp.StatusCode, Status: "malformed payload: " + err.Error()}
	}
	return nil
}
