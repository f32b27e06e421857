// HTTP implementation of the platform interface against the Reddit OAuth API.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/queuebot/queuebot/platform"
	"github.com/queuebot/queuebot/util"
)

const (
	DefaultHost     = "https://oauth.reddit.com"
	DefaultAuthHost = "https://www.reddit.com"
	// OAuth clients get 100 requests per minute
	DefaultRateLimit = 1.5
)

// refresh the access token this long before it expires
const tokenSlack = time.Minute

type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

type Client struct {
	// Client is an HTTP client to use. If not set, defaults to util.RobustHTTPClient().
	Client    *http.Client
	Host      string
	AuthHost  string
	UserAgent string
	Creds     Credentials
	Limiter   *rate.Limiter
	Logger    *slog.Logger

	mu        sync.Mutex
	token     string
	expiry    time.Time
	ratelimit *platform.RatelimitInfo
}

var _ platform.Platform = (*Client)(nil)

// ratePerSec <= 0 uses DefaultRateLimit
func NewClient(creds Credentials, ratePerSec float64, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if ratePerSec <= 0 {
		ratePerSec = DefaultRateLimit
	}
	httpClient := util.RobustHTTPClient(logger)
	httpClient.Transport = otelhttp.NewTransport(httpClient.Transport)
	return &Client{
		Client:    httpClient,
		Host:      DefaultHost,
		AuthHost:  DefaultAuthHost,
		UserAgent: fmt.Sprintf("modbot/%s (by /u/%s)", versioninfo.Short(), creds.Username),
		Creds:     creds,
		Limiter:   rate.NewLimiter(rate.Limit(ratePerSec), 5),
		Logger:    logger.With("component", "reddit", "account", creds.Username),
	}
}

func (c *Client) getClient() *http.Client {
	if c.Client == nil {
		return util.RobustHTTPClient(c.Logger)
	}
	return c.Client
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// Returns a cached access token, or fetches a new one with the password grant
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.expiry) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type": {"password"},
		"username":   {c.Creds.Username},
		"password":   {c.Creds.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.AuthHost+"/api/v1/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.Creds.ClientID, c.Creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.getClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errorFromHTTPResponse(resp, "token")
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	// bad credentials come back as a 200 with an error field
	if tr.Error != "" || tr.AccessToken == "" {
		return "", &platform.Error{StatusCode: http.StatusUnauthorized, Wrapped: fmt.Errorf("token grant failed: %s", tr.Error)}
	}
	c.token = tr.AccessToken
	c.expiry = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenSlack)
	c.Logger.Debug("fetched access token", "expires", c.expiry)
	return c.token, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

// Waits out an exhausted ratelimit window, as last reported by the server
func (c *Client) waitRatelimit(ctx context.Context) error {
	c.mu.Lock()
	rl := c.ratelimit
	c.mu.Unlock()
	if rl == nil || rl.Remaining >= 1 {
		return nil
	}
	wait := time.Until(rl.Reset)
	if wait <= 0 {
		return nil
	}
	c.Logger.Info("ratelimit exhausted, waiting", "reset", rl.Reset)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("raw_json", "1")
	return c.do(ctx, http.MethodGet, path, params, out)
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	return c.do(ctx, http.MethodPost, path, form, out)
}

// Sends an authenticated request. GET params go in the query string, POST params in a form body. A 401 refreshes the token and retries once.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, out any) error {
	for attempt := 0; ; attempt++ {
		err := c.doOnce(ctx, method, path, params, out)
		var perr *platform.Error
		if attempt == 0 && errors.As(err, &perr) && perr.StatusCode == http.StatusUnauthorized {
			c.Logger.Info("access token rejected, refreshing")
			c.dropToken()
			continue
		}
		return err
	}
}

func (c *Client) doOnce(ctx context.Context, method, path string, params url.Values, out any) error {
	if err := c.waitRatelimit(ctx); err != nil {
		return err
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	uri := c.Host + path
	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			uri += "?" + params.Encode()
		}
	} else if params != nil {
		body = strings.NewReader(params.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.getClient().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if rl := ratelimitFromHeaders(resp.Header); rl != nil {
		c.mu.Lock()
		c.ratelimit = rl
		c.mu.Unlock()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromHTTPResponse(resp, method+" "+path)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func ratelimitFromHeaders(h http.Header) *platform.RatelimitInfo {
	remaining := h.Get("x-ratelimit-remaining")
	if remaining == "" {
		return nil
	}
	rl := &platform.RatelimitInfo{}
	if f, err := strconv.ParseFloat(remaining, 64); err == nil {
		rl.Remaining = f
	}
	if n, err := strconv.Atoi(h.Get("x-ratelimit-used")); err == nil {
		rl.Used = n
	}
	if f, err := strconv.ParseFloat(h.Get("x-ratelimit-reset"), 64); err == nil {
		rl.Reset = time.Now().Add(time.Duration(f * float64(time.Second)))
	}
	return rl
}

func errorFromHTTPResponse(resp *http.Response, what string) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &platform.Error{
		StatusCode: resp.StatusCode,
		Wrapped:    fmt.Errorf("%s: %s", what, strings.TrimSpace(string(msg))),
		Ratelimit:  ratelimitFromHeaders(resp.Header),
	}
}
