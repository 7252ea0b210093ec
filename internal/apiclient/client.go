// Package apiclient talks to the first-party feedback server's REST API on
// behalf of the fb CLI.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/feedbackkit/fb/internal/credentials"
	"github.com/feedbackkit/fb/internal/debug"
)

const (
	// DefaultBaseURL is used when neither a flag nor stored config names a server.
	DefaultBaseURL = "http://localhost:3001"

	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second

	EnvAPIKey = "FB_API_KEY"

	// Stored config keys.
	KeyURL          = "api.url"
	KeyAPIKey       = "api.key"
	KeySessionToken = "session.token"

	userAgent = "fb-cli/1.0"
)

// Config controls how a Client resolves its server and credentials.
type Config struct {
	// BaseURL and Token are explicit values (flags); they win over everything.
	BaseURL string
	Token   string

	// Get reads stored settings, typically viper.GetString.
	Get func(key string) string
	// Lookup reads the environment; nil means os.LookupEnv.
	Lookup credentials.LookupFunc

	HTTPClient *http.Client
	Timeout    time.Duration
	// MaxRetries < 0 disables retries; 0 means DefaultMaxRetries.
	MaxRetries int
	BaseDelay  time.Duration
	Logger     logrus.FieldLogger
}

// Client is a thin typed wrapper over the feedback REST API.
type Client struct {
	baseURL string
	creds   credentials.Source
	http    *retryablehttp.Client
	log     logrus.FieldLogger
}

// New resolves the base URL and credential chain and builds the retrying
// HTTP client.
func New(cfg Config) (*Client, error) {
	lookup := cfg.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	base, err := credentials.Chain{
		credentials.Value(cfg.BaseURL),
		credentials.Stored(cfg.Get, KeyURL),
		credentials.Value(DefaultBaseURL),
	}.Resolve()
	if err != nil {
		return nil, err
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid API URL %q: %w", base, err)
	}

	log := debug.Or(cfg.Logger)
	c := &Client{
		baseURL: strings.TrimRight(base, "/"),
		creds:   Credentials(cfg.Token, lookup, cfg.Get),
		http:    newRetryClient(cfg, log),
		log:     log,
	}
	return c, nil
}

// Credentials builds the token chain: explicit bearer token, then the
// FB_API_KEY environment variable, then the stored API key, then the stored
// session token. API keys go out as X-API-Key, tokens as Bearer.
func Credentials(explicit string, lookup credentials.LookupFunc, get func(string) string) credentials.Source {
	return credentials.First(
		credentials.TokenSource(credentials.Bearer, credentials.Chain{credentials.Value(explicit)}),
		credentials.TokenSource(credentials.APIKey, credentials.Chain{
			credentials.EnvFrom(lookup, EnvAPIKey),
			credentials.Stored(get, KeyAPIKey),
		}),
		credentials.TokenSource(credentials.Bearer, credentials.Chain{
			credentials.Stored(get, KeySessionToken),
		}),
	)
}

func newRetryClient(cfg Config, log logrus.FieldLogger) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.Logger = leveledLogger{log}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if cfg.HTTPClient != nil {
		// Copy so the caller's client keeps its own timeout.
		hc := *cfg.HTTPClient
		rc.HTTPClient = &hc
	}
	rc.HTTPClient.Timeout = timeout

	switch {
	case cfg.MaxRetries < 0:
		rc.RetryMax = 0
	case cfg.MaxRetries == 0:
		rc.RetryMax = DefaultMaxRetries
	default:
		rc.RetryMax = cfg.MaxRetries
	}

	base := cfg.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	rc.RetryWaitMin = base
	rc.RetryWaitMax = base << uint(rc.RetryMax)
	rc.Backoff = func(waitMin, _ time.Duration, attempt int, _ *http.Response) time.Duration {
		return waitMin * time.Duration(1<<uint(attempt))
	}
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc
}

// checkRetry retries network failures and 5xx responses. 4xx is final.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return resp.StatusCode >= http.StatusInternalServerError, nil
}

// BaseURL returns the resolved server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do performs one logical call. in is JSON-encoded when non-nil; a 2xx body
// is decoded into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	cred, err := c.creds.Credential(ctx)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}
	cred.Apply(req.Header)

	c.log.WithFields(logrus.Fields{"method": method, "url": u, "auth": cred.Kind.String()}).Debug("api request")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return newAPIError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// leveledLogger routes retryablehttp's logging into logrus.
type leveledLogger struct {
	l logrus.FieldLogger
}

func (a leveledLogger) fields(kv []interface{}) logrus.FieldLogger {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return a.l.WithFields(f)
}

func (a leveledLogger) Error(msg string, kv ...interface{}) { a.fields(kv).Error(msg) }
func (a leveledLogger) Info(msg string, kv ...interface{})  { a.fields(kv).Debug(msg) }
func (a leveledLogger) Debug(msg string, kv ...interface{}) { a.fields(kv).Debug(msg) }
func (a leveledLogger) Warn(msg string, kv ...interface{})  { a.fields(kv).Warn(msg) }
