// Package transport is the shared outbound HTTP executor: it injects
// authentication, applies a timeout to every attempt, retries transient
// failures with exponential backoff and surfaces typed errors.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/feedbackkit/fb/internal/credentials"
	"github.com/feedbackkit/fb/internal/debug"
	"github.com/feedbackkit/fb/internal/telemetry"
	"github.com/feedbackkit/fb/internal/validation"
)

const (
	// DefaultTimeout applies to each attempt, not to the whole call.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the unit of the 2^attempt backoff.
	DefaultBaseDelay = time.Second

	defaultUserAgent = "fb-bridge/1.0"
)

// NoRetry disables retries for a single call when used as RequestOptions.MaxRetries.
const NoRetry = -1

// RequestOptions configures one Execute call.
type RequestOptions struct {
	Headers http.Header
	Body    []byte
	// Timeout per attempt; zero uses the transport default.
	Timeout time.Duration
	// MaxRetries after the first attempt; zero uses the transport default,
	// NoRetry disables retries.
	MaxRetries int
	// Credential overrides the transport's credential source for this call.
	Credential *credentials.Credential
}

// Response is a successful (status < 400) reply with the body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the body into v. An empty body leaves v untouched.
func (r *Response) JSON(v interface{}) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// Transport executes requests. It holds no per-call state, so one instance
// is safe for concurrent use.
type Transport struct {
	client     *http.Client
	creds      credentials.Source
	baseDelay  time.Duration
	timeout    time.Duration
	maxRetries int
	userAgent  string
	log        logrus.FieldLogger
	metrics    *telemetry.HTTPInstruments
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient replaces the underlying client. Its Timeout should be zero;
// per-attempt deadlines come from the request context.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithCredentials sets the source consulted for every call.
func WithCredentials(src credentials.Source) Option {
	return func(t *Transport) { t.creds = src }
}

// WithBaseDelay sets the backoff unit.
func WithBaseDelay(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.baseDelay = d
		}
	}
}

// WithTimeout sets the default per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithMaxRetries sets the default retry count. Negative disables retries.
func WithMaxRetries(n int) Option {
	return func(t *Transport) {
		if n < 0 {
			n = 0
		}
		t.maxRetries = n
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(t *Transport) {
		if ua != "" {
			t.userAgent = ua
		}
	}
}

// WithLogger sets the logger used for attempt and retry messages.
func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Transport) { t.log = debug.Or(l) }
}

// New creates a Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		client:     &http.Client{},
		baseDelay:  DefaultBaseDelay,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		userAgent:  defaultUserAgent,
		log:        debug.Log,
		metrics:    telemetry.NewHTTPInstruments(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// newBackOff returns a fresh policy waiting base*2^i before retry i.
func (t *Transport) newBackOff(maxRetries int) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.baseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = t.baseDelay << 20
	bo.MaxElapsedTime = 0
	return backoff.WithMaxRetries(bo, uint64(maxRetries))
}

// Execute performs method on rawURL. Statuses >= 500 and network failures or
// timeouts are retried; statuses in [400,500) return immediately. When retries
// run out the last error is returned as-is.
func (t *Transport) Execute(ctx context.Context, method, rawURL string, opts RequestOptions) (*Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = t.timeout
	}
	maxRetries := opts.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = t.maxRetries
	case maxRetries < 0:
		maxRetries = 0
	}

	if err := checkURL(rawURL); err != nil {
		return nil, err
	}
	header, err := t.buildHeader(ctx, opts)
	if err != nil {
		return nil, err
	}

	host := hostOf(rawURL)
	log := t.log.WithFields(logrus.Fields{"method": method, "host": host})

	ctx, span, start := t.metrics.Start(ctx, method, host)
	attempt := 0
	op := func() (*Response, error) {
		t.metrics.Attempt(ctx, host, attempt > 0)
		log.WithField("attempt", attempt+1).Debug("sending request")
		attempt++
		resp, err := t.attempt(ctx, method, rawURL, header, opts.Body, timeout)
		if err != nil && !IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}
	notify := func(err error, wait time.Duration) {
		log.WithFields(logrus.Fields{"attempt": attempt, "wait": wait}).Warnf("transient failure, retrying: %v", err)
	}

	resp, err := backoff.RetryNotifyWithData(op, backoff.WithContext(t.newBackOff(maxRetries), ctx), notify)

	status := StatusCode(err)
	if resp != nil {
		status = resp.StatusCode
	}
	t.metrics.Done(ctx, span, start, host, status, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DoJSON marshals in (when non-nil) as the request body and decodes a
// successful response into out (when non-nil).
func (t *Transport) DoJSON(ctx context.Context, method, rawURL string, in, out interface{}, opts RequestOptions) error {
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		opts.Body = data
	}
	if opts.Headers == nil {
		opts.Headers = http.Header{}
	}
	if opts.Body != nil && opts.Headers.Get("Content-Type") == "" {
		opts.Headers.Set("Content-Type", "application/json")
	}
	resp, err := t.Execute(ctx, method, rawURL, opts)
	if err != nil {
		return err
	}
	if out != nil {
		return resp.JSON(out)
	}
	return nil
}

func (t *Transport) buildHeader(ctx context.Context, opts RequestOptions) (http.Header, error) {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("User-Agent", t.userAgent)
	if opts.Body != nil {
		h.Set("Content-Type", "application/json")
	}

	cred := credentials.Credential{}
	if opts.Credential != nil {
		cred = *opts.Credential
	} else if t.creds != nil {
		c, err := t.creds.Credential(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve credentials: %w", err)
		}
		cred = c
	}
	cred.Apply(h)

	for k, vs := range opts.Headers {
		h.Del(k)
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h, nil
}

// attempt runs one request under its own deadline.
func (t *Transport) attempt(ctx context.Context, method, rawURL string, header http.Header, body []byte, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, validation.New("url", "create request: %v", err)
	}
	req.Header = header.Clone()

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, t.classify(ctx, attemptCtx, method, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, t.classify(ctx, attemptCtx, method, rawURL, err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{Method: method, URL: rawURL, StatusCode: resp.StatusCode, Body: respBody}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

func (t *Transport) classify(parent, attemptCtx context.Context, method, rawURL string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
	return &NetworkError{Method: method, URL: rawURL, Err: err, timeout: timedOut}
}

// checkURL rejects URLs no attempt could reach, so a configuration typo
// fails once instead of waiting through the retry schedule.
func checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return validation.New("url", "%v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return validation.New("url", "unsupported scheme %q in %s", u.Scheme, rawURL)
	}
	if u.Host == "" {
		return validation.New("url", "missing host in %s", rawURL)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
