// Package jira relays feedback to Jira Cloud through the REST v3 API.
package jira

import (
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feedbackkit/fb/internal/credentials"
	"github.com/feedbackkit/fb/internal/debug"
	"github.com/feedbackkit/fb/internal/statusmap"
	"github.com/feedbackkit/fb/internal/transport"
	"github.com/feedbackkit/fb/internal/types"
	"github.com/feedbackkit/fb/internal/validation"
)

const (
	apiPath   = "/rest/api/3"
	userAgent = "fb-jira/1.0"

	// maxSummary is Jira's limit on the summary field.
	maxSummary = 255
)

// Environment fallbacks consulted when a Config field is empty.
const (
	EnvDomain     = "JIRA_DOMAIN"
	EnvEmail      = "JIRA_EMAIL"
	EnvAPIToken   = "JIRA_API_TOKEN"
	EnvProjectKey = "JIRA_PROJECT_KEY"
)

// Config holds connection and mapping settings.
type Config struct {
	// Domain is "acme", "acme.atlassian.net" or a full base URL.
	Domain     string
	Email      string
	APIToken   string
	ProjectKey string

	// IssueType overrides the category based issue type when set.
	IssueType   string
	StatusMap   *statusmap.Mapper
	PriorityMap map[types.Priority]string
	Labels      []string

	HTTPClient *http.Client
	BaseDelay  time.Duration
	Timeout    time.Duration
	// MaxRetries of zero uses the transport default; negative disables retries.
	MaxRetries int
	Logger     logrus.FieldLogger

	// Lookup replaces os.LookupEnv for the environment fallbacks.
	Lookup credentials.LookupFunc
}

// Client talks to one Jira site. It is safe for concurrent use.
type Client struct {
	baseURL    string
	projectKey string
	issueType  string
	statuses   *statusmap.Mapper
	priorities map[types.Priority]string
	labels     []string

	http *transport.Transport
	log  logrus.FieldLogger
}

// DefaultPriorities maps local priorities onto Jira's stock scheme.
var DefaultPriorities = map[types.Priority]string{
	types.PriorityLow:      "Low",
	types.PriorityMedium:   "Medium",
	types.PriorityHigh:     "High",
	types.PriorityCritical: "Highest",
}

// New resolves every credential field from cfg first and the environment
// second. Missing values fail here rather than at the first call.
func New(cfg Config) (*Client, error) {
	lookup := cfg.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	resolve := func(explicit, env string) (string, error) {
		return credentials.Chain{
			credentials.Value(explicit),
			credentials.EnvFrom(lookup, env),
		}.Resolve()
	}

	domain, err := resolve(cfg.Domain, EnvDomain)
	if err != nil {
		return nil, err
	}
	email, err := resolve(cfg.Email, EnvEmail)
	if err != nil {
		return nil, err
	}
	token, err := resolve(cfg.APIToken, EnvAPIToken)
	if err != nil {
		return nil, err
	}
	project, err := resolve(cfg.ProjectKey, EnvProjectKey)
	if err != nil {
		return nil, err
	}

	if err := validation.RequireAll(
		[2]string{"domain", domain},
		[2]string{"email", email},
		[2]string{"apiToken", token},
	); err != nil {
		return nil, err
	}

	base, err := BaseURL(domain)
	if err != nil {
		return nil, err
	}

	statuses := statusmap.Defaults()
	if cfg.StatusMap != nil {
		statuses = statuses.Merge(cfg.StatusMap)
	}
	priorities := make(map[types.Priority]string, len(DefaultPriorities))
	for k, v := range DefaultPriorities {
		priorities[k] = v
	}
	for k, v := range cfg.PriorityMap {
		priorities[k] = v
	}

	log := debug.Or(cfg.Logger).WithField("bridge", "jira")
	opts := []transport.Option{
		transport.WithHTTPClient(cfg.HTTPClient),
		transport.WithCredentials(credentials.Static(credentials.Basic(email, token))),
		transport.WithBaseDelay(cfg.BaseDelay),
		transport.WithTimeout(cfg.Timeout),
		transport.WithUserAgent(userAgent),
		transport.WithLogger(log),
	}
	if cfg.MaxRetries != 0 {
		opts = append(opts, transport.WithMaxRetries(cfg.MaxRetries))
	}

	return &Client{
		baseURL:    base,
		projectKey: project,
		issueType:  cfg.IssueType,
		statuses:   statuses,
		priorities: priorities,
		labels:     cfg.Labels,
		http:       transport.New(opts...),
		log:        log,
	}, nil
}

// BaseURL turns a configured domain into the site root.
func BaseURL(domain string) (string, error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), "/")
	if domain == "" {
		return "", validation.Required("domain")
	}
	if !strings.Contains(domain, "://") {
		if !strings.Contains(domain, ".") {
			domain += ".atlassian.net"
		}
		domain = "https://" + domain
	}
	u, err := url.Parse(domain)
	if err != nil || u.Host == "" {
		return "", validation.New("domain", "invalid Jira domain %q", domain)
	}
	return domain, nil
}

// URL returns the site root.
func (c *Client) URL() string { return c.baseURL }

// ProjectKey returns the project new issues are created in.
func (c *Client) ProjectKey() string { return c.projectKey }

// StatusMap returns the effective status table.
func (c *Client) StatusMap() *statusmap.Mapper { return c.statuses }

// BrowseURL returns the human-facing link for key.
func (c *Client) BrowseURL(key string) string {
	return c.baseURL + "/browse/" + key
}

func (c *Client) api(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + apiPath + "/" + strings.Join(escaped, "/")
}
