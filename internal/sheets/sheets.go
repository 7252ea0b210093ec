// Package sheets relays feedback to a Google Sheets spreadsheet, one row per
// submission.
//
// Two authentication strategies are supported. A service account signs a
// short-lived JWT assertion and exchanges it for an access token. The OAuth
// strategy loads a stored access/refresh pair from a TokenStore and refreshes
// it when expired. Either way at most one token exchange is in flight per
// client.
package sheets

import (
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feedbackkit/fb/internal/credentials"
	"github.com/feedbackkit/fb/internal/debug"
	"github.com/feedbackkit/fb/internal/statusmap"
	"github.com/feedbackkit/fb/internal/transport"
	"github.com/feedbackkit/fb/internal/validation"
)

const (
	DefaultAPIBase   = "https://sheets.googleapis.com/v4"
	DefaultTokenURL  = "https://oauth2.googleapis.com/token"
	DefaultSheetName = "Feedback"

	// Scope grants read/write access to spreadsheets.
	Scope = "https://www.googleapis.com/auth/spreadsheets"

	userAgent = "fb-sheets/1.0"
)

// Environment fallbacks consulted when a Config field is empty.
const (
	EnvSpreadsheetID       = "GOOGLE_SHEETS_SPREADSHEET_ID"
	EnvServiceAccountEmail = "GOOGLE_SERVICE_ACCOUNT_EMAIL"
	EnvPrivateKey          = "GOOGLE_PRIVATE_KEY"
)

// Config holds spreadsheet, authentication and layout settings.
type Config struct {
	SpreadsheetID string
	SheetName     string

	// OAuth selects the stored-token strategy; otherwise ServiceAccount is used.
	OAuth          bool
	ServiceAccount *ServiceAccountKey
	OAuthClient    OAuthClient
	TokenStore     TokenStore

	// Columns replaces DefaultColumns; ColumnOverrides renames headers or adds
	// extra columns keyed by submission field or metadata key.
	Columns         []Column
	ColumnOverrides map[string]string
	StatusMap       *statusmap.Mapper

	APIBase    string
	TokenURL   string
	HTTPClient *http.Client
	BaseDelay  time.Duration
	Timeout    time.Duration
	MaxRetries int
	Logger     logrus.FieldLogger

	Lookup credentials.LookupFunc
	// Now is used for token lifetimes and default timestamps.
	Now func() time.Time
}

// Client writes rows to one sheet. It is safe for concurrent use.
type Client struct {
	spreadsheetID string
	sheet         string
	apiBase       string
	columns       []Column
	statuses      *statusmap.Mapper

	http *transport.Transport
	log  logrus.FieldLogger
	now  func() time.Time

	headersOK atomic.Bool
}

// New validates cfg and builds the token source it selects.
func New(cfg Config) (*Client, error) {
	lookup := cfg.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	id, err := credentials.Chain{
		credentials.Value(cfg.SpreadsheetID),
		credentials.EnvFrom(lookup, EnvSpreadsheetID),
	}.Resolve()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, validation.Required("spreadsheetId")
	}

	sheet := cfg.SheetName
	if sheet == "" {
		sheet = DefaultSheetName
	}
	apiBase := strings.TrimSuffix(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	log := debug.Or(cfg.Logger).WithField("bridge", "sheets")
	opts := []transport.Option{
		transport.WithHTTPClient(cfg.HTTPClient),
		transport.WithBaseDelay(cfg.BaseDelay),
		transport.WithTimeout(cfg.Timeout),
		transport.WithUserAgent(userAgent),
		transport.WithLogger(log),
	}
	if cfg.MaxRetries != 0 {
		opts = append(opts, transport.WithMaxRetries(cfg.MaxRetries))
	}
	// Token exchanges run under the same retry policy, without a bearer.
	tokenHTTP := transport.New(opts...)

	var tokens credentials.Source
	if cfg.OAuth {
		if cfg.TokenStore == nil {
			return nil, validation.Required("tokenStore")
		}
		if err := validation.RequireAll(
			[2]string{"oauthClient.clientId", cfg.OAuthClient.ClientID},
			[2]string{"oauthClient.clientSecret", cfg.OAuthClient.ClientSecret},
		); err != nil {
			return nil, err
		}
		tokens = newOAuthSource(cfg.OAuthClient, cfg.TokenStore, tokenURL, tokenHTTP, log, now)
	} else {
		key, err := resolveServiceAccount(cfg.ServiceAccount, lookup)
		if err != nil {
			return nil, err
		}
		src, err := newServiceAccountSource(key, tokenURL, tokenHTTP, log, now)
		if err != nil {
			return nil, err
		}
		tokens = src
	}

	columns := cfg.Columns
	if len(columns) == 0 {
		columns = DefaultColumns()
	}

	return &Client{
		spreadsheetID: id,
		sheet:         sheet,
		apiBase:       apiBase,
		columns:       MergeColumns(columns, cfg.ColumnOverrides),
		statuses:      cfg.StatusMap,
		http:          transport.New(append(opts, transport.WithCredentials(tokens))...),
		log:           log,
		now:           now,
	}, nil
}

// Name implements bridge.Bridge.
func (c *Client) Name() string { return "sheets" }

// Columns returns the effective layout.
func (c *Client) Columns() []Column {
	out := make([]Column, len(c.columns))
	copy(out, c.columns)
	return out
}

// SheetURL is the browser link to the spreadsheet.
func (c *Client) SheetURL() string {
	return "https://docs.google.com/spreadsheets/d/" + c.spreadsheetID + "/edit"
}

func (c *Client) valuesURL(rng, suffix string, query url.Values) string {
	u := c.apiBase + "/spreadsheets/" + url.PathEscape(c.spreadsheetID) + "/values/" + url.PathEscape(rng) + suffix
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) batchUpdateURL() string {
	return c.apiBase + "/spreadsheets/" + url.PathEscape(c.spreadsheetID) + "/values:batchUpdate"
}

// a1 qualifies ref with the sheet name, quoting it when needed.
func (c *Client) a1(ref string) string {
	return quoteSheet(c.sheet) + "!" + ref
}

func quoteSheet(name string) string {
	for _, r := range name {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return "'" + strings.ReplaceAll(name, "'", "''") + "'"
		}
	}
	return name
}

// ColumnLetter converts a zero-based index to A1 notation (0 -> A, 26 -> AA).
func ColumnLetter(i int) string {
	var b []byte
	for i++; i > 0; i = (i - 1) / 26 {
		b = append([]byte{byte('A' + (i-1)%26)}, b...)
	}
	return string(b)
}
