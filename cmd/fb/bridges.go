package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/feedbackkit/fb/internal/bridge"
	"github.com/feedbackkit/fb/internal/config"
	"github.com/feedbackkit/fb/internal/credentials"
	"github.com/feedbackkit/fb/internal/jira"
	"github.com/feedbackkit/fb/internal/sheets"
	"github.com/feedbackkit/fb/internal/statusmap"
	"github.com/feedbackkit/fb/internal/types"
	"github.com/feedbackkit/fb/internal/validation"
)

// settings is the slice of the config package the bridge builders read.
type settings interface {
	GetString(key string) string
	GetBool(key string) bool
	GetStringSlice(key string) []string
	Flat(prefix string) map[string]string
}

type configSettings struct{}

func (configSettings) GetString(key string) string          { return config.GetString(key) }
func (configSettings) GetBool(key string) bool              { return config.GetBool(key) }
func (configSettings) GetStringSlice(key string) []string   { return config.GetStringSlice(key) }
func (configSettings) Flat(prefix string) map[string]string { return config.Flat(prefix) }

// bridgeDeps are the pieces shared by every bridge built in one process.
type bridgeDeps struct {
	Logger logrus.FieldLogger
	Lookup credentials.LookupFunc
}

// statusMapFor merges, in order, status_map.* (shared), a mapping file named
// by <prefix>.status_map_file and <prefix>.status_map.* overrides.
func statusMapFor(s settings, prefix string) (*statusmap.Mapper, error) {
	m := statusmap.FromKeyValues("", rootKeys(s.Flat("status_map")))
	if path := s.GetString(prefix + ".status_map_file"); path != "" {
		fm, err := statusmap.LoadFile(path)
		if err != nil {
			return nil, err
		}
		m = m.Merge(fm)
	}
	return m.Merge(statusmap.FromKeyValues(prefix, s.Flat(prefix))), nil
}

// rootKeys rewrites top-level keys "status_map.x" to ".status_map.x", the
// shape FromKeyValues expects for an empty prefix.
func rootKeys(flat map[string]string) map[string]string {
	out := make(map[string]string, len(flat))
	for k, v := range flat {
		out["."+k] = v
	}
	return out
}

// subKeys returns the entries below <prefix>. with the prefix removed.
func subKeys(s settings, prefix string) map[string]string {
	out := map[string]string{}
	for k, v := range s.Flat(prefix) {
		if rest := strings.TrimPrefix(k, prefix+"."); rest != k && rest != "" {
			out[rest] = v
		}
	}
	return out
}

// newJiraBridge builds a Jira client from jira.* settings. Missing values
// fall back to the JIRA_* environment inside jira.New.
func newJiraBridge(s settings, deps bridgeDeps) (*jira.Client, error) {
	statuses, err := statusMapFor(s, "jira")
	if err != nil {
		return nil, err
	}
	priorities := map[types.Priority]string{}
	for k, v := range subKeys(s, "jira.priority_map") {
		p := types.Priority(k)
		if !p.IsValid() {
			return nil, validation.New("jira.priority_map", "unknown priority %q", k)
		}
		priorities[p] = v
	}
	return jira.New(jira.Config{
		Domain:      s.GetString("jira.domain"),
		Email:       s.GetString("jira.email"),
		APIToken:    s.GetString("jira.api_token"),
		ProjectKey:  s.GetString("jira.project_key"),
		IssueType:   s.GetString("jira.issue_type"),
		Labels:      s.GetStringSlice("jira.labels"),
		StatusMap:   statuses,
		PriorityMap: priorities,
		Logger:      deps.Logger,
		Lookup:      deps.Lookup,
	})
}

// newSheetsBridge builds a Sheets client from sheets.* settings. OAuth mode
// keeps tokens in Redis when sheets.redis_url is set and in memory otherwise.
func newSheetsBridge(s settings, deps bridgeDeps) (*sheets.Client, error) {
	statuses, err := statusMapFor(s, "sheets")
	if err != nil {
		return nil, err
	}
	cfg := sheets.Config{
		SpreadsheetID:   s.GetString("sheets.spreadsheet_id"),
		SheetName:       s.GetString("sheets.sheet_name"),
		OAuth:           s.GetBool("sheets.oauth"),
		ColumnOverrides: subKeys(s, "sheets.columns"),
		StatusMap:       statuses,
		Logger:          deps.Logger,
		Lookup:          deps.Lookup,
	}

	if cfg.OAuth {
		cfg.OAuthClient = sheets.OAuthClient{
			ClientID:     s.GetString("sheets.client_id"),
			ClientSecret: s.GetString("sheets.client_secret"),
		}
		store, err := tokenStoreFor(s)
		if err != nil {
			return nil, err
		}
		cfg.TokenStore = store
	} else {
		key := &sheets.ServiceAccountKey{
			ClientEmail: s.GetString("sheets.client_email"),
			PrivateKey:  s.GetString("sheets.private_key"),
		}
		if path := s.GetString("sheets.service_account_file"); path != "" {
			key, err = sheets.LoadServiceAccountKey(path)
			if err != nil {
				return nil, err
			}
		}
		cfg.ServiceAccount = key
	}
	return sheets.New(cfg)
}

func tokenStoreFor(s settings) (sheets.TokenStore, error) {
	refresh := s.GetString("sheets.refresh_token")
	if url := s.GetString("sheets.redis_url"); url != "" {
		store, err := sheets.NewRedisTokenStore(url, sheets.WithKey(s.GetString("sheets.redis_key")))
		if err != nil {
			return nil, err
		}
		if refresh == "" {
			return store, nil
		}
		return seeded(store, refresh), nil
	}
	if refresh == "" {
		return nil, validation.Required("sheets.refresh_token")
	}
	return sheets.NewMemoryTokenStore(credentials.NewOAuthToken("", refresh, 0)), nil
}

// seeded serves refresh as an expired token until store holds one, so the
// first request triggers a refresh that persists into store.
func seeded(store sheets.TokenStore, refresh string) sheets.TokenStore {
	return sheets.FuncTokenStore{
		Get: func(ctx context.Context) (*oauth2.Token, error) {
			tok, err := store.Load(ctx)
			if err != nil || tok != nil {
				return tok, err
			}
			return credentials.NewOAuthToken("", refresh, 0), nil
		},
		Set: store.Save,
	}
}

// buildRegistry registers every bridge whose settings are complete. A bridge
// that fails validation is skipped with a warning; any other error aborts.
func buildRegistry(s settings, deps bridgeDeps) (*bridge.Registry, []string, error) {
	reg := bridge.NewRegistry()
	var skipped []string

	builders := []struct {
		name  string
		build func() (bridge.Bridge, error)
	}{
		{"jira", func() (bridge.Bridge, error) { return newJiraBridge(s, deps) }},
		{"sheets", func() (bridge.Bridge, error) { return newSheetsBridge(s, deps) }},
	}
	for _, b := range builders {
		br, err := b.build()
		if validation.Is(err) {
			skipped = append(skipped, fmt.Sprintf("%s: %v", b.name, err))
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("configure %s: %w", b.name, err)
		}
		reg.Register(br)
	}
	return reg, skipped, nil
}
