// Package credentials models outbound authentication and the ordered
// resolver chains used to find a credential value.
//
// A chain is evaluated front to back and stops at the first resolver that
// yields a non-empty value, so "explicit flag, then environment, then stored
// config" is written as Chain{Value(flag), Env(key), Stored(get, key)}.
package credentials

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Kind identifies the credential strategy.
type Kind int

const (
	KindNone Kind = iota
	KindBearer
	KindAPIKey
	KindBasic
	KindOAuth
)

func (k Kind) String() string {
	switch k {
	case KindBearer:
		return "bearer"
	case KindAPIKey:
		return "api-key"
	case KindBasic:
		return "basic"
	case KindOAuth:
		return "oauth"
	}
	return "none"
}

// APIKeyHeader is the header used for static API keys.
const APIKeyHeader = "X-API-Key"

// Credential is exactly one authentication strategy.
type Credential struct {
	Kind     Kind
	Token    string
	Username string
	Secret   string
	OAuth    *oauth2.Token
}

// Bearer returns a static bearer credential.
func Bearer(token string) Credential {
	return Credential{Kind: KindBearer, Token: token}
}

// APIKey returns a static API key credential.
func APIKey(key string) Credential {
	return Credential{Kind: KindAPIKey, Token: key}
}

// Basic returns an HTTP Basic credential built from user and secret.
func Basic(user, secret string) Credential {
	return Credential{Kind: KindBasic, Username: user, Secret: secret}
}

// OAuth returns a credential backed by an access/refresh token pair.
func OAuth(tok *oauth2.Token) Credential {
	return Credential{Kind: KindOAuth, OAuth: tok}
}

// IsZero reports whether no strategy is set.
func (c Credential) IsZero() bool {
	return c.Kind == KindNone
}

// BasicValue returns base64(user:secret).
func (c Credential) BasicValue() string {
	return base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Secret))
}

// Apply sets the authentication header for c on h. A zero credential leaves
// h untouched.
func (c Credential) Apply(h http.Header) {
	switch c.Kind {
	case KindBearer:
		if c.Token != "" {
			h.Set("Authorization", "Bearer "+c.Token)
		}
	case KindAPIKey:
		if c.Token != "" {
			h.Set(APIKeyHeader, c.Token)
		}
	case KindBasic:
		h.Set("Authorization", "Basic "+c.BasicValue())
	case KindOAuth:
		if c.OAuth != nil && c.OAuth.AccessToken != "" {
			h.Set("Authorization", "Bearer "+c.OAuth.AccessToken)
		}
	}
}

// Expired reports whether an OAuth credential needs a refresh. Other kinds
// never expire.
func (c Credential) Expired() bool {
	if c.Kind != KindOAuth {
		return false
	}
	return c.OAuth == nil || !c.OAuth.Valid()
}

// Source yields the credential to use for a request.
type Source interface {
	Credential(ctx context.Context) (Credential, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Credential, error)

// Credential implements Source.
func (f SourceFunc) Credential(ctx context.Context) (Credential, error) {
	return f(ctx)
}

// Static returns a Source that always yields c.
func Static(c Credential) Source {
	return SourceFunc(func(context.Context) (Credential, error) { return c, nil })
}

// Resolver yields a single string value, or "" when it has nothing.
type Resolver func() (string, error)

// Chain is an ordered list of resolvers.
type Chain []Resolver

// Resolve returns the first non-empty value. An error from any resolver stops
// the chain.
func (c Chain) Resolve() (string, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		v, err := r()
		if err != nil {
			return "", err
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
	}
	return "", nil
}

// Value resolves to a fixed string.
func Value(v string) Resolver {
	return func() (string, error) { return v, nil }
}

// LookupFunc is the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// EnvFrom resolves key through lookup, so tests can pass a map-backed lookup
// instead of touching the process environment.
func EnvFrom(lookup LookupFunc, key string) Resolver {
	return func() (string, error) {
		if lookup == nil {
			return "", nil
		}
		v, _ := lookup(key)
		return v, nil
	}
}

// Env resolves key from the process environment.
func Env(key string) Resolver {
	return EnvFrom(os.LookupEnv, key)
}

// MapLookup returns a LookupFunc over m.
func MapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// Stored resolves key through a config getter such as viper.GetString.
func Stored(get func(key string) string, key string) Resolver {
	return func() (string, error) {
		if get == nil {
			return "", nil
		}
		return get(key), nil
	}
}

// TokenSource resolves a token through a chain and presents it as a
// credential built by wrap (Bearer or APIKey). An empty chain yields a zero
// credential so the caller omits the header.
func TokenSource(wrap func(string) Credential, chain Chain) Source {
	return SourceFunc(func(context.Context) (Credential, error) {
		v, err := chain.Resolve()
		if err != nil || v == "" {
			return Credential{}, err
		}
		return wrap(v), nil
	})
}

// First returns a Source that yields the first non-zero credential of srcs.
func First(srcs ...Source) Source {
	return SourceFunc(func(ctx context.Context) (Credential, error) {
		for _, s := range srcs {
			if s == nil {
				continue
			}
			c, err := s.Credential(ctx)
			if err != nil {
				return Credential{}, err
			}
			if !c.IsZero() {
				return c, nil
			}
		}
		return Credential{}, nil
	})
}

// NewOAuthToken builds an oauth2.Token expiring expiresIn from now.
func NewOAuthToken(access, refresh string, expiresIn time.Duration) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(expiresIn),
	}
}
