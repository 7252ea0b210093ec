package sheets

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/feedbackkit/fb/internal/credentials"
	"github.com/feedbackkit/fb/internal/transport"
	"github.com/feedbackkit/fb/internal/validation"
)

const (
	assertionLifetime = time.Hour
	// expiryMargin is how long before expiry a cached token is discarded.
	expiryMargin = 60 * time.Second

	// flightTimeout bounds a shared token exchange, which outlives the
	// context of the caller that started it.
	flightTimeout = 2 * time.Minute

	grantJWTBearer    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	grantRefreshToken = "refresh_token"
)

// ServiceAccountKey is the subset of a Google service account JSON key used
// to sign assertions.
type ServiceAccountKey struct {
	Type         string `json:"type"`
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
}

// ParseServiceAccountKey decodes a JSON key file.
func ParseServiceAccountKey(data []byte) (*ServiceAccountKey, error) {
	var key ServiceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, validation.New("serviceAccount", "invalid key file: %v", err)
	}
	return &key, nil
}

// LoadServiceAccountKey reads a JSON key file from disk.
func LoadServiceAccountKey(path string) (*ServiceAccountKey, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read service account key: %w", err)
	}
	return ParseServiceAccountKey(data)
}

// resolveServiceAccount fills email and key from the environment. Keys pasted
// into env vars usually carry literal \n sequences.
func resolveServiceAccount(key *ServiceAccountKey, lookup credentials.LookupFunc) (*ServiceAccountKey, error) {
	out := ServiceAccountKey{}
	if key != nil {
		out = *key
	}
	var err error
	if out.ClientEmail, err = (credentials.Chain{
		credentials.Value(out.ClientEmail),
		credentials.EnvFrom(lookup, EnvServiceAccountEmail),
	}).Resolve(); err != nil {
		return nil, err
	}
	if out.PrivateKey, err = (credentials.Chain{
		credentials.Value(out.PrivateKey),
		credentials.EnvFrom(lookup, EnvPrivateKey),
	}).Resolve(); err != nil {
		return nil, err
	}
	out.PrivateKey = strings.ReplaceAll(out.PrivateKey, `\n`, "\n")

	if err := validation.RequireAll(
		[2]string{"serviceAccount.clientEmail", out.ClientEmail},
		[2]string{"serviceAccount.privateKey", out.PrivateKey},
	); err != nil {
		return nil, err
	}
	return &out, nil
}

// tokenResponse is the OAuth 2.0 token endpoint reply.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

func (r tokenResponse) token(now time.Time) (*oauth2.Token, error) {
	if r.AccessToken == "" {
		return nil, fmt.Errorf("token response carried no access_token")
	}
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
	}
	if r.ExpiresIn > 0 {
		tok.Expiry = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// exchange posts a form-encoded grant to the token endpoint.
func exchange(ctx context.Context, t *transport.Transport, tokenURL string, form url.Values, now time.Time) (*oauth2.Token, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := t.Execute(ctx, http.MethodPost, tokenURL, transport.RequestOptions{
		Headers: h,
		Body:    []byte(form.Encode()),
	})
	if err != nil {
		return nil, fmt.Errorf("token exchange (%s): %w", form.Get("grant_type"), err)
	}
	var tr tokenResponse
	if err := resp.JSON(&tr); err != nil {
		return nil, err
	}
	return tr.token(now)
}

// serviceAccountSource mints access tokens from a signed assertion and keeps
// the current one until shortly before it expires.
type serviceAccountSource struct {
	email    string
	keyID    string
	signer   *rsa.PrivateKey
	tokenURL string

	http  *transport.Transport
	cache *cache.Cache
	group singleflight.Group
	log   logrus.FieldLogger
	now   func() time.Time
}

const accessTokenKey = "access_token"

func newServiceAccountSource(key *ServiceAccountKey, tokenURL string, t *transport.Transport, log logrus.FieldLogger, now func() time.Time) (*serviceAccountSource, error) {
	signer, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key.PrivateKey))
	if err != nil {
		return nil, validation.New("serviceAccount.privateKey", "not an RSA PEM key: %v", err)
	}
	return &serviceAccountSource{
		email:    key.ClientEmail,
		keyID:    key.PrivateKeyID,
		signer:   signer,
		tokenURL: tokenURL,
		http:     t,
		cache:    cache.New(cache.NoExpiration, 10*time.Minute),
		log:      log,
		now:      now,
	}, nil
}

// Assertion returns a signed RS256 JWT for the token endpoint.
func (s *serviceAccountSource) Assertion() (string, error) {
	iat := s.now()
	claims := jwt.MapClaims{
		"iss":   s.email,
		"scope": Scope,
		"aud":   s.tokenURL,
		"iat":   iat.Unix(),
		"exp":   iat.Add(assertionLifetime).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.keyID != "" {
		tok.Header["kid"] = s.keyID
	}
	signed, err := tok.SignedString(s.signer)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}

// Credential implements credentials.Source.
func (s *serviceAccountSource) Credential(ctx context.Context) (credentials.Credential, error) {
	if v, ok := s.cache.Get(accessTokenKey); ok {
		return credentials.OAuth(v.(*oauth2.Token)), nil
	}
	v, err := shared(ctx, &s.group, accessTokenKey, func(ctx context.Context) (interface{}, error) {
		if v, ok := s.cache.Get(accessTokenKey); ok {
			return v, nil
		}
		assertion, err := s.Assertion()
		if err != nil {
			return nil, err
		}
		tok, err := exchange(ctx, s.http, s.tokenURL, url.Values{
			"grant_type": {grantJWTBearer},
			"assertion":  {assertion},
		}, s.now())
		if err != nil {
			return nil, err
		}
		ttl := cache.NoExpiration
		if !tok.Expiry.IsZero() {
			ttl = tok.Expiry.Sub(s.now()) - expiryMargin
		}
		if ttl > 0 || ttl == cache.NoExpiration {
			s.cache.Set(accessTokenKey, tok, ttl)
		}
		s.log.Debug("obtained service account access token")
		return tok, nil
	})
	if err != nil {
		return credentials.Credential{}, err
	}
	return credentials.OAuth(v.(*oauth2.Token)), nil
}

// shared runs fn once per key across concurrent callers. fn gets a context
// detached from any one caller's cancellation; each caller still stops
// waiting when its own ctx is done.
func shared(ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := g.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OAuthClient identifies the OAuth application that issued the stored tokens.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

// oauthSource serves the stored token and refreshes it when expired.
type oauthSource struct {
	client   OAuthClient
	store    TokenStore
	tokenURL string

	http  *transport.Transport
	group singleflight.Group
	log   logrus.FieldLogger
	now   func() time.Time
}

func newOAuthSource(client OAuthClient, store TokenStore, tokenURL string, t *transport.Transport, log logrus.FieldLogger, now func() time.Time) *oauthSource {
	return &oauthSource{client: client, store: store, tokenURL: tokenURL, http: t, log: log, now: now}
}

// Credential implements credentials.Source.
func (s *oauthSource) Credential(ctx context.Context) (credentials.Credential, error) {
	tok, err := s.store.Load(ctx)
	if err != nil {
		return credentials.Credential{}, fmt.Errorf("load oauth token: %w", err)
	}
	if tok != nil && tok.Valid() {
		return credentials.OAuth(tok), nil
	}

	v, err := shared(ctx, &s.group, "refresh", func(ctx context.Context) (interface{}, error) {
		// Another caller may have refreshed between our Load and this flight.
		cur, err := s.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load oauth token: %w", err)
		}
		if cur != nil && cur.Valid() {
			return cur, nil
		}
		return s.refresh(ctx, cur)
	})
	if err != nil {
		return credentials.Credential{}, err
	}
	return credentials.OAuth(v.(*oauth2.Token)), nil
}

func (s *oauthSource) refresh(ctx context.Context, old *oauth2.Token) (*oauth2.Token, error) {
	if old == nil || old.RefreshToken == "" {
		return nil, validation.Required("refreshToken")
	}
	tok, err := exchange(ctx, s.http, s.tokenURL, url.Values{
		"grant_type":    {grantRefreshToken},
		"refresh_token": {old.RefreshToken},
		"client_id":     {s.client.ClientID},
		"client_secret": {s.client.ClientSecret},
	}, s.now())
	if err != nil {
		return nil, err
	}
	// Google only returns a refresh token when it rotates one.
	if tok.RefreshToken == "" {
		tok.RefreshToken = old.RefreshToken
	}
	if err := s.store.Save(ctx, tok); err != nil {
		return nil, fmt.Errorf("save refreshed token: %w", err)
	}
	s.log.Debug("refreshed oauth access token")
	return tok, nil
}
