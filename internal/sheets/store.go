package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// TokenStore loads and persists the OAuth token pair. Load returns nil and
// no error when nothing is stored yet.
type TokenStore interface {
	Load(ctx context.Context) (*oauth2.Token, error)
	Save(ctx context.Context, tok *oauth2.Token) error
}

// MemoryTokenStore keeps the token in process memory.
type MemoryTokenStore struct {
	mu  sync.Mutex
	tok *oauth2.Token
}

// NewMemoryTokenStore returns a store seeded with tok.
func NewMemoryTokenStore(tok *oauth2.Token) *MemoryTokenStore {
	return &MemoryTokenStore{tok: tok}
}

func (m *MemoryTokenStore) Load(context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tok == nil {
		return nil, nil
	}
	cp := *m.tok
	return &cp, nil
}

func (m *MemoryTokenStore) Save(_ context.Context, tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tok
	m.tok = &cp
	return nil
}

// FuncTokenStore adapts a getter/setter pair, for hosts that keep tokens in
// their own settings storage.
type FuncTokenStore struct {
	Get func(ctx context.Context) (*oauth2.Token, error)
	Set func(ctx context.Context, tok *oauth2.Token) error
}

func (f FuncTokenStore) Load(ctx context.Context) (*oauth2.Token, error) {
	if f.Get == nil {
		return nil, nil
	}
	return f.Get(ctx)
}

func (f FuncTokenStore) Save(ctx context.Context, tok *oauth2.Token) error {
	if f.Set == nil {
		return errors.New("token store is read-only")
	}
	return f.Set(ctx, tok)
}

const defaultTokenKey = "fb:sheets:oauth_token"

// RedisTokenStore keeps the token as JSON under a single key, so several
// relay instances share one refresh.
type RedisTokenStore struct {
	client *redis.Client
	key    string
}

// RedisOption configures a RedisTokenStore.
type RedisOption func(*RedisTokenStore)

// WithKey overrides the Redis key.
func WithKey(key string) RedisOption {
	return func(s *RedisTokenStore) {
		if key != "" {
			s.key = key
		}
	}
}

// NewRedisTokenStore connects to redisURL (e.g. "redis://localhost:6379/0").
// Returns an error if the connection cannot be established.
func NewRedisTokenStore(redisURL string, opts ...RedisOption) (*RedisTokenStore, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisTokenStoreFromClient(client, opts...), nil
}

// NewRedisTokenStoreFromClient wraps an existing client.
func NewRedisTokenStoreFromClient(client *redis.Client, opts ...RedisOption) *RedisTokenStore {
	s := &RedisTokenStore{client: client, key: defaultTokenKey}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisTokenStore) Load(ctx context.Context) (*oauth2.Token, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode stored token: %w", err)
	}
	return &tok, nil
}

func (s *RedisTokenStore) Save(ctx context.Context, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Close releases the connection.
func (s *RedisTokenStore) Close() error {
	return s.client.Close()
}
