package bosta

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/BearBump/BostaSync/internal/storage/atomicfile"
	"github.com/pkg/errors"
)

type Token struct {
	Value        string
	RefreshToken string
	ObtainedAt   time.Time
}

func (t Token) ValidAt(now time.Time, ttl time.Duration) bool {
	return t.Value != "" && now.Sub(t.ObtainedAt) < ttl
}

// tokenDoc is the on-disk layout: {token, refreshToken, timestamp}, where
// timestamp is unix seconds as a float.
type tokenDoc struct {
	Token        string  `json:"token"`
	RefreshToken string  `json:"refreshToken"`
	Timestamp    float64 `json:"timestamp"`
}

func (t Token) doc() tokenDoc {
	return tokenDoc{
		Token:        t.Value,
		RefreshToken: t.RefreshToken,
		Timestamp:    float64(t.ObtainedAt.UnixNano()) / float64(time.Second),
	}
}

func (d tokenDoc) token() Token {
	sec, frac := math.Modf(d.Timestamp)
	return Token{
		Value:        d.Token,
		RefreshToken: d.RefreshToken,
		ObtainedAt:   time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(),
	}
}

// TokenStore is the durable copy of the login token.
type TokenStore interface {
	Load(ctx context.Context) (Token, bool, error)
	Save(ctx context.Context, tok Token) error
	Clear(ctx context.Context) error
}

type FileTokenStore struct {
	path string
}

func NewFileTokenStore(path string) *FileTokenStore {
	if path == "" {
		path = "token_cache.json"
	}
	return &FileTokenStore{path: path}
}

func (s *FileTokenStore) Load(ctx context.Context) (Token, bool, error) {
	unlock, err := atomicfile.Lock(ctx, s.path)
	if err != nil {
		return Token{}, false, err
	}
	defer unlock()

	var d tokenDoc
	ok, err := atomicfile.ReadJSON(s.path, &d)
	if err != nil || !ok || d.Token == "" {
		return Token{}, false, err
	}
	return d.token(), true, nil
}

func (s *FileTokenStore) Save(ctx context.Context, tok Token) error {
	unlock, err := atomicfile.Lock(ctx, s.path)
	if err != nil {
		return err
	}
	defer unlock()
	return atomicfile.WriteJSON(s.path, tok.doc())
}

func (s *FileTokenStore) Clear(ctx context.Context) error {
	unlock, err := atomicfile.Lock(ctx, s.path)
	if err != nil {
		return err
	}
	defer unlock()
	return atomicfile.WriteJSON(s.path, tokenDoc{})
}

// Cache is a byte cache with TTL (Redis in production).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CacheTokenStore keeps the token in a shared cache so several workers reuse
// one login.
type CacheTokenStore struct {
	c   Cache
	key string
	ttl time.Duration
}

func NewCacheTokenStore(c Cache, key string, ttl time.Duration) *CacheTokenStore {
	if key == "" {
		key = "bosta:auth:token"
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &CacheTokenStore{c: c, key: key, ttl: ttl}
}

func (s *CacheTokenStore) Load(ctx context.Context) (Token, bool, error) {
	b, ok, err := s.c.Get(ctx, s.key)
	if err != nil || !ok {
		return Token{}, false, err
	}
	var d tokenDoc
	if err := json.Unmarshal(b, &d); err != nil {
		return Token{}, false, errors.Wrap(err, "decode cached token")
	}
	if d.Token == "" {
		return Token{}, false, nil
	}
	return d.token(), true, nil
}

func (s *CacheTokenStore) Save(ctx context.Context, tok Token) error {
	b, err := json.Marshal(tok.doc())
	if err != nil {
		return errors.Wrap(err, "marshal token")
	}
	return s.c.Set(ctx, s.key, b, s.ttl)
}

func (s *CacheTokenStore) Clear(ctx context.Context) error {
	return s.c.Del(ctx, s.key)
}

type memoryTokenStore struct{}

func (memoryTokenStore) Load(context.Context) (Token, bool, error) { return Token{}, false, nil }
func (memoryTokenStore) Save(context.Context, Token) error { return nil }
func (memoryTokenStore) Clear(context.Context) error { return nil }
