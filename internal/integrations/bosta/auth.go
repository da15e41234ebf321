package bosta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultTokenTTL      = 24 * time.Hour
	DefaultLoginCooldown = 60 * time.Second
)

type Credentials struct {
	Email    string
	Password string
	// APIKey is used as "Bearer <key>" when no cached login token is available.
	APIKey string
}

// Provider obtains and caches the authorization credential for the remote API.
// One provider is shared by all API calls of the process.
type Provider struct {
	baseURL string
	creds   Credentials
	store   TokenStore
	httpc   *http.Client
	now     func() time.Time

	ttl      time.Duration
	cooldown time.Duration

	// refreshMu serialises 401 recovery only; Login itself never waits.
	refreshMu sync.Mutex

	mu          sync.Mutex
	token       *Token
	storeRead   bool
	lastLoginAt time.Time
}

func NewProvider(baseURL string, creds Credentials, store TokenStore) *Provider {
	if store == nil {
		store = memoryTokenStore{}
	}
	return &Provider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		creds:    creds,
		store:    store,
		httpc:    &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
		ttl:      DefaultTokenTTL,
		cooldown: DefaultLoginCooldown,
	}
}

func (p *Provider) WithHTTPClient(c *http.Client) *Provider {
	if c != nil {
		p.httpc = c
	}
	return p
}

func (p *Provider) WithClock(now func() time.Time) *Provider {
	if now != nil {
		p.now = now
	}
	return p
}

func (p *Provider) WithPolicy(ttl, cooldown time.Duration) *Provider {
	if ttl > 0 {
		p.ttl = ttl
	}
	if cooldown > 0 {
		p.cooldown = cooldown
	}
	return p
}

// Header returns the value of the authorization header: a cached login token
// as is, else the API key as a bearer credential, else a fresh login.
func (p *Provider) Header(ctx context.Context) (string, error) {
	if tok, ok := p.cached(ctx); ok {
		return tok.Value, nil
	}
	if p.creds.APIKey != "" {
		return "Bearer " + p.creds.APIKey, nil
	}
	tok, err := p.Login(ctx)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

// Token returns a valid login token, logging in on a cache miss.
func (p *Provider) Token(ctx context.Context) (Token, error) {
	if tok, ok := p.cached(ctx); ok {
		return tok, nil
	}
	return p.Login(ctx)
}

// Refresh recovers from a 401 answered to the rejected header value. If that
// token has already been replaced, here or by another process through the
// store, it returns at once and the caller retries with the current one.
// Otherwise the rejected token is dropped and a login is attempted, so
// concurrent 401s on one token cost a single login.
func (p *Provider) Refresh(ctx context.Context, rejected string) error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	if p.replaced(ctx, rejected) {
		return nil
	}
	p.Invalidate(ctx, rejected)
	_, err := p.Login(ctx)
	return err
}

// replaced reports whether a valid token other than rejected is available,
// adopting the durable one if needed.
func (p *Provider) replaced(ctx context.Context, rejected string) bool {
	now := p.now()
	p.mu.Lock()
	cur := p.token
	p.mu.Unlock()
	if cur != nil && cur.Value != rejected && cur.ValidAt(now, p.ttl) {
		return true
	}

	tok, ok, err := p.store.Load(ctx)
	if err != nil {
		slog.Warn("load cached bosta token", "error", err.Error())
		return false
	}
	if !ok || tok.Value == rejected || !tok.ValidAt(now, p.ttl) {
		return false
	}
	p.mu.Lock()
	p.token = &tok
	p.storeRead = true
	p.mu.Unlock()
	return true
}

// Invalidate drops the rejected token from memory and from the store. A token
// that differs from it was issued later and stays.
func (p *Provider) Invalidate(ctx context.Context, rejected string) {
	p.mu.Lock()
	if p.token != nil && p.token.Value == rejected {
		p.token = nil
	}
	p.storeRead = true
	p.mu.Unlock()

	tok, ok, err := p.store.Load(ctx)
	if err != nil {
		slog.Warn("load cached bosta token", "error", err.Error())
		return
	}
	if !ok || tok.Value != rejected {
		return
	}
	if err := p.store.Clear(ctx); err != nil {
		slog.Warn("clear cached bosta token", "error", err.Error())
	}
}

func (p *Provider) cached(ctx context.Context) (Token, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == nil && !p.storeRead {
		p.storeRead = true
		tok, ok, err := p.store.Load(ctx)
		if err != nil {
			slog.Warn("load cached bosta token", "error", err.Error())
		} else if ok {
			p.token = &tok
		}
	}
	if p.token != nil && p.token.ValidAt(p.now(), p.ttl) {
		return *p.token, true
	}
	return Token{}, false
}

// Login performs at most one network attempt per cooldown window. Callers
// inside the window get ErrLoginCooldown at once.
func (p *Provider) Login(ctx context.Context) (Token, error) {
	if p.creds.Email == "" || p.creds.Password == "" {
		return Token{}, &AuthError{Reason: "cannot login", Err: ErrNoCredentials}
	}

	p.mu.Lock()
	now := p.now()
	if !p.lastLoginAt.IsZero() && now.Sub(p.lastLoginAt) < p.cooldown {
		wait := p.cooldown - now.Sub(p.lastLoginAt)
		p.mu.Unlock()
		return Token{}, &AuthError{
			Reason: fmt.Sprintf("retry in %ds", int(wait.Seconds()+0.5)),
			Err:    ErrLoginCooldown,
		}
	}
	p.lastLoginAt = now
	p.mu.Unlock()

	tok, err := p.login(ctx, now)
	if err != nil {
		slog.Error("bosta login", "error", err.Error())
		return Token{}, err
	}

	// durable copy first, then the in-memory one
	if err := p.store.Save(ctx, tok); err != nil {
		slog.Warn("save bosta token", "error", err.Error())
	}
	p.mu.Lock()
	p.token = &tok
	p.storeRead = true
	p.mu.Unlock()

	slog.Info("bosta login ok")
	return tok, nil
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
	} `json:"data"`
}

func (p *Provider) login(ctx context.Context, now time.Time) (Token, error) {
	body, err := json.Marshal(loginReq{Email: p.creds.Email, Password: p.creds.Password})
	if err != nil {
		return Token{}, &AuthError{Reason: "encode login", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/users/login", bytes.NewReader(body))
	if err != nil {
		return Token{}, &AuthError{Reason: "new request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return Token{}, &AuthError{Reason: "login request failed", Err: errors.Wrap(err, "do request")}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Token{}, &AuthError{Reason: fmt.Sprintf("login http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))}
	}

	var r loginResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Token{}, &AuthError{Reason: "decode login response", Err: err}
	}
	if !r.Success {
		msg := r.Message
		if msg == "" {
			msg = "success=false"
		}
		return Token{}, &AuthError{Reason: "login rejected: " + msg}
	}
	if r.Data.Token == "" {
		return Token{}, &AuthError{Reason: "login response without token"}
	}

	return Token{
		Value:        r.Data.Token,
		RefreshToken: r.Data.RefreshToken,
		ObtainedAt:   now.UTC(),
	}, nil
}
