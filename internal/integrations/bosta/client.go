package bosta

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const DefaultBaseURL = "https://app.bosta.co/api/v2"

// Authenticator supplies the authorization header and recovers from a 401.
// Refresh gets the header value that was rejected.
type Authenticator interface {
	Header(ctx context.Context) (string, error)
	Refresh(ctx context.Context, rejected string) error
}

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, Factor: 2}
}

type Filter string

const (
	FilterAll      Filter = "all"
	FilterPending  Filter = "pending"
	FilterExchange Filter = "exchange"
	FilterReturn   Filter = "return"
)

func (f Filter) types() []string {
	switch f {
	case FilterPending:
		return []string{"EXCHANGE", "CUSTOMER_RETURN_PICKUP"}
	case FilterExchange:
		return []string{"EXCHANGE"}
	case FilterReturn:
		return []string{"CUSTOMER_RETURN_PICKUP"}
	}
	return nil
}

type SearchRequest struct {
	Page   int
	Limit  int
	Filter Filter
	// Phone is a normalized local number (0XXXXXXXXXX).
	Phone string
}

type SearchPage struct {
	TrackingNumbers []string
	TotalCount      int
	PageSize        int
}

// TotalPages is ceil(TotalCount / PageSize); zero when either is not positive.
func (p SearchPage) TotalPages() int {
	if p.TotalCount <= 0 || p.PageSize <= 0 {
		return 0
	}
	return (p.TotalCount + p.PageSize - 1) / p.PageSize
}

type Client struct {
	baseURL string
	auth    Authenticator
	httpc   *http.Client
	retry   RetryPolicy
}

func New(baseURL string, auth Authenticator, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		httpc: &http.Client{
			Timeout: timeout,
		},
		retry: DefaultRetryPolicy(),
	}
}

func (c *Client) WithRetryPolicy(p RetryPolicy) *Client {
	if p.MaxAttempts > 0 {
		c.retry.MaxAttempts = p.MaxAttempts
	}
	if p.BaseDelay > 0 {
		c.retry.BaseDelay = p.BaseDelay
	}
	if p.Factor > 0 {
		c.retry.Factor = p.Factor
	}
	return c
}

func (c *Client) WithHTTPClient(h *http.Client) *Client {
	if h != nil {
		c.httpc = h
	}
	return c
}

type searchBody struct {
	Limit        int      `json:"limit"`
	Page         int      `json:"page"`
	SortBy       string   `json:"sortBy"`
	Type         []string `json:"type,omitempty"`
	MobilePhones string   `json:"mobilePhones,omitempty"`
}

func (c *Client) Search(ctx context.Context, req SearchRequest) (SearchPage, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	body := searchBody{
		Limit:  req.Limit,
		Page:   req.Page,
		SortBy: "-updatedAt",
		Type:   req.Filter.types(),
	}
	if req.Phone != "" {
		body.MobilePhones = strings.TrimPrefix(req.Phone, "0")
	}
	b, err := json.Marshal(body)
	if err != nil {
		return SearchPage{}, errors.Wrap(err, "marshal search")
	}

	raw, err := c.do(ctx, http.MethodPost, "/deliveries/search", b)
	if err != nil {
		return SearchPage{}, err
	}
	page := parseSearchPage(raw)
	if page.PageSize <= 0 {
		page.PageSize = req.Limit
	}
	return page, nil
}

// parseSearchPage reads data[.data].{deliveries,count,limit}. Every level is
// type-checked; an unexpected shape yields an empty page.
func parseSearchPage(raw []byte) SearchPage {
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		slog.Warn("search response: body is not an object")
		return SearchPage{}
	}
	data := root.Get("data")
	if !data.IsObject() {
		slog.Warn("search response: data is not an object")
		return SearchPage{}
	}
	if inner := data.Get("data"); inner.Exists() {
		if !inner.IsObject() {
			slog.Warn("search response: data.data is not an object")
			return SearchPage{}
		}
		data = inner
	}

	var out SearchPage
	if n := data.Get("count"); n.Type == gjson.Number {
		out.TotalCount = int(n.Int())
	}
	if n := data.Get("limit"); n.Type == gjson.Number {
		out.PageSize = int(n.Int())
	}

	deliveries := data.Get("deliveries")
	if !deliveries.IsArray() {
		if deliveries.Exists() {
			slog.Warn("search response: deliveries is not a list")
		}
		return out
	}
	for _, d := range deliveries.Array() {
		if !d.IsObject() {
			continue
		}
		tn := d.Get("trackingNumber")
		switch tn.Type {
		case gjson.String:
			if s := strings.TrimSpace(tn.Str); s != "" {
				out.TrackingNumbers = append(out.TrackingNumbers, s)
			}
		case gjson.Number:
			out.TrackingNumbers = append(out.TrackingNumbers, tn.Raw)
		}
	}
	return out
}

// Detail returns the raw delivery object. A 404 comes back as *NotFoundError
// without any retry.
func (c *Client) Detail(ctx context.Context, trackingNumber string) ([]byte, error) {
	raw, err := c.do(ctx, http.MethodGet, "/deliveries/business/"+url.PathEscape(trackingNumber), nil)
	if err != nil {
		return nil, err
	}
	root := gjson.ParseBytes(raw)
	if data := root.Get("data"); data.IsObject() {
		return []byte(data.Raw), nil
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	reauthed := false
	op := func() ([]byte, error) {
		authz, err := c.auth.Header(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		b, err := c.once(ctx, authz, method, path, body)
		if errors.Is(err, errUnauthorized) && !reauthed {
			reauthed = true
			slog.Info("bosta 401, re-authenticating", "path", path)
			if rerr := c.auth.Refresh(ctx, authz); rerr != nil {
				return nil, backoff.Permanent(rerr)
			}
			if authz, err = c.auth.Header(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
			b, err = c.once(ctx, authz, method, path, body)
		}
		if err == nil {
			return b, nil
		}
		if retryable(ctx, err) {
			return nil, err
		}
		if errors.Is(err, errUnauthorized) {
			err = &AuthError{Reason: "unauthorized after re-authentication"}
		}
		return nil, backoff.Permanent(err)
	}

	eb := &backoff.ExponentialBackOff{
		InitialInterval:     c.retry.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          c.retry.Factor,
		MaxInterval:         time.Hour,
	}
	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(c.retry.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			slog.Warn("bosta request failed, retrying", "path", path, "delay", d.String(), "error", err.Error())
		}),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		return nil, err
	}
	return out, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var te *TransientError
	return errors.As(err, &te)
}

func (c *Client) once(ctx context.Context, authz, method, path string, body []byte) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("authorization", authz)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: errors.Wrap(err, "do request")}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: errors.Wrap(err, "read body")}
	}

	switch {
	case resp.StatusCode/100 == 2:
		return b, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, &NotFoundError{Path: path}
	case isRetryableStatus(resp.StatusCode):
		return nil, &TransientError{StatusCode: resp.StatusCode}
	}
	return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(b), 256)}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
