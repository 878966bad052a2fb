package reviewapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultEndpoint = "https://practicum.yandex.ru/api/user_api/homework_statuses/"

	defaultTimeout      = 30 * time.Second
	maxResponseBodySize = 1 << 20 // 1MB
)

// FetchError is returned for every failed fetch: transport errors,
// non-2xx statuses and bodies that are not JSON.
type FetchError struct {
	// StatusCode is 0 when no HTTP response was received.
	StatusCode int
	Reason     string
	Err        error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString("review api request failed")
	if e.StatusCode != 0 {
		b.WriteString(": status ")
		b.WriteString(strconv.Itoa(e.StatusCode))
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

type Config struct {
	Endpoint string
	Token    string
	// Timeout bounds one request. Zero uses the default (30s).
	Timeout time.Duration
}

// Client fetches review statuses changed since a cursor.
type Client struct {
	endpoint string
	token    string
	timeout  time.Duration
	http     *http.Client
}

func New(cfg Config) (*Client, error) {
	ep := strings.TrimSpace(cfg.Endpoint)
	if ep == "" {
		ep = DefaultEndpoint
	}
	u, err := url.Parse(ep)
	if err != nil {
		return nil, fmt.Errorf("review_api.endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("review_api.endpoint: scheme must be http or https, got %q", u.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint: ep,
		token:    cfg.Token,
		timeout:  timeout,
		// no client timeout: per-request timeouts via context
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				MaxIdleConns:    2,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}, nil
}

// Fetch returns the raw JSON body for statuses changed since cursor.
func (c *Client) Fetch(ctx context.Context, cursor int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, &FetchError{Reason: "bad endpoint", Err: err}
	}
	q := u.Query()
	q.Set("from_date", strconv.FormatInt(cursor, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, &FetchError{Reason: "build request", Err: err}
	}
	req.Header.Set("Authorization", "OAuth "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Reason: "read body", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{StatusCode: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}
	if !json.Valid(body) {
		return nil, &FetchError{StatusCode: resp.StatusCode, Reason: "response is not JSON"}
	}
	return body, nil
}
