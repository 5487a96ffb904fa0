// Package relay performs HTTP calls on behalf of the page agent. The shared
// cookie jar is the point: the portal sets an HttpOnly session cookie on
// login, and every later probe through the same client carries it.
package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ResponseObserver is called after every delivered response. The
// orchestrator uses it to watch login-endpoint outcomes.
type ResponseObserver func(requestURL string, status int)

// Client is the privileged HTTP relay.
type Client struct {
	http *http.Client

	mu        sync.RWMutex
	observers []ResponseObserver
}

// Result mirrors the relayed response contract: OK is false only for
// transport failures, never for non-2xx statuses.
type Result struct {
	OK         bool
	Status     int
	StatusText string
	Body       string
	Error      string
}

// New creates a relay client with its own cookie jar.
func New(timeout time.Duration) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		http: &http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
	}, nil
}

// OnResponse registers an observer for delivered responses.
func (c *Client) OnResponse(fn ResponseObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Do relays one request. Transport errors come back as a structured
// failure; they are never propagated as Go errors past this boundary.
func (c *Client) Do(ctx context.Context, method, rawURL string, headers map[string]string, body string) Result {
	if method == "" {
		method = http.MethodGet
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}

	c.notify(rawURL, resp.StatusCode)

	return Result{
		OK:         true,
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Body:       string(data),
	}
}

// SessionCookie returns the current value of the named cookie for the given
// site, or "" if the jar holds none.
func (c *Client) SessionCookie(siteURL, name string) string {
	u, err := url.Parse(siteURL)
	if err != nil {
		return ""
	}
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == name || name == "" {
			return ck.Value
		}
	}
	return ""
}

func (c *Client) notify(requestURL string, status int) {
	c.mu.RLock()
	observers := c.observers
	c.mu.RUnlock()

	for _, fn := range observers {
		fn(requestURL, status)
	}
}
