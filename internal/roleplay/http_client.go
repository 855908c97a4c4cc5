package roleplay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pitchlab/pitchlab/internal/identity"
)

// HTTPBackend talks to the practice server's JSON API. A cookie jar holds
// the anonymous trainee identity and the CSRF token the server issues;
// every mutating request echoes the token back in a header.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

var _ Backend = (*HTTPBackend)(nil)

// NewHTTPBackend creates a backend for the server at baseURL.
func NewHTTPBackend(baseURL string) (*HTTPBackend, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Jar:     jar,
			Timeout: 15 * time.Second,
		},
	}, nil
}

// Bootstrap primes the identity cookie pair. It must be called once before
// any other method: without the CSRF cookie the server rejects every
// mutating request.
func (b *HTTPBackend) Bootstrap(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("build bootstrap request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("reach server: %w", err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("drain bootstrap response: %w", err)
	}

	if b.csrfToken() == "" {
		return errors.New("server did not issue a csrftoken cookie")
	}
	return nil
}

// StartSession claims the trainee's one practice session.
func (b *HTTPBackend) StartSession(ctx context.Context) (time.Duration, error) {
	var out struct {
		Duration int `json:"duration"`
	}
	if err := b.post(ctx, "/chat/start-session/", nil, &out); err != nil {
		return 0, err
	}
	if out.Duration <= 0 {
		return 0, fmt.Errorf("server returned invalid session duration %d", out.Duration)
	}
	return time.Duration(out.Duration) * time.Second, nil
}

// PostMessage sends one trainee message and returns the customer's answer.
func (b *HTTPBackend) PostMessage(ctx context.Context, query string) (string, error) {
	payload := map[string]string{"query": query}
	var out struct {
		Answer string `json:"answer"`
	}
	if err := b.post(ctx, "/chat/post-message/", payload, &out); err != nil {
		return "", err
	}
	return out.Answer, nil
}

// CoachAdvice fetches advice for the latest exchange.
func (b *HTTPBackend) CoachAdvice(ctx context.Context) (string, error) {
	var out struct {
		Advice string `json:"advice"`
	}
	if err := b.post(ctx, "/chat/get-coach-advice/", nil, &out); err != nil {
		return "", err
	}
	return out.Advice, nil
}

// CoachOpened reports that the trainee opened the current advice.
func (b *HTTPBackend) CoachOpened(ctx context.Context) error {
	return b.post(ctx, "/chat/coach-opened/", nil, nil)
}

// EndSession reports that the trainee finished the session.
func (b *HTTPBackend) EndSession(ctx context.Context) error {
	return b.post(ctx, "/chat/end-session/", nil, nil)
}

// csrfToken reads the current token from the jar. The jar is the single
// source of truth so a token rotated by the server takes effect on the
// next request.
func (b *HTTPBackend) csrfToken() string {
	u, err := url.Parse(b.baseURL)
	if err != nil {
		return ""
	}
	for _, cookie := range b.client.Jar.Cookies(u) {
		if cookie.Name == identity.CSRFCookieName {
			return cookie.Value
		}
	}
	return ""
}

func (b *HTTPBackend) post(ctx context.Context, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(identity.CSRFHeaderName, b.csrfToken())

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for connection reuse
		return fmt.Errorf("post %s: %w", path, ErrSessionClosed)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("post %s: server said %q (status %d)", path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("post %s: unexpected status %d", path, resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for connection reuse
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
