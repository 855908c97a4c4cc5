package roleplay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pitchlab/pitchlab/internal/identity"
)

const testCSRFToken = "d1f2e3a4b5c6d7e8f9a0b1c2d3e4f5a6"

// issueCookies is the bootstrap half of the wire contract: the health
// probe hands out the identity cookie pair.
func issueCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     identity.TraineeCookieName,
		Value:    "tr_0123456789abcdef0123456789abcdef",
		Path:     "/",
		HttpOnly: true,
	})
	http.SetCookie(w, &http.Cookie{
		Name:  identity.CSRFCookieName,
		Value: testCSRFToken,
		Path:  "/",
	})
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	issueCookies(w)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// requireIdentity asserts the double-submit contract on a mutating
// request: both cookies present and the header echoing the CSRF cookie.
func requireIdentity(t *testing.T, r *http.Request) {
	t.Helper()
	if _, err := r.Cookie(identity.TraineeCookieName); err != nil {
		t.Error("trainee cookie missing on request")
	}
	cookie, err := r.Cookie(identity.CSRFCookieName)
	if err != nil {
		t.Error("csrf cookie missing on request")
		return
	}
	if got := r.Header.Get(identity.CSRFHeaderName); got != cookie.Value {
		t.Errorf("csrf header %q does not match cookie %q", got, cookie.Value)
	}
}

func newBootstrappedBackend(t *testing.T, ts *httptest.Server) *HTTPBackend {
	t.Helper()
	b, err := NewHTTPBackend(ts.URL)
	if err != nil {
		t.Fatalf("NewHTTPBackend: %v", err)
	}
	if err := b.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return b
}

func TestBootstrapPrimesCookieJar(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	b := newBootstrappedBackend(t, ts)

	if got := b.csrfToken(); got != testCSRFToken {
		t.Errorf("expected the issued token in the jar, got %q", got)
	}
}

func TestBootstrapFailsWithoutToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	b, err := NewHTTPBackend(ts.URL)
	if err != nil {
		t.Fatalf("NewHTTPBackend: %v", err)
	}
	err = b.Bootstrap(context.Background())
	if err == nil {
		t.Fatal("expected an error when the server issues no csrf cookie")
	}
	if !strings.Contains(err.Error(), "csrftoken") {
		t.Errorf("expected the error to name the missing cookie, got %v", err)
	}
}

func TestStartSessionDecodesDuration(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/chat/start-session/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		requireIdentity(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"duration": 1200}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	b := newBootstrappedBackend(t, ts)

	d, err := b.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if d != 20*time.Minute {
		t.Errorf("expected a 20 minute session, got %v", d)
	}
}

func TestStartSessionRejectsBadDuration(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/chat/start-session/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"duration": 0}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	b := newBootstrappedBackend(t, ts)

	if _, err := b.StartSession(context.Background()); err == nil {
		t.Fatal("expected an error for a zero duration")
	}
}

func TestPostMessageSendsQueryWithIdentity(t *testing.T) {
	var mu sync.Mutex
	var gotQuery string

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/chat/post-message/", func(w http.ResponseWriter, r *http.Request) {
		requireIdentity(t, r)
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected a json content type, got %q", ct)
		}
		var in struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		gotQuery = in.Query
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer": "Why should I care?"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	b := newBootstrappedBackend(t, ts)

	answer, err := b.PostMessage(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if answer != "Why should I care?" {
		t.Errorf("unexpected answer: %q", answer)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotQuery != "hello there" {
		t.Errorf("expected the query on the wire, got %q", gotQuery)
	}
}

func TestForbiddenMapsToSessionClosed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/chat/post-message/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": "Session already completed"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	b := newBootstrappedBackend(t, ts)

	_, err := b.PostMessage(context.Background(), "hello")
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed for a 403, got %v", err)
	}
}

func TestServerErrorSurfacesMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/chat/post-message/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": "rate limit exceeded"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	b := newBootstrappedBackend(t, ts)

	_, err := b.PostMessage(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected an error for a 429")
	}
	if errors.Is(err, ErrSessionClosed) {
		t.Error("a non-forbidden failure must not read as session closed")
	}
	if !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Errorf("expected the server message in the error, got %v", err)
	}
}

func TestNotificationEndpointsHitExactPaths(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	record := func(w http.ResponseWriter, r *http.Request) {
		requireIdentity(t, r)
		mu.Lock()
		seen[r.URL.Path]++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}
	mux.HandleFunc("/chat/coach-opened/", record)
	mux.HandleFunc("/chat/end-session/", record)
	mux.HandleFunc("/chat/get-coach-advice/", func(w http.ResponseWriter, r *http.Request) {
		requireIdentity(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"advice": "Ask an open question."}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	b := newBootstrappedBackend(t, ts)
	ctx := context.Background()

	advice, err := b.CoachAdvice(ctx)
	if err != nil {
		t.Fatalf("CoachAdvice: %v", err)
	}
	if advice != "Ask an open question." {
		t.Errorf("unexpected advice: %q", advice)
	}
	if err := b.CoachOpened(ctx); err != nil {
		t.Fatalf("CoachOpened: %v", err)
	}
	if err := b.EndSession(ctx); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen["/chat/coach-opened/"] != 1 || seen["/chat/end-session/"] != 1 {
		t.Errorf("expected one hit per notification path, got %v", seen)
	}
}
