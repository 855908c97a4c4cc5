// Package identity provides anonymous per-device identity primitives.
//
// A trainee is identified by a long-lived cookie issued on first contact.
// There are no accounts and no login; the cookie is the whole identity.
// A second csrftoken cookie pairs with the X-CSRFToken header to form a
// double-submit check on mutating routes.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/pitchlab/pitchlab/internal/store"
)

const (
	TraineeCookieName = "pitchlab_trainee"
	CSRFCookieName    = "csrftoken"
	CSRFHeaderName    = "X-CSRFToken"
	cookieMaxAge      = 30 * 24 * time.Hour
)

type contextKey int

const traineeIDKey contextKey = iota

var (
	traineeIDPattern = regexp.MustCompile(`^tr_[a-f0-9]{32}$`)
	csrfTokenPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)
)

// TraineeIDFromContext extracts the trainee ID from the request context.
func TraineeIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traineeIDKey).(string); ok {
		return v
	}
	return ""
}

func generateTraineeID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate trainee id: %w", err)
	}
	return "tr_" + hex.EncodeToString(buf), nil
}

func generateCSRFToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func isValidTraineeID(id string) bool {
	return traineeIDPattern.MatchString(id)
}

func isValidCSRFToken(token string) bool {
	return csrfTokenPattern.MatchString(token)
}

func getOrCreateTraineeID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(TraineeCookieName); err == nil && isValidTraineeID(c.Value) {
		setTraineeCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateTraineeID()
	if err != nil {
		return "", err
	}
	setTraineeCookie(w, id, isDev)
	return id, nil
}

func setTraineeCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     TraineeCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		Expires:  time.Now().Add(cookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateCSRFToken(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(CSRFCookieName); err == nil && isValidCSRFToken(c.Value) {
		return c.Value, nil
	}

	token, err := generateCSRFToken()
	if err != nil {
		return "", err
	}

	// Not HttpOnly: the client reads this cookie to echo it in the header.
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		Expires:  time.Now().Add(cookieMaxAge),
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return token, nil
}

// Middleware injects the anonymous trainee identity and issues the cookie
// pair on first contact.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traineeID, err := getOrCreateTraineeID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			if _, err := getOrCreateCSRFToken(w, r, isDev); err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			if err := repo.EnsureTrainee(r.Context(), traineeID); err != nil {
				http.Error(w, `{"error":"failed to initialize trainee"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), traineeIDKey, traineeID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCSRF enforces the double-submit check on mutating requests: the
// X-CSRFToken header must match the csrftoken cookie. Safe methods pass
// through untouched.
func RequireCSRF() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(CSRFCookieName)
			if err != nil || !isValidCSRFToken(cookie.Value) {
				http.Error(w, `{"error":"CSRF cookie missing"}`, http.StatusForbidden)
				return
			}

			header := r.Header.Get(CSRFHeaderName)
			if subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) != 1 {
				http.Error(w, `{"error":"CSRF token missing or invalid"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
