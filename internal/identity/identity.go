// Package identity establishes the authenticated (user, session) pair each
// request carries. Real authentication lives in the campus SSO gateway in
// front of this service; here a signed anonymous cookie stands in for it and
// yields the stable per-student user ID the struggle counters are keyed by.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/domain"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/store"
)

const (
	AnonCookieName        = "biocbot_anon_id"
	SessionHeaderName     = "X-BiocBot-Session-ID"
	DisplayNameHeaderName = "X-BiocBot-Display-Name"
	DefaultSessionIDValue = "default"
	anonCookieMaxAge      = 180 * 24 * time.Hour
)

type contextKey int

const (
	userIDKey contextKey = iota
	displayNameKey
	sessionIDKey
)

var (
	anonIDPattern      = regexp.MustCompile(`^stu_[a-f0-9]{32}$`)
	sessionIDPattern   = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
	displayNamePattern = regexp.MustCompile(`^[\pL\pN .'-]{1,64}$`)
)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// DisplayNameFromContext extracts the student display name from the request context.
func DisplayNameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(displayNameKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "stu_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func deriveDisplayName(userID string) string {
	if len(userID) > 12 {
		return "student-" + userID[len(userID)-8:]
	}
	return "student"
}

func displayNameFromRequest(r *http.Request, userID string) string {
	name := strings.TrimSpace(r.Header.Get(DisplayNameHeaderName))
	if name != "" && displayNamePattern.MatchString(name) {
		return name
	}
	return deriveDisplayName(userID)
}

func ensureStudent(ctx context.Context, repo store.Repository, userID, displayName string) error {
	student, err := repo.GetStudent(ctx, userID)
	if err != nil {
		return err
	}
	if student != nil && student.DisplayName == displayName {
		return nil
	}

	now := time.Now()
	created := now
	if student != nil {
		created = student.CreatedAt
	}
	return repo.UpsertStudent(ctx, &domain.Student{
		UserID:      userID,
		DisplayName: displayName,
		CreatedAt:   created,
		UpdatedAt:   now,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware injects the per-student identity and per-request session ID.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish identity"}`, http.StatusInternalServerError)
				return
			}

			displayName := displayNameFromRequest(r, userID)
			if err := ensureStudent(r.Context(), repo, userID, displayName); err != nil {
				http.Error(w, `{"error":"failed to initialize student"}`, http.StatusInternalServerError)
				return
			}

			sessionID := sessionIDFromRequest(r)

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, displayNameKey, displayName)
			ctx = context.WithValue(ctx, sessionIDKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithIdentity returns a context carrying an explicit identity. Test helper
// and support for internal callers outside the HTTP path.
func WithIdentity(ctx context.Context, userID, displayName, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, displayNameKey, displayName)
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}
