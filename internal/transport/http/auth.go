package httptransport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKeyReviewerID struct{}

// ContextKeyReviewerID is exported for use in handlers and tests.
var ContextKeyReviewerID = contextKeyReviewerID{}

// ReviewerID retrieves the authenticated reviewer from the context.
func ReviewerID(ctx context.Context) string {
	id, ok := ctx.Value(ContextKeyReviewerID).(string)
	if !ok {
		return ""
	}
	return id
}

// RequireReviewer guards mutation endpoints: the bearer token must be a valid
// HS256 JWT whose subject identifies the reviewer.
func RequireReviewer(signingKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || raw == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}

			token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(signingKey), nil
			})
			if err != nil || !token.Valid {
				logger.WarnContext(r.Context(), "rejected reviewer token", "error", err)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}

			subject, err := token.Claims.GetSubject()
			if err != nil || subject == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyReviewerID, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
