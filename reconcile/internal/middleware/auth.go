// Package middleware holds HTTP middleware specific to the reconciliation
// service.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/crimeapps/drc-integration/common/httputil"
	"github.com/crimeapps/drc-integration/common/tokens"
)

type contextKey string

// SubjectKey holds the authenticated token subject.
const SubjectKey contextKey = "subject"

// TokenValidator checks a bearer token.
type TokenValidator interface {
	Validate(token string) (*tokens.Claims, error)
}

// RequireBearer rejects requests without a valid bearer token. A nil
// validator disables the check.
func RequireBearer(validator TokenValidator, next http.Handler) http.Handler {
	return requireToken(validator, "", next)
}

// RequireScope is RequireBearer that also demands the token carry scope.
// Valid tokens with another scope get 403.
func RequireScope(validator TokenValidator, scope string, next http.Handler) http.Handler {
	return requireToken(validator, scope, next)
}

func requireToken(validator TokenValidator, scope string, next http.Handler) http.Handler {
	if validator == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, r, "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			unauthorized(w, r, "invalid authorization header")
			return
		}

		claims, err := validator.Validate(token)
		if err != nil {
			unauthorized(w, r, "invalid or expired token")
			return
		}
		if scope != "" && claims.Scope != scope {
			httputil.WriteProblem(w, &httputil.Problem{
				Status:   http.StatusForbidden,
				Detail:   "token scope does not permit this operation",
				Instance: r.URL.Path,
			})
			return
		}

		ctx := context.WithValue(r.Context(), SubjectKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSubject returns the authenticated subject, if any.
func GetSubject(ctx context.Context) string {
	if s, ok := ctx.Value(SubjectKey).(string); ok {
		return s
	}
	return ""
}

func unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="drc-integration"`)
	httputil.WriteProblem(w, &httputil.Problem{
		Status:   http.StatusUnauthorized,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}
