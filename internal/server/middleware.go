package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/EBIvariation/eva-submission-ws-sub000/internal/account"
)

type contextKey string

const accountContextKey contextKey = "account"

// AccountFromContext returns the resolved account for a request, or nil
// when the request did not pass through the auth middleware.
func AccountFromContext(ctx context.Context) *account.Account {
	acct, _ := ctx.Value(accountContextKey).(*account.Account)

	return acct
}

// authMiddleware resolves the bearer token into an account and stores
// it in the request context. Requests without a resolvable identity get
// a 401.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")

			return
		}

		acct, err := s.resolver.Resolve(r.Context(), bearer)
		if err != nil {
			respondError(w, err)

			return
		}

		ctx := context.WithValue(r.Context(), accountContextKey, acct)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminMiddleware guards administrative routes with the configured
// static token.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusUnauthorized, "admin access not configured")

			return
		}

		bearer, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(bearer), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")

			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}

	tok := strings.TrimPrefix(header, "Bearer ")

	return tok, tok != ""
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// logMiddleware records one line per request.
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	})
}
