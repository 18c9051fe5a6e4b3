package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/raterudder/hems/pkg/log"
)

// authMiddleware requires a valid bearer ID token on mutating requests when
// an OIDC audience is configured. Reads are always allowed.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		if r.Method != http.MethodGet && r.Body != nil {
			// Limit body size to 1MB to prevent DoS
			r.Body = http.MaxBytesReader(w, r.Body, 1048576)
			bodyBytes, err := io.ReadAll(r.Body)
			if err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to read request body", slog.Any("error", err))
				http.Error(w, "invalid request", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		}

		if r.Method != http.MethodGet && s.verifier != nil {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Ctx(ctx).WarnContext(ctx, "missing bearer token")
				writeJSONError(w, "missing authentication", http.StatusUnauthorized)
				return
			}
			email, subject, err := s.authenticateToken(ctx, strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "token validation failed", slog.Any("error", err))
				writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
				return
			}
			ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("userID", subject), slog.String("email", email)))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authenticateToken(ctx context.Context, token string) (string, string, error) {
	if s.verifier == nil {
		return "", "", errors.New("no valid audiences configured")
	}
	idToken, err := s.verifier(ctx, token)
	if err != nil {
		return "", "", fmt.Errorf("verifier failed: %w", err)
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", "", fmt.Errorf("failed to parse claims: %w", err)
	}
	return claims.Email, idToken.Subject, nil
}
