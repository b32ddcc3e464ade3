package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"nextaction/internal/repo"
)

// AuthConfig controls request authentication.
type AuthConfig struct {
	// JWTSecret enables Bearer token auth when non-empty.
	JWTSecret string
	// Enforce requires credentials on every request. When false,
	// unauthenticated requests run as the "local" actor, which is the
	// single-user default.
	Enforce bool
	Logger  *log.Logger
}

// Principal identifies the authenticated caller for audit attribution.
type Principal struct {
	ActorID string
	Source  string
}

type principalKey struct{}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// actorFromContext returns the audit actor for the request.
func actorFromContext(ctx context.Context) string {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p.ActorID
	}
	return "local"
}

type jwtClaims struct {
	jwt.RegisteredClaims
}

func newAuthMiddleware(basePath string, cfg AuthConfig, store repo.Repo) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	healthPath := strings.TrimSuffix(basePath, "/") + "/health"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, basePath) || r.URL.Path == healthPath {
				next.ServeHTTP(w, r)
				return
			}

			if token := bearerToken(r); token != "" {
				if cfg.JWTSecret == "" {
					respondStatusError(w, http.StatusUnauthorized, "unauthorized", "bearer auth is not configured")
					return
				}
				p, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					respondStatusError(w, http.StatusUnauthorized, "unauthorized", err.Error())
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
				return
			}

			if key := r.Header.Get("X-Api-Key"); key != "" {
				p, err := authenticateAPIKey(r.Context(), store, key)
				if err != nil {
					respondStatusError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
				return
			}

			if actor := r.Header.Get("X-Actor-Id"); actor != "" && !cfg.Enforce {
				logger.Printf("auth: accepting unauthenticated X-Actor-Id %q", actor)
				p := Principal{ActorID: actor, Source: "header"}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
				return
			}

			if cfg.Enforce {
				respondStatusError(w, http.StatusUnauthorized, "unauthorized", "credentials required")
				return
			}
			p := Principal{ActorID: "local", Source: "local"}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func authenticateJWT(token, secret string) (Principal, error) {
	claims := &jwtClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return Principal{}, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("token missing sub claim")
	}
	return Principal{ActorID: claims.Subject, Source: "jwt"}, nil
}

func authenticateAPIKey(ctx context.Context, store repo.Repo, key string) (Principal, error) {
	rec, err := store.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	return Principal{ActorID: rec.ActorID, Source: "api_key"}, nil
}

func respondStatusError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": apiErrorBody{Code: code, Message: message},
	})
}
