package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"propline/internal/engine"
	"propline/internal/engine/auth"
)

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	// AllowDevLogin exposes POST /auth/dev/login, which mints tokens for any
	// actor. Local use only.
	AllowDevLogin          bool
	AllowLegacyActorHeader bool
	Logger                 *log.Logger
}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func actorFromRequest(ctx context.Context) (auth.Actor, huma.StatusError) {
	if a, ok := auth.FromContext(ctx); ok {
		return a, nil
	}
	return auth.Actor{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Name  string `json:"name,omitempty"`
	Admin bool   `json:"admin,omitempty"`
}

func authenticateJWT(token string, cfg AuthConfig) (auth.Actor, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return auth.Actor{}, errors.New("jwt secret not configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	claims := &jwtClaims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil {
		return auth.Actor{}, err
	}
	if !parsed.Valid {
		return auth.Actor{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return auth.Actor{}, errors.New("subject claim required")
	}
	return auth.Actor{ID: claims.Subject, Name: claims.Name, Admin: claims.Admin}, nil
}

// signToken mints an HS256 token for an actor.
func signToken(cfg AuthConfig, a auth.Actor, ttl time.Duration) (string, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:  a.Name,
		Admin: a.Admin,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "openapi.json"):   true,
		path.Join(basePath, "auth/dev/login"): cfg.AllowDevLogin,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			legacyActor := strings.TrimSpace(req.Header.Get("X-Actor-Id"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				actor, err := authenticateJWT(token, cfg)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(auth.WithActor(req.Context(), actor)))
				return
			}

			if apiKeyHeader != "" {
				actor, err := e.ActorForAPIKey(req.Context(), apiKeyHeader)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(auth.WithActor(req.Context(), actor)))
				return
			}

			if legacyActor != "" && cfg.AllowLegacyActorHeader {
				cfg.logger().Printf("[server] WARNING: unauthenticated X-Actor-Id header used (actor_id=%s)", legacyActor)
				actor := auth.Actor{ID: legacyActor}
				if u, err := e.GetUser(req.Context(), legacyActor); err == nil {
					actor.Name = u.Name
				}
				next.ServeHTTP(w, req.WithContext(auth.WithActor(req.Context(), actor)))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
