package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const IdentityContextKey = ContextKey("identity")

var errMissingToken = errors.New("missing bearer token")

// Claims are the identity claims issued by the account service.
// The subject is the requester or provider ID.
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator resolves the caller's identity from an HS256 token once per
// request and stores it in the context.
type Authenticator struct {
	secret []byte
	logger *slog.Logger
}

func NewAuthenticator(secret string, logger *slog.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), logger: logger.With("component", "auth")}
}

// Parse validates tokenString and returns the identity it carries.
func (a *Authenticator) Parse(tokenString string) (domain.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Identity{}, err
	}
	if claims.Subject == "" {
		return domain.Identity{}, errors.New("token has no subject")
	}
	role, ok := domain.ParseRole(claims.Role)
	if !ok {
		return domain.Identity{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return domain.Identity{ID: claims.Subject, Role: role, Name: claims.Name}, nil
}

// Issue signs a token for id. Used by the token command and in tests.
func (a *Authenticator) Issue(id domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(id.Role),
		Name: id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate reads the token from the Authorization header, or from the
// token query parameter for websocket upgrades where browsers cannot set headers.
func (a *Authenticator) Authenticate(r *http.Request) (domain.Identity, error) {
	tokenString := ""
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, rest, found := strings.Cut(h, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return domain.Identity{}, errors.New("unsupported authorization scheme")
		}
		tokenString = strings.TrimSpace(rest)
	} else {
		tokenString = r.URL.Query().Get("token")
	}
	if tokenString == "" {
		return domain.Identity{}, errMissingToken
	}
	return a.Parse(tokenString)
}

// Middleware rejects unauthenticated requests with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Authenticate(r)
		if err != nil {
			a.logger.WarnContext(r.Context(), "Authentication failed", "path", r.URL.Path, "error", err)
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid or missing token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireRole allows only callers with the given role through.
func RequireRole(role domain.Role, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				logger.ErrorContext(r.Context(), "Identity not found in context. Authenticator must run first.")
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid or missing token")
				return
			}
			if id.Role != role {
				logger.WarnContext(r.Context(), "Role not permitted", "caller", id.Key(), "required_role", role)
				writeAuthError(w, http.StatusForbidden, "NOT_AUTHORIZED", "Only a "+string(role)+" may do this")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, id)
}

func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(domain.Identity)
	return id, ok
}

func writeAuthError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "error",
		"message": message,
		"error":   map[string]string{"code": errCode},
	})
}
