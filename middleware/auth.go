package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	UserIDContextKey      contextKey = "user_id"
	EmailContextKey       contextKey = "email"
	RoleContextKey        contextKey = "role"
	WorkspaceIDContextKey contextKey = "workspace_id"
)

// Role is one of the RBAC roles carried in a JWT's claims.
type Role string

const (
	RoleAdmin          Role = "ADMIN"
	RoleInstituteAdmin Role = "INSTITUTE_ADMIN"
	RoleTeacher        Role = "TEACHER"
	RoleStudent        Role = "STUDENT"
)

// Claims is the JWT payload this backend expects on every bearer token.
type Claims struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	WorkspaceID string `json:"workspace_id"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies bearer JWTs and populates the request context
// with the caller's identity and role.
type AuthMiddleware struct {
	logger zerolog.Logger
	secret []byte
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(logger zerolog.Logger, secret string) *AuthMiddleware {
	return &AuthMiddleware{logger: logger, secret: []byte(secret)}
}

// Handler returns the middleware handler function.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, `{"success":false,"error":{"code":"validation","message":"Authorization header required"}}`, http.StatusUnauthorized)
			return
		}

		raw := authHeader
		if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			raw = authHeader[len("Bearer "):]
		}
		if raw == "" {
			http.Error(w, `{"success":false,"error":{"code":"validation","message":"bearer token cannot be empty"}}`, http.StatusUnauthorized)
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return am.secret, nil
		})
		if err != nil || !token.Valid {
			am.logger.Debug().Err(err).Msg("jwt validation failed")
			http.Error(w, `{"success":false,"error":{"code":"permission-denied","message":"invalid or expired token"}}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDContextKey, claims.UserID)
		ctx = context.WithValue(ctx, EmailContextKey, claims.Email)
		ctx = context.WithValue(ctx, RoleContextKey, claims.Role)
		ctx = context.WithValue(ctx, WorkspaceIDContextKey, claims.WorkspaceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole returns middleware that rejects requests whose authenticated
// role is not in the allowed set. Must run after AuthMiddleware.Handler.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[string(r)] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := GetRole(r.Context())
			if !allowed[role] {
				http.Error(w, `{"success":false,"error":{"code":"permission-denied","message":"role not permitted for this operation"}}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDContextKey).(string)
	return v
}

func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(RoleContextKey).(string)
	return v
}

func GetWorkspaceID(ctx context.Context) string {
	v, _ := ctx.Value(WorkspaceIDContextKey).(string)
	return v
}
