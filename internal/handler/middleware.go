package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/aftras/crm-api/internal/domain"
	"github.com/aftras/crm-api/internal/service"

	"go.uber.org/zap"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
	roleKey   contextKey = "role"
)

// JWTAuthMiddleware validates Bearer tokens, checks the session reconciler's
// latest verdict for the user, and injects identity into context.
func JWTAuthMiddleware(authSvc *service.AuthService, sessions *service.SessionReconciler, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "Jeton d'authentification manquant")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "Format de jeton invalide")
				return
			}

			claims, err := authSvc.ValidateAccessToken(parts[1])
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			// The reconciler may have denied this session since login.
			if err := sessions.Authorize(claims.Sub); err != nil {
				logger.Warn("auth: session denied",
					zap.String("user_id", claims.Sub),
					zap.String("path", r.URL.Path),
				)
				handleServiceError(w, err, logger)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.Sub)
			ctx = context.WithValue(ctx, roleKey, domain.UserRole(claims.Role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability rejects callers whose role lacks the capability.
func RequireCapability(cap domain.Capability, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if !domain.Can(role, cap) {
				logger.Warn("capability denied",
					zap.String("role", string(role)),
					zap.String("capability", string(cap)),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusForbidden, "Vous n'avez pas les droits nécessaires pour cette opération")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// RoleFromContext extracts the authenticated user role from context.
func RoleFromContext(ctx context.Context) domain.UserRole {
	v, _ := ctx.Value(roleKey).(domain.UserRole)
	return v
}
