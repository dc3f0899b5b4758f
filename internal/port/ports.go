// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/aftras/crm-api/internal/domain"
)

// DirectoryStore defines the data operations over user profiles.
type DirectoryStore interface {
	ListUsers(ctx context.Context) ([]domain.UserProfile, error)
	GetUser(ctx context.Context, userID string) (*domain.UserProfile, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.UserProfile, error)
	CreateUser(ctx context.Context, user *domain.UserProfile) error
	UpdateUser(ctx context.Context, userID string, updates map[string]any) (*domain.UserProfile, error)
	DeleteUser(ctx context.Context, userID string) error
}

// ProfileWatcher delivers continuous pushes of one user's profile record.
// The callback receives (nil, nil) when the record does not exist and a
// non-nil error when the lookup itself failed. The returned stop function
// disposes the subscription; it is idempotent.
type ProfileWatcher interface {
	WatchUser(ctx context.Context, userID string, onChange func(*domain.UserProfile, error)) (stop func())
}

// CRMStore defines all data operations for the sales workflow entities.
// Implemented by the PostgREST adapter (or any other persistence layer).
type CRMStore interface {
	// Prospects
	ListProspects(ctx context.Context) ([]domain.Prospect, error)
	ListProspectsByAgent(ctx context.Context, agentID string) ([]domain.Prospect, error)
	GetProspect(ctx context.Context, prospectID string) (*domain.Prospect, error)
	CreateProspect(ctx context.Context, p *domain.Prospect) error
	UpdateProspect(ctx context.Context, prospectID string, updates map[string]any) error
	DeleteProspect(ctx context.Context, prospectID string) error

	// Remote prospects (public capture link)
	ListRemoteProspectsByAgent(ctx context.Context, agentID string) ([]domain.RemoteProspect, error)
	GetRemoteProspect(ctx context.Context, leadID string) (*domain.RemoteProspect, error)
	CreateRemoteProspect(ctx context.Context, lead *domain.RemoteProspect) error
	DeleteRemoteProspect(ctx context.Context, leadID string) error

	// Clients
	ListClients(ctx context.Context) ([]domain.Client, error)
	ListClientsByAgent(ctx context.Context, agentID string) ([]domain.Client, error)
	GetClient(ctx context.Context, clientID string) (*domain.Client, error)
	CreateClient(ctx context.Context, c *domain.Client) error
	UpdateClient(ctx context.Context, clientID string, updates map[string]any) error

	// Sales
	ListSales(ctx context.Context) ([]domain.Sale, error)
	ListSalesByAgent(ctx context.Context, agentID string) ([]domain.Sale, error)
	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)
	CreateSale(ctx context.Context, s *domain.Sale) error
	UpdateSale(ctx context.Context, saleID string, updates map[string]any) error

	// Notifications
	ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error)
	CreateNotification(ctx context.Context, n *domain.Notification) error
	MarkNotificationRead(ctx context.Context, notifID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error

	// Access code (single well-known slot)
	GetAccessCode(ctx context.Context) (*domain.AccessCode, error)
	UpsertAccessCode(ctx context.Context, code *domain.AccessCode) error

	// App settings (single well-known slot)
	GetSettings(ctx context.Context) (*domain.AppSettings, error)
	UpsertSettings(ctx context.Context, updates map[string]any) error
}

// AuthStore defines the data operations for the credential system.
type AuthStore interface {
	CreateCredentials(ctx context.Context, userID, passwordHash string) error
	GetCredentials(ctx context.Context, userID string) (*domain.AuthCredential, error)
	UpdateCredentials(ctx context.Context, userID string, updates map[string]any) error
	DeleteCredentials(ctx context.Context, userID string) error

	StoreRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*domain.AuthRefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllRefreshTokens(ctx context.Context, userID string) error

	StoreResetCode(ctx context.Context, userID, code string, expiresAt time.Time) error
	GetValidResetCode(ctx context.Context, userID, code string) (*domain.AuthPasswordResetCode, error)
	MarkResetCodeUsed(ctx context.Context, codeID string) error
}

// InsightGenerator invokes the text-generation collaborator. Best-effort:
// callers must degrade gracefully on error.
type InsightGenerator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
