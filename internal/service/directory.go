package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aftras/crm-api/internal/domain"
	"github.com/aftras/crm-api/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var directoryTracer = otel.Tracer("service/directory")

// DirectoryService is the admin surface over user accounts: listing,
// creation, status changes and removal. Status changes propagate to live
// sessions through the profile subscriptions, not through this service.
type DirectoryService struct {
	users  port.DirectoryStore
	auth   port.AuthStore
	store  port.CRMStore
	logger *zap.Logger
}

// NewDirectoryService creates a new directory service.
func NewDirectoryService(users port.DirectoryStore, auth port.AuthStore, store port.CRMStore, logger *zap.Logger) *DirectoryService {
	return &DirectoryService{users: users, auth: auth, store: store, logger: logger}
}

func (s *DirectoryService) ListUsers(ctx context.Context) ([]domain.UserProfile, error) {
	ctx, span := directoryTracer.Start(ctx, "DirectoryService.ListUsers")
	defer span.End()

	return s.users.ListUsers(ctx)
}

func (s *DirectoryService) GetUser(ctx context.Context, userID string) (*domain.UserProfile, error) {
	ctx, span := directoryTracer.Start(ctx, "DirectoryService.GetUser")
	defer span.End()

	return s.users.GetUser(ctx, userID)
}

// CreateUser provisions an account directly. Unlike self-service
// registration, admin-created accounts start active.
func (s *DirectoryService) CreateUser(ctx context.Context, req *domain.CreateUserRequest) (*domain.UserProfile, error) {
	ctx, span := directoryTracer.Start(ctx, "DirectoryService.CreateUser")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, &domain.ErrValidation{Field: "email", Message: "Adresse e-mail invalide"}
	}
	switch req.Role {
	case domain.RoleAdmin, domain.RoleAgent, domain.RoleSupervisor:
	default:
		return nil, &domain.ErrValidation{Field: "role", Message: "Rôle inconnu"}
	}
	if len(req.Password) < minPassword {
		return nil, &domain.ErrValidation{Field: "password", Message: fmt.Sprintf("Le mot de passe doit contenir au moins %d caractères", minPassword)}
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if existing != nil {
		return nil, &domain.ErrConflict{Message: "Cette adresse e-mail est déjà utilisée"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.UserProfile{
		ID:        uuid.New().String(),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     email,
		Phone:     req.Phone,
		Role:      req.Role,
		Status:    domain.UserActive,
		CreatedAt: time.Now(),
	}
	if user.Role == domain.RoleAgent {
		code, err := generateAgentCode()
		if err != nil {
			return nil, fmt.Errorf("generate agent code: %w", err)
		}
		user.AgentCode = code
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := s.auth.CreateCredentials(ctx, user.ID, string(hash)); err != nil {
		return nil, fmt.Errorf("create credentials: %w", err)
	}

	s.logger.Info("user created by admin",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
	)
	return user, nil
}

// UpdateUserStatus flips a profile between PENDING, ACTIVE and DISABLED.
// Live sessions pick up the change through their profile subscription.
func (s *DirectoryService) UpdateUserStatus(ctx context.Context, userID string, status domain.UserStatus) (*domain.UserProfile, error) {
	ctx, span := directoryTracer.Start(ctx, "DirectoryService.UpdateUserStatus")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	switch status {
	case domain.UserPending, domain.UserActive, domain.UserDisabled:
	default:
		return nil, &domain.ErrValidation{Field: "status", Message: "Statut inconnu"}
	}

	user, err := s.users.UpdateUser(ctx, userID, map[string]any{
		"status": string(status),
	})
	if err != nil {
		return nil, err
	}

	if status == domain.UserActive {
		s.notifyUser(ctx, userID, "Compte activé", "Votre compte a été activé. Bienvenue !")
	}

	s.logger.Info("user status updated",
		zap.String("user_id", userID),
		zap.String("status", string(status)),
	)
	return user, nil
}

// DeleteUser removes the profile and every credential artifact. Active
// sessions deny on the next profile push once the record is gone.
func (s *DirectoryService) DeleteUser(ctx context.Context, userID string) error {
	ctx, span := directoryTracer.Start(ctx, "DirectoryService.DeleteUser")
	defer span.End()

	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return err
	}

	if err := s.auth.RevokeAllRefreshTokens(ctx, userID); err != nil {
		s.logger.Warn("delete user: revoke tokens failed", zap.Error(err))
	}
	if err := s.auth.DeleteCredentials(ctx, userID); err != nil {
		s.logger.Warn("delete user: delete credentials failed", zap.Error(err))
	}
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("user deleted", zap.String("user_id", userID))
	return nil
}

func (s *DirectoryService) notifyUser(ctx context.Context, userID, title, message string) {
	n := &domain.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      domain.NotifSys,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		s.logger.Warn("notification delivery failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}
