package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aftras/crm-api/internal/domain"
	"github.com/aftras/crm-api/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var authTracer = otel.Tracer("service/auth")

const (
	bcryptCost  = 12
	minPassword = 8
)

// AuthService orchestrates authentication flows. Registration is gated by
// the shared access code; login feeds the session reconciler so the
// profile subscription opens the moment an identity is present.
type AuthService struct {
	store      port.AuthStore
	users      port.DirectoryStore
	codes      *AccessCodeService
	sessions   *SessionReconciler
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *zap.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(store port.AuthStore, users port.DirectoryStore, codes *AccessCodeService, sessions *SessionReconciler, jwtSecret string, accessTTL, refreshTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		store:      store,
		users:      users,
		codes:      codes,
		sessions:   sessions,
		jwtSecret:  []byte(jwtSecret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     logger,
	}
}

// ============================================================
// Register — POST /v1/auth/register
// ============================================================

// Register creates a pending agent account. The access code gates the door;
// an admin still has to activate the profile before it can sign in.
func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.RegisterResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Register")
	defer span.End()

	if err := s.codes.Validate(ctx, req.AccessCode); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, &domain.ErrValidation{Field: "email", Message: "Adresse e-mail invalide"}
	}
	if req.FirstName == "" && req.LastName == "" {
		return nil, &domain.ErrValidation{Field: "firstName", Message: "Le nom est obligatoire"}
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

	agentCode, err := generateAgentCode()
	if err != nil {
		return nil, fmt.Errorf("generate agent code: %w", err)
	}

	user := &domain.UserProfile{
		ID:        uuid.New().String(),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     email,
		Phone:     req.Phone,
		Role:      domain.RoleAgent,
		Status:    domain.UserPending,
		AgentCode: agentCode,
		CreatedAt: time.Now(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := s.store.CreateCredentials(ctx, user.ID, string(hash)); err != nil {
		return nil, fmt.Errorf("create credentials: %w", err)
	}

	s.logger.Info("agent registered",
		zap.String("user_id", user.ID),
		zap.String("email", email),
	)

	return &domain.RegisterResponse{
		UserID:  user.ID,
		Status:  string(domain.UserPending),
		Message: "Compte créé. En attente de validation par l'administration",
	}, nil
}

// ============================================================
// Login — POST /v1/auth/login
// ============================================================

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()
	span.SetAttributes(attribute.String("email", req.Email))

	email := strings.ToLower(strings.TrimSpace(req.Email))
	profile, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if profile == nil {
		return nil, &domain.ErrUnauthorized{Message: "Identifiants invalides"}
	}

	cred, err := s.store.GetCredentials(ctx, profile.ID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, &domain.ErrUnauthorized{Message: "Identifiants invalides"}
		}
		return nil, fmt.Errorf("get credentials: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("login: failed password attempt",
			zap.String("user_id", profile.ID),
		)
		return nil, &domain.ErrUnauthorized{Message: "Identifiants invalides"}
	}

	// A profile that is not ACTIVE never gets tokens.
	switch profile.Status {
	case domain.UserActive:
	case domain.UserPending:
		return nil, &domain.ErrAccountDenied{Status: profile.Status, Reason: domain.DenialPending}
	default:
		return nil, &domain.ErrAccountDenied{Status: profile.Status, Reason: domain.DenialDisabled}
	}

	accessToken, err := s.signAccessToken(profile.ID, string(profile.Role))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, refreshHash, err := s.generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.store.StoreRefreshToken(ctx, profile.ID, refreshHash, time.Now().Add(s.refreshTTL)); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	_ = s.store.UpdateCredentials(ctx, profile.ID, map[string]any{
		"last_login_at": time.Now().Format(time.RFC3339),
	})

	// Open the profile subscription for this session.
	s.sessions.IdentityPresent(profile.ID)

	s.logger.Info("user logged in",
		zap.String("user_id", profile.ID),
		zap.String("role", string(profile.Role)),
	)

	return &domain.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.accessTTL.Seconds()),
		User:         profile,
	}, nil
}

// ============================================================
// Refresh — POST /v1/auth/refresh
// ============================================================

func (s *AuthService) Refresh(ctx context.Context, req *domain.RefreshRequest) (*domain.LoginResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Refresh")
	defer span.End()

	tokenHash := hashToken(req.RefreshToken)

	stored, err := s.store.GetRefreshToken(ctx, tokenHash)
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	if stored == nil {
		return nil, &domain.ErrUnauthorized{Message: "Jeton de rafraîchissement invalide"}
	}
	if stored.ExpiresAt.Before(time.Now()) {
		s.logger.Warn("refresh: expired token used",
			zap.String("user_id", stored.UserID),
		)
		_ = s.store.RevokeRefreshToken(ctx, tokenHash)
		return nil, &domain.ErrUnauthorized{Message: "Jeton de rafraîchissement expiré"}
	}

	// Rotation: the old token is single-use.
	_ = s.store.RevokeRefreshToken(ctx, tokenHash)

	profile, err := s.users.GetUser(ctx, stored.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if profile.Status != domain.UserActive {
		return nil, &domain.ErrAccountDenied{Status: profile.Status, Reason: denialFor(profile.Status)}
	}

	accessToken, err := s.signAccessToken(profile.ID, string(profile.Role))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	newRefreshToken, newRefreshHash, err := s.generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.store.StoreRefreshToken(ctx, profile.ID, newRefreshHash, time.Now().Add(s.refreshTTL)); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &domain.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		ExpiresIn:    int(s.accessTTL.Seconds()),
		User:         profile,
	}, nil
}

// ============================================================
// Logout — POST /v1/auth/logout
// ============================================================

func (s *AuthService) Logout(ctx context.Context, userID string) error {
	ctx, span := authTracer.Start(ctx, "AuthService.Logout")
	defer span.End()

	if err := s.store.RevokeAllRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	// Dispose the profile subscription for this session.
	s.sessions.IdentityAbsent(userID)

	s.logger.Info("user logged out", zap.String("user_id", userID))
	return nil
}

// ============================================================
// Password reset
// ============================================================

func (s *AuthService) PasswordResetRequest(ctx context.Context, req *domain.ResetRequest) error {
	ctx, span := authTracer.Start(ctx, "AuthService.PasswordResetRequest")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	profile, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if profile == nil {
		// Do not leak whether the account exists.
		return nil
	}

	code, err := randomDigits(6)
	if err != nil {
		return fmt.Errorf("generate reset code: %w", err)
	}
	if err := s.store.StoreResetCode(ctx, profile.ID, code, time.Now().Add(10*time.Minute)); err != nil {
		return fmt.Errorf("store reset code: %w", err)
	}

	// Delivery (e-mail) happens out of band.
	s.logger.Info("password reset code generated",
		zap.String("user_id", profile.ID),
	)
	return nil
}

func (s *AuthService) PasswordResetConfirm(ctx context.Context, email, code, newPassword string) error {
	ctx, span := authTracer.Start(ctx, "AuthService.PasswordResetConfirm")
	defer span.End()

	profile, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if profile == nil {
		return &domain.ErrUnauthorized{Message: "Identifiants invalides"}
	}

	resetCode, err := s.store.GetValidResetCode(ctx, profile.ID, code)
	if err != nil {
		return fmt.Errorf("get reset code: %w", err)
	}
	if resetCode == nil {
		return &domain.ErrInvalidCode{}
	}

	if len(newPassword) < minPassword {
		return &domain.ErrValidation{Field: "newPassword", Message: fmt.Sprintf("Le mot de passe doit contenir au moins %d caractères", minPassword)}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdateCredentials(ctx, profile.ID, map[string]any{
		"password_hash": string(hash),
	}); err != nil {
		return fmt.Errorf("update credentials: %w", err)
	}

	_ = s.store.MarkResetCodeUsed(ctx, resetCode.ID)
	_ = s.store.RevokeAllRefreshTokens(ctx, profile.ID)

	s.logger.Info("password reset completed", zap.String("user_id", profile.ID))
	return nil
}

// ============================================================
// ValidateToken — used by middleware
// ============================================================

// JWTClaims represents the custom claims in access tokens.
type JWTClaims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
	Type string `json:"type"`
	jwt.RegisteredClaims
}

func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "Jeton invalide ou expiré"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "Jeton invalide"}
	}
	if claims.Type != "access" {
		return nil, &domain.ErrUnauthorized{Message: "Type de jeton invalide"}
	}
	return claims, nil
}

// ============================================================
// Internal helpers
// ============================================================

func (s *AuthService) signAccessToken(userID, role string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Sub:  userID,
		Role: role,
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    "crm-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *AuthService) generateRefreshToken() (raw string, hashed string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(b)
	hashed = hashToken(raw)
	return raw, hashed, nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func generateAgentCode() (string, error) {
	digits, err := randomDigits(5)
	if err != nil {
		return "", err
	}
	return "AG-" + digits, nil
}

func denialFor(status domain.UserStatus) string {
	switch status {
	case domain.UserPending:
		return domain.DenialPending
	case domain.UserDisabled:
		return domain.DenialDisabled
	default:
		return domain.DenialLookupFailed
	}
}
