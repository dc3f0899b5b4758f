// Package domain defines the core business entities for the AFTRAS CRM
// backend. These models are independent of the persistence collaborator and
// represent the canonical data structures used throughout the service.
package domain

import (
	"math"
	"time"
)

// ============================================================
// Users
// ============================================================

// UserRole identifies what a user is allowed to do in the CRM.
type UserRole string

const (
	RoleAdmin      UserRole = "ADMIN"
	RoleAgent      UserRole = "AGENT"
	RoleSupervisor UserRole = "SUPERVISOR"
)

// UserStatus is the authorization status of a profile. A session is admitted
// iff the status is ACTIVE; PENDING and DISABLED both deny the session with
// distinct user-facing reasons.
type UserStatus string

const (
	UserPending  UserStatus = "PENDING"
	UserActive   UserStatus = "ACTIVE"
	UserDisabled UserStatus = "DISABLED"
)

// UserProfile represents a CRM user. The ID is shared with the identity
// provider's principal id.
type UserProfile struct {
	ID        string     `json:"id"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Email     string     `json:"email"`
	Role      UserRole   `json:"role"`
	Status    UserStatus `json:"status"`
	AgentCode string     `json:"agent_code,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// FullName returns the display name of the user.
func (u *UserProfile) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// ============================================================
// Prospects
// ============================================================

// ProspectStatus tracks the prospect lifecycle. The only legal transition is
// PENDING → CONVERTED; there is no way back.
type ProspectStatus string

const (
	ProspectPending   ProspectStatus = "PENDING"
	ProspectConverted ProspectStatus = "CONVERTED"
)

// Prospect is a sales lead owned by one agent.
type Prospect struct {
	ID                string         `json:"id"`
	AgentID           string         `json:"agent_id"`
	FullName          string         `json:"full_name"`
	Company           string         `json:"company,omitempty"`
	Phone             string         `json:"phone"`
	CountryCode       string         `json:"country_code"`
	Country           string         `json:"country"`
	City              string         `json:"city"`
	Email             string         `json:"email"`
	Source            string         `json:"source"`
	ProductOfInterest string         `json:"product_of_interest"`
	Details           string         `json:"details,omitempty"`
	Status            ProspectStatus `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
}

// RemoteProspect is an unvalidated lead captured through the public capture
// link, prior to becoming a Prospect. Confirming it materializes a Prospect
// and deletes this record — the two never coexist for the same lead.
type RemoteProspect struct {
	ID                string    `json:"id"`
	AgentID           string    `json:"agent_id"`
	FullName          string    `json:"full_name"`
	Company           string    `json:"company,omitempty"`
	Phone             string    `json:"phone"`
	CountryCode       string    `json:"country_code"`
	Country           string    `json:"country"`
	City              string    `json:"city"`
	Email             string    `json:"email"`
	Source            string    `json:"source"`
	ProductOfInterest string    `json:"product_of_interest"`
	Details           string    `json:"details,omitempty"`
	IsVerified        bool      `json:"is_verified"`
	CreatedAt         time.Time `json:"created_at"`
}

// ============================================================
// Clients
// ============================================================

// ClientStatus tracks the client lifecycle. PENDING → SALE_CONCLUDED happens
// exactly once per successful sale; CANCELLED is terminal and always carries
// a reason.
type ClientStatus string

const (
	ClientPending       ClientStatus = "PENDING"
	ClientSaleConcluded ClientStatus = "SALE_CONCLUDED"
	ClientCancelled     ClientStatus = "CANCELLED"
)

// Client is a converted prospect under contract. ProspectID is a
// back-reference to the source prospect, not ownership.
type Client struct {
	ID             string       `json:"id"`
	AgentID        string       `json:"agent_id"`
	ProspectID     string       `json:"prospect_id"`
	FullName       string       `json:"full_name"`
	Company        string       `json:"company,omitempty"`
	Email          string       `json:"email"`
	Phone          string       `json:"phone"`
	Country        string       `json:"country"`
	Product        string       `json:"product"`
	Status         ClientStatus `json:"status"`
	DeletionReason string       `json:"deletion_reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ============================================================
// Sales & Commissions
// ============================================================

// SaleStatus tracks commission settlement. PENDING → PAID is one-way.
type SaleStatus string

const (
	SalePending SaleStatus = "PENDING"
	SalePaid    SaleStatus = "PAID"
)

// CommissionRate is the fixed share of a sale's profit owed to the
// originating agent.
const CommissionRate = 0.15

// DeriveFinancials computes the profit and agent commission for a sale.
// Commission is rounded to the nearest whole currency unit.
func DeriveFinancials(amount, realCost float64) (profit, commission float64) {
	profit = amount - realCost
	commission = math.Round(profit * CommissionRate)
	return profit, commission
}

// Sale is a concluded transaction tied to a client. Profit and Commission
// are derived from the revenue amount and real cost at write time and are
// never accepted as caller input.
type Sale struct {
	ID         string     `json:"id"`
	ClientID   string     `json:"client_id"`
	AgentID    string     `json:"agent_id"`
	Amount     float64    `json:"amount"`
	Profit     float64    `json:"profit"`
	Commission float64    `json:"commission"`
	Status     SaleStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SaleWithClient joins a sale with the client's display name for listings.
type SaleWithClient struct {
	Sale
	ClientName string `json:"client_name"`
}

// ============================================================
// Access codes
// ============================================================

// AccessCode is the single active shared secret gating self-service agent
// sign-up. At most one code exists at any time; it lives in a well-known
// record slot and is valid 24 hours from generation.
type AccessCode struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	IsActive  bool      `json:"is_active"`
}

// ============================================================
// Notifications
// ============================================================

// NotificationType classifies a notification for the UI.
type NotificationType string

const (
	NotifUser  NotificationType = "user"
	NotifLead  NotificationType = "lead"
	NotifCash  NotificationType = "cash"
	NotifSys   NotificationType = "sys"
	NotifAlert NotificationType = "alert"
)

// Notification is a user-directed message. Mutated only by mark-read.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// ============================================================
// App settings
// ============================================================

// AppSettings holds the branding configuration, stored in a single
// well-known record.
type AppSettings struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Logo     string `json:"logo,omitempty"`
}

// DefaultSettings is used when no settings record exists yet or the read
// degrades.
var DefaultSettings = AppSettings{Name: "AFTRAS CRM", Currency: "FCFA"}

// ============================================================
// Session state
// ============================================================

// SessionPhase is the authorization state of a signed-in session as
// maintained by the reconciler.
type SessionPhase string

const (
	SessionUnauthenticated SessionPhase = "UNAUTHENTICATED"
	SessionResolving       SessionPhase = "RESOLVING"
	SessionAdmitted        SessionPhase = "ADMITTED"
	SessionDenied          SessionPhase = "DENIED"
)

// SessionState is a snapshot of the reconciler's view of one session.
// Profile is set only while admitted; Reason only while denied.
type SessionState struct {
	Phase   SessionPhase `json:"phase"`
	Profile *UserProfile `json:"profile,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

// ============================================================
// Auth — persisted records
// ============================================================

// AuthCredential stores the bcrypt hash for one user.
type AuthCredential struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	PasswordHash string     `json:"password_hash"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// AuthRefreshToken is a hashed refresh token stored in the database.
type AuthRefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"token_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// AuthPasswordResetCode is a password reset verification code.
type AuthPasswordResetCode struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// ============================================================
// API request / response types
// ============================================================

// RegisterRequest is the body for POST /v1/auth/register. Self-service
// registration is gated by the current access code.
type RegisterRequest struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Password   string `json:"password"`
	AccessCode string `json:"accessCode"`
}

// RegisterResponse is returned by a successful registration. The account
// stays pending until an admin activates it.
type RegisterResponse struct {
	UserID  string `json:"userId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// LoginRequest is the body for POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresIn    int          `json:"expiresIn"`
	User         *UserProfile `json:"user"`
}

// RefreshRequest is the body for POST /v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ResetRequest is the body for POST /v1/auth/password/reset-request.
type ResetRequest struct {
	Email string `json:"email"`
}

// ProspectRequest carries the caller-editable prospect fields. Status and
// timestamps are never caller input.
type ProspectRequest struct {
	AgentID           string `json:"agentId,omitempty"`
	FullName          string `json:"fullName"`
	Company           string `json:"company,omitempty"`
	Phone             string `json:"phone"`
	CountryCode       string `json:"countryCode"`
	Country           string `json:"country"`
	City              string `json:"city"`
	Email             string `json:"email"`
	Source            string `json:"source"`
	ProductOfInterest string `json:"productOfInterest"`
	Details           string `json:"details,omitempty"`
}

// CaptureLeadRequest is the body for the public capture link. The agent id
// is embedded in the shared link.
type CaptureLeadRequest struct {
	AgentID           string `json:"agentId"`
	FullName          string `json:"fullName"`
	Company           string `json:"company,omitempty"`
	Phone             string `json:"phone"`
	CountryCode       string `json:"countryCode"`
	Country           string `json:"country"`
	City              string `json:"city"`
	Email             string `json:"email"`
	ProductOfInterest string `json:"productOfInterest"`
	Details           string `json:"details,omitempty"`
}

// ConcludeSaleRequest is the body for POST /v1/sales. Amount is the revenue;
// RealCost the cost basis. Profit and commission are derived server-side.
type ConcludeSaleRequest struct {
	ClientID string  `json:"clientId"`
	Amount   float64 `json:"amount"`
	RealCost float64 `json:"realCost"`
}

// CorrectSaleRequest is the body for PATCH /v1/sales/{id}.
type CorrectSaleRequest struct {
	Amount   float64 `json:"amount"`
	RealCost float64 `json:"realCost"`
}

// CancelClientRequest is the body for DELETE /v1/clients/{id}. The reason is
// mandatory and is forwarded to the owning agent as an alert.
type CancelClientRequest struct {
	Reason string `json:"reason"`
}

// CreateUserRequest is the admin body for POST /v1/users. Admin-created
// accounts start ACTIVE.
type CreateUserRequest struct {
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone,omitempty"`
	Role      UserRole `json:"role"`
	Password  string   `json:"password"`
}

// UpdateUserStatusRequest is the body for PATCH /v1/users/{id}/status.
type UpdateUserStatusRequest struct {
	Status UserStatus `json:"status"`
}

// InsightResponse wraps the best-effort AI analysis.
type InsightResponse struct {
	Insights    string    `json:"insights"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
