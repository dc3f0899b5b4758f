package domain

import "fmt"

// Error types for consistent error handling across the CRM backend.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrInvalidTransition indicates a lifecycle operation that would violate a
// legal state transition (e.g. converting an already-converted prospect).
type ErrInvalidTransition struct {
	Entity string
	From   string
	Action string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s %s in status %s", e.Action, e.Entity, e.From)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrForbidden indicates the user lacks permission for the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrConflict indicates a resource already exists (e.g. duplicate email).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrInvalidCode indicates an invalid or expired access code.
type ErrInvalidCode struct{}

func (e *ErrInvalidCode) Error() string {
	return "Code d'accès invalide ou expiré"
}

// ErrAccountDenied indicates a profile whose status denies the session.
// Reason carries the user-facing denial message.
type ErrAccountDenied struct {
	Status UserStatus
	Reason string
}

func (e *ErrAccountDenied) Error() string {
	return e.Reason
}

// Denial reasons shared by login and the session reconciler so both paths
// report the same message for the same profile status.
const (
	DenialPending        = "Compte en attente de validation par l'administration"
	DenialDisabled       = "Votre compte a été désactivé par un administrateur"
	DenialProfileMissing = "Profil utilisateur introuvable dans la base de données"
	DenialLookupFailed   = "Échec de la vérification du profil"
)
