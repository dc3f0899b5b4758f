package service

import (
	"context"
	"sync"

	"github.com/aftras/crm-api/internal/domain"
	"github.com/aftras/crm-api/internal/infra/observability"
	"github.com/aftras/crm-api/internal/port"

	"go.uber.org/zap"
)

// SessionReconciler continuously aligns each signed-in session with the
// authoritative profile record. While an identity is present it holds an
// open subscription on that user's profile; every push re-derives the
// session verdict, so an admin flipping a status takes effect without the
// user signing in again.
//
// Verdicts: ACTIVE admits; PENDING and DISABLED deny with distinct reasons;
// a missing record or a failed lookup denies as well. Denial is never
// sticky: a later push that shows ACTIVE re-admits the same session.
type SessionReconciler struct {
	watcher port.ProfileWatcher
	metrics *observability.Metrics
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*watchedSession
}

type watchedSession struct {
	stop  func()
	state domain.SessionState
}

// NewSessionReconciler creates a reconciler. Close releases every
// subscription it holds.
func NewSessionReconciler(watcher port.ProfileWatcher, metrics *observability.Metrics, logger *zap.Logger) *SessionReconciler {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionReconciler{
		watcher:  watcher,
		metrics:  metrics,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*watchedSession),
	}
}

// IdentityPresent starts reconciling the user's session. Any previous
// subscription for the same user is disposed before the new one opens, so
// exactly one subscription per user exists at any time. The session starts
// in the resolving phase until the first push lands.
func (r *SessionReconciler) IdentityPresent(userID string) {
	r.mu.Lock()
	old := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if old != nil && old.stop != nil {
		old.stop()
	}

	sess := &watchedSession{state: domain.SessionState{Phase: domain.SessionResolving}}
	r.mu.Lock()
	r.sessions[userID] = sess
	r.mu.Unlock()

	stop := r.watcher.WatchUser(r.ctx, userID, func(profile *domain.UserProfile, err error) {
		r.reconcile(userID, sess, profile, err)
	})

	r.mu.Lock()
	if r.sessions[userID] == sess {
		sess.stop = stop
		r.mu.Unlock()
		return
	}
	// Superseded while the subscription was opening.
	r.mu.Unlock()
	stop()
}

// IdentityAbsent tears down the user's subscription and returns the session
// to the signed-out state. Safe to call for users with no session.
func (r *SessionReconciler) IdentityAbsent(userID string) {
	r.mu.Lock()
	sess := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if sess != nil && sess.stop != nil {
		sess.stop()
	}
}

// State returns the reconciler's current verdict for the user.
func (r *SessionReconciler) State(userID string) domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[userID]
	if !ok {
		return domain.SessionState{Phase: domain.SessionUnauthenticated}
	}
	return sess.state
}

// Authorize is the gate used by the request middleware: it admits only
// sessions whose latest verdict is admitted. Sessions with no reconciler
// entry (e.g. after a restart) pass; the access token alone vouches for
// them until the next login re-establishes the subscription.
func (r *SessionReconciler) Authorize(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[userID]
	if !ok {
		return nil
	}
	if sess.state.Phase == domain.SessionDenied {
		return &domain.ErrAccountDenied{Reason: sess.state.Reason}
	}
	return nil
}

// Close disposes every subscription.
func (r *SessionReconciler) Close() {
	r.cancel()

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*watchedSession)
	r.mu.Unlock()

	for _, sess := range sessions {
		if sess.stop != nil {
			sess.stop()
		}
	}
}

// reconcile maps one profile push onto the session verdict.
func (r *SessionReconciler) reconcile(userID string, sess *watchedSession, profile *domain.UserProfile, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Ignore pushes for a disposed or superseded subscription.
	if r.sessions[userID] != sess {
		return
	}

	var next domain.SessionState
	switch {
	case err != nil:
		next = domain.SessionState{Phase: domain.SessionDenied, Reason: domain.DenialLookupFailed}
	case profile == nil:
		next = domain.SessionState{Phase: domain.SessionDenied, Reason: domain.DenialProfileMissing}
	case profile.Status == domain.UserActive:
		next = domain.SessionState{Phase: domain.SessionAdmitted, Profile: profile}
	case profile.Status == domain.UserPending:
		next = domain.SessionState{Phase: domain.SessionDenied, Reason: domain.DenialPending}
	default:
		next = domain.SessionState{Phase: domain.SessionDenied, Reason: domain.DenialDisabled}
	}

	if next.Phase == domain.SessionDenied && sess.state.Phase != domain.SessionDenied {
		status := "missing"
		if profile != nil {
			status = string(profile.Status)
		} else if err != nil {
			status = "lookup_failed"
		}
		r.metrics.IncrSessionDenial(status)
		r.logger.Warn("session denied",
			zap.String("user_id", userID),
			zap.String("reason", next.Reason),
		)
	}
	if next.Phase == domain.SessionAdmitted && sess.state.Phase != domain.SessionAdmitted {
		r.logger.Info("session admitted", zap.String("user_id", userID))
	}

	sess.state = next
}
