package supabase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aftras/crm-api/internal/domain"
	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// DirectoryStore implementation — user profiles via PostgREST
// ============================================================

func (c *Client) ListUsers(ctx context.Context) ([]domain.UserProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListUsers")
	defer span.End()

	users, err := fetchList[domain.UserProfile](ctx, c, "user_profiles?order=created_at.desc")
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/users", Err: err}
	}
	return users, nil
}

func (c *Client) GetUser(ctx context.Context, userID string) (*domain.UserProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUser")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	user, err := fetchOne[domain.UserProfile](ctx, c, fmt.Sprintf("user_profiles?id=eq.%s&limit=1", userID))
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/users", Err: err}
	}
	if user == nil {
		return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
	}
	return user, nil
}

func (c *Client) GetUserByEmail(ctx context.Context, email string) (*domain.UserProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUserByEmail")
	defer span.End()

	// Not found is not an error here; login and registration both probe.
	user, err := fetchOne[domain.UserProfile](ctx, c, fmt.Sprintf("user_profiles?email=eq.%s&limit=1", email))
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/users", Err: err}
	}
	return user, nil
}

func (c *Client) CreateUser(ctx context.Context, user *domain.UserProfile) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateUser")
	defer span.End()

	data := map[string]any{
		"id":         user.ID,
		"first_name": user.FirstName,
		"last_name":  user.LastName,
		"email":      user.Email,
		"role":       string(user.Role),
		"status":     string(user.Status),
		"agent_code": user.AgentCode,
		"phone":      user.Phone,
		"created_at": user.CreatedAt.Format(time.RFC3339),
	}

	if _, err := c.doPost(ctx, "user_profiles", data); err != nil {
		return &domain.ErrExternalService{Service: "supabase/users", Err: err}
	}
	return nil
}

func (c *Client) UpdateUser(ctx context.Context, userID string, updates map[string]any) (*domain.UserProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateUser")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	path := fmt.Sprintf("user_profiles?id=eq.%s", userID)
	if err := c.doPatch(ctx, path, updates); err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/users", Err: err}
	}

	return c.GetUser(ctx, userID)
}

func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteUser")
	defer span.End()

	path := fmt.Sprintf("user_profiles?id=eq.%s", userID)
	if err := c.doDelete(ctx, path); err != nil {
		return &domain.ErrExternalService{Service: "supabase/users", Err: err}
	}
	return nil
}

// ============================================================
// ProfileWatcher implementation — polling subscription
// ============================================================

// WatchUser polls the user's profile row and pushes every observed change to
// onChange. The first poll fires immediately so subscribers get an initial
// snapshot. A missing row pushes (nil, nil); a failed lookup pushes the
// error. The returned stop func cancels the poll loop, waits for it to
// finish, and is safe to call more than once.
func (c *Client) WatchUser(ctx context.Context, userID string, onChange func(*domain.UserProfile, error)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(c.watchInterval)
		defer ticker.Stop()

		var last *domain.UserProfile
		var lastErr bool
		first := true

		for {
			profile, err := fetchOne[domain.UserProfile](ctx, c, fmt.Sprintf("user_profiles?id=eq.%s&limit=1", userID))
			if ctx.Err() != nil {
				return
			}

			switch {
			case err != nil:
				// Push lookup failures once per failure streak.
				if first || !lastErr {
					onChange(nil, &domain.ErrExternalService{Service: "supabase/users", Err: err})
				}
				lastErr = true
			case first || lastErr || !sameProfile(last, profile):
				onChange(profile, nil)
				last = profile
				lastErr = false
			}
			first = false

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func sameProfile(a, b *domain.UserProfile) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
