package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/aftras/crm-api/internal/domain"
	"github.com/aftras/crm-api/internal/infra/resilience"
	"go.opentelemetry.io/otel/attribute"
)

// Well-known single-row slots. Regenerating the access code or saving the
// settings overwrites the slot in place instead of accumulating rows.
const (
	accessCodeSlotID = "current"
	settingsSlotID   = "app_config"
)

// ============================================================
// CRMStore implementation — workflow entities via PostgREST
// ============================================================

// --- Prospects ---

func (c *Client) ListProspects(ctx context.Context) ([]domain.Prospect, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListProspects")
	defer span.End()

	var prospects []domain.Prospect

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			rows, err := fetchList[domain.Prospect](ctx, c, "prospects?order=created_at.desc")
			if err != nil {
				return err
			}
			prospects = rows
			return nil
		})
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/prospects", Err: err}
	}
	return prospects, nil
}

func (c *Client) ListProspectsByAgent(ctx context.Context, agentID string) ([]domain.Prospect, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListProspectsByAgent")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agentID))

	path := fmt.Sprintf("prospects?agent_id=eq.%s&order=created_at.desc", agentID)
	rows, err := fetchList[domain.Prospect](ctx, c, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/prospects", Err: err}
	}
	return rows, nil
}

func (c *Client) GetProspect(ctx context.Context, prospectID string) (*domain.Prospect, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProspect")
	defer span.End()

	row, err := fetchOne[domain.Prospect](ctx, c, fmt.Sprintf("prospects?id=eq.%s&limit=1", prospectID))
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/prospects", Err: err}
	}
	if row == nil {
		return nil, &domain.ErrNotFound{Resource: "prospect", ID: prospectID}
	}
	return row, nil
}

func (c *Client) CreateProspect(ctx context.Context, p *domain.Prospect) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateProspect")
	defer span.End()

	data := map[string]any{
		"id":                  p.ID,
		"agent_id":            p.AgentID,
		"full_name":           p.FullName,
		"company":             p.Company,
		"phone":               p.Phone,
		"country_code":        p.CountryCode,
		"country":             p.Country,
		"city":                p.City,
		"email":               p.Email,
		"source":              p.Source,
		"product_of_interest": p.ProductOfInterest,
		"details":             p.Details,
		"status":              string(p.Status),
		"created_at":          p.CreatedAt.Format(time.RFC3339),
	}

	if _, err := c.doPost(ctx, "prospects", data); err != nil {
		return &domain.ErrExternalService{Service: "supabase/prospects", Err: err}
	}
	return nil
}

func (c *Client) UpdateProspect(ctx context.Context, prospectID string, updates map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateProspect")
	defer span.End()

	path := fmt.Sprintf("prospects?id=eq.%s", prospectID)
	if err := c.doPatch(ctx, path, updates); err != nil {
		return &domain.ErrExternalService{Service: "supabase/prospects", Err: err}
	}
	return nil
}

func (c *Client) DeleteProspect(ctx context.Context, prospectID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteProspect")
	defer span.End()

	path := fmt.Sprintf("prospects?id=eq.%s", prospectID)
	if err := c.doDelete(ctx, path); err != nil {
		return &domain.ErrExternalService{Service: "supabase/prospects", Err: err}
	}
	return nil
}

// --- Remote prospects (public capture link) ---

func (c *Client) ListRemoteProspectsByAgent(ctx context.Context, agentID string) ([]domain.RemoteProspect, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListRemoteProspectsByAgent")
	defer span.End()

	path := fmt.Sprintf("remote_prospects?agent_id=eq.%s&order=created_at.desc", agentID)
	rows, err := fetchList[domain.RemoteProspect](ctx, c, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/remote_prospects", Err: err}
	}
	return rows, nil
}

func (c *Client) GetRemoteProspect(ctx context.Context, leadID string) (*domain.RemoteProspect, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetRemoteProspect")
	defer span.End()

	row, err := fetchOne[domain.RemoteProspect](ctx, c, fmt.Sprintf("remote_prospects?id=eq.%s&limit=1", leadID))
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/remote_prospects", Err: err}
	}
	if row == nil {
		return nil, &domain.ErrNotFound{Resource: "remote_prospect", ID: leadID}
	}
	return row, nil
}

func (c *Client) CreateRemoteProspect(ctx context.Context, lead *domain.RemoteProspect) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateRemoteProspect")
	defer span.End()

	data := map[string]any{
		"id":                  lead.ID,
		"agent_id":            lead.AgentID,
		"full_name":           lead.FullName,
		"company":             lead.Company,
		"phone":               lead.Phone,
		"country_code":        lead.CountryCode,
		"country":             lead.Country,
		"city":                lead.City,
		"email":               lead.Email,
		"source":              lead.Source,
		"product_of_interest": lead.ProductOfInterest,
		"details":             lead.Details,
		"is_verified":         lead.IsVerified,
		"created_at":          lead.CreatedAt.Format(time.RFC3339),
	}

	if _, err := c.doPost(ctx, "remote_prospects", data); err != nil {
		return &domain.ErrExternalService{Service: "supabase/remote_prospects", Err: err}
	}
	return nil
}

func (c *Client) DeleteRemoteProspect(ctx context.Context, leadID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteRemoteProspect")
	defer span.End()

	path := fmt.Sprintf("remote_prospects?id=eq.%s", leadID)
	if err := c.doDelete(ctx, path); err != nil {
		return &domain.ErrExternalService{Service: "supabase/remote_prospects", Err: err}
	}
	return nil
}

// --- Clients ---

func (c *Client) ListClients(ctx context.Context) ([]domain.Client, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListClients")
	defer span.End()

	var clients []domain.Client

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			rows, err := fetchList[domain.Client](ctx, c, "clients?order=created_at.desc")
			if err != nil {
				return err
			}
			clients = rows
			return nil
		})
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/clients", Err: err}
	}
	return clients, nil
}

func (c *Client) ListClientsByAgent(ctx context.Context, agentID string) ([]domain.Client, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListClientsByAgent")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agentID))

	path := fmt.Sprintf("clients?agent_id=eq.%s&order=created_at.desc", agentID)
	rows, err := fetchList[domain.Client](ctx, c, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/clients", Err: err}
	}
	return rows, nil
}

func (c *Client) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetClient")
	defer span.End()

	row, err := fetchOne[domain.Client](ctx, c, fmt.Sprintf("clients?id=eq.%s&limit=1", clientID))
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/clients", Err: err}
	}
	if row == nil {
		return nil, &domain.ErrNotFound{Resource: "client", ID: clientID}
	}
	return row, nil
}

func (c *Client) CreateClient(ctx context.Context, cl *domain.Client) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateClient")
	defer span.End()

	data := map[string]any{
		"id":          cl.ID,
		"agent_id":    cl.AgentID,
		"prospect_id": cl.ProspectID,
		"full_name":   cl.FullName,
		"company":     cl.Company,
		"email":       cl.Email,
		"phone":       cl.Phone,
		"country":     cl.Country,
		"product":     cl.Product,
		"status":      string(cl.Status),
		"created_at":  cl.CreatedAt.Format(time.RFC3339),
	}

	if _, err := c.doPost(ctx, "clients", data); err != nil {
		return &domain.ErrExternalService{Service: "supabase/clients", Err: err}
	}
	return nil
}

func (c *Client) UpdateClient(ctx context.Context, clientID string, updates map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateClient")
	defer span.End()

	path := fmt.Sprintf("clients?id=eq.%s", clientID)
	if err := c.doPatch(ctx, path, updates); err != nil {
		return &domain.ErrExternalService{Service: "supabase/clients", Err: err}
	}
	return nil
}

// --- Sales ---

func (c *Client) ListSales(ctx context.Context) ([]domain.Sale, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListSales")
	defer span.End()

	var sales []domain.Sale

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			rows, err := fetchList[domain.Sale](ctx, c, "sales?order=created_at.desc")
			if err != nil {
				return err
			}
			sales = rows
			return nil
		})
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/sales", Err: err}
	}
	return sales, nil
}

func (c *Client) ListSalesByAgent(ctx context.Context, agentID string) ([]domain.Sale, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListSalesByAgent")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agentID))

	path := fmt.Sprintf("sales?agent_id=eq.%s&order=created_at.desc", agentID)
	rows, err := fetchList[domain.Sale](ctx, c, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/sales", Err: err}
	}
	return rows, nil
}

func (c *Client) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetSale")
	defer span.End()

	row, err := fetchOne[domain.Sale](ctx, c, fmt.Sprintf("sales?id=eq.%s&limit=1", saleID))
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/sales", Err: err}
	}
	if row == nil {
		return nil, &domain.ErrNotFound{Resource: "sale", ID: saleID}
	}
	return row, nil
}

func (c *Client) CreateSale(ctx context.Context, s *domain.Sale) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateSale")
	defer span.End()

	data := map[string]any{
		"id":         s.ID,
		"client_id":  s.ClientID,
		"agent_id":   s.AgentID,
		"amount":     s.Amount,
		"profit":     s.Profit,
		"commission": s.Commission,
		"status":     string(s.Status),
		"created_at": s.CreatedAt.Format(time.RFC3339),
	}

	if _, err := c.doPost(ctx, "sales", data); err != nil {
		return &domain.ErrExternalService{Service: "supabase/sales", Err: err}
	}
	return nil
}

func (c *Client) UpdateSale(ctx context.Context, saleID string, updates map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateSale")
	defer span.End()

	path := fmt.Sprintf("sales?id=eq.%s", saleID)
	if err := c.doPatch(ctx, path, updates); err != nil {
		return &domain.ErrExternalService{Service: "supabase/sales", Err: err}
	}
	return nil
}

// --- Notifications ---

func (c *Client) ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListNotifications")
	defer span.End()

	path := fmt.Sprintf("notifications?user_id=eq.%s&order=created_at.desc&limit=100", userID)
	rows, err := fetchList[domain.Notification](ctx, c, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/notifications", Err: err}
	}
	return rows, nil
}

func (c *Client) CreateNotification(ctx context.Context, n *domain.Notification) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateNotification")
	defer span.End()

	data := map[string]any{
		"id":         n.ID,
		"user_id":    n.UserID,
		"title":      n.Title,
		"message":    n.Message,
		"type":       string(n.Type),
		"read":       n.Read,
		"created_at": n.CreatedAt.Format(time.RFC3339),
	}

	if _, err := c.doPost(ctx, "notifications", data); err != nil {
		return &domain.ErrExternalService{Service: "supabase/notifications", Err: err}
	}
	return nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, notifID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.MarkNotificationRead")
	defer span.End()

	path := fmt.Sprintf("notifications?id=eq.%s", notifID)
	if err := c.doPatch(ctx, path, map[string]any{"read": true}); err != nil {
		return &domain.ErrExternalService{Service: "supabase/notifications", Err: err}
	}
	return nil
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.MarkAllNotificationsRead")
	defer span.End()

	path := fmt.Sprintf("notifications?user_id=eq.%s&read=eq.false", userID)
	if err := c.doPatch(ctx, path, map[string]any{"read": true}); err != nil {
		return &domain.ErrExternalService{Service: "supabase/notifications", Err: err}
	}
	return nil
}

// --- Access code (single well-known slot) ---

func (c *Client) GetAccessCode(ctx context.Context) (*domain.AccessCode, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetAccessCode")
	defer span.End()

	row, err := fetchOne[domain.AccessCode](ctx, c, fmt.Sprintf("access_codes?id=eq.%s&limit=1", accessCodeSlotID))
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/access_codes", Err: err}
	}
	return row, nil
}

func (c *Client) UpsertAccessCode(ctx context.Context, code *domain.AccessCode) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertAccessCode")
	defer span.End()

	data := map[string]any{
		"id":         accessCodeSlotID,
		"code":       code.Code,
		"expires_at": code.ExpiresAt.Format(time.RFC3339),
		"is_active":  code.IsActive,
	}

	if _, err := c.doUpsert(ctx, "access_codes?on_conflict=id", data); err != nil {
		return &domain.ErrExternalService{Service: "supabase/access_codes", Err: err}
	}
	return nil
}

// --- App settings (single well-known slot) ---

func (c *Client) GetSettings(ctx context.Context) (*domain.AppSettings, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetSettings")
	defer span.End()

	row, err := fetchOne[domain.AppSettings](ctx, c, fmt.Sprintf("app_settings?id=eq.%s&limit=1", settingsSlotID))
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/app_settings", Err: err}
	}
	return row, nil
}

func (c *Client) UpsertSettings(ctx context.Context, updates map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertSettings")
	defer span.End()

	data := map[string]any{"id": settingsSlotID}
	for k, v := range updates {
		data[k] = v
	}

	if _, err := c.doUpsert(ctx, "app_settings?on_conflict=id", data); err != nil {
		return &domain.ErrExternalService{Service: "supabase/app_settings", Err: err}
	}
	return nil
}
