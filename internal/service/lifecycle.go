package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aftras/crm-api/internal/domain"
	"github.com/aftras/crm-api/internal/infra/observability"
	"github.com/aftras/crm-api/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var lifecycleTracer = otel.Tracer("service/lifecycle")

// LifecycleService drives the Prospect → Client → Sale → Commission chain.
// Transitions are one-way: a converted prospect never reverts, a cancelled
// client stays cancelled, a paid commission stays paid. Financial figures
// are always derived server-side from the revenue amount and real cost.
type LifecycleService struct {
	store   port.CRMStore
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewLifecycleService creates a new lifecycle service.
func NewLifecycleService(store port.CRMStore, metrics *observability.Metrics, logger *zap.Logger) *LifecycleService {
	return &LifecycleService{store: store, metrics: metrics, logger: logger}
}

// ============================================================
// Prospects
// ============================================================

// ListProspects returns all prospects for roles with full visibility, and
// the viewer's own portfolio otherwise.
func (s *LifecycleService) ListProspects(ctx context.Context, viewerID string, role domain.UserRole) ([]domain.Prospect, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.ListProspects")
	defer span.End()

	if domain.Can(role, domain.CapViewAll) {
		return s.store.ListProspects(ctx)
	}
	return s.store.ListProspectsByAgent(ctx, viewerID)
}

func (s *LifecycleService) GetProspect(ctx context.Context, prospectID string) (*domain.Prospect, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.GetProspect")
	defer span.End()

	return s.store.GetProspect(ctx, prospectID)
}

// CreateProspect registers a new lead for an agent. The prospect always
// starts pending regardless of caller input.
func (s *LifecycleService) CreateProspect(ctx context.Context, agentID string, req *domain.ProspectRequest) (*domain.Prospect, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.CreateProspect")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agentID))

	if err := validateProspectFields(req.FullName, req.Phone); err != nil {
		return nil, err
	}

	p := &domain.Prospect{
		ID:                uuid.New().String(),
		AgentID:           agentID,
		FullName:          strings.TrimSpace(req.FullName),
		Company:           req.Company,
		Phone:             req.Phone,
		CountryCode:       req.CountryCode,
		Country:           req.Country,
		City:              req.City,
		Email:             req.Email,
		Source:            req.Source,
		ProductOfInterest: req.ProductOfInterest,
		Details:           req.Details,
		Status:            domain.ProspectPending,
		CreatedAt:         time.Now(),
	}
	if err := s.store.CreateProspect(ctx, p); err != nil {
		return nil, err
	}

	s.metrics.IncrLifecycleEvent("prospect", "created")
	s.logger.Info("prospect created",
		zap.String("prospect_id", p.ID),
		zap.String("agent_id", agentID),
	)
	return p, nil
}

// UpdateProspect edits the caller-editable fields. Status is not editable
// through this path.
func (s *LifecycleService) UpdateProspect(ctx context.Context, prospectID string, req *domain.ProspectRequest) (*domain.Prospect, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.UpdateProspect")
	defer span.End()

	p, err := s.store.GetProspect(ctx, prospectID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.ProspectPending {
		return nil, &domain.ErrInvalidTransition{Entity: "prospect", From: string(p.Status), Action: "update"}
	}

	updates := map[string]any{}
	if req.FullName != "" {
		updates["full_name"] = strings.TrimSpace(req.FullName)
	}
	if req.Company != "" {
		updates["company"] = req.Company
	}
	if req.Phone != "" {
		updates["phone"] = req.Phone
	}
	if req.CountryCode != "" {
		updates["country_code"] = req.CountryCode
	}
	if req.Country != "" {
		updates["country"] = req.Country
	}
	if req.City != "" {
		updates["city"] = req.City
	}
	if req.Email != "" {
		updates["email"] = req.Email
	}
	if req.Source != "" {
		updates["source"] = req.Source
	}
	if req.ProductOfInterest != "" {
		updates["product_of_interest"] = req.ProductOfInterest
	}
	if req.Details != "" {
		updates["details"] = req.Details
	}
	if len(updates) == 0 {
		return nil, &domain.ErrValidation{Field: "body", Message: "Aucun champ à mettre à jour"}
	}

	if err := s.store.UpdateProspect(ctx, prospectID, updates); err != nil {
		return nil, err
	}
	return s.store.GetProspect(ctx, prospectID)
}

// DeleteProspect removes a pending prospect. Once converted, the prospect
// is the client's provenance record and can no longer be deleted.
func (s *LifecycleService) DeleteProspect(ctx context.Context, prospectID string) error {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.DeleteProspect")
	defer span.End()

	p, err := s.store.GetProspect(ctx, prospectID)
	if err != nil {
		return err
	}
	if p.Status != domain.ProspectPending {
		return &domain.ErrInvalidTransition{Entity: "prospect", From: string(p.Status), Action: "delete"}
	}
	return s.store.DeleteProspect(ctx, prospectID)
}

// ConvertProspect promotes a pending prospect into a client. The guard makes
// the operation single-shot: converting an already-converted prospect fails
// instead of minting a duplicate client.
func (s *LifecycleService) ConvertProspect(ctx context.Context, prospectID string) (*domain.Client, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.ConvertProspect")
	defer span.End()
	span.SetAttributes(attribute.String("prospect.id", prospectID))

	p, err := s.store.GetProspect(ctx, prospectID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.ProspectPending {
		return nil, &domain.ErrInvalidTransition{Entity: "prospect", From: string(p.Status), Action: "convert"}
	}

	client := &domain.Client{
		ID:         uuid.New().String(),
		AgentID:    p.AgentID,
		ProspectID: p.ID,
		FullName:   p.FullName,
		Company:    p.Company,
		Email:      p.Email,
		Phone:      p.CountryCode + p.Phone,
		Country:    p.Country,
		Product:    p.ProductOfInterest,
		Status:     domain.ClientPending,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateClient(ctx, client); err != nil {
		return nil, err
	}
	if err := s.store.UpdateProspect(ctx, prospectID, map[string]any{
		"status": string(domain.ProspectConverted),
	}); err != nil {
		return nil, err
	}

	s.notify(ctx, p.AgentID, "Nouveau client", fmt.Sprintf("Le prospect %s est devenu client", p.FullName), domain.NotifUser)

	s.metrics.IncrLifecycleEvent("prospect", "converted")
	s.logger.Info("prospect converted",
		zap.String("prospect_id", prospectID),
		zap.String("client_id", client.ID),
	)
	return client, nil
}

// ============================================================
// Remote leads (public capture link)
// ============================================================

// CaptureLead records an unvalidated lead submitted through an agent's
// public link and alerts the agent.
func (s *LifecycleService) CaptureLead(ctx context.Context, req *domain.CaptureLeadRequest) (*domain.RemoteProspect, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.CaptureLead")
	defer span.End()

	if req.AgentID == "" {
		return nil, &domain.ErrValidation{Field: "agentId", Message: "Lien de capture invalide"}
	}
	if err := validateProspectFields(req.FullName, req.Phone); err != nil {
		return nil, err
	}

	lead := &domain.RemoteProspect{
		ID:                uuid.New().String(),
		AgentID:           req.AgentID,
		FullName:          strings.TrimSpace(req.FullName),
		Company:           req.Company,
		Phone:             req.Phone,
		CountryCode:       req.CountryCode,
		Country:           req.Country,
		City:              req.City,
		Email:             req.Email,
		Source:            "remote",
		ProductOfInterest: req.ProductOfInterest,
		Details:           req.Details,
		IsVerified:        false,
		CreatedAt:         time.Now(),
	}
	if err := s.store.CreateRemoteProspect(ctx, lead); err != nil {
		return nil, err
	}

	s.notify(ctx, req.AgentID, "Nouveau prospect distant", fmt.Sprintf("%s a rempli votre formulaire de capture", lead.FullName), domain.NotifLead)

	s.metrics.IncrLifecycleEvent("lead", "captured")
	s.logger.Info("remote lead captured",
		zap.String("lead_id", lead.ID),
		zap.String("agent_id", req.AgentID),
	)
	return lead, nil
}

func (s *LifecycleService) ListRemoteLeads(ctx context.Context, agentID string) ([]domain.RemoteProspect, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.ListRemoteLeads")
	defer span.End()

	return s.store.ListRemoteProspectsByAgent(ctx, agentID)
}

// ConfirmLead validates a remote lead into a real prospect. The remote
// record is removed so the lead exists exactly once.
func (s *LifecycleService) ConfirmLead(ctx context.Context, leadID string) (*domain.Prospect, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.ConfirmLead")
	defer span.End()

	lead, err := s.store.GetRemoteProspect(ctx, leadID)
	if err != nil {
		return nil, err
	}

	p := &domain.Prospect{
		ID:                uuid.New().String(),
		AgentID:           lead.AgentID,
		FullName:          lead.FullName,
		Company:           lead.Company,
		Phone:             lead.Phone,
		CountryCode:       lead.CountryCode,
		Country:           lead.Country,
		City:              lead.City,
		Email:             lead.Email,
		Source:            lead.Source,
		ProductOfInterest: lead.ProductOfInterest,
		Details:           lead.Details,
		Status:            domain.ProspectPending,
		CreatedAt:         time.Now(),
	}
	if err := s.store.CreateProspect(ctx, p); err != nil {
		return nil, err
	}
	if err := s.store.DeleteRemoteProspect(ctx, leadID); err != nil {
		return nil, err
	}

	s.metrics.IncrLifecycleEvent("lead", "confirmed")
	s.logger.Info("remote lead confirmed",
		zap.String("lead_id", leadID),
		zap.String("prospect_id", p.ID),
	)
	return p, nil
}

// DiscardLead drops a remote lead that the agent judged not worth pursuing.
func (s *LifecycleService) DiscardLead(ctx context.Context, leadID string) error {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.DiscardLead")
	defer span.End()

	if _, err := s.store.GetRemoteProspect(ctx, leadID); err != nil {
		return err
	}
	return s.store.DeleteRemoteProspect(ctx, leadID)
}

// ============================================================
// Clients
// ============================================================

// ListClients returns clients scoped by visibility. Cancelled clients are
// excluded from every listing regardless of role; the records remain
// readable individually via GetClient.
func (s *LifecycleService) ListClients(ctx context.Context, viewerID string, role domain.UserRole) ([]domain.Client, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.ListClients")
	defer span.End()

	var clients []domain.Client
	var err error
	if domain.Can(role, domain.CapViewAll) {
		clients, err = s.store.ListClients(ctx)
	} else {
		clients, err = s.store.ListClientsByAgent(ctx, viewerID)
	}
	if err != nil {
		return nil, err
	}

	active := make([]domain.Client, 0, len(clients))
	for _, c := range clients {
		if c.Status != domain.ClientCancelled {
			active = append(active, c)
		}
	}
	return active, nil
}

func (s *LifecycleService) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.GetClient")
	defer span.End()

	return s.store.GetClient(ctx, clientID)
}

// CancelClient marks the client cancelled with a mandatory reason and
// alerts the owning agent. The record is kept; nothing is deleted.
func (s *LifecycleService) CancelClient(ctx context.Context, clientID, reason string) error {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.CancelClient")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID))

	if strings.TrimSpace(reason) == "" {
		return &domain.ErrValidation{Field: "reason", Message: "Le motif d'annulation est obligatoire"}
	}

	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	if client.Status == domain.ClientCancelled {
		return &domain.ErrInvalidTransition{Entity: "client", From: string(client.Status), Action: "cancel"}
	}

	if err := s.store.UpdateClient(ctx, clientID, map[string]any{
		"status":          string(domain.ClientCancelled),
		"deletion_reason": reason,
	}); err != nil {
		return err
	}

	// The agent alert is part of the cancellation contract. The client is
	// already marked cancelled at this point, so a delivery failure is
	// surfaced as a partial failure instead of being swallowed.
	if err := s.createNotification(ctx, client.AgentID, "Client annulé", fmt.Sprintf("Le client %s a été annulé. Motif : %s", client.FullName, reason), domain.NotifAlert); err != nil {
		s.logger.Error("client cancelled but agent alert failed",
			zap.String("client_id", clientID),
			zap.String("agent_id", client.AgentID),
			zap.Error(err),
		)
		return fmt.Errorf("notification de l'agent: %w", err)
	}

	s.metrics.IncrLifecycleEvent("client", "cancelled")
	s.logger.Info("client cancelled",
		zap.String("client_id", clientID),
		zap.String("agent_id", client.AgentID),
	)
	return nil
}

// ============================================================
// Sales & commissions
// ============================================================

// ConcludeSale records a sale for a pending client. Profit and commission
// are derived here; the client flips to SALE_CONCLUDED exactly once, so a
// second sale against the same client is rejected.
func (s *LifecycleService) ConcludeSale(ctx context.Context, req *domain.ConcludeSaleRequest) (*domain.Sale, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.ConcludeSale")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", req.ClientID))

	if req.Amount <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "Le montant doit être positif"}
	}
	if req.RealCost < 0 {
		return nil, &domain.ErrValidation{Field: "realCost", Message: "Le coût réel ne peut pas être négatif"}
	}

	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if client.Status != domain.ClientPending {
		return nil, &domain.ErrInvalidTransition{Entity: "client", From: string(client.Status), Action: "conclude sale"}
	}

	profit, commission := domain.DeriveFinancials(req.Amount, req.RealCost)
	sale := &domain.Sale{
		ID:         uuid.New().String(),
		ClientID:   client.ID,
		AgentID:    client.AgentID,
		Amount:     req.Amount,
		Profit:     profit,
		Commission: commission,
		Status:     domain.SalePending,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateSale(ctx, sale); err != nil {
		return nil, err
	}
	if err := s.store.UpdateClient(ctx, client.ID, map[string]any{
		"status": string(domain.ClientSaleConcluded),
	}); err != nil {
		return nil, err
	}

	s.notify(ctx, client.AgentID, "Vente conclue", fmt.Sprintf("Vente conclue pour %s. Votre commission : %.0f", client.FullName, commission), domain.NotifCash)

	s.metrics.IncrLifecycleEvent("sale", "concluded")
	s.logger.Info("sale concluded",
		zap.String("sale_id", sale.ID),
		zap.String("client_id", client.ID),
		zap.Float64("amount", sale.Amount),
		zap.Float64("commission", sale.Commission),
	)
	return sale, nil
}

// CorrectSale re-derives the figures of a pending sale from corrected
// inputs. Settled sales are immutable.
func (s *LifecycleService) CorrectSale(ctx context.Context, saleID string, req *domain.CorrectSaleRequest) (*domain.Sale, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.CorrectSale")
	defer span.End()
	span.SetAttributes(attribute.String("sale.id", saleID))

	if req.Amount <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "Le montant doit être positif"}
	}
	if req.RealCost < 0 {
		return nil, &domain.ErrValidation{Field: "realCost", Message: "Le coût réel ne peut pas être négatif"}
	}

	sale, err := s.store.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status == domain.SalePaid {
		return nil, &domain.ErrInvalidTransition{Entity: "sale", From: string(sale.Status), Action: "correct"}
	}

	profit, commission := domain.DeriveFinancials(req.Amount, req.RealCost)
	if err := s.store.UpdateSale(ctx, saleID, map[string]any{
		"amount":     req.Amount,
		"profit":     profit,
		"commission": commission,
	}); err != nil {
		return nil, err
	}

	sale.Amount = req.Amount
	sale.Profit = profit
	sale.Commission = commission

	s.metrics.IncrLifecycleEvent("sale", "corrected")
	s.logger.Info("sale corrected",
		zap.String("sale_id", saleID),
		zap.Float64("amount", sale.Amount),
		zap.Float64("commission", sale.Commission),
	)
	return sale, nil
}

// SettleCommission pays out a pending commission. One-way: a paid sale
// cannot be settled again or reverted.
func (s *LifecycleService) SettleCommission(ctx context.Context, saleID string) (*domain.Sale, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.SettleCommission")
	defer span.End()
	span.SetAttributes(attribute.String("sale.id", saleID))

	sale, err := s.store.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status == domain.SalePaid {
		return nil, &domain.ErrInvalidTransition{Entity: "sale", From: string(sale.Status), Action: "settle"}
	}

	if err := s.store.UpdateSale(ctx, saleID, map[string]any{
		"status": string(domain.SalePaid),
	}); err != nil {
		return nil, err
	}
	sale.Status = domain.SalePaid

	s.notify(ctx, sale.AgentID, "Commission payée", fmt.Sprintf("Votre commission de %.0f a été payée", sale.Commission), domain.NotifCash)

	s.metrics.IncrLifecycleEvent("sale", "settled")
	s.logger.Info("commission settled",
		zap.String("sale_id", saleID),
		zap.String("agent_id", sale.AgentID),
		zap.Float64("commission", sale.Commission),
	)
	return sale, nil
}

// ListSales returns sales scoped by visibility, joined with the client
// display name. The two reads run concurrently.
func (s *LifecycleService) ListSales(ctx context.Context, viewerID string, role domain.UserRole) ([]domain.SaleWithClient, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.ListSales")
	defer span.End()

	var (
		sales   []domain.Sale
		clients []domain.Client
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if domain.Can(role, domain.CapViewAll) {
			sales, err = s.store.ListSales(gctx)
		} else {
			sales, err = s.store.ListSalesByAgent(gctx, viewerID)
		}
		return err
	})
	g.Go(func() error {
		var err error
		if domain.Can(role, domain.CapViewAll) {
			clients, err = s.store.ListClients(gctx)
		} else {
			clients, err = s.store.ListClientsByAgent(gctx, viewerID)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(clients))
	for _, c := range clients {
		names[c.ID] = c.FullName
	}

	out := make([]domain.SaleWithClient, 0, len(sales))
	for _, sale := range sales {
		out = append(out, domain.SaleWithClient{
			Sale:       sale,
			ClientName: names[sale.ClientID],
		})
	}
	return out, nil
}

// ============================================================
// Notifications
// ============================================================

func (s *LifecycleService) ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.ListNotifications")
	defer span.End()

	return s.store.ListNotifications(ctx, userID)
}

func (s *LifecycleService) MarkNotificationRead(ctx context.Context, notifID string) error {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.MarkNotificationRead")
	defer span.End()

	return s.store.MarkNotificationRead(ctx, notifID)
}

func (s *LifecycleService) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.MarkAllNotificationsRead")
	defer span.End()

	return s.store.MarkAllNotificationsRead(ctx, userID)
}

// notify sends a best-effort notification for informational events.
// Delivery failures are logged and never fail the triggering operation.
func (s *LifecycleService) notify(ctx context.Context, userID, title, message string, kind domain.NotificationType) {
	if err := s.createNotification(ctx, userID, title, message, kind); err != nil {
		s.logger.Warn("notification delivery failed",
			zap.String("user_id", userID),
			zap.String("title", title),
			zap.Error(err),
		)
	}
}

func (s *LifecycleService) createNotification(ctx context.Context, userID, title, message string, kind domain.NotificationType) error {
	n := &domain.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      kind,
		Read:      false,
		CreatedAt: time.Now(),
	}
	return s.store.CreateNotification(ctx, n)
}

func validateProspectFields(fullName, phone string) error {
	if strings.TrimSpace(fullName) == "" {
		return &domain.ErrValidation{Field: "fullName", Message: "Le nom complet est obligatoire"}
	}
	if strings.TrimSpace(phone) == "" {
		return &domain.ErrValidation{Field: "phone", Message: "Le numéro de téléphone est obligatoire"}
	}
	return nil
}
