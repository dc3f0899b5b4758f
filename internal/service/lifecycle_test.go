package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aftras/crm-api/internal/domain"
	"github.com/aftras/crm-api/internal/infra/observability"
	"github.com/aftras/crm-api/internal/service"

	"go.uber.org/zap"
)

func newLifecycleService(store *fakeCRMStore) *service.LifecycleService {
	return service.NewLifecycleService(store, observability.NewMetrics(), zap.NewNop())
}

func seedProspect(store *fakeCRMStore, id, agentID string, status domain.ProspectStatus) {
	store.CreateProspect(context.Background(), &domain.Prospect{
		ID:                id,
		AgentID:           agentID,
		FullName:          "Amadou Diallo",
		Phone:             "70123456",
		CountryCode:       "+226",
		Country:           "Burkina Faso",
		City:              "Ouagadougou",
		Email:             "amadou@example.com",
		ProductOfInterest: "Assurance auto",
		Status:            status,
	})
}

func seedClient(store *fakeCRMStore, id, agentID string, status domain.ClientStatus) {
	store.CreateClient(context.Background(), &domain.Client{
		ID:       id,
		AgentID:  agentID,
		FullName: "Awa Ouédraogo",
		Status:   status,
	})
}

// --- Conversion ---

func TestConvertProspect_Success(t *testing.T) {
	store := newFakeCRMStore()
	seedProspect(store, "p-1", "agent-1", domain.ProspectPending)
	svc := newLifecycleService(store)

	client, err := svc.ConvertProspect(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if client.Status != domain.ClientPending {
		t.Errorf("expected client status PENDING, got %s", client.Status)
	}
	if client.ProspectID != "p-1" {
		t.Errorf("expected prospect back-reference 'p-1', got '%s'", client.ProspectID)
	}
	if client.Phone != "+22670123456" {
		t.Errorf("expected composed phone '+22670123456', got '%s'", client.Phone)
	}
	if client.Product != "Assurance auto" {
		t.Errorf("expected product 'Assurance auto', got '%s'", client.Product)
	}

	p, _ := store.GetProspect(context.Background(), "p-1")
	if p.Status != domain.ProspectConverted {
		t.Errorf("expected prospect status CONVERTED, got %s", p.Status)
	}
}

func TestConvertProspect_SecondConvertRejected(t *testing.T) {
	store := newFakeCRMStore()
	seedProspect(store, "p-1", "agent-1", domain.ProspectPending)
	svc := newLifecycleService(store)

	if _, err := svc.ConvertProspect(context.Background(), "p-1"); err != nil {
		t.Fatalf("first convert: expected no error, got %v", err)
	}

	_, err := svc.ConvertProspect(context.Background(), "p-1")
	if err == nil {
		t.Fatal("expected error on second convert, got nil")
	}
	if _, ok := err.(*domain.ErrInvalidTransition); !ok {
		t.Errorf("expected ErrInvalidTransition, got %T", err)
	}

	clients, _ := store.ListClients(context.Background())
	if len(clients) != 1 {
		t.Errorf("expected exactly 1 client, got %d", len(clients))
	}
}

func TestUpdateProspect_ConvertedIsImmutable(t *testing.T) {
	store := newFakeCRMStore()
	seedProspect(store, "p-1", "agent-1", domain.ProspectConverted)
	svc := newLifecycleService(store)

	_, err := svc.UpdateProspect(context.Background(), "p-1", &domain.ProspectRequest{City: "Bobo-Dioulasso"})
	if err == nil {
		t.Fatal("expected error updating converted prospect, got nil")
	}
	if _, ok := err.(*domain.ErrInvalidTransition); !ok {
		t.Errorf("expected ErrInvalidTransition, got %T", err)
	}

	p, _ := store.GetProspect(context.Background(), "p-1")
	if p.City != "Ouagadougou" {
		t.Errorf("expected city unchanged, got '%s'", p.City)
	}
}

func TestDeleteProspect_ConvertedRejected(t *testing.T) {
	store := newFakeCRMStore()
	seedProspect(store, "p-1", "agent-1", domain.ProspectConverted)
	svc := newLifecycleService(store)

	err := svc.DeleteProspect(context.Background(), "p-1")
	if err == nil {
		t.Fatal("expected error deleting converted prospect, got nil")
	}
	if _, ok := err.(*domain.ErrInvalidTransition); !ok {
		t.Errorf("expected ErrInvalidTransition, got %T", err)
	}

	if _, err := store.GetProspect(context.Background(), "p-1"); err != nil {
		t.Errorf("expected prospect to survive, got %v", err)
	}
}

func TestDeleteProspect_PendingAllowed(t *testing.T) {
	store := newFakeCRMStore()
	seedProspect(store, "p-1", "agent-1", domain.ProspectPending)
	svc := newLifecycleService(store)

	if err := svc.DeleteProspect(context.Background(), "p-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := store.GetProspect(context.Background(), "p-1"); err == nil {
		t.Error("expected prospect to be gone")
	}
}

// --- Sales ---

func TestConcludeSale_DerivesFinancials(t *testing.T) {
	store := newFakeCRMStore()
	seedClient(store, "c-1", "agent-1", domain.ClientPending)
	svc := newLifecycleService(store)

	sale, err := svc.ConcludeSale(context.Background(), &domain.ConcludeSaleRequest{
		ClientID: "c-1",
		Amount:   500000,
		RealCost: 350000,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if sale.Profit != 150000 {
		t.Errorf("expected profit 150000, got %f", sale.Profit)
	}
	if sale.Commission != 22500 {
		t.Errorf("expected commission 22500, got %f", sale.Commission)
	}
	if sale.Status != domain.SalePending {
		t.Errorf("expected sale status PENDING, got %s", sale.Status)
	}

	c, _ := store.GetClient(context.Background(), "c-1")
	if c.Status != domain.ClientSaleConcluded {
		t.Errorf("expected client status SALE_CONCLUDED, got %s", c.Status)
	}
}

func TestConcludeSale_SecondSaleRejected(t *testing.T) {
	store := newFakeCRMStore()
	seedClient(store, "c-1", "agent-1", domain.ClientPending)
	svc := newLifecycleService(store)

	req := &domain.ConcludeSaleRequest{ClientID: "c-1", Amount: 500000, RealCost: 350000}
	if _, err := svc.ConcludeSale(context.Background(), req); err != nil {
		t.Fatalf("first sale: expected no error, got %v", err)
	}

	_, err := svc.ConcludeSale(context.Background(), req)
	if err == nil {
		t.Fatal("expected error on second sale for same client, got nil")
	}
	if _, ok := err.(*domain.ErrInvalidTransition); !ok {
		t.Errorf("expected ErrInvalidTransition, got %T", err)
	}
}

func TestConcludeSale_InvalidAmounts(t *testing.T) {
	store := newFakeCRMStore()
	seedClient(store, "c-1", "agent-1", domain.ClientPending)
	svc := newLifecycleService(store)

	_, err := svc.ConcludeSale(context.Background(), &domain.ConcludeSaleRequest{ClientID: "c-1", Amount: 0, RealCost: 100})
	if err == nil {
		t.Fatal("expected error for zero amount, got nil")
	}

	_, err = svc.ConcludeSale(context.Background(), &domain.ConcludeSaleRequest{ClientID: "c-1", Amount: 1000, RealCost: -1})
	if err == nil {
		t.Fatal("expected error for negative real cost, got nil")
	}
}

func TestCorrectSale_Rederives(t *testing.T) {
	store := newFakeCRMStore()
	seedClient(store, "c-1", "agent-1", domain.ClientPending)
	svc := newLifecycleService(store)

	sale, err := svc.ConcludeSale(context.Background(), &domain.ConcludeSaleRequest{ClientID: "c-1", Amount: 500000, RealCost: 350000})
	if err != nil {
		t.Fatalf("conclude: expected no error, got %v", err)
	}

	corrected, err := svc.CorrectSale(context.Background(), sale.ID, &domain.CorrectSaleRequest{Amount: 600000, RealCost: 350000})
	if err != nil {
		t.Fatalf("correct: expected no error, got %v", err)
	}
	if corrected.Profit != 250000 {
		t.Errorf("expected profit 250000, got %f", corrected.Profit)
	}
	if corrected.Commission != 37500 {
		t.Errorf("expected commission 37500, got %f", corrected.Commission)
	}
}

func TestCorrectSale_PaidIsImmutable(t *testing.T) {
	store := newFakeCRMStore()
	seedClient(store, "c-1", "agent-1", domain.ClientPending)
	svc := newLifecycleService(store)

	sale, _ := svc.ConcludeSale(context.Background(), &domain.ConcludeSaleRequest{ClientID: "c-1", Amount: 500000, RealCost: 350000})
	if _, err := svc.SettleCommission(context.Background(), sale.ID); err != nil {
		t.Fatalf("settle: expected no error, got %v", err)
	}

	_, err := svc.CorrectSale(context.Background(), sale.ID, &domain.CorrectSaleRequest{Amount: 1, RealCost: 0})
	if err == nil {
		t.Fatal("expected error correcting a paid sale, got nil")
	}
}

func TestSettleCommission_OneWay(t *testing.T) {
	store := newFakeCRMStore()
	seedClient(store, "c-1", "agent-1", domain.ClientPending)
	svc := newLifecycleService(store)

	sale, _ := svc.ConcludeSale(context.Background(), &domain.ConcludeSaleRequest{ClientID: "c-1", Amount: 500000, RealCost: 350000})

	settled, err := svc.SettleCommission(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if settled.Status != domain.SalePaid {
		t.Errorf("expected status PAID, got %s", settled.Status)
	}

	if _, err := svc.SettleCommission(context.Background(), sale.ID); err == nil {
		t.Fatal("expected error on second settle, got nil")
	}
}

// --- Clients ---

func TestCancelClient_RequiresReason(t *testing.T) {
	store := newFakeCRMStore()
	seedClient(store, "c-1", "agent-1", domain.ClientPending)
	svc := newLifecycleService(store)

	if err := svc.CancelClient(context.Background(), "c-1", "  "); err == nil {
		t.Fatal("expected error for blank reason, got nil")
	}
}

func TestCancelClient_KeepsRecordAndAlertsAgent(t *testing.T) {
	store := newFakeCRMStore()
	seedClient(store, "c-1", "agent-1", domain.ClientPending)
	svc := newLifecycleService(store)

	if err := svc.CancelClient(context.Background(), "c-1", "Contrat résilié"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	c, _ := store.GetClient(context.Background(), "c-1")
	if c.Status != domain.ClientCancelled {
		t.Errorf("expected status CANCELLED, got %s", c.Status)
	}
	if c.DeletionReason != "Contrat résilié" {
		t.Errorf("expected reason kept on record, got '%s'", c.DeletionReason)
	}

	alerts := store.notificationsOfType(domain.NotifAlert)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert notification, got %d", len(alerts))
	}
	if alerts[0].UserID != "agent-1" {
		t.Errorf("expected alert for agent-1, got %s", alerts[0].UserID)
	}

	// Terminal: a second cancel is rejected.
	if err := svc.CancelClient(context.Background(), "c-1", "encore"); err == nil {
		t.Fatal("expected error on double cancel, got nil")
	}
}

func TestCancelClient_AlertFailureSurfaced(t *testing.T) {
	store := newFakeCRMStore()
	seedClient(store, "c-1", "agent-1", domain.ClientPending)
	store.failNotify = true
	svc := newLifecycleService(store)

	err := svc.CancelClient(context.Background(), "c-1", "Contrat résilié")
	if err == nil {
		t.Fatal("expected error when agent alert cannot be delivered, got nil")
	}
	var external *domain.ErrExternalService
	if !errors.As(err, &external) {
		t.Errorf("expected wrapped ErrExternalService, got %v", err)
	}

	// Partial failure: the cancellation itself has taken effect.
	c, _ := store.GetClient(context.Background(), "c-1")
	if c.Status != domain.ClientCancelled {
		t.Errorf("expected status CANCELLED, got %s", c.Status)
	}
}

func TestListClients_CancelledExcludedForEveryRole(t *testing.T) {
	store := newFakeCRMStore()
	seedClient(store, "c-1", "agent-1", domain.ClientPending)
	seedClient(store, "c-2", "agent-1", domain.ClientCancelled)
	seedClient(store, "c-3", "agent-2", domain.ClientPending)
	svc := newLifecycleService(store)

	clients, err := svc.ListClients(context.Background(), "agent-1", domain.RoleAgent)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(clients) != 1 {
		t.Fatalf("expected 1 client, got %d", len(clients))
	}
	if clients[0].ID != "c-1" {
		t.Errorf("expected client c-1, got %s", clients[0].ID)
	}

	for _, role := range []domain.UserRole{domain.RoleAdmin, domain.RoleSupervisor} {
		all, err := svc.ListClients(context.Background(), "viewer-1", role)
		if err != nil {
			t.Fatalf("%s: expected no error, got %v", role, err)
		}
		if len(all) != 2 {
			t.Fatalf("%s: expected 2 clients, got %d", role, len(all))
		}
		for _, c := range all {
			if c.Status == domain.ClientCancelled {
				t.Errorf("%s: listing contains cancelled client %s", role, c.ID)
			}
		}
	}

	// The record itself is kept and stays readable by id.
	cancelled, err := svc.GetClient(context.Background(), "c-2")
	if err != nil {
		t.Fatalf("expected cancelled client readable, got %v", err)
	}
	if cancelled.Status != domain.ClientCancelled {
		t.Errorf("expected status CANCELLED, got %s", cancelled.Status)
	}
}

// --- Remote leads ---

func TestConfirmLead_MaterializesProspectOnce(t *testing.T) {
	store := newFakeCRMStore()
	store.CreateRemoteProspect(context.Background(), &domain.RemoteProspect{
		ID:       "l-1",
		AgentID:  "agent-1",
		FullName: "Moussa Kaboré",
		Phone:    "76000000",
		Source:   "remote",
	})
	svc := newLifecycleService(store)

	p, err := svc.ConfirmLead(context.Background(), "l-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.Status != domain.ProspectPending {
		t.Errorf("expected prospect status PENDING, got %s", p.Status)
	}
	if p.AgentID != "agent-1" {
		t.Errorf("expected owner agent-1, got %s", p.AgentID)
	}

	// The remote record is gone; confirming again fails.
	if _, err := svc.ConfirmLead(context.Background(), "l-1"); err == nil {
		t.Fatal("expected error confirming a consumed lead, got nil")
	}
}

func TestCaptureLead_RequiresAgentLink(t *testing.T) {
	store := newFakeCRMStore()
	svc := newLifecycleService(store)

	_, err := svc.CaptureLead(context.Background(), &domain.CaptureLeadRequest{
		FullName: "Sans Agent",
		Phone:    "70000000",
	})
	if err == nil {
		t.Fatal("expected error for missing agent id, got nil")
	}
}

func TestCaptureLead_NotifiesAgent(t *testing.T) {
	store := newFakeCRMStore()
	svc := newLifecycleService(store)

	lead, err := svc.CaptureLead(context.Background(), &domain.CaptureLeadRequest{
		AgentID:  "agent-1",
		FullName: "Moussa Kaboré",
		Phone:    "76000000",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if lead.Source != "remote" {
		t.Errorf("expected source 'remote', got '%s'", lead.Source)
	}
	if lead.IsVerified {
		t.Error("expected captured lead to start unverified")
	}

	notifs := store.notificationsOfType(domain.NotifLead)
	if len(notifs) != 1 {
		t.Errorf("expected 1 lead notification, got %d", len(notifs))
	}
}
