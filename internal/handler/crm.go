package handler

import (
	"encoding/json"
	"net/http"

	"github.com/aftras/crm-api/internal/domain"
	"github.com/aftras/crm-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Prospects
// ============================================================

func listProspectsHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/prospects")
		defer span.End()

		prospects, err := svc.ListProspects(ctx, UserIDFromContext(ctx), RoleFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, prospects)
	}
}

func getProspectHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/prospects/{prospectId}")
		defer span.End()

		p, err := svc.GetProspect(ctx, chi.URLParam(r, "prospectId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func createProspectHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/prospects")
		defer span.End()

		var req domain.ProspectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		// Full-visibility roles may create on behalf of an agent.
		agentID := UserIDFromContext(ctx)
		if req.AgentID != "" && domain.Can(RoleFromContext(ctx), domain.CapViewAll) {
			agentID = req.AgentID
		}

		p, err := svc.CreateProspect(ctx, agentID, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func updateProspectHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/prospects/{prospectId}")
		defer span.End()

		var req domain.ProspectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		p, err := svc.UpdateProspect(ctx, chi.URLParam(r, "prospectId"), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func deleteProspectHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/prospects/{prospectId}")
		defer span.End()

		prospectID := chi.URLParam(r, "prospectId")
		if err := svc.DeleteProspect(ctx, prospectID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Prospect supprimé", ID: prospectID})
	}
}

func convertProspectHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/prospects/{prospectId}/convert")
		defer span.End()

		client, err := svc.ConvertProspect(ctx, chi.URLParam(r, "prospectId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, client)
	}
}

// ============================================================
// Remote leads
// ============================================================

func captureLeadHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/leads/capture")
		defer span.End()

		var req domain.CaptureLeadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		lead, err := svc.CaptureLead(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, domain.SuccessResponse{
			Message: "Merci ! Vos informations ont bien été transmises",
			ID:      lead.ID,
		})
	}
}

func listRemoteLeadsHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/leads")
		defer span.End()

		leads, err := svc.ListRemoteLeads(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, leads)
	}
}

func confirmLeadHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/leads/{leadId}/confirm")
		defer span.End()

		p, err := svc.ConfirmLead(ctx, chi.URLParam(r, "leadId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func discardLeadHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/leads/{leadId}")
		defer span.End()

		leadID := chi.URLParam(r, "leadId")
		if err := svc.DiscardLead(ctx, leadID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Prospect distant écarté", ID: leadID})
	}
}

// ============================================================
// Clients
// ============================================================

func listClientsHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/clients")
		defer span.End()

		clients, err := svc.ListClients(ctx, UserIDFromContext(ctx), RoleFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, clients)
	}
}

func getClientHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/clients/{clientId}")
		defer span.End()

		c, err := svc.GetClient(ctx, chi.URLParam(r, "clientId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func cancelClientHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/clients/{clientId}")
		defer span.End()

		var req domain.CancelClientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		clientID := chi.URLParam(r, "clientId")
		if err := svc.CancelClient(ctx, clientID, req.Reason); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Client annulé", ID: clientID})
	}
}

// ============================================================
// Sales & commissions
// ============================================================

func listSalesHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/sales")
		defer span.End()

		sales, err := svc.ListSales(ctx, UserIDFromContext(ctx), RoleFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sales)
	}
}

func concludeSaleHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sales")
		defer span.End()

		var req domain.ConcludeSaleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sale, err := svc.ConcludeSale(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, sale)
	}
}

func correctSaleHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/sales/{saleId}")
		defer span.End()

		var req domain.CorrectSaleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sale, err := svc.CorrectSale(ctx, chi.URLParam(r, "saleId"), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sale)
	}
}

func settleCommissionHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sales/{saleId}/settle")
		defer span.End()

		sale, err := svc.SettleCommission(ctx, chi.URLParam(r, "saleId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sale)
	}
}

// ============================================================
// Notifications
// ============================================================

func listNotificationsHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/notifications")
		defer span.End()

		notifs, err := svc.ListNotifications(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, notifs)
	}
}

func markNotificationReadHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/notifications/{notifId}/read")
		defer span.End()

		notifID := chi.URLParam(r, "notifId")
		if err := svc.MarkNotificationRead(ctx, notifID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Notification lue", ID: notifID})
	}
}

func markAllNotificationsReadHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/notifications/read-all")
		defer span.End()

		if err := svc.MarkAllNotificationsRead(ctx, UserIDFromContext(ctx)); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Toutes les notifications sont lues"})
	}
}

// ============================================================
// Insights
// ============================================================

func insightsHandler(svc *service.InsightService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/insights")
		defer span.End()

		resp := svc.GetInsights(ctx, UserIDFromContext(ctx), RoleFromContext(ctx))
		writeJSON(w, http.StatusOK, resp)
	}
}
