package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aftras/crm-api/internal/domain"
	"github.com/aftras/crm-api/internal/infra/observability"
	"github.com/aftras/crm-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var insightTracer = otel.Tracer("service/insights")

// InsightPlaceholder is returned when the generation collaborator is
// unavailable. The dashboard renders it as-is.
const InsightPlaceholder = "Aucune analyse disponible pour le moment."

const insightSystemPrompt = "Tu es un analyste commercial senior pour une équipe de vente. " +
	"Réponds en français, en trois phrases maximum, avec des recommandations concrètes."

// InsightService produces the best-effort AI analysis shown on the
// dashboard. Failures degrade to the placeholder; they never surface as
// errors to the caller.
type InsightService struct {
	store     port.CRMStore
	generator port.InsightGenerator
	cache     port.Cache[string]
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewInsightService creates a new insight service.
func NewInsightService(store port.CRMStore, generator port.InsightGenerator, cache port.Cache[string], metrics *observability.Metrics, logger *zap.Logger) *InsightService {
	return &InsightService{
		store:     store,
		generator: generator,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
	}
}

// GetInsights aggregates the viewer's pipeline and asks the generator for a
// short analysis. Results are cached per viewer.
func (s *InsightService) GetInsights(ctx context.Context, viewerID string, role domain.UserRole) *domain.InsightResponse {
	ctx, span := insightTracer.Start(ctx, "InsightService.GetInsights")
	defer span.End()
	span.SetAttributes(attribute.String("viewer.id", viewerID))

	cacheKey := "insights:" + viewerID
	if cached, ok := s.cache.Get(cacheKey); ok {
		s.metrics.IncrCacheHit("insights")
		return &domain.InsightResponse{Insights: cached, GeneratedAt: time.Now()}
	}
	s.metrics.IncrCacheMiss("insights")

	if s.generator == nil {
		s.metrics.IncrInsightFallback()
		return &domain.InsightResponse{Insights: InsightPlaceholder, GeneratedAt: time.Now()}
	}

	prompt, err := s.buildPrompt(ctx, viewerID, role)
	if err != nil {
		s.logger.Warn("insights: aggregation failed", zap.Error(err))
		s.metrics.IncrInsightFallback()
		return &domain.InsightResponse{Insights: InsightPlaceholder, GeneratedAt: time.Now()}
	}

	genCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	text, err := s.generator.Generate(genCtx, insightSystemPrompt, prompt)
	if err != nil {
		s.logger.Warn("insights: generation failed", zap.Error(err))
		s.metrics.IncrExternalError("genai")
		s.metrics.IncrInsightFallback()
		return &domain.InsightResponse{Insights: InsightPlaceholder, GeneratedAt: time.Now()}
	}

	s.cache.Set(cacheKey, text)
	return &domain.InsightResponse{Insights: text, GeneratedAt: time.Now()}
}

// buildPrompt assembles the pipeline figures into a French analysis request.
// The three reads run concurrently.
func (s *InsightService) buildPrompt(ctx context.Context, viewerID string, role domain.UserRole) (string, error) {
	var (
		prospects []domain.Prospect
		clients   []domain.Client
		sales     []domain.Sale
	)

	viewAll := domain.Can(role, domain.CapViewAll)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if viewAll {
			prospects, err = s.store.ListProspects(gctx)
		} else {
			prospects, err = s.store.ListProspectsByAgent(gctx, viewerID)
		}
		return err
	})
	g.Go(func() error {
		var err error
		if viewAll {
			clients, err = s.store.ListClients(gctx)
		} else {
			clients, err = s.store.ListClientsByAgent(gctx, viewerID)
		}
		return err
	})
	g.Go(func() error {
		var err error
		if viewAll {
			sales, err = s.store.ListSales(gctx)
		} else {
			sales, err = s.store.ListSalesByAgent(gctx, viewerID)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	pendingProspects := 0
	for _, p := range prospects {
		if p.Status == domain.ProspectPending {
			pendingProspects++
		}
	}
	activeClients := 0
	concluded := 0
	for _, c := range clients {
		switch c.Status {
		case domain.ClientPending:
			activeClients++
		case domain.ClientSaleConcluded:
			concluded++
		}
	}
	var revenue, profit, pendingCommission float64
	for _, sale := range sales {
		revenue += sale.Amount
		profit += sale.Profit
		if sale.Status == domain.SalePending {
			pendingCommission += sale.Commission
		}
	}

	var b strings.Builder
	b.WriteString("Voici l'état du portefeuille commercial :\n")
	fmt.Fprintf(&b, "- Prospects en attente : %d (sur %d)\n", pendingProspects, len(prospects))
	fmt.Fprintf(&b, "- Clients en négociation : %d, ventes conclues : %d\n", activeClients, concluded)
	fmt.Fprintf(&b, "- Chiffre d'affaires : %.0f, bénéfice : %.0f\n", revenue, profit)
	fmt.Fprintf(&b, "- Commissions en attente de paiement : %.0f\n", pendingCommission)
	b.WriteString("Analyse ces chiffres et propose les priorités de la semaine.")
	return b.String(), nil
}
