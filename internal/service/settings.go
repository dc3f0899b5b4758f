package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/aftras/crm-api/internal/domain"
	"github.com/aftras/crm-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var settingsTracer = otel.Tracer("service/settings")

// SettingsService manages the branding configuration stored in the single
// well-known record, and broadcasts every saved change to subscribers so
// interested components react without polling.
type SettingsService struct {
	store  port.CRMStore
	logger *zap.Logger

	mu   sync.Mutex
	subs map[int]chan domain.AppSettings
	next int
}

// NewSettingsService creates a new settings service.
func NewSettingsService(store port.CRMStore, logger *zap.Logger) *SettingsService {
	return &SettingsService{
		store:  store,
		logger: logger,
		subs:   make(map[int]chan domain.AppSettings),
	}
}

// Get returns the current settings. Reads degrade to the defaults so callers
// always have a usable value.
func (s *SettingsService) Get(ctx context.Context) domain.AppSettings {
	ctx, span := settingsTracer.Start(ctx, "SettingsService.Get")
	defer span.End()

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		s.logger.Warn("settings read degraded, using defaults", zap.Error(err))
		return domain.DefaultSettings
	}
	if settings == nil {
		return domain.DefaultSettings
	}
	return *settings
}

// Update merges the provided fields into the stored settings and notifies
// subscribers with the resulting value.
func (s *SettingsService) Update(ctx context.Context, req *domain.AppSettings) (domain.AppSettings, error) {
	ctx, span := settingsTracer.Start(ctx, "SettingsService.Update")
	defer span.End()

	current := s.Get(ctx)
	if req.Name != "" {
		current.Name = req.Name
	}
	if req.Currency != "" {
		current.Currency = req.Currency
	}
	if req.Logo != "" {
		current.Logo = req.Logo
	}

	updates := map[string]any{
		"name":     current.Name,
		"currency": current.Currency,
		"logo":     current.Logo,
	}
	if err := s.store.UpsertSettings(ctx, updates); err != nil {
		return domain.AppSettings{}, fmt.Errorf("store settings: %w", err)
	}

	s.publish(current)
	s.logger.Info("settings updated",
		zap.String("name", current.Name),
		zap.String("currency", current.Currency),
	)
	return current, nil
}

// Subscribe registers for settings change events. The returned cancel func
// closes the channel and releases the slot; it is safe to call twice.
func (s *SettingsService) Subscribe() (<-chan domain.AppSettings, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	ch := make(chan domain.AppSettings, 1)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// publish pushes the new value to every subscriber, dropping the stale one
// when a subscriber has not drained its buffer.
func (s *SettingsService) publish(settings domain.AppSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- settings:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- settings
		}
	}
}
