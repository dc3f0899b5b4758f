// Package service implements the CRM business logic on top of the ports.
package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/aftras/crm-api/internal/domain"
	"github.com/aftras/crm-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var codeTracer = otel.Tracer("service/accesscode")

// accessCodeTTL is how long a generated code admits registrations.
const accessCodeTTL = 24 * time.Hour

// AccessCodeService manages the single shared registration secret. At most
// one code is active at any time; generating a new one overwrites the slot
// and invalidates the previous code immediately.
type AccessCodeService struct {
	store  port.CRMStore
	logger *zap.Logger
}

// NewAccessCodeService creates a new access code service.
func NewAccessCodeService(store port.CRMStore, logger *zap.Logger) *AccessCodeService {
	return &AccessCodeService{store: store, logger: logger}
}

// Generate mints a fresh code valid for 24 hours and stores it in the
// well-known slot.
func (s *AccessCodeService) Generate(ctx context.Context) (*domain.AccessCode, error) {
	ctx, span := codeTracer.Start(ctx, "AccessCodeService.Generate")
	defer span.End()

	digits, err := randomDigits(4)
	if err != nil {
		return nil, fmt.Errorf("generate access code: %w", err)
	}

	now := time.Now()
	code := &domain.AccessCode{
		Code:      fmt.Sprintf("CRM-%s-%d", digits, now.Year()),
		ExpiresAt: now.Add(accessCodeTTL),
		IsActive:  true,
	}

	if err := s.store.UpsertAccessCode(ctx, code); err != nil {
		return nil, fmt.Errorf("store access code: %w", err)
	}

	s.logger.Info("access code regenerated",
		zap.Time("expires_at", code.ExpiresAt),
	)
	return code, nil
}

// GetCurrent returns the active code, or ErrNotFound when none was ever
// generated.
func (s *AccessCodeService) GetCurrent(ctx context.Context) (*domain.AccessCode, error) {
	ctx, span := codeTracer.Start(ctx, "AccessCodeService.GetCurrent")
	defer span.End()

	code, err := s.store.GetAccessCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("get access code: %w", err)
	}
	if code == nil {
		return nil, &domain.ErrNotFound{Resource: "access_code", ID: "current"}
	}
	return code, nil
}

// Validate checks a candidate code against the stored slot. Fail-closed:
// a lookup failure denies the candidate rather than admitting it.
func (s *AccessCodeService) Validate(ctx context.Context, candidate string) error {
	ctx, span := codeTracer.Start(ctx, "AccessCodeService.Validate")
	defer span.End()

	if candidate == "" {
		return &domain.ErrInvalidCode{}
	}

	stored, err := s.store.GetAccessCode(ctx)
	if err != nil {
		s.logger.Warn("access code validation degraded, denying", zap.Error(err))
		return &domain.ErrInvalidCode{}
	}
	if stored == nil || !stored.IsActive {
		return &domain.ErrInvalidCode{}
	}
	if time.Now().After(stored.ExpiresAt) {
		return &domain.ErrInvalidCode{}
	}
	if stored.Code != candidate {
		return &domain.ErrInvalidCode{}
	}
	return nil
}

func randomDigits(n int) (string, error) {
	code := ""
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		code += fmt.Sprintf("%d", d.Int64())
	}
	return code, nil
}
