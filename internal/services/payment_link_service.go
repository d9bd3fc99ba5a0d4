package services

import (
	"context"
	"errors"

	"paylink_backend/internal/logger"
	"paylink_backend/internal/models"
	"paylink_backend/internal/repositories"
	"paylink_backend/internal/services/dto"
	"paylink_backend/pkg/apperrors"
)

type PaymentLinkService interface {
	Create(ctx context.Context, req *dto.CreatePaymentLinkRequest) (*models.PaymentLink, error)
	Get(ctx context.Context, linkID string) (*models.PaymentLink, error)
	ListByMerchant(ctx context.Context, merchantID string) ([]models.PaymentLink, error)
	Enable(ctx context.Context, linkID string) (*models.PaymentLink, error)
	Disable(ctx context.Context, linkID string) (*models.PaymentLink, error)
}

type paymentLinkService struct {
	linkRepo    repositories.PaymentLinkRepository
	interceptor AuditInterceptor
	clock       Clock
}

func NewPaymentLinkService(linkRepo repositories.PaymentLinkRepository, interceptor AuditInterceptor, clock Clock) PaymentLinkService {
	if clock == nil {
		clock = SystemClock
	}
	return &paymentLinkService{linkRepo: linkRepo, interceptor: interceptor, clock: clock}
}

func (s *paymentLinkService) Create(ctx context.Context, req *dto.CreatePaymentLinkRequest) (*models.PaymentLink, error) {
	if _, err := ParseAmount("amount", req.Amount); err != nil {
		return nil, err
	}
	if err := ValidateCurrency("currency", req.Currency); err != nil {
		return nil, err
	}

	now := s.clock()
	link := &models.PaymentLink{
		BaseModel:   models.BaseModel{CreatedAt: now, UpdatedAt: now},
		MerchantID:  req.MerchantID,
		Title:       req.Title,
		Description: req.Description,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Active:      true,
	}
	if err := s.linkRepo.Create(ctx, link); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	logger.CtxInfo(ctx, "payment link created", "payment_link_id", link.ID, "merchant_id", link.MerchantID)

	if err := s.interceptor.Created(ctx, models.EntityPaymentLink, link.ID, link); err != nil {
		return link, err
	}
	return link, nil
}

func (s *paymentLinkService) Get(ctx context.Context, linkID string) (*models.PaymentLink, error) {
	link, err := s.linkRepo.FindByID(ctx, linkID)
	if err != nil {
		if errors.Is(err, repositories.ErrPaymentLinkNotFound) {
			return nil, apperrors.NotFound("payment_link", linkID)
		}
		return nil, apperrors.DatabaseError(err)
	}
	return link, nil
}

func (s *paymentLinkService) ListByMerchant(ctx context.Context, merchantID string) ([]models.PaymentLink, error) {
	links, err := s.linkRepo.FindByMerchant(ctx, merchantID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return links, nil
}

func (s *paymentLinkService) Enable(ctx context.Context, linkID string) (*models.PaymentLink, error) {
	return s.setActive(ctx, linkID, true)
}

func (s *paymentLinkService) Disable(ctx context.Context, linkID string) (*models.PaymentLink, error) {
	return s.setActive(ctx, linkID, false)
}

// setActive is a no-op, without an audit entry, when the flag already has
// the requested value.
func (s *paymentLinkService) setActive(ctx context.Context, linkID string, active bool) (*models.PaymentLink, error) {
	before, err := s.Get(ctx, linkID)
	if err != nil {
		return nil, err
	}

	changed, err := s.linkRepo.SetActive(ctx, linkID, active, s.clock())
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	after, err := s.Get(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return after, nil
	}

	action := models.ActionLinkDisabled
	if active {
		action = models.ActionLinkEnabled
	}
	// before may be stale if another toggle raced us; the row flipped from !active
	before.Active = !active

	if err := s.interceptor.Updated(ctx, models.EntityPaymentLink, linkID, action, before, after, nil); err != nil {
		return after, err
	}
	return after, nil
}
