package services

import (
	"context"
	"errors"

	"github.com/causehive/donation-service/models"
	"github.com/causehive/donation-service/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DonationService interface {
	ListDonations(ctx context.Context, caller Caller, page, limit int) ([]models.Donation, int64, *ServiceError)
	GetDonation(ctx context.Context, caller Caller, id uuid.UUID) (*models.Donation, *ServiceError)
}

type donationServiceImpl struct {
	repo   repository.DonationRepository
	logger *zap.Logger
}

func NewDonationService(repo repository.DonationRepository, logger *zap.Logger) DonationService {
	return &donationServiceImpl{repo: repo, logger: logger}
}

func (s *donationServiceImpl) ListDonations(ctx context.Context, caller Caller, page, limit int) ([]models.Donation, int64, *ServiceError) {
	if !caller.Authenticated() {
		return nil, 0, ValidationError("authentication required")
	}
	list, total, err := s.repo.ListByUser(ctx, *caller.UserID, page, limit)
	if err != nil {
		s.logger.Error("Failed to list donations", zap.Error(err))
		return nil, 0, InternalError("Failed to list donations", err)
	}
	return list, total, nil
}

func (s *donationServiceImpl) GetDonation(ctx context.Context, caller Caller, id uuid.UUID) (*models.Donation, *ServiceError) {
	donation, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NotFoundError("Donation not found")
	}
	if err != nil {
		s.logger.Error("Failed to load donation", zap.Error(err))
		return nil, InternalError("Failed to load donation", err)
	}
	if !ownedBy(donation.UserID, caller) {
		return nil, NotFoundError("Donation not found")
	}
	return donation, nil
}
