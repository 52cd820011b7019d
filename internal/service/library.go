package service

import (
	"context"
	"fmt"
	"marketplace-checkout/internal/dto"
	"marketplace-checkout/internal/repository"
	"time"
)

type LibraryService interface {
	List(ctx context.Context, userID string) ([]*dto.EntitlementResponse, error)
}

type libraryServiceImpl struct {
	entitlementRepo repository.EntitlementRepository
}

func NewLibraryService(
	entitlementRepo repository.EntitlementRepository,
) LibraryService {
	return &libraryServiceImpl{
		entitlementRepo: entitlementRepo,
	}
}

func (s *libraryServiceImpl) List(ctx context.Context, userID string) ([]*dto.EntitlementResponse, error) {
	entitlements, err := s.entitlementRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}

	// one entry per product, from its oldest active grant
	result := make([]*dto.EntitlementResponse, 0, len(entitlements))
	seen := make(map[string]bool, len(entitlements))
	for _, e := range entitlements {
		if seen[e.ProductID] {
			continue
		}
		seen[e.ProductID] = true
		result = append(result, &dto.EntitlementResponse{
			ProductID: e.ProductID,
			Source:    e.Source,
			GrantedAt: e.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return result, nil
}
