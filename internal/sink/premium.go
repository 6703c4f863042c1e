package sink

import (
	"context"
	"time"

	"deadfeed/internal/database/repositories"
)

// StoredEntitlements resolves premium status from the registry
// database. The mapping is strict: a missing row is Absent, a row
// with Enabled=false (or an expired row) is Disabled, and only an
// unexpired row with Enabled=true is Enabled.
type StoredEntitlements struct {
	repo repositories.PremiumRepository
	now  func() time.Time
}

func NewStoredEntitlements(repo repositories.PremiumRepository) *StoredEntitlements {
	return &StoredEntitlements{repo: repo, now: time.Now}
}

func (s *StoredEntitlements) PremiumStatus(ctx context.Context, serverKey string) (Entitlement, error) {
	if err := ctx.Err(); err != nil {
		return EntitlementAbsent, err
	}

	status, err := s.repo.Find(serverKey)
	if err != nil {
		return EntitlementAbsent, err
	}
	if status == nil {
		return EntitlementAbsent, nil
	}
	if !status.Enabled {
		return EntitlementDisabled, nil
	}
	if status.ExpiresAt != nil && status.ExpiresAt.Before(s.now()) {
		return EntitlementDisabled, nil
	}
	return EntitlementEnabled, nil
}
