package sink

import (
	"context"
	"testing"
	"time"

	"deadfeed/internal/database/models"
)

// fakePremiumRepo serves canned rows per server key.
type fakePremiumRepo struct {
	rows map[string]*models.PremiumStatus
}

func (f *fakePremiumRepo) Find(serverKey string) (*models.PremiumStatus, error) {
	return f.rows[serverKey], nil
}

func (f *fakePremiumRepo) Set(serverKey string, enabled bool, expiresAt *time.Time) error {
	f.rows[serverKey] = &models.PremiumStatus{ServerKey: serverKey, Enabled: enabled, ExpiresAt: expiresAt}
	return nil
}

func TestStoredEntitlements_Absent(t *testing.T) {
	source := NewStoredEntitlements(&fakePremiumRepo{rows: map[string]*models.PremiumStatus{}})

	entitlement, err := source.PremiumStatus(context.Background(), "1:alpha")
	if err != nil {
		t.Fatal(err)
	}
	if entitlement != EntitlementAbsent {
		t.Errorf("Entitlement = %v, want Absent for a missing row", entitlement)
	}
}

func TestStoredEntitlements_DisabledFlag(t *testing.T) {
	// A row that exists but is switched off must never pass as
	// enabled, regardless of other fields being populated.
	future := time.Now().Add(24 * time.Hour)
	source := NewStoredEntitlements(&fakePremiumRepo{rows: map[string]*models.PremiumStatus{
		"1:alpha": {ServerKey: "1:alpha", Enabled: false, ExpiresAt: &future},
	}})

	entitlement, err := source.PremiumStatus(context.Background(), "1:alpha")
	if err != nil {
		t.Fatal(err)
	}
	if entitlement != EntitlementDisabled {
		t.Errorf("Entitlement = %v, want Disabled", entitlement)
	}
}

func TestStoredEntitlements_Expired(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	source := NewStoredEntitlements(&fakePremiumRepo{rows: map[string]*models.PremiumStatus{
		"1:alpha": {ServerKey: "1:alpha", Enabled: true, ExpiresAt: &past},
	}})

	entitlement, err := source.PremiumStatus(context.Background(), "1:alpha")
	if err != nil {
		t.Fatal(err)
	}
	if entitlement != EntitlementDisabled {
		t.Errorf("Entitlement = %v, want Disabled for an expired row", entitlement)
	}
}

func TestStoredEntitlements_Enabled(t *testing.T) {
	future := time.Now().Add(24 * time.Hour)
	source := NewStoredEntitlements(&fakePremiumRepo{rows: map[string]*models.PremiumStatus{
		"1:alpha": {ServerKey: "1:alpha", Enabled: true, ExpiresAt: &future},
	}})

	entitlement, err := source.PremiumStatus(context.Background(), "1:alpha")
	if err != nil {
		t.Fatal(err)
	}
	if entitlement != EntitlementEnabled {
		t.Errorf("Entitlement = %v, want Enabled", entitlement)
	}
}

func TestStoredEntitlements_EnabledWithoutExpiry(t *testing.T) {
	source := NewStoredEntitlements(&fakePremiumRepo{rows: map[string]*models.PremiumStatus{
		"1:alpha": {ServerKey: "1:alpha", Enabled: true},
	}})

	entitlement, err := source.PremiumStatus(context.Background(), "1:alpha")
	if err != nil {
		t.Fatal(err)
	}
	if entitlement != EntitlementEnabled {
		t.Errorf("Entitlement = %v, want Enabled when no expiry is set", entitlement)
	}
}

func TestEntitlement_String(t *testing.T) {
	cases := map[Entitlement]string{
		EntitlementAbsent:   "absent",
		EntitlementDisabled: "disabled",
		EntitlementEnabled:  "enabled",
	}
	for entitlement, want := range cases {
		if got := entitlement.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
