// Package sink declares the boundaries between the ingestion core and
// the excluded subsystems (notifications, stats, leaderboards,
// premium storage). The core only ever talks to these interfaces; it
// never renders, persists aggregates, or decides entitlements itself.
package sink

import (
	"context"

	"deadfeed/internal/events"
)

// EventSink receives kill events. The killfeed ingestor emits to the
// live sink (notifications + stats); the backfill engine emits to a
// distinct sink that updates aggregates but never triggers live
// notifications. Consumers are expected to be idempotent per event
// identity.
type EventSink interface {
	EmitKillEvent(ctx context.Context, event events.KillEvent) error
}

// LogEventSink receives classified server-log events in file order.
type LogEventSink interface {
	EmitLogEvent(ctx context.Context, event events.LogEvent) error
}

// ProgressSink owns exactly one mutable progress display per backfill
// and edits it in place; each report supersedes the previous one.
type ProgressSink interface {
	ReportBackfillProgress(ctx context.Context, progress events.BackfillProgress) error
}

// StatsStore is the aggregate-state collaborator. ClearServerData
// must complete before the first event of a backfill is emitted.
type StatsStore interface {
	ClearServerData(ctx context.Context, serverKey string) error
}

// Entitlement is the strict tri-state result of a premium lookup.
// Only Enabled gates premium ingestion on; Absent and Disabled are
// both off but stay distinguishable for operators.
type Entitlement int

const (
	EntitlementAbsent Entitlement = iota
	EntitlementDisabled
	EntitlementEnabled
)

func (e Entitlement) String() string {
	switch e {
	case EntitlementEnabled:
		return "enabled"
	case EntitlementDisabled:
		return "disabled"
	default:
		return "absent"
	}
}

// EntitlementSource answers premium lookups. Implementations must
// never infer enablement from field presence or generic truthiness.
type EntitlementSource interface {
	PremiumStatus(ctx context.Context, serverKey string) (Entitlement, error)
}
