package domain

const (
	CanonicalEventClassDomain        = "domain"
	CanonicalEventClassAnalyticsOnly = "analytics_only"
)

const (
	EventPledgeRecorded         = "funding.pledge_recorded"
	EventPledgeRefunded         = "funding.pledge_refunded"
	EventMilestoneStatusChanged = "funding.milestone_status_changed"
	EventMilestoneReleased      = "funding.milestone_released"
	EventRevenueDistributed     = "funding.revenue_distributed"
	EventCollateralBreach       = "funding.collateral_breach"
	EventCollateralRestored     = "funding.collateral_restored"
)

// Inbound topics consumed by the worker.
const (
	EventRevenueReceived  = "revenue.received"
	EventValuationUpdated = "valuation.updated"
)

func IsCanonicalInputEvent(eventType string) bool {
	switch eventType {
	case EventRevenueReceived, EventValuationUpdated:
		return true
	default:
		return false
	}
}

func IsCanonicalEmittedEvent(eventType string) bool {
	return CanonicalEventClass(eventType) != ""
}

func CanonicalEventClass(eventType string) string {
	switch eventType {
	case EventPledgeRefunded, EventMilestoneReleased, EventRevenueDistributed, EventCollateralBreach, EventCollateralRestored:
		return CanonicalEventClassDomain
	case EventPledgeRecorded, EventMilestoneStatusChanged:
		return CanonicalEventClassAnalyticsOnly
	default:
		return ""
	}
}

func CanonicalPartitionKeyPath(eventType string) string {
	if IsCanonicalEmittedEvent(eventType) {
		return "data.project_id"
	}
	return ""
}
