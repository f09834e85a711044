package billing

import "time"

// Subscription statuses
const (
	StatusActive    = "ACTIVE"
	StatusSuspended = "SUSPENDED"
	StatusExpired   = "EXPIRED"
)

// Billing cycles
const (
	CycleMonthly = "MONTHLY"
	CycleYearly  = "YEARLY"
)

// Subscription binds a tenant account to a plan for a period of time.
// At most one subscription per account is ACTIVE at any time; the store
// enforces this with a partial unique index and CreateSubscription suspends
// the previous active one before inserting.
type Subscription struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"account_id"`
	PlanID          string     `json:"plan_id"`
	Status          string     `json:"status"`
	BillingCycle    string     `json:"billing_cycle"`
	AutoRenew       bool       `json:"auto_renew"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	NextBillingDate *time.Time `json:"next_billing_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
