package billing

import "context"

// PlanRepository defines persistence for the plan catalog.
type PlanRepository interface {
	Create(ctx context.Context, plan *Plan) error
	GetByID(ctx context.Context, id string) (*Plan, error)
	GetByName(ctx context.Context, name string) (*Plan, error)
	List(ctx context.Context) ([]*Plan, error)
	Update(ctx context.Context, plan *Plan) error
	Delete(ctx context.Context, id string) error
}

// SubscriptionRepository defines persistence for subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *Subscription) error
	GetByID(ctx context.Context, id string) (*Subscription, error)

	// GetCurrentByAccount returns the account's ACTIVE subscription if one
	// exists, otherwise its most recent subscription of any status, or
	// ErrSubscriptionNotFound. The fallback lets the entitlement evaluator
	// distinguish "suspended" from "never subscribed". The ACTIVE row need
	// not be the newest: re-activating an older subscription suspends the
	// newer one.
	GetCurrentByAccount(ctx context.Context, accountID string) (*Subscription, error)

	List(ctx context.Context) ([]*Subscription, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error

	// SuspendActiveByAccount marks every ACTIVE subscription of the account
	// as SUSPENDED. Used before activating a new one.
	SuspendActiveByAccount(ctx context.Context, accountID string) error

	// ActiveRevenue sums plan prices over all ACTIVE subscriptions.
	ActiveRevenue(ctx context.Context) (float64, error)
}
