package billing

import (
	"errors"
	"time"
)

// Domain errors
var (
	ErrValidation           = errors.New("invalid billing parameters")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrPlanNameTaken        = errors.New("plan name already exists")
	ErrPlanInUse            = errors.New("plan is referenced by subscriptions")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Plan is a catalog entry: a named tier of service limits and price.
// The orchestrator reads plans, it never mutates them outside the staff
// management path.
type Plan struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Price          float64   `json:"price"`
	MaxUsers       int       `json:"max_users"`
	StorageLimitGB int       `json:"storage_limit_gb"`
	MaxInstances   int       `json:"max_instances"`
	AllowedModules []string  `json:"allowed_modules"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// AllowsModule reports whether a module name is part of the plan.
func (p *Plan) AllowsModule(name string) bool {
	for _, m := range p.AllowedModules {
		if m == name {
			return true
		}
	}
	return false
}
