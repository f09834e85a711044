package instance

import (
	"context"

	"github.com/stackhive/stackhive/internal/lifecycle"
	"github.com/stackhive/stackhive/internal/scope"
)

// Draft is the input to Registry.Create. Port and database name are
// allocated by the registry, not by the caller.
type Draft struct {
	AccountID      string
	SubscriptionID string
	Name           string
	Domain         string

	// MaxInstances is the quota in force at creation time. Create enforces
	// it atomically against the account's non-REMOVED count so concurrent
	// creates cannot overshoot it.
	MaxInstances int
}

// Registry is the authoritative store of instance records.
// CompareAndTransition is the sole mutation entry point; its expected-state
// comparison is what lets the dispatcher and the sweeper coexist safely.
type Registry interface {
	Get(ctx context.Context, id string) (*Instance, error)

	// ListByScope returns the instances visible to the caller, newest first.
	ListByScope(ctx context.Context, sc scope.Scope) ([]*Instance, error)

	// ListUnsettled returns reconciliation candidates: every instance in a
	// non-terminal state other than CREATED and ERROR.
	ListUnsettled(ctx context.Context) ([]*Instance, error)

	// CountActiveByAccount counts the account's instances not yet REMOVED.
	CountActiveByAccount(ctx context.Context, accountID string) (int, error)

	// CountByState returns instance counts per lifecycle state.
	CountByState(ctx context.Context) (map[lifecycle.State]int, error)

	// Create allocates a free port and database name and inserts the record
	// in state CREATED. It fails with ErrQuotaExceeded-compatible errors via
	// the draft quota, ErrNameTaken on a name/db collision and
	// ErrResourceExhausted when the port range is full.
	Create(ctx context.Context, draft Draft) (*Instance, error)

	// CompareAndTransition atomically moves the instance from expected to
	// next, applying mutate (may be nil) to the row inside the same critical
	// section. It fails with ErrStaleState if the stored state differs from
	// expected, without mutating anything.
	CompareAndTransition(ctx context.Context, id string, expected, next lifecycle.State, mutate func(*Instance)) (*Instance, error)
}
