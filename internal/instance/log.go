package instance

import (
	"context"
	"time"

	"github.com/stackhive/stackhive/internal/lifecycle"
	"github.com/stackhive/stackhive/internal/scope"
)

// Deployment log statuses
const (
	LogInProgress = "IN_PROGRESS"
	LogSuccess    = "SUCCESS"
	LogFailed     = "FAILED"
)

// DeploymentLog records one dispatched action against an instance, including
// how long the executor took and what went wrong if it failed.
type DeploymentLog struct {
	ID              string           `json:"id"`
	InstanceID      string           `json:"instance_id"`
	AccountID       string           `json:"account_id"`
	UserID          string           `json:"user_id,omitempty"`
	Action          lifecycle.Action `json:"action"`
	Status          string           `json:"status"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	DurationSeconds int              `json:"duration_seconds"`
	Details         map[string]any   `json:"details,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
}

// LogRepository defines persistence for deployment logs.
type LogRepository interface {
	Append(ctx context.Context, log *DeploymentLog) error
	Update(ctx context.Context, log *DeploymentLog) error

	// ListByScope returns logs visible to the caller, newest first,
	// optionally filtered to one instance.
	ListByScope(ctx context.Context, sc scope.Scope, instanceID string) ([]*DeploymentLog, error)
}
