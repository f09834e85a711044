// Copyright 2026 The Stackhive Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stackhive/stackhive/internal/instance"
	"github.com/stackhive/stackhive/internal/scope"
)

// DeployLogRepository implements instance.LogRepository
type DeployLogRepository struct {
	db *DB
}

// NewDeployLogRepository creates a new deployment log repository
func NewDeployLogRepository(db *DB) *DeployLogRepository {
	return &DeployLogRepository{db: db}
}

// Append inserts a new deployment log row
func (r *DeployLogRepository) Append(ctx context.Context, log *instance.DeploymentLog) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO deployment_logs (id, instance_id, account_id, user_id, action, status, error_message, duration_seconds, details, timestamp)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10)
	`, log.ID, log.InstanceID, log.AccountID, log.UserID, log.Action, log.Status,
		log.ErrorMessage, log.DurationSeconds, log.Details, log.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert deployment log: %w", err)
	}
	return nil
}

// Update finalizes a deployment log row after the executor settles
func (r *DeployLogRepository) Update(ctx context.Context, log *instance.DeploymentLog) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE deployment_logs SET status = $2, error_message = $3, duration_seconds = $4
		WHERE id = $1
	`, log.ID, log.Status, log.ErrorMessage, log.DurationSeconds)
	if err != nil {
		return fmt.Errorf("failed to update deployment log: %w", err)
	}
	return nil
}

// ListByScope returns logs visible to the caller, newest first, optionally
// filtered to one instance
func (r *DeployLogRepository) ListByScope(ctx context.Context, sc scope.Scope, instanceID string) ([]*instance.DeploymentLog, error) {
	query := `
		SELECT id, instance_id, account_id, user_id, action, status, error_message, duration_seconds, details, timestamp
		FROM deployment_logs
		WHERE ($1 OR account_id = $2::uuid)
		  AND ($3::uuid IS NULL OR instance_id = $3::uuid)
		ORDER BY timestamp DESC
	`
	rows, err := r.db.pool.Query(ctx, query, sc.All(), nilIfEmpty(sc.AccountID()), nilIfEmpty(instanceID))
	if err != nil {
		return nil, fmt.Errorf("failed to list deployment logs: %w", err)
	}
	defer rows.Close()

	var logs []*instance.DeploymentLog
	for rows.Next() {
		var log instance.DeploymentLog
		var userID sql.NullString
		if err := rows.Scan(
			&log.ID, &log.InstanceID, &log.AccountID, &userID, &log.Action,
			&log.Status, &log.ErrorMessage, &log.DurationSeconds, &log.Details, &log.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan deployment log: %w", err)
		}
		if userID.Valid {
			log.UserID = userID.String
		}
		logs = append(logs, &log)
	}

	return logs, rows.Err()
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
