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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{
			meter: otel.Meter("noop"),
		}, nil
	}

	// Reads from the global meter provider; exporters are configured via
	// the standard OTEL_* environment variables.
	meter := otel.Meter(serviceName)

	return &Meter{
		meter: meter,
	}, nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// Instruments bundles the orchestrator's domain metrics.
type Instruments struct {
	// ActionsDispatched counts lifecycle actions accepted by the dispatcher.
	ActionsDispatched metric.Int64Counter
	// ActionDuration measures wall time from dispatch to settle, in seconds.
	ActionDuration metric.Float64Histogram
	// DriftCorrected counts registry corrections made by the sweeper.
	DriftCorrected metric.Int64Counter
}

// NewInstruments creates the orchestrator instrument set on this meter.
func (m *Meter) NewInstruments() (*Instruments, error) {
	actions, err := m.meter.Int64Counter(
		"orchestrator.actions.dispatched",
		metric.WithDescription("Lifecycle actions accepted by the dispatcher"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create actions counter: %w", err)
	}

	duration, err := m.meter.Float64Histogram(
		"orchestrator.actions.duration",
		metric.WithDescription("Wall time from dispatch to settle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	drift, err := m.meter.Int64Counter(
		"orchestrator.sweeper.corrections",
		metric.WithDescription("Registry states corrected by the reconciliation sweeper"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create drift counter: %w", err)
	}

	return &Instruments{
		ActionsDispatched: actions,
		ActionDuration:    duration,
		DriftCorrected:    drift,
	}, nil
}
