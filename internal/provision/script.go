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

package provision

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stackhive/stackhive/internal/observability/logger"
)

// Script names expected under the configured directory.
const (
	deployScript  = "deploy-instance.sh"
	controlScript = "control-instance.sh"
	removeScript  = "remove-instance.sh"
	statusScript  = "status-instance.sh"
)

// ScriptExecutor drives the deployment shell scripts:
//
//	deploy-instance.sh  <name> <domain> <port> <db_name>
//	control-instance.sh <name> <start|stop|restart>
//	remove-instance.sh  <name> <db_name>
//	status-instance.sh  <name>    (prints running|stopped|absent)
type ScriptExecutor struct {
	dir string
}

// NewScriptExecutor creates an executor backed by shell scripts in dir.
func NewScriptExecutor(dir string) *ScriptExecutor {
	return &ScriptExecutor{dir: dir}
}

// Allocate creates the database and deploys the stack.
func (e *ScriptExecutor) Allocate(ctx context.Context, spec Spec) error {
	return e.run(ctx, deployScript, spec.Name, spec.Domain, strconv.Itoa(spec.Port), spec.DBName)
}

// Transition starts, stops or restarts the stack.
func (e *ScriptExecutor) Transition(ctx context.Context, spec Spec, op Operation) error {
	return e.run(ctx, controlScript, spec.Name, string(op))
}

// Deallocate tears the stack down.
func (e *ScriptExecutor) Deallocate(ctx context.Context, spec Spec) error {
	return e.run(ctx, removeScript, spec.Name, spec.DBName)
}

// Status queries the stack's ground truth.
func (e *ScriptExecutor) Status(ctx context.Context, spec Spec) (Status, error) {
	cmd := exec.CommandContext(ctx, filepath.Join(e.dir, statusScript), spec.Name)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return StatusFailed, fmt.Errorf("%s: %w: %s", statusScript, err, firstLine(stderr.String()))
	}

	switch Status(strings.TrimSpace(stdout.String())) {
	case StatusRunning:
		return StatusRunning, nil
	case StatusStopped:
		return StatusStopped, nil
	case StatusAbsent:
		return StatusAbsent, nil
	}
	return StatusFailed, fmt.Errorf("%s: unrecognized output %q", statusScript, strings.TrimSpace(stdout.String()))
}

func (e *ScriptExecutor) run(ctx context.Context, script string, args ...string) error {
	path := filepath.Join(e.dir, script)
	cmd := exec.CommandContext(ctx, path, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	slog.DebugContext(ctx, "executing provisioning script",
		logger.Component("provision"),
		logger.Operation(script),
	)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", script, ctx.Err())
		}
		return fmt.Errorf("%s: %w: %s", script, err, firstLine(output.String()))
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
