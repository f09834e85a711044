package audit

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestLog_EmitsEventFields(t *testing.T) {
	buf := captureLogs(t)

	NewSlogLogger().Log(context.Background(), Event{
		Type:     TypeInstanceAction,
		TenantID: "acct-1",
		ActorID:  "user-1",
		Resource: "inst-1",
		Metadata: map[string]any{AttrAction: "START"},
	})

	out := buf.String()
	assert.Contains(t, out, "AUDIT_EVENT")
	assert.Contains(t, out, TypeInstanceAction)
	assert.Contains(t, out, "acct-1")
	assert.Contains(t, out, "inst-1")
	assert.Contains(t, out, "START")
}

func TestLog_RedactsSecrets(t *testing.T) {
	buf := captureLogs(t)

	NewSlogLogger().Log(context.Background(), Event{
		Type:     TypeUserCreated,
		Metadata: map[string]any{"password": "hunter2", "db_password": "s3cret"},
	})

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")
	assert.Contains(t, out, "[REDACTED]")
}
