package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget/internal/apperr"
	applog "budget/internal/log"
)

func TestMasking(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) string
		in   string
		want string
	}{
		{"email", MaskEmail, "alice@example.com", "ali****@example.com"},
		{"short email", MaskEmail, "ab@example.com", "ab****@example.com"},
		{"not an email", MaskEmail, "alice", "alice"},
		{"token", MaskToken, "eyJhbGciOi.payload.signature1234", "eyJhbGciOi...1234"},
		{"not a token", MaskToken, "plain", "plain"},
		{"card", MaskCardNumber, "1234567890123456", "****-****-****-3456"},
		{"short card", MaskCardNumber, "12", "****"},
		{"password", MaskPassword, "hunter22", "********"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fn(tt.in))
		})
	}
}

func TestRecord(t *testing.T) {
	var buf bytes.Buffer
	l := New(applog.New(applog.Config{Format: "json", Output: &buf}))
	ctx := context.Background()

	l.Record(ctx, Entry{Event: "register", Operation: OpInsert, Entity: "users", EntityID: 3,
		Args: []any{"email", MaskEmail("alice@example.com")}}, time.Now(), nil)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "AUDIT", line["log_type"])
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, true, line["success"])
	assert.Equal(t, "ali****@example.com", line["email"])
	assert.Equal(t, float64(3), line["entity_id"])

	buf.Reset()
	l.Record(ctx, Entry{Event: "login", Operation: OpSelect, Entity: "users"}, time.Now(),
		errors.Join(apperr.New(apperr.InvalidLogin)))
	line = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "INVALID_LOGIN_REQUEST", line[applog.FieldErrorCode])

	var nilLogger *Logger
	nilLogger.Record(ctx, Entry{}, time.Now(), nil)
}
