package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	err := &Error{Message: "something failed"}
	assert.Equal(t, "something failed", err.Error())

	err = &Error{Message: "something failed", Hint: "try again"}
	assert.Equal(t, "something failed: try again", err.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrNetwork(cause)
	assert.ErrorIs(t, err, cause)
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name      string
		err       *Error
		code      string
		status    int
		retryable bool
	}{
		{"network", ErrNetwork(errors.New("dial tcp: refused")), CodeNetwork, 0, true},
		{"validation", ErrValidation("Invalid payload", nil), CodeValidation, 400, false},
		{"auth", ErrAuth("Session expired"), CodeAuth, 401, false},
		{"forbidden", ErrForbidden("Access denied"), CodeForbidden, 403, false},
		{"rate limit", ErrRateLimit(30), CodeRateLimit, 429, true},
		{"server", ErrServer(503, "Server error (503)"), CodeServer, 503, true},
		{"unknown", ErrUnknown(418, "I'm a teapot"), CodeUnknown, 418, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.Equal(t, tt.retryable, tt.err.Retryable)
		})
	}
}

func TestValidationDetails(t *testing.T) {
	details := json.RawMessage(`{"email":["is required"]}`)
	err := ErrValidation("Invalid payload", details)
	assert.JSONEq(t, `{"email":["is required"]}`, string(err.Details))
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, ExitUsage, ExitCodeFor(CodeUsage))
	assert.Equal(t, ExitValidation, ExitCodeFor(CodeValidation))
	assert.Equal(t, ExitAuth, ExitCodeFor(CodeAuth))
	assert.Equal(t, ExitForbidden, ExitCodeFor(CodeForbidden))
	assert.Equal(t, ExitRateLimit, ExitCodeFor(CodeRateLimit))
	assert.Equal(t, ExitNetwork, ExitCodeFor(CodeNetwork))
	assert.Equal(t, ExitServer, ExitCodeFor(CodeServer))
	assert.Equal(t, ExitUnknown, ExitCodeFor(CodeUnknown))
	assert.Equal(t, ExitUnknown, ExitCodeFor("bogus"))
}

func TestAsError(t *testing.T) {
	// Already an *Error: returned as-is.
	orig := ErrAuth("Not authenticated")
	assert.Same(t, orig, AsError(orig))

	// Wrapped *Error: unwrapped.
	wrapped := fmt.Errorf("context: %w", orig)
	assert.Same(t, orig, AsError(wrapped))

	// Plain error: converted to unknown.
	plain := errors.New("boom")
	conv := AsError(plain)
	assert.Equal(t, CodeUnknown, conv.Code)
	assert.Equal(t, "boom", conv.Message)
}

func TestWriterOK(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatJSON, Writer: &buf})

	require.NoError(t, w.OK(map[string]string{"status": "fine"}, WithSummary("All good")))

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "All good", resp.Summary)
}

func TestWriterOKQuiet(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatQuiet, Writer: &buf})

	require.NoError(t, w.OK(map[string]string{"status": "fine"}))

	var data map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &data))
	assert.Equal(t, "fine", data["status"])
}

func TestWriterErr(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatJSON, Writer: &buf})

	details := json.RawMessage(`{"sku":["already exists"]}`)
	require.NoError(t, w.Err(ErrValidation("Invalid payload", details)))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.Equal(t, CodeValidation, resp.Code)
	assert.Equal(t, "Invalid payload", resp.Error)
	assert.JSONEq(t, `{"sku":["already exists"]}`, string(resp.Details))
}
