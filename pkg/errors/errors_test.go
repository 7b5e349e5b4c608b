package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAppError tests the error surface of AppError
func TestAppError(t *testing.T) {
	cause := stderrors.New("row not found")
	err := NotFound("Transaction not found", cause)

	assert.Equal(t, "NOT_FOUND", err.Code)
	assert.Equal(t, http.StatusNotFound, err.Status)
	assert.Equal(t, "Transaction not found: row not found", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := BadRequest("Invalid request", nil)
	assert.Equal(t, "Invalid request", bare.Error())
	assert.Nil(t, bare.Unwrap())
}

// TestGetAppError tests conversion of arbitrary errors to AppError
func TestGetAppError(t *testing.T) {
	app := Conflict("Toll event already processed", nil)
	wrapped := fmt.Errorf("handling record: %w", app)

	got := GetAppError(wrapped)
	assert.Equal(t, "CONFLICT", got.Code)
	assert.Equal(t, http.StatusConflict, got.Status)

	plain := stderrors.New("connection refused")
	got = GetAppError(plain)
	assert.Equal(t, "INTERNAL_ERROR", got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.Status)
	assert.ErrorIs(t, got, plain)

	assert.True(t, IsAppError(wrapped))
	assert.False(t, IsAppError(plain))
}

// TestPredefinedErrors tests status codes of the shared API errors
func TestPredefinedErrors(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, ErrTransactionNotFound.Status)
	assert.Equal(t, http.StatusBadRequest, ErrInvalidTransactionID.Status)
	assert.Equal(t, http.StatusBadRequest, ErrInvalidStatusFilter.Status)
}

// TestPoisonClassification tests the poison pill marker used by the
// consumer loops
func TestPoisonClassification(t *testing.T) {
	cause := stderrors.New("unexpected end of JSON input")
	poison := Poison("DeserializationError", cause)

	assert.True(t, IsPoison(poison))
	assert.Equal(t, "DeserializationError", PoisonKind(poison))
	assert.Equal(t, "DeserializationError: unexpected end of JSON input", poison.Error())
	assert.ErrorIs(t, poison, cause)
}

// TestPoisonSurvivesWrapping tests that classification is preserved
// through fmt.Errorf chains
func TestPoisonSurvivesWrapping(t *testing.T) {
	poison := Poison("ValidationError", stderrors.New("latitude out of range"))
	wrapped := fmt.Errorf("record at offset 42: %w", poison)

	require.True(t, IsPoison(wrapped))
	assert.Equal(t, "ValidationError", PoisonKind(wrapped))
}

// TestTransientErrorsAreNotPoison tests the default classification
func TestTransientErrorsAreNotPoison(t *testing.T) {
	transient := fmt.Errorf("state get VEH-1: %w", stderrors.New("connection refused"))

	assert.False(t, IsPoison(transient))
	assert.Empty(t, PoisonKind(transient))

	assert.False(t, IsPoison(nil))
	assert.Empty(t, PoisonKind(nil))
}

// TestWrap tests the context-adding helper
func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "no-op"))

	cause := stderrors.New("timeout")
	wrapped := Wrap(cause, "query zones")
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "query zones: timeout", wrapped.Error())
}
