package kafka

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestErrorEnvelopeWireFormat pins the field names consumed by the error
// topic's downstream tooling
func TestErrorEnvelopeWireFormat(t *testing.T) {
	envelope := ErrorEnvelope{
		ErrorType:       "ValidationError",
		Message:         "latitude out of range: 123.4",
		Traceback:       "goroutine 1 [running]:",
		OriginalMessage: `{"vehicle_id":"VEH-1"}`,
		Context: map[string]interface{}{
			"service":   "toll-processor",
			"topic":     "smarttoll.gps.raw.v1",
			"partition": 3,
			"offset":    42,
		},
	}

	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "ValidationError", decoded["errorType"])
	assert.Equal(t, "latitude out of range: 123.4", decoded["message"])
	assert.Contains(t, decoded, "traceback")
	assert.Equal(t, `{"vehicle_id":"VEH-1"}`, decoded["originalMessage"])

	ctx, ok := decoded["context"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "toll-processor", ctx["service"])
	assert.Equal(t, "smarttoll.gps.raw.v1", ctx["topic"])
}

// TestErrorEnvelopeOmitsEmptyContext tests the omitempty on context
func TestErrorEnvelopeOmitsEmptyContext(t *testing.T) {
	data, err := json.Marshal(ErrorEnvelope{ErrorType: "ProcessingError", Message: "boom"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"context"`)
}
