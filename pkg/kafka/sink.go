package kafka

import (
	"context"
	"runtime/debug"

	"github.com/tollgrid/smarttoll/pkg/logger"
)

// ErrorEnvelope is the structured record published to the error sink for
// poison pills and unhandled processing errors.
type ErrorEnvelope struct {
	ErrorType       string                 `json:"errorType"`
	Message         string                 `json:"message"`
	Traceback       string                 `json:"traceback"`
	OriginalMessage string                 `json:"originalMessage"`
	Context         map[string]interface{} `json:"context,omitempty"`
}

// ErrorSink publishes error envelopes to a dedicated topic.
type ErrorSink struct {
	producer *Producer
	topic    string
	service  string
	logger   *logger.Logger
}

// NewErrorSink creates an error sink writing through the given producer.
func NewErrorSink(producer *Producer, topic, service string, log *logger.Logger) *ErrorSink {
	return &ErrorSink{
		producer: producer,
		topic:    topic,
		service:  service,
		logger:   log.Named("errorsink"),
	}
}

// Report publishes an envelope for a failed record. Sink publishing is
// best-effort: a failure is logged loudly but never blocks the pipeline,
// since the record is unprocessable either way.
func (s *ErrorSink) Report(ctx context.Context, errorType string, err error, original []byte, extra map[string]interface{}) {
	envCtx := map[string]interface{}{"service": s.service}
	for k, v := range extra {
		envCtx[k] = v
	}

	envelope := ErrorEnvelope{
		ErrorType:       errorType,
		Message:         err.Error(),
		Traceback:       string(debug.Stack()),
		OriginalMessage: string(original),
		Context:         envCtx,
	}

	if pubErr := s.producer.PublishJSON(ctx, s.topic, errorType, envelope); pubErr != nil {
		s.logger.Error("failed to publish error envelope",
			logger.String("error_type", errorType),
			logger.String("cause", err.Error()),
			logger.Err(pubErr),
		)
		return
	}

	s.logger.Warn("record routed to error sink",
		logger.String("error_type", errorType),
		logger.String("cause", err.Error()),
	)
}
