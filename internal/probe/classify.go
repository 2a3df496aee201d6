/*
PURPOSE:
  Maps the signals collected during one probe to exactly one outcome.

REQUIREMENTS:
  User-specified:
  - Priority: hang, HTTP status, abort cause, transport error, stream/body checks.

ARCHITECTURE INTEGRATION:
  - Called by: recorder.finish in internal/probe/probe.go

IMPLEMENTATION RULES:
  - Pure function; no I/O, no logging.
*/

package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/daryltucker/stream-probe/internal/model"
)

// StatusError is a non-2xx response. Body holds at most the first 512 bytes.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// ErrMissingContent is a 2xx non-streaming body without choices[0].message.content.
var ErrMissingContent = errors.New("response has no choices[0].message.content")

// ErrNoSentinel is a stream that delivered chunks but ended without [DONE].
var ErrNoSentinel = errors.New("stream ended without [DONE]")

// ErrNoEvents is a stream that ended without a single event.
var ErrNoEvents = errors.New("stream ended without any event")

// Signals are the low-level observations a probe hands to the classifier.
type Signals struct {
	// Hung is set when the client mechanism did not unwind after its budget was exhausted.
	Hung bool
	// Abort is the context cause when the probe context was cancelled mid-operation.
	Abort error
	// Err is any failure not explained by cancellation.
	Err error
	// HTTPStatus is zero when no response headers were received.
	HTTPStatus int

	Streaming    bool
	ChunkCount   int
	DoneReceived bool
	// BodyValid is set for non-streaming probes whose body carried the expected field.
	BodyValid bool
	// Detail explains a protocol failure that is not a transport error, e.g. a malformed body.
	Detail error
}

// Classify maps signals to exactly one outcome.
func Classify(s Signals) model.Outcome {
	switch {
	case s.Hung:
		return model.OutcomeHang
	case s.HTTPStatus != 0 && !statusOK(s.HTTPStatus):
		return model.OutcomeFail
	case s.Abort != nil:
		return classifyAbort(s.Abort, s.ChunkCount)
	case s.Err != nil:
		return model.OutcomeError
	case s.Streaming:
		if s.DoneReceived {
			return model.OutcomeOK
		}
		if s.ChunkCount == 0 {
			return model.OutcomeNoFirstEvent
		}
		return model.OutcomeFail
	case !s.BodyValid:
		return model.OutcomeFail
	default:
		return model.OutcomeOK
	}
}

// classifyAbort discriminates on which timer cancelled, not on the fact of cancellation.
func classifyAbort(cause error, chunks int) model.Outcome {
	switch {
	case errors.Is(cause, ErrFirstByteTimeout):
		return model.OutcomeNoFirstByte
	case errors.Is(cause, ErrFirstEventTimeout):
		return model.OutcomeNoFirstEvent
	case errors.Is(cause, ErrRequestTimeout), errors.Is(cause, context.DeadlineExceeded):
		return model.OutcomeTimeout
	case chunks > 0:
		return model.OutcomeTimeout
	default:
		return model.OutcomeError
	}
}

// abortCause returns the cancellation cause if ctx is done, nil otherwise.
func abortCause(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}

func statusOK(code int) bool {
	return code >= 200 && code < 300
}
