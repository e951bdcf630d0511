package dispatch

import "fmt"

// FailureKind classifies a dispatch failure. Every exit from Dispatch is
// tagged so a caller issuing one dispatch per test kind and stack can report
// each failure independently and continue with the rest.
type FailureKind string

const (
	// KindConnectionFailed is a transport-level failure reaching the
	// notification platform. Never retried by the dispatcher.
	KindConnectionFailed FailureKind = "connection_failed"
	// KindUnexpectedResponse means the platform answered with a shape or
	// value outside its contract.
	KindUnexpectedResponse FailureKind = "unexpected_response"
	// KindNotCreated is the platform's explicit terminal rejection of the
	// submission. Must not be retried.
	KindNotCreated FailureKind = "not_created"
	// KindMissingTrackingInfo means the tracking identifiers never became
	// visible within the bounded retry window.
	KindMissingTrackingInfo FailureKind = "missing_tracking_info"
	// KindStoreUnavailable means the correlation record could not be
	// persisted. The dispatch itself succeeded; confirmations for it will
	// not be matched.
	KindStoreUnavailable FailureKind = "store_unavailable"
)

// Error is the tagged result for a failed (or partially failed) dispatch.
type Error struct {
	Kind FailureKind
	// Upstream is the raw payload or transport error received from the
	// platform, quoted back to the operator for diagnosability.
	Upstream string
	err      error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("dispatch %s: %v", e.Kind, e.err)
	}
	return fmt.Sprintf("dispatch %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Message renders a chat-postable explanation: likely cause in plain language
// plus the raw upstream payload.
func (e *Error) Message() string {
	var cause string
	switch e.Kind {
	case KindConnectionFailed:
		cause = "I encountered an error connecting to the notification platform. This likely means the notification wasn't sent."
	case KindUnexpectedResponse:
		cause = "I received an unexpected response from the notification platform. This likely means the notification wasn't sent."
	case KindNotCreated:
		cause = "The platform reports the incident is stuck on NOTCREATED. This usually means our payload could not be processed. Did someone change the webhook configs? The notification was not sent."
	case KindMissingTrackingInfo:
		cause = "I was unable to obtain an incident ID or delivery report URL. This can mean an invalid contact was used; try the 'update' of your contact data. Even if the notification went out I won't be able to match confirmations for it."
	case KindStoreUnavailable:
		cause = "The notification was sent, but I failed to record its tracking info, so I won't be able to report confirmations for it."
	default:
		cause = "Something went wrong dispatching the notification."
	}
	if e.Upstream == "" {
		return cause
	}
	return fmt.Sprintf("%s\nHere's what I received:\n```%s```", cause, e.Upstream)
}
