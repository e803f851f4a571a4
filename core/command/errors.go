package command

import "errors"

// Validation and transport errors returned in Result.Err. Use errors.Is.
var (
	ErrInvalidTopic       = errors.New("invalid or missing topic")
	ErrMissingPayload     = errors.New("missing payload")
	ErrDisallowedAction   = errors.New("action not allowed")
	ErrInvalidPayloadType = errors.New("payload must be a boolean value (true or false)")
	ErrNotConnected       = errors.New("mqtt client not connected")
	ErrPublishFailed      = errors.New("publish failed")
)

// Result codes, stable identifiers for the errors above.
const (
	CodeOK                 = "ok"
	CodeInvalidTopic       = "invalid_topic"
	CodeMissingPayload     = "missing_payload"
	CodeDisallowedAction   = "disallowed_action"
	CodeInvalidPayloadType = "invalid_payload_type"
	CodeNotConnected       = "not_connected"
	CodePublishFailed      = "publish_failed"
)

func codeFor(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidTopic):
		return CodeInvalidTopic
	case errors.Is(err, ErrMissingPayload):
		return CodeMissingPayload
	case errors.Is(err, ErrDisallowedAction):
		return CodeDisallowedAction
	case errors.Is(err, ErrInvalidPayloadType):
		return CodeInvalidPayloadType
	case errors.Is(err, ErrNotConnected):
		return CodeNotConnected
	default:
		return CodePublishFailed
	}
}

// IsValidation reports whether err is a precondition failure that was
// detected before talking to the transport.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidTopic) || errors.Is(err, ErrMissingPayload) ||
		errors.Is(err, ErrDisallowedAction) || errors.Is(err, ErrInvalidPayloadType)
}
