package mqtt

import "errors"

var (
	// ErrNotConnected is returned when publishing while the broker is unreachable.
	ErrNotConnected = errors.New("mqtt: client not connected")
	// ErrConnectionFailed is returned when the broker refuses the connection.
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	// ErrConnectionLost is logged when an established connection drops.
	ErrConnectionLost = errors.New("mqtt: connection lost")
	// ErrPublishFailed wraps publish errors and timeouts.
	ErrPublishFailed = errors.New("mqtt: publish failed")
	// ErrSubscribeFailed wraps subscribe errors and timeouts.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")
	// ErrInvalidTopic is returned for empty topics.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
