package logger

// Logger is the logging contract shared by the controller packages. The core
// packages only depend on this interface; infra/logger provides the zerolog
// backed implementation.
type Logger interface {
	Debugf(format string, args ...any)
	// Debugw logs a message with structured fields.
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	// Warnw logs a warning with structured fields, used on the ingestion path
	// where the topic and payload size matter more than the message text.
	Warnw(msg string, fields map[string]any)
	Errorf(format string, args ...any)
}
