package sanitize

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// RedactionHook scrubs identifier-like content from every log entry before it is written
type RedactionHook struct{}

// NewRedactionHook creates the hook
func NewRedactionHook() *RedactionHook {
	return &RedactionHook{}
}

// Levels implements logrus.Hook
func (h *RedactionHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook
func (h *RedactionHook) Fire(entry *logrus.Entry) error {
	entry.Message = Text(entry.Message)
	for k, v := range entry.Data {
		switch val := v.(type) {
		case string:
			entry.Data[k] = Text(val)
		case error:
			entry.Data[k] = Text(val.Error())
		case fmt.Stringer:
			entry.Data[k] = Text(val.String())
		}
	}
	return nil
}

// Error returns an error whose message is redacted. The original stays reachable with errors.Unwrap.
func Error(err error) error {
	if err == nil {
		return nil
	}
	return &redactedError{msg: Text(err.Error()), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }
