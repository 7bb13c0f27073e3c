package domain

import (
	"errors"
	"fmt"
)

// ConfigurationError is fatal: a malformed or incomplete configuration
// aborts the whole run with no partial output, because silently
// under-checking is worse than no report. Per-record data-quality and
// insufficient-data conditions are never errors; they are absorbed into the
// affected verdict's rationale.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
