package device

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no device matches the lookup
	// within the account.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is matched by every *ValidationError.
	ErrInvalidDevice = errors.New("device: invalid")
)

// FieldError describes one rejected metadata field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// ValidationError reports malformed device metadata.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Param != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", f.Field, f.Rule, f.Param))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", f.Field, f.Rule))
		}
	}
	return "device: invalid metadata: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrInvalidDevice) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidDevice
}
