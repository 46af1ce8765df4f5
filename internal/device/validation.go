package device

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize trims surrounding whitespace from every reported field.
func (m Metadata) Normalize() Metadata {
	m.FingerprintID = strings.TrimSpace(m.FingerprintID)
	m.DisplayName = strings.TrimSpace(m.DisplayName)
	m.Platform = strings.TrimSpace(m.Platform)
	m.OSVersion = strings.TrimSpace(m.OSVersion)
	m.AppVersion = strings.TrimSpace(m.AppVersion)
	m.IP = strings.TrimSpace(m.IP)
	m.Location = strings.TrimSpace(m.Location)
	return m
}

// Validate checks the struct tags on Metadata and returns a *ValidationError
// listing every failed field.
func (m Metadata) Validate() error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: []FieldError{{Field: "metadata", Rule: err.Error()}}}
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field: jsonName(fe.StructField()),
			Rule:  fe.Tag(),
			Param: fe.Param(),
		})
	}
	return &ValidationError{Fields: fields}
}

func jsonName(structField string) string {
	switch structField {
	case "FingerprintID":
		return "fingerprint_id"
	case "DisplayName":
		return "display_name"
	case "OSVersion":
		return "os_version"
	case "AppVersion":
		return "app_version"
	default:
		return strings.ToLower(structField)
	}
}

// GenerateID creates a new device id.
func GenerateID() string {
	return "dev-" + uuid.NewString()[:8]
}
