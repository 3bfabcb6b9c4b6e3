package models

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError describes a rejected create or update body.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// IsValidationError reports whether err is, or wraps, a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

func (tc *TestCase) Validate() error {
	if err := required("name", tc.Name); err != nil {
		return err
	}
	return required("goal", tc.Goal)
}

func (bc *BrowserConfig) Validate() error {
	if err := required("name", bc.Name); err != nil {
		return err
	}
	if v := bc.Viewport; v != nil && (v.Width <= 0 || v.Height <= 0) {
		return &ValidationError{Field: "viewport", Message: fmt.Sprintf("must be positive, got %dx%d", v.Width, v.Height)}
	}
	if g := bc.Geolocation; g != nil {
		if g.Latitude < -90 || g.Latitude > 90 || g.Longitude < -180 || g.Longitude > 180 {
			return &ValidationError{Field: "geolocation", Message: "is out of range"}
		}
	}
	return nil
}

func (s *Secret) Validate() error {
	return required("name", s.Name)
}

func (p *Project) Validate() error {
	return required("name", p.Name)
}

// Masked returns a copy of the secret without its value.
func (s Secret) Masked() Secret {
	if s.Value != "" {
		s.Value = MaskedValue
	}
	return s
}

// MaskedValue replaces secret values in list responses and CLI output.
const MaskedValue = "********"
