package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// LoadError occurs when the config file cannot be read or decoded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to load configuration: %v", e.Err)
	}
	return fmt.Sprintf("failed to load configuration from '%s': %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ValidationError reports the first field that failed validation.
type ValidationError struct {
	Field   string
	Tag     string
	Value   interface{}
	Details validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s failed '%s' (value: %v)", e.Field, e.Tag, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return e.Details
}
