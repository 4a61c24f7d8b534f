package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRecord is returned when a record cannot be fingerprinted or scored
	ErrInvalidRecord = errors.New("invalid record")
	// ErrProfileMisconfigured is returned when a profile fails validation at save time
	ErrProfileMisconfigured = errors.New("profile misconfigured")
)

// InvalidRecordError describes why a record was rejected
type InvalidRecordError struct {
	Source      string
	ExternalRef string
	Reason      string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid record %s/%s: %s", e.Source, e.ExternalRef, e.Reason)
}

func (e *InvalidRecordError) Unwrap() error {
	return ErrInvalidRecord
}

// ProfileError describes a single misconfigured profile field
type ProfileError struct {
	Field  string
	Reason string
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("profile field %s: %s", e.Field, e.Reason)
}

func (e *ProfileError) Unwrap() error {
	return ErrProfileMisconfigured
}
