package loader

import (
	"errors"
	"fmt"
)

// RecordKind names the part of a triple a field belongs to.
type RecordKind string

// The response kinds match the section names of a triple so a diagnostic
// tells which upstream produced the bad record.
const (
	KindLine            RecordKind = "line"
	KindRequest         RecordKind = "request"
	KindPrimaryResponse RecordKind = "primaryResponse"
	KindShadowResponse  RecordKind = "shadowResponse"
)

// MissingSectionError is returned when a triple lacks one of its top-level objects.
type MissingSectionError struct {
	Section string
}

func (e *MissingSectionError) Error() string {
	return fmt.Sprintf("missing section %q", e.Section)
}

// MissingFieldError is returned when a required field is absent from a record.
type MissingFieldError struct {
	Kind  RecordKind
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s is missing required field %q", e.Kind, e.Field)
}

// FormatError is returned when a field is present but has the wrong shape.
type FormatError struct {
	Kind  RecordKind
	Field string
	Value interface{}
	Err   error
}

func (e *FormatError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s field %q has invalid value %v: %v", e.Kind, e.Field, e.Value, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// UnsupportedFormatError is returned by Lookup for formats with no registered loader.
type UnsupportedFormatError struct {
	Format Format
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("log file format %q is unknown or unsupported", string(e.Format))
}

// LineError records a log line that was skipped during a batch load.
type LineError struct {
	Path string
	Line int // zero-based within Path
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err describes a line that could not be parsed,
// as opposed to a failure to read the input.
func IsParseError(err error) bool {
	var (
		missingSection *MissingSectionError
		missingField   *MissingFieldError
		format         *FormatError
	)
	return errors.As(err, &missingSection) || errors.As(err, &missingField) || errors.As(err, &format)
}
