// Package address validates and normalizes stakeholder mailing addresses
// before any geocoding work is attempted. Nothing here performs I/O.
package address

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Validation failures. Each is wrapped in a FieldError when returned from
// ValidateComplete.
var (
	ErrInvalidState      = eris.New("invalid state")
	ErrInvalidZip        = eris.New("invalid zip code")
	ErrInvalidCity       = eris.New("invalid city")
	ErrMissingStreet     = eris.New("street is required")
	ErrIncompleteAddress = eris.New("incomplete address")
)

var zipPattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// Address is a validated, normalized mailing address.
type Address struct {
	Street  string `json:"street" yaml:"street"`
	City    string `json:"city" yaml:"city"`
	State   string `json:"state" yaml:"state"`
	ZipCode string `json:"zip_code" yaml:"zip_code"`
}

// OneLine formats the address for single-line geocoders.
func (a Address) OneLine() string {
	return fmt.Sprintf("%s, %s, %s %s", a.Street, a.City, a.State, a.ZipCode)
}

// FieldError ties a validation failure to the field that caused it.
type FieldError struct {
	Field string `json:"field" yaml:"field"`
	Value string `json:"value" yaml:"value"`
	Err   error  `json:"-" yaml:"-"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e FieldError) Unwrap() error { return e.Err }

// Message is the human-readable reason, used in API and CLI output.
func (e FieldError) Message() string { return e.Err.Error() }

// IncompleteAddressError aggregates every field that failed validation.
type IncompleteAddressError struct {
	Fields []FieldError
}

func (e *IncompleteAddressError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}
	return ErrIncompleteAddress.Error() + ": " + strings.Join(parts, "; ")
}

// Is lets errors.Is match ErrIncompleteAddress as well as any field error.
func (e *IncompleteAddressError) Is(target error) bool {
	return target == ErrIncompleteAddress
}

// Unwrap exposes the per-field errors to errors.Is and errors.As.
func (e *IncompleteAddressError) Unwrap() []error {
	errs := make([]error, len(e.Fields))
	for i, f := range e.Fields {
		errs[i] = f
	}
	return errs
}

// FieldNames lists the failing fields in validation order.
func (e *IncompleteAddressError) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return names
}

// ValidateState accepts a two-letter state or territory code in any case
// and returns it uppercased.
func ValidateState(input string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(input))
	if len(code) != 2 || !IsRecognizedState(code) {
		return "", ErrInvalidState
	}
	return code, nil
}

// ValidateZipCode accepts 12345 or 12345-6789 and returns the trimmed input.
func ValidateZipCode(input string) (string, error) {
	zip := strings.TrimSpace(input)
	if !zipPattern.MatchString(zip) {
		return "", ErrInvalidZip
	}
	return zip, nil
}

// ValidateCity rejects blank input and title-cases the rest.
func ValidateCity(input string) (string, error) {
	city := strings.Join(strings.Fields(input), " ")
	if city == "" {
		return "", ErrInvalidCity
	}
	return cases.Title(language.English).String(city), nil
}

// ValidateComplete checks all four fields and reports every failure at once.
// The returned error, when non-nil, is an *IncompleteAddressError.
func ValidateComplete(street, city, state, zip string) (*Address, error) {
	var (
		out  Address
		errs []FieldError
	)

	out.Street = strings.Join(strings.Fields(street), " ")
	if out.Street == "" {
		errs = append(errs, FieldError{Field: "street", Value: street, Err: ErrMissingStreet})
	}

	var err error
	if out.City, err = ValidateCity(city); err != nil {
		errs = append(errs, FieldError{Field: "city", Value: city, Err: err})
	}
	if out.State, err = ValidateState(state); err != nil {
		errs = append(errs, FieldError{Field: "state", Value: state, Err: err})
	}
	if out.ZipCode, err = ValidateZipCode(zip); err != nil {
		errs = append(errs, FieldError{Field: "zip_code", Value: zip, Err: err})
	}

	if len(errs) > 0 {
		return nil, &IncompleteAddressError{Fields: errs}
	}
	return &out, nil
}

// FieldErrors extracts per-field failures from an error returned by
// ValidateComplete. It returns nil for any other error.
func FieldErrors(err error) []FieldError {
	var ie *IncompleteAddressError
	if errors.As(err, &ie) {
		return ie.Fields
	}
	return nil
}
