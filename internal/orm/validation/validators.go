package validation

import (
	"fmt"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Validator checks a single field value
type Validator interface {
	Validate(value reflect.Value) error
}

// RequiredValidator rejects zero values, nil pointers and empty strings or slices
type RequiredValidator struct{}

// Validate implements the Validator interface
func (v *RequiredValidator) Validate(value reflect.Value) error {
	if !value.IsValid() || value.IsZero() {
		return fmt.Errorf("is required")
	}
	switch value.Kind() {
	case reflect.String:
		if strings.TrimSpace(value.String()) == "" {
			return fmt.Errorf("is required")
		}
	case reflect.Slice, reflect.Map:
		if value.Len() == 0 {
			return fmt.Errorf("is required")
		}
	}
	return nil
}

// MinValidator validates minimum numbers and minimum string lengths
type MinValidator struct {
	Min float64
}

// Validate implements the Validator interface
func (v *MinValidator) Validate(value reflect.Value) error {
	value, ok := indirect(value)
	if !ok {
		return nil
	}
	if value.Kind() == reflect.String {
		if float64(utf8.RuneCountInString(value.String())) < v.Min {
			return fmt.Errorf("must be at least %v characters", v.Min)
		}
		return nil
	}
	n, ok := toFloat64(value)
	if !ok {
		return fmt.Errorf("min requires a numeric or string value")
	}
	if n < v.Min {
		return fmt.Errorf("must be at least %v", v.Min)
	}
	return nil
}

// MaxValidator validates maximum numbers and maximum string lengths
type MaxValidator struct {
	Max float64
}

// Validate implements the Validator interface
func (v *MaxValidator) Validate(value reflect.Value) error {
	value, ok := indirect(value)
	if !ok {
		return nil
	}
	if value.Kind() == reflect.String {
		if float64(utf8.RuneCountInString(value.String())) > v.Max {
			return fmt.Errorf("must be at most %v characters", v.Max)
		}
		return nil
	}
	n, ok := toFloat64(value)
	if !ok {
		return fmt.Errorf("max requires a numeric or string value")
	}
	if n > v.Max {
		return fmt.Errorf("must be at most %v", v.Max)
	}
	return nil
}

// PatternValidator validates string values against a regex pattern
type PatternValidator struct {
	Pattern *regexp.Regexp
}

// Validate implements the Validator interface
func (v *PatternValidator) Validate(value reflect.Value) error {
	s, ok, err := stringOf(value, "pattern")
	if !ok || err != nil {
		return err
	}
	if !v.Pattern.MatchString(s) {
		return fmt.Errorf("does not match required pattern")
	}
	return nil
}

// EmailValidator validates email addresses. Empty strings pass; combine with
// required to reject them.
type EmailValidator struct{}

// Validate implements the Validator interface
func (v *EmailValidator) Validate(value reflect.Value) error {
	s, ok, err := stringOf(value, "email")
	if !ok || err != nil || s == "" {
		return err
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return fmt.Errorf("must be a valid email address")
	}
	return nil
}

// URLValidator validates absolute URLs
type URLValidator struct{}

// Validate implements the Validator interface
func (v *URLValidator) Validate(value reflect.Value) error {
	s, ok, err := stringOf(value, "url")
	if !ok || err != nil || s == "" {
		return err
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("must be a valid URL")
	}
	if u.Scheme == "" {
		return fmt.Errorf("URL must include a scheme (http, https, etc.)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

// PhoneValidator validates phone numbers in E.164 format
type PhoneValidator struct{}

// Validate implements the Validator interface
func (v *PhoneValidator) Validate(value reflect.Value) error {
	s, ok, err := stringOf(value, "phone")
	if !ok || err != nil || s == "" {
		return err
	}
	if !e164Pattern.MatchString(s) {
		return fmt.Errorf("must be a valid phone number in E.164 format (+[country code][number])")
	}
	return nil
}

// MinLengthValidator validates the minimum number of items in a slice
type MinLengthValidator struct {
	MinLength int
}

// Validate implements the Validator interface
func (v *MinLengthValidator) Validate(value reflect.Value) error {
	if value.Kind() != reflect.Slice && value.Kind() != reflect.Array {
		return fmt.Errorf("min_length validation requires array or slice value")
	}
	if value.Len() < v.MinLength {
		return fmt.Errorf("must contain at least %d items", v.MinLength)
	}
	return nil
}

// MaxLengthValidator validates the maximum number of items in a slice
type MaxLengthValidator struct {
	MaxLength int
}

// Validate implements the Validator interface
func (v *MaxLengthValidator) Validate(value reflect.Value) error {
	if value.Kind() != reflect.Slice && value.Kind() != reflect.Array {
		return fmt.Errorf("max_length validation requires array or slice value")
	}
	if value.Len() > v.MaxLength {
		return fmt.Errorf("must contain at most %d items", v.MaxLength)
	}
	return nil
}

// indirect dereferences pointers; ok is false for nil
func indirect(v reflect.Value) (reflect.Value, bool) {
	for v.IsValid() && v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return v, false
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}

func stringOf(v reflect.Value, rule string) (string, bool, error) {
	v, ok := indirect(v)
	if !ok {
		return "", false, nil
	}
	if v.Kind() != reflect.String {
		return "", false, fmt.Errorf("%s validation requires string value", rule)
	}
	return v.String(), true, nil
}

func toFloat64(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	default:
		return 0, false
	}
}
