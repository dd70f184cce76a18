// Package validation checks entities against rules declared in `validate`
// struct tags:
//
//	Name  string `db:"name" validate:"required,max=80"`
//	Email string `db:"email" validate:"email"`
//
// Supported rules are required, min=N, max=N, pattern=RE, email, url, phone,
// min_length=N and max_length=N. Entities may add cross-field rules by
// implementing Validatable.
package validation

import (
	"context"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// Validatable is implemented by entities with rules beyond their field tags.
// A returned *ValidationErrors is merged field by field; any other error is
// recorded under the entity's base key.
type Validatable interface {
	Validate(ctx context.Context) error
}

// BaseField is the key used for errors not tied to a single field
const BaseField = "base"

type fieldRules struct {
	name       string
	index      []int
	validators []Validator
}

// Engine validates entities. Rules are parsed once per struct type.
type Engine struct {
	cache sync.Map // reflect.Type -> []fieldRules
}

// NewEngine creates a new validation engine
func NewEngine() *Engine {
	return &Engine{}
}

// Validate checks every tagged field of entity and then its Validatable hook.
// It returns a *ValidationErrors when any rule fails.
func (e *Engine) Validate(ctx context.Context, entity any) error {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return errors.New("cannot validate a nil entity")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return errors.Newf("cannot validate %T: not a struct", entity)
	}

	rules, err := e.rulesFor(v.Type())
	if err != nil {
		return err
	}

	result := NewValidationErrors(v.Type().Name())
	for _, fr := range rules {
		value := v.FieldByIndex(fr.index)
		for _, validator := range fr.validators {
			if err := validator.Validate(value); err != nil {
				result.Add(fr.name, err.Error())
			}
		}
	}

	if hook, ok := entity.(Validatable); ok {
		if err := hook.Validate(ctx); err != nil {
			var nested *ValidationErrors
			if errors.As(err, &nested) {
				for _, fe := range nested.FieldErrors() {
					result.Add(fe.Field, fe.Message)
				}
			} else {
				result.Add(BaseField, err.Error())
			}
		}
	}

	if result.HasErrors() {
		return result
	}
	return nil
}

// ValidateField checks one value against a rule string in tag syntax
func (e *Engine) ValidateField(field string, value any, rules string) error {
	validators, err := parseRules(rules)
	if err != nil {
		return err
	}
	result := NewValidationErrors("")
	for _, validator := range validators {
		if err := validator.Validate(reflect.ValueOf(value)); err != nil {
			result.Add(field, err.Error())
		}
	}
	if result.HasErrors() {
		return result
	}
	return nil
}

func (e *Engine) rulesFor(t reflect.Type) ([]fieldRules, error) {
	if cached, ok := e.cache.Load(t); ok {
		return cached.([]fieldRules), nil
	}

	var rules []fieldRules
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, ok := f.Tag.Lookup("validate")
		if !ok || tag == "-" || !f.IsExported() {
			continue
		}
		validators, err := parseRules(tag)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", t.Name(), f.Name)
		}
		rules = append(rules, fieldRules{name: f.Name, index: f.Index, validators: validators})
	}

	actual, _ := e.cache.LoadOrStore(t, rules)
	return actual.([]fieldRules), nil
}

// parseRules turns a tag such as "required,max=80" into validators. A
// pattern rule consumes the rest of the tag so that it may contain commas.
func parseRules(tag string) ([]Validator, error) {
	var validators []Validator
	rest := strings.TrimSpace(tag)
	for rest != "" {
		var rule string
		if strings.HasPrefix(rest, "pattern=") {
			rule, rest = rest, ""
		} else {
			rule, rest, _ = strings.Cut(rest, ",")
		}
		rule = strings.TrimSpace(rule)
		rest = strings.TrimSpace(rest)
		if rule == "" {
			continue
		}

		name, arg, hasArg := strings.Cut(rule, "=")
		switch name {
		case "required":
			validators = append(validators, &RequiredValidator{})
		case "email":
			validators = append(validators, &EmailValidator{})
		case "url":
			validators = append(validators, &URLValidator{})
		case "phone":
			validators = append(validators, &PhoneValidator{})
		case "min", "max":
			n, err := strconv.ParseFloat(arg, 64)
			if !hasArg || err != nil {
				return nil, errors.Newf("rule %q needs a numeric argument", rule)
			}
			if name == "min" {
				validators = append(validators, &MinValidator{Min: n})
			} else {
				validators = append(validators, &MaxValidator{Max: n})
			}
		case "min_length", "max_length":
			n, err := strconv.Atoi(arg)
			if !hasArg || err != nil || n < 0 {
				return nil, errors.Newf("rule %q needs a non-negative integer argument", rule)
			}
			if name == "min_length" {
				validators = append(validators, &MinLengthValidator{MinLength: n})
			} else {
				validators = append(validators, &MaxLengthValidator{MaxLength: n})
			}
		case "pattern":
			if !hasArg {
				return nil, errors.New("rule pattern needs an expression")
			}
			re, err := regexp.Compile(arg)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid pattern %q", arg)
			}
			validators = append(validators, &PatternValidator{Pattern: re})
		default:
			return nil, errors.Newf("unknown validation rule %q", name)
		}
	}
	return validators, nil
}
