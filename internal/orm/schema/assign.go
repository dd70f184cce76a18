package schema

import (
	"database/sql"
	"database/sql/driver"
	"reflect"
	"strconv"

	"github.com/cockroachdb/errors"
)

var scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

// Assign stores src into dst, converting between compatible representations.
// It accepts database driver values (int64, float64, []byte, string, time.Time)
// as well as Go values of the same or a convertible type.
func Assign(dst reflect.Value, src any) error {
	if src == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	if dst.Kind() == reflect.Pointer {
		sv := reflect.ValueOf(src)
		if sv.Type().AssignableTo(dst.Type()) {
			dst.Set(sv)
			return nil
		}
		if sv.Kind() == reflect.Pointer && sv.IsNil() {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		elem := reflect.New(dst.Type().Elem())
		if err := Assign(elem.Elem(), src); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	sv := reflect.ValueOf(src)
	for sv.Kind() == reflect.Pointer {
		if sv.IsNil() {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		sv = sv.Elem()
	}

	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}

	if dst.CanAddr() && dst.Addr().Type().Implements(scannerType) {
		return dst.Addr().Interface().(sql.Scanner).Scan(sv.Interface())
	}

	if b, ok := sv.Interface().([]byte); ok {
		if dst.Kind() == reflect.String {
			dst.SetString(string(b))
			return nil
		}
		sv = reflect.ValueOf(string(b))
	}

	if sv.Kind() == reflect.String && dst.Kind() != reflect.String {
		parsed, err := ParseValue(dst.Type(), sv.String())
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(parsed))
		return nil
	}

	if dst.Kind() == reflect.Bool && isNumeric(sv.Kind()) {
		dst.SetBool(!sv.IsZero())
		return nil
	}

	if compatibleKinds(sv.Kind(), dst.Kind()) && sv.Type().ConvertibleTo(dst.Type()) {
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}

	return errors.Newf("cannot assign %T to %s", src, dst.Type())
}

// DriverValue returns the value to bind for a struct field when writing it to the database
func DriverValue(v reflect.Value) (any, error) {
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return nil, nil
	}
	if valuer, ok := v.Interface().(driver.Valuer); ok {
		return valuer.Value()
	}
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	return v.Interface(), nil
}

// ParseValue parses a textual value into the given Go type
func ParseValue(t reflect.Type, s string) (any, error) {
	if t.Kind() == reflect.Pointer {
		v, err := ParseValue(t.Elem(), s)
		if err != nil {
			return nil, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(reflect.ValueOf(v))
		return ptr.Interface(), nil
	}

	if reflect.PointerTo(t).Implements(scannerType) {
		ptr := reflect.New(t)
		if err := ptr.Interface().(sql.Scanner).Scan(s); err != nil {
			return nil, errors.Wrapf(err, "invalid %s value %q", t, s)
		}
		return ptr.Elem().Interface(), nil
	}

	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, t.Bits())
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s value %q", t, s)
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, t.Bits())
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s value %q", t, s)
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, t.Bits())
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s value %q", t, s)
		}
		v.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s value %q", t, s)
		}
		v.SetBool(b)
	default:
		return nil, errors.Newf("cannot parse %q into %s", s, t)
	}
	return v.Interface(), nil
}

// NormalizeID returns a canonical form of an identifier suitable as a map key.
// All integer kinds become int64 and byte slices become strings.
func NormalizeID(id any) any {
	if id == nil {
		return nil
	}
	v := reflect.ValueOf(id)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	}
	if b, ok := v.Interface().([]byte); ok {
		return string(b)
	}
	return v.Interface()
}

// IsZeroID returns true if id is nil or the zero value of its type
func IsZeroID(id any) bool {
	if id == nil {
		return true
	}
	return reflect.ValueOf(id).IsZero()
}

func compatibleKinds(src, dst reflect.Kind) bool {
	if src == dst {
		return true
	}
	return isNumeric(src) && isNumeric(dst)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
