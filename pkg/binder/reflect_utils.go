package binder

import (
	"encoding"
	"fmt"
	"reflect"
	"strings"
)

var textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()

// bindToStruct binds values to the fields of the struct v carrying tagName.
// Untagged fields are left for other binders.
func bindToStruct(v any, tagName string, values map[string][]string, bindErr error) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("%w: target must be a non-nil pointer", bindErr)
	}

	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("%w: target must be a pointer to struct", bindErr)
	}

	rt := rv.Type()
	for i := range rv.NumField() {
		field := rv.Field(i)
		fieldType := rt.Field(i)
		if !field.CanSet() {
			continue
		}

		paramName, skip := parseFieldTag(fieldType, tagName)
		if skip {
			continue
		}

		fieldValues, exists := values[paramName]
		if !exists || len(fieldValues) == 0 {
			continue
		}

		if err := setFieldValue(field, fieldType.Type, fieldValues); err != nil {
			return fmt.Errorf("%w: field %s: %v", bindErr, fieldType.Name, err)
		}
	}

	return nil
}

// parseFieldTag returns the parameter name for tagName, skipping untagged
// fields and fields tagged "-".
func parseFieldTag(field reflect.StructField, tagName string) (paramName string, skip bool) {
	tag, ok := field.Tag.Lookup(tagName)
	if !ok || tag == "-" {
		return "", true
	}

	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return "", true
	}
	return name, false
}

// setFieldValue sets a string or encoding.TextUnmarshaler field, such as
// uuid.UUID, from the first value. Empty text leaves the zero value.
func setFieldValue(field reflect.Value, fieldType reflect.Type, values []string) error {
	if fieldType.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(fieldType.Elem()))
		}
		return setFieldValue(field.Elem(), fieldType.Elem(), values)
	}

	if reflect.PointerTo(fieldType).Implements(textUnmarshalerType) {
		text := strings.TrimSpace(values[0])
		if text == "" {
			return nil
		}
		u := field.Addr().Interface().(encoding.TextUnmarshaler)
		if err := u.UnmarshalText([]byte(text)); err != nil {
			return fmt.Errorf("invalid %s value %q", fieldType.Name(), values[0])
		}
		return nil
	}

	if fieldType.Kind() != reflect.String {
		return fmt.Errorf("unsupported type %s", fieldType.Kind())
	}
	field.SetString(values[0])
	return nil
}
