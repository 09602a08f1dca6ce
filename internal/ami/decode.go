package ami

import (
	"fmt"
	"reflect"
	"strconv"
)

// Unmarshal copies event headers into the struct pointed to by v. Fields are
// bound with an `ami:"HeaderName"` tag; untagged fields are ignored. Supported
// field kinds are string, int and bool. Missing headers leave the zero value.
func Unmarshal(evt Event, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("ami: Unmarshal target must be a non-nil struct pointer, got %T", v)
	}
	rv = rv.Elem()
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		key := field.Tag.Get("ami")
		if key == "" || !field.IsExported() {
			continue
		}
		raw := evt.Get(key)
		if raw == "" {
			continue
		}

		fv := rv.Field(i)
		switch fv.Kind() {
		case reflect.String:
			fv.SetString(raw)
		case reflect.Int, reflect.Int32, reflect.Int64:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("ami: header %s=%q: %w", key, raw, err)
			}
			fv.SetInt(n)
		case reflect.Bool:
			fv.SetBool(parseBool(raw))
		default:
			return fmt.Errorf("ami: unsupported field kind %s for header %s", fv.Kind(), key)
		}
	}
	return nil
}

// parseBool accepts the spellings AMI uses for flags.
func parseBool(s string) bool {
	switch s {
	case "1", "yes", "Yes", "true", "True", "on", "On":
		return true
	}
	return false
}
