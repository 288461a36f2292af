// Package utils holds small helpers shared by the engine and the guard
// pipeline.
package utils //nolint:revive // utils is an appropriate package name for utility functions

import "reflect"

// IsNilish reports whether val is nil or an interface holding a nil pointer,
// map, slice, channel or func. Business logic returning a typed nil snapshot
// is caught this way.
func IsNilish(val any) bool {
	if val == nil {
		return true
	}

	v := reflect.ValueOf(val)

	switch v.Kind() { //nolint:exhaustive
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Pointer,
		reflect.UnsafePointer, reflect.Interface, reflect.Slice:
		return v.IsNil()
	}

	return false
}
