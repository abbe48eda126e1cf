// Package validation provides fail-fast helpers for constructor contracts.
package validation

import (
	"fmt"
	"reflect"
)

// AssertNotNil panics when a mandatory dependency is nil. It is intended for
// constructors and wiring code, where a nil dependency is programmer error
// rather than a runtime condition; it also catches typed-nil pointers hiding
// inside interface values.
//
// Usage:
//
//	validation.AssertNotNil(db, "database pool")
func AssertNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("critical error: %s cannot be nil", name))
		}
	}
}
