package utils

import (
	"reflect"

	"github.com/pkg/errors"
)

// AssertType asserts that from holds a T.
func AssertType[T any](from interface{}) (T, error) {
	asserted, ok := from.(T)
	if !ok {
		expected := reflect.TypeOf((*T)(nil)).Elem()
		return asserted, errors.Errorf("expected %s but got %s", expected, typeName(from))
	}
	return asserted, nil
}

func typeName(v interface{}) string {
	if v == nil {
		return "<unknown (nil interface)>"
	}
	return reflect.TypeOf(v).String()
}
