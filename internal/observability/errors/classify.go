// Package errors turns Go errors into low-cardinality class names for
// metric tags.
package errors

import (
	goerrors "errors"
	"fmt"
	"strings"

	apperrors "github.com/arcovabio/annex/internal/errors"
)

// Classify returns a normalized class name for err, suitable as a
// metric tag value. Structured application errors classify by their
// code ("validation", "conflict", ...); anything else falls back to
// the innermost concrete error type.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}

	// Unwrap to the innermost error; wrapper types like fmt's wrapError
	// carry no signal of their own.
	for {
		inner := goerrors.Unwrap(err)
		if inner == nil {
			break
		}
		err = inner
	}

	name := fmt.Sprintf("%T", err)
	name = strings.TrimLeft(name, "*")
	name = strings.ToLower(strings.ReplaceAll(name, ".", "_"))
	if name == "" {
		return "unknown"
	}
	return name
}
