// Package handler provides reflection-based invocation of named task
// functions.
//
// This package is internal and should not be imported directly.
// It provides:
//   - Handler: signature metadata for a registered function
//   - JSON argument unmarshaling and invocation with a uniform (any, error) result
package handler
