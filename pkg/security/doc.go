// Package security provides validation, sanitization, and limits for the harvest packages.
//
// This package includes:
//   - Input validation for template names, categories, and record identifiers
//   - Error message sanitization before task faults are stored or published
//   - Clamping functions to enforce safe limits on concurrency and priority
//   - Security-related constants defining maximum sizes and counts
//
// Most users should import the root package github.com/jdziat/harvest-tasks
// which re-exports these functions.
package security
