// Package core provides the fundamental types and interfaces for the harvest packages.
//
// This package contains:
//   - Status and Reason vocabularies shared by chains, the queue protocol and the API
//   - KVStore and DocumentStore collaborator interfaces
//   - Event types for dispatcher monitoring
//   - Error types, including the chain-abort signal
//
// Most users should import the root package github.com/jdziat/harvest-tasks
// instead of this package directly.
package core
