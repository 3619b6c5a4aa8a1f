// Package core provides the fundamental building blocks of the offshore ORM.
// This file defines the typed errors returned by the engine.
package core

import "fmt"

// UsageError reports a misuse of the query API: caching a method that cannot
// be cached, a malformed criteria shape, a missing value.
type UsageError struct {
	Op  string
	Msg string
}

func (e *UsageError) Error() string {
	if e.Op == "" {
		return e.Msg
	}
	return e.Op + ": " + e.Msg
}

// ConfigurationError reports an invalid registry setup. It is returned by
// Initialize and never at query time.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Msg
}

// ResolutionError reports a populate target or association path that does
// not exist on the collection schema.
type ResolutionError struct {
	Path string
	Msg  string
	Err  error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("in `.populate(%q)`, %s", e.Path, e.Msg)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// TransactionStateError is raised (as a panic) when a transaction is
// committed or rolled back twice.
type TransactionStateError struct {
	Msg string
}

func (e *TransactionStateError) Error() string {
	return "transaction: " + e.Msg
}

func usageErrorf(op, format string, args ...any) error {
	return &UsageError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// ValidationError reports values rejected before reaching the adapter.
type ValidationError struct {
	Collection string
	Attribute  string
	Msg        string
}

func (e *ValidationError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("%s: %s", e.Collection, e.Msg)
	}
	return fmt.Sprintf("%s.%s: %s", e.Collection, e.Attribute, e.Msg)
}
