// Package errors provides structured error types for ssdeploy.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for ssdeploy.
const (
	// Graph translation errors
	CodeObjectNotFound              Code = "OBJECT_NOT_FOUND"
	CodeMalformedBundle             Code = "MALFORMED_BUNDLE"
	CodeBrokenReference             Code = "BROKEN_REFERENCE"
	CodeMissingDependencyIdentifier Code = "MISSING_DEPENDENCY_IDENTIFIER"
	CodeUnknownContentType          Code = "UNKNOWN_CONTENT_TYPE"
	CodeNameCollision               Code = "NAME_COLLISION"

	// Platform errors
	CodePlatformRequest Code = "PLATFORM_REQUEST"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodeConfigMissing Code = "CONFIG_MISSING"
)

// Category groups error codes for process exit status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryInvalidData
	CategoryConfig
	CategoryPlatform
)

var codeCategories = map[Code]Category{
	CodeObjectNotFound:              CategoryNotFound,
	CodeMalformedBundle:             CategoryInvalidData,
	CodeBrokenReference:             CategoryInvalidData,
	CodeMissingDependencyIdentifier: CategoryInvalidData,
	CodeUnknownContentType:          CategoryPlatform,
	CodeNameCollision:               CategoryInvalidData,
	CodePlatformRequest:             CategoryPlatform,
	CodeConfigInvalid:               CategoryConfig,
	CodeConfigMissing:               CategoryConfig,
}

// ExitCode returns the process exit status for a category.
func (c Category) ExitCode() int {
	switch c {
	case CategoryNotFound:
		return 3
	case CategoryInvalidData:
		return 4
	case CategoryConfig:
		return 5
	case CategoryPlatform:
		return 6
	default:
		return 1
	}
}

// DeployError is the structured error type for ssdeploy.
type DeployError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *DeployError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *DeployError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *DeployError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category.
func (e *DeployError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// MarshalJSON implements json.Marshaler.
func (e *DeployError) MarshalJSON() ([]byte, error) {
	type alias DeployError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a DeployError with the same code.
func (e *DeployError) Is(target error) bool {
	t, ok := target.(*DeployError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *DeployError) WithCause(err error) *DeployError {
	return &DeployError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// Sentinels for errors.Is comparisons. Only the code is compared.
var (
	ErrObjectNotFound              = &DeployError{Code: CodeObjectNotFound, What: "object not found"}
	ErrMalformedBundle             = &DeployError{Code: CodeMalformedBundle, What: "malformed bundle"}
	ErrBrokenReference             = &DeployError{Code: CodeBrokenReference, What: "broken reference"}
	ErrMissingDependencyIdentifier = &DeployError{Code: CodeMissingDependencyIdentifier, What: "missing dependency identifier"}
	ErrUnknownContentType          = &DeployError{Code: CodeUnknownContentType, What: "unknown content type"}
	ErrNameCollision               = &DeployError{Code: CodeNameCollision, What: "stable name collision"}
	ErrPlatformRequest             = &DeployError{Code: CodePlatformRequest, What: "platform request failed"}
	ErrConfigInvalid               = &DeployError{Code: CodeConfigInvalid, What: "invalid configuration"}
	ErrConfigMissing               = &DeployError{Code: CodeConfigMissing, What: "missing configuration"}
)

// --- Error constructors ---

// ObjectNotFound returns an error for an object absent from an environment or
// from the portable repository.
func ObjectNotFound(class, name, where string) *DeployError {
	return &DeployError{
		Code: CodeObjectNotFound,
		What: fmt.Sprintf("%s %q not found", class, name),
		Why:  fmt.Sprintf("No %s named %q exists in %s", class, name, where),
		Fix:  "Check the name and class, or run 'ssdeploy list' to see what the repository holds",
	}
}

// MalformedBundle returns an error for an archive member that does not match
// the expected export layout.
func MalformedBundle(member, reason string) *DeployError {
	return &DeployError{
		Code: CodeMalformedBundle,
		What: fmt.Sprintf("malformed bundle member %q", member),
		Why:  reason,
		Fix:  "Re-export the object; the archive must use <root>/<class>/<file> and <root>/datasets/<database>/<file>",
	}
}

// BrokenReference describes a cross-reference to an object that was skipped or
// never extracted. It is recoverable: callers drop the reference and log it.
func BrokenReference(fromClass, fromName, toClass, ref string) *DeployError {
	return &DeployError{
		Code: CodeBrokenReference,
		What: fmt.Sprintf("%s %q references unknown %s %q", fromClass, fromName, toClass, ref),
		Why:  "The referenced object was skipped or never extracted",
	}
}

// MissingDependencyIdentifier returns an error for a reference that could not be
// translated to a target identifier after its dependency was staged.
func MissingDependencyIdentifier(fromClass, fromName, toClass, toName string) *DeployError {
	return &DeployError{
		Code: CodeMissingDependencyIdentifier,
		What: fmt.Sprintf("%s %q depends on %s %q which has no identifier", fromClass, fromName, toClass, toName),
		Why:  "The platform requires identifiers, not names, for references at import time",
		Fix:  "Import the dependency into the target first, or use --identifiers=portable or --identifiers=assign",
	}
}

// UnknownContentType returns an error for a payload in an unrecognized encoding.
func UnknownContentType(contentType string) *DeployError {
	return &DeployError{
		Code: CodeUnknownContentType,
		What: fmt.Sprintf("unknown content type %q", contentType),
		Why:  "Expected a zip export bundle",
	}
}

// NameCollision returns an error when two distinct identifiers normalize to the
// same stable name within one class.
func NameCollision(class, name, existingID, newID string) *DeployError {
	return &DeployError{
		Code: CodeNameCollision,
		What: fmt.Sprintf("%s stable name %q is used by %s and %s", class, name, existingID, newID),
		Why:  "Two distinct objects normalize to the same stable name and would overwrite each other",
		Fix:  "Rename one of the objects in the source environment, or set name_collisions: overwrite",
	}
}

// PlatformRequest returns an error for a failed platform API call.
func PlatformRequest(method, url string, status int, message string) *DeployError {
	return &DeployError{
		Code: CodePlatformRequest,
		What: fmt.Sprintf("%s %s failed with status %d", method, url, status),
		Why:  message,
	}
}

// ConfigInvalid returns an error for invalid configuration.
func ConfigInvalid(field, reason string) *DeployError {
	return &DeployError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check ssdeploy.yaml and fix the invalid field",
	}
}

// ConfigMissing returns an error for missing configuration.
func ConfigMissing(field string) *DeployError {
	return &DeployError{
		Code: CodeConfigMissing,
		What: fmt.Sprintf("missing required configuration: %s", field),
		Why:  "This field is required but not set in configuration",
		Fix:  fmt.Sprintf("Add '%s' to ssdeploy.yaml or set the matching SSDEPLOY_ environment variable", field),
	}
}

// AsDeployError attempts to convert an error to a DeployError.
// Returns nil if the error is not a DeployError.
func AsDeployError(err error) *DeployError {
	var deployErr *DeployError
	if As(err, &deployErr) {
		return deployErr
	}
	return nil
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool {
	return asError(err, target)
}

func asError(err error, target any) bool {
	if err == nil {
		return false
	}
	if deployErr, ok := err.(*DeployError); ok {
		if t, ok := target.(**DeployError); ok {
			*t = deployErr
			return true
		}
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return asError(u.Unwrap(), target)
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if asError(e, target) {
				return true
			}
		}
	}
	return false
}

// Wrap wraps a generic error into a DeployError with unknown code.
func Wrap(err error, what string) *DeployError {
	return &DeployError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
