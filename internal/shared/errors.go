package shared

import (
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// Codes for the error kinds that do not have a same-named errbuilder code.
const (
	CodeInUse            = errbuilder.CodeFailedPrecondition
	CodeConflict         = errbuilder.CodeAborted
	CodeChecksumMismatch = errbuilder.CodeDataLoss
	CodeSignatureInvalid = errbuilder.CodeUnauthenticated
	CodeForbidden        = errbuilder.CodePermissionDenied
)

// ErrCorrupted marks KV or catalog corruption; it is attached as the cause
// of a CodeInternal error.
var ErrCorrupted = errors.New("database corrupted")

// NotFound builds the error returned when a named entity is missing.
func NotFound(kind string, name string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("%s with name %s not found", kind, name))
}

// AlreadyExists builds the error returned on a name collision.
func AlreadyExists(kind string, name string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeAlreadyExists).
		WithMsg(fmt.Sprintf("%s with name %s already exists", kind, name))
}

// InvalidArgument builds a usage error.
func InvalidArgument(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg)
}

// InUse refuses to drop or change an entity something else references.
func InUse(msg string) error {
	return errbuilder.New().
		WithCode(CodeInUse).
		WithMsg(msg)
}

// Internal wraps an unexpected failure.
func Internal(msg string, cause error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(msg).
		WithCause(cause)
}

// Unavailable wraps a transport or back-end failure.
func Unavailable(msg string, cause error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(msg).
		WithCause(cause)
}

// Corrupted wraps a decoding failure of stored data.
func Corrupted(msg string, cause error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(msg).
		WithCause(fmt.Errorf("%w: %v", ErrCorrupted, cause))
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool {
	return err != nil && errbuilder.CodeOf(err) == errbuilder.CodeNotFound
}

// Message returns the builder message of err, falling back to Error().
func Message(err error) string {
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && builder.Msg != "" {
		return builder.Msg
	}
	return err.Error()
}
