package attackmap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/caseforge/attackmap/casestore"
	"github.com/caseforge/attackmap/catalog"
	"github.com/caseforge/attackmap/mapper"
	"github.com/caseforge/attackmap/render"
)

// Sentinel errors for common failure conditions. They alias the concern
// packages' sentinels so callers can match with errors.Is() without
// importing each package.
var (
	// ErrCatalogUnavailable indicates no ATT&CK catalog could be obtained
	// from either the upstream source or the local cache.
	ErrCatalogUnavailable = catalog.ErrUnavailable

	// ErrInvalidMapping indicates a custom artifact-to-technique mapping
	// was rejected (bad artifact type tag, technique ID, or confidence).
	ErrInvalidMapping = mapper.ErrInvalidMapping

	// ErrUnsupportedFormat indicates a dashboard format outside the
	// supported set (splunk, elastic, navigator).
	ErrUnsupportedFormat = render.ErrUnsupportedFormat

	// ErrInvalidCaseID indicates a case identifier that cannot be used as
	// a storage partition key.
	ErrInvalidCaseID = casestore.ErrInvalidCaseID
)

// Error kinds categorize errors by their type.
const (
	// KindValidation represents errors related to input validation.
	KindValidation = "validation"

	// KindConfiguration represents errors related to engine configuration.
	KindConfiguration = "configuration"

	// KindCatalog represents errors related to catalog retrieval or parsing.
	KindCatalog = "catalog"

	// KindStorage represents errors from the case match store.
	KindStorage = "storage"

	// KindRender represents errors from dashboard rendering or writing.
	KindRender = "render"

	// KindInternal represents internal engine errors.
	KindInternal = "internal"
)

// Error is a structured error type that wraps underlying errors with
// additional context about the operation that failed and the category of
// error.
//
// Error implements the error interface and supports error unwrapping,
// making it compatible with errors.Is() and errors.As().
//
// Example usage:
//
//	err := &Error{
//		Op:   "Engine.GenerateDashboards",
//		Kind: KindValidation,
//		Err:  ErrUnsupportedFormat,
//	}
type Error struct {
	// Op is the operation that failed (e.g., "Engine.MapArtifacts").
	Op string

	// Kind categorizes the error (e.g., KindValidation, KindStorage).
	Kind string

	// Err is the underlying error that caused this error.
	Err error

	// Context provides additional context about the error (optional).
	// This can include case IDs, format names, or other debugging information.
	Context map[string]any
}

// Error implements the error interface, returning a formatted error message
// that includes the operation, kind, and underlying error.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("attackmap: %s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("attackmap: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("attackmap: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error, allowing errors.Is() and errors.As()
// to work correctly with wrapped errors.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error matching for Error, allowing comparison based on
// the underlying error or the Error itself.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	// Check if target is an Error with matching Kind
	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	// Delegate to underlying error
	return errors.Is(e.Err, target)
}

// WithContext returns a new Error with the provided context added.
// This is useful for adding debugging information to errors.
//
// Example:
//
//	err := &Error{
//		Op:   "Engine.MapArtifacts",
//		Kind: KindStorage,
//		Err:  storeErr,
//	}
//	err = err.WithContext(map[string]any{
//		"case_id":     "case-42",
//		"observations": 12,
//	})
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	if newErr.Context == nil {
		newErr.Context = make(map[string]any)
	}
	for k, v := range ctx {
		newErr.Context[k] = v
	}
	return &newErr
}

// NewValidationError creates a new Error with KindValidation.
func NewValidationError(op string, err error) *Error {
	return &Error{
		Op:   op,
		Kind: KindValidation,
		Err:  err,
	}
}

// NewConfigurationError creates a new Error with KindConfiguration.
func NewConfigurationError(op string, err error) *Error {
	return &Error{
		Op:   op,
		Kind: KindConfiguration,
		Err:  err,
	}
}

// NewCatalogError creates a new Error with KindCatalog.
func NewCatalogError(op string, err error) *Error {
	return &Error{
		Op:   op,
		Kind: KindCatalog,
		Err:  err,
	}
}

// NewStorageError creates a new Error with KindStorage.
func NewStorageError(op string, err error) *Error {
	return &Error{
		Op:   op,
		Kind: KindStorage,
		Err:  err,
	}
}

// NewRenderError creates a new Error with KindRender.
func NewRenderError(op string, err error) *Error {
	return &Error{
		Op:   op,
		Kind: KindRender,
		Err:  err,
	}
}

// NewInternalError creates a new Error with KindInternal.
func NewInternalError(op string, err error) *Error {
	return &Error{
		Op:   op,
		Kind: KindInternal,
		Err:  err,
	}
}

// CloseWithLog attempts to close the provided resource and logs any error
// at warning level. This is intended for use in defer statements to ensure
// cleanup errors are not silently ignored.
//
// The name parameter should describe the resource being closed (e.g., "case
// store", "catalog store"). If logger is nil, slog.Default() is used.
//
// Example usage:
//
//	defer attackmap.CloseWithLog(engine, logger, "engine")
//	defer attackmap.CloseWithLog(store, logger, "case store")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
