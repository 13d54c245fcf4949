package ingest

import (
	"errors"
	"fmt"
)

// Kind classifies ingestion failures.
type Kind string

const (
	// KindClientInput rejects a request synchronously; no job is created.
	KindClientInput Kind = "ClientInputError"
	// KindParse means the staged file could not be read.
	KindParse Kind = "ParseError"
	// KindSchemaCoverage means a required field has no matching column.
	KindSchemaCoverage Kind = "SchemaCoverageError"
	// KindRowValidation is a row-level failure; the job continues.
	KindRowValidation Kind = "RowValidationError"
	// KindThresholdExceeded escalates accumulated row failures.
	KindThresholdExceeded Kind = "ThresholdExceededError"
	// KindPersistence means a store was unavailable or rejected a write.
	KindPersistence Kind = "PersistenceError"
	// KindRender means a record could not be rendered into its template.
	KindRender Kind = "RenderError"
	// KindUnexpected covers everything else, including recovered panics.
	KindUnexpected Kind = "UnexpectedError"
)

// Error is an ingestion failure with a kind and a caller-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnexpected for any other non-nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

var (
	// ErrJobNotFound is returned when a job does not exist or belongs to
	// another owner.
	ErrJobNotFound = errors.New("upload job not found")

	// ErrRecordNotFound is returned when no record has the identifier.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordGone is returned when the record exists but has expired.
	ErrRecordGone = errors.New("record has expired")

	// ErrSchemaNotFound marks a Submit rejection for a slug that names no
	// template of the caller.
	ErrSchemaNotFound = errors.New("not found")

	// ErrSchemaNotAssociated is returned when rendering a record with a
	// schema it was not ingested against.
	ErrSchemaNotAssociated = errors.New("template not associated with this data")

	// ErrArtifactNotReady is returned when results are requested before the
	// job has completed.
	ErrArtifactNotReady = errors.New("job not completed")

	// ErrArtifactNotFound is returned when the job produced no such artifact.
	ErrArtifactNotFound = errors.New("artifact not available")
)
