package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the chat service and repositories.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrBuildingNotFound   = errors.New("building not found")
	ErrHeritageNotFound   = errors.New("heritage not found")
	ErrSummaryNotFound    = errors.New("summary not generated yet")
	ErrInvalidAssociation = errors.New("building does not belong to the session's heritage")
	ErrSessionEnded       = errors.New("session already ended")
	ErrNoQuizAvailable    = errors.New("no quiz remaining for this session")
	ErrQuizGeneration     = errors.New("quiz generation failed")
	ErrEmptyMessage       = errors.New("message content is empty")
	ErrInvalidModelReply  = errors.New("model returned an empty reply")
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindValidation
	KindQuotaExhausted
	KindExternalAPI
	KindParsing
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindExternalAPI:
		return "external_api"
	case KindParsing:
		return "parsing"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// APICallError is returned when the completion service answers with a non-success status.
type APICallError struct {
	API        string
	StatusCode int
	Message    string
}

func (e *APICallError) Error() string {
	return fmt.Sprintf("%s API call failed (status %d): %s", e.API, e.StatusCode, e.Message)
}

// QuizParsingError reports model output that does not follow the quiz format.
type QuizParsingError struct {
	Reason string
}

func (e *QuizParsingError) Error() string {
	return "parse quiz: " + e.Reason
}

// PersistenceError wraps a storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError. It returns nil for a nil err.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// ServiceError wraps an unexpected failure inside a chat service operation.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("chat service: %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// KindOf classifies err. Unrecognized errors are KindInternal.
func KindOf(err error) Kind {
	var (
		apiErr     *APICallError
		parseErr   *QuizParsingError
		persistErr *PersistenceError
	)
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrBuildingNotFound),
		errors.Is(err, ErrHeritageNotFound),
		errors.Is(err, ErrSummaryNotFound):
		return KindNotFound
	case errors.Is(err, ErrNoQuizAvailable):
		return KindQuotaExhausted
	case errors.Is(err, ErrInvalidAssociation),
		errors.Is(err, ErrSessionEnded),
		errors.Is(err, ErrEmptyMessage):
		return KindValidation
	case errors.Is(err, ErrQuizGeneration):
		return KindInternal
	case errors.Is(err, ErrInvalidModelReply), errors.As(err, &apiErr):
		return KindExternalAPI
	case errors.As(err, &parseErr):
		return KindParsing
	case errors.As(err, &persistErr):
		return KindPersistence
	default:
		return KindInternal
	}
}

// IsClassified reports whether err already carries a domain classification.
func IsClassified(err error) bool {
	if err == nil {
		return false
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return true
	}
	return KindOf(err) != KindInternal || errors.Is(err, ErrQuizGeneration)
}
