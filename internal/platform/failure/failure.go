// Package failure classifies adapter errors. Each kind is a sentinel that is
// attached to an error as a mark, so callers can test the kind with Is no
// matter how many times the error was wrapped afterwards.
package failure

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

var (
	// MissingConfiguration: required setup parameters are absent.
	MissingConfiguration = errors.New("missing configuration")
	// UnsupportedRelationship: the ontology relationship is not implemented.
	UnsupportedRelationship = errors.New("unsupported relationship")
	// Transport: a network or HTTP-level failure talking to the warehouse.
	Transport = errors.New("transport failure")
	// Protocol: an upstream response could not be understood.
	Protocol = errors.New("protocol failure")
	// QueryShape: the select list mixes or uses unsupported parameter types.
	QueryShape = errors.New("query shape error")
	// NotFound: a stored record does not exist.
	NotFound = errors.New("not found")
)

// Re-exported so callers do not import two errors packages.
var (
	Is    = errors.Is
	As    = errors.As
	Wrap  = errors.Wrap
	Wrapf = errors.Wrapf
	Newf  = errors.Newf
)

// Mark tags err with kind. A nil err stays nil.
func Mark(err error, kind error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, kind)
}

// Transportf builds a transport failure wrapping cause.
func Transportf(cause error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(cause, format, args...), Transport)
}

// Protocolf builds a protocol failure. cause may be nil.
func Protocolf(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return errors.Mark(errors.Newf(format, args...), Protocol)
	}
	return errors.Mark(errors.Wrapf(cause, format, args...), Protocol)
}

// QueryShapef builds a query shape error.
func QueryShapef(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), QueryShape)
}

// Missingf builds a missing configuration error.
func Missingf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), MissingConfiguration)
}

// Unsupportedf builds an unsupported relationship error.
func Unsupportedf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), UnsupportedRelationship)
}

// NotFoundf builds a not found error.
func NotFoundf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), NotFound)
}

// HTTPStatus maps an error kind onto the status an API handler should return.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, QueryShape), errors.Is(err, UnsupportedRelationship):
		return http.StatusBadRequest
	case errors.Is(err, Transport), errors.Is(err, Protocol):
		return http.StatusBadGateway
	case errors.Is(err, NotFound):
		return http.StatusNotFound
	case errors.Is(err, MissingConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
