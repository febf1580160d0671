// Package failure defines the error kinds a trip plan can fail with.
// Collaborators wrap one of the sentinels so callers can tell a bad address
// from a routing outage without parsing messages.
package failure

import (
	"context"
	"errors"
)

// Kind is the reportable category of a failure.
type Kind string

const (
	InputInvalid        Kind = "input_invalid"
	LocationUnavailable Kind = "location_unavailable"
	NotFound            Kind = "not_found"
	RoutingFailed       Kind = "routing_failed"
	ServiceUnavailable  Kind = "service_unavailable"
	PersistenceFailed   Kind = "persistence_failed"
	Canceled            Kind = "canceled"
	Internal            Kind = "internal"
)

var (
	ErrInputInvalid        = errors.New("invalid input")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrNotFound            = errors.New("location not found")
	ErrRoutingFailed       = errors.New("routing failed")
	ErrServiceUnavailable  = errors.New("service unavailable")
	ErrPersistenceFailed   = errors.New("persistence failed")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInputInvalid, InputInvalid},
	{ErrLocationUnavailable, LocationUnavailable},
	{ErrNotFound, NotFound},
	{ErrRoutingFailed, RoutingFailed},
	{ErrServiceUnavailable, ServiceUnavailable},
	{ErrPersistenceFailed, PersistenceFailed},
}

// KindOf classifies err. Unknown errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Canceled
	}
	return Internal
}

// UserVisible reports whether the message of a failure of this kind may be
// shown to the traveler. Internal and persistence details stay in the logs.
func (k Kind) UserVisible() bool {
	return k != PersistenceFailed && k != Internal && k != ""
}
