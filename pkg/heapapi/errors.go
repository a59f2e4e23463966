package heapapi

import "github.com/cockroachdb/errors"

var (
	// ErrMalformedRecord is returned when an argument blob does not match
	// the layout its event type requires.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrUnrecognizedFunctionName marks a function name with no EventType.
	ErrUnrecognizedFunctionName = errors.New("unrecognized function name")

	// ErrUnknownIdentifier is returned when a trace-space identifier was
	// never registered, or was already released.
	ErrUnknownIdentifier = errors.New("unknown identifier")

	// ErrUnboundOperation is returned when a backdrop slot is not set.
	ErrUnboundOperation = errors.New("unbound operation")

	// ErrDuplicateIdentifier is returned when an insert collides with a
	// live entry on either side of an identifier map.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")

	// ErrDivergence is returned when a replayed call succeeds where the
	// recorded one failed, or the other way round.
	ErrDivergence = errors.New("replay diverged from trace")
)
