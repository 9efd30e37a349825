package osm

import (
	"errors"
	"fmt"
)

// Sentinel errors for the OSM client.
var (
	// ErrClient matches every failure reported by the OSM boundary.
	ErrClient = errors.New("osm: client error")

	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("osm: client closed")
)

// Error describes a failed OSM call.
type Error struct {
	// Op is the client operation, e.g. "get device".
	Op string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Body is the trimmed response body for non-2xx responses.
	Body string

	Err error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("osm: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("osm: %s: status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("osm: %s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports every *Error as an ErrClient.
func (e *Error) Is(target error) bool { return target == ErrClient }
