package contracts

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownRoutingKey is returned when no schema family is registered for a routing key
	ErrUnknownRoutingKey = errors.New("contracts: unknown routing key")
	// ErrNullPayload is returned by a schema attempt when the payload is JSON null
	ErrNullPayload = errors.New("contracts: payload is null")
)

// DecodeError reports a payload that matches none of the known schemas for its
// routing key. It never becomes decodable, so it must not be requeued.
type DecodeError struct {
	RoutingKey string
	Attempts   []string // schema names tried, in order
	Err        error    // last schema error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: routing key %q matched none of [%s]: %v",
		e.RoutingKey, strings.Join(e.Attempts, ", "), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is or wraps a DecodeError
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
