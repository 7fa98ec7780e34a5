// Package hosterrors defines the error kinds shared across the host core:
// unsupported topics/types, bad payloads, invalid arguments and transport
// failures. Callers use errors.Is against the sentinels below.
package hosterrors

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedTopic is returned when a topic matches neither Sparkplug
	// pattern, or its message-type token is not a recognised enum value.
	ErrUnsupportedTopic = errors.New("unsupported topic")

	// ErrBadPayload is returned when a STATE JSON or Sparkplug protobuf
	// payload fails to decode.
	ErrBadPayload = errors.New("bad payload")

	// ErrInvalidMessageType is returned when the Ordering Engine is invoked
	// with a message type it does not handle.
	ErrInvalidMessageType = errors.New("invalid message type")

	// ErrInvalidArgument is returned when a required identifier is empty.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTransport wraps MQTT connect/subscribe/publish failures.
	ErrTransport = errors.New("transport error")
)

// Wrap attaches detail to a sentinel kind while keeping it matchable with
// errors.Is(err, kind).
func Wrap(kind error, detail string) error {
	return fmt.Errorf("%s: %w", detail, kind)
}
