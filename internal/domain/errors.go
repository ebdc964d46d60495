package domain

import (
	"errors"
	"fmt"

	"nictopo/internal/pci"
)

var (
	// ErrFormat marks unparseable addresses and malformed remote output.
	// The offending observation is dropped; the adapter carries on.
	ErrFormat = pci.ErrFormat

	// ErrTransport marks connection, authentication and timeout failures.
	// The adapter contributes nothing for the host.
	ErrTransport = errors.New("transport error")

	// ErrCredentialsAbsent makes an adapter skip silently
	ErrCredentialsAbsent = errors.New("credentials absent")

	// ErrUnsupportedModel means no management adapter applies to the model
	ErrUnsupportedModel = errors.New("unsupported hardware model")
)

// TransportError describes a failed remote operation
type TransportError struct {
	Source string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Op, e.Err)
}

// Unwrap lets errors.Is match both ErrTransport and the underlying cause
func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// NewTransportError wraps err as a transport failure of source during op
func NewTransportError(source, op string, err error) error {
	return &TransportError{Source: source, Op: op, Err: err}
}
