package lights

import (
	"context"
	"fmt"
)

// Transport opens links to light strip devices.
type Transport interface {
	Connect(ctx context.Context, address string) (Link, error)
}

// Link is one live connection to a device. Write sends data to the named
// characteristic and, when requireAck is set, returns only after the device
// confirmed delivery.
type Link interface {
	Write(ctx context.Context, characteristic string, data []byte, requireAck bool) error
	Close() error
}

// LinkError reports a connection or write failure on the link to a device.
type LinkError struct {
	Op      string
	Address string
	Err     error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}
