package device

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/scheerer/ble-screen-colors/internal/logging"
	"github.com/scheerer/ble-screen-colors/internal/protocol"
	"github.com/scheerer/ble-screen-colors/lights"
)

var logger = logging.New("device")

// State is the lifecycle state of the link to the light strip.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Session is one live connection to a light strip. Every command is a single
// acknowledged write; failures are not retried here.
type Session struct {
	link           lights.Link
	address        string
	characteristic string
	closed         bool
}

// Connect opens a session to the device at address. Commands are written to
// characteristic.
func Connect(ctx context.Context, transport lights.Transport, address, characteristic string) (*Session, error) {
	link, err := transport.Connect(ctx, address)
	if err != nil {
		return nil, linkError("connect", address, err)
	}
	logger.With(zap.String("address", address)).Info("Connected")
	return &Session{link: link, address: address, characteristic: characteristic}, nil
}

func (s *Session) SetColor(ctx context.Context, c lights.Color) error {
	logger.With(zap.Stringer("color", c)).Debug("Changing light strip color")
	return s.send(ctx, protocol.SetColor{Color: c})
}

func (s *Session) SetPower(ctx context.Context, on bool) error {
	logger.With(zap.Bool("on", on)).Info("Changing light strip power")
	return s.send(ctx, protocol.SetPower{On: on})
}

func (s *Session) send(ctx context.Context, cmd protocol.Command) error {
	if s.closed {
		panic("device: command sent on closed session")
	}
	if err := s.link.Write(ctx, s.characteristic, protocol.Encode(cmd), true); err != nil {
		return linkError("write", s.address, err)
	}
	return nil
}

// Close disconnects from the device. The session accepts no commands after.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.link.Close(); err != nil {
		return linkError("close", s.address, err)
	}
	logger.With(zap.String("address", s.address)).Info("Disconnected")
	return nil
}

func linkError(op, address string, err error) error {
	var le *lights.LinkError
	if errors.As(err, &le) {
		return err
	}
	return &lights.LinkError{Op: op, Address: address, Err: err}
}
