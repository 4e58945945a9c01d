package control

import (
	"context"
	"errors"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/scheerer/ble-screen-colors/internal/device"
	"github.com/scheerer/ble-screen-colors/internal/logging"
	"github.com/scheerer/ble-screen-colors/internal/palette"
	"github.com/scheerer/ble-screen-colors/internal/sampler"
	"github.com/scheerer/ble-screen-colors/internal/screen"
	"github.com/scheerer/ble-screen-colors/lights"
)

var logger = logging.New("control")

const slowWarningInterval = 10 * time.Second

type Mode uint8

const (
	ModeAmbient Mode = iota
	ModeDemo
)

func (m Mode) String() string {
	if m == ModeDemo {
		return "DEMO"
	}
	return "AMBIENT"
}

type Config struct {
	Address        string
	Characteristic string
	Mode           Mode
	// Interval is slept after every color update.
	Interval      time.Duration
	RetryInterval time.Duration
	// Display is reported in capture errors.
	Display int
}

// Screen is an open capture source, held for one ambient phase.
type Screen interface {
	Grab() (image.Image, error)
	Close() error
}

type Option func(*Loop)

func WithSampler(s sampler.Sampler) Option {
	return func(l *Loop) { l.sampler = s }
}

// WithScreen sets how the ambient loop opens the screen at the start of every
// connected phase.
func WithScreen(open func() (Screen, error)) Option {
	return func(l *Loop) { l.openScreen = open }
}

func WithPalette(p *palette.Palette) Option {
	return func(l *Loop) { l.cursor = p.Cursor() }
}

func WithClock(c Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithStateObserver is called on every state transition.
func WithStateObserver(fn func(from, to device.State)) Option {
	return func(l *Loop) { l.observe = fn }
}

// Loop keeps one light strip connected and updated until its context is
// cancelled. Link and capture failures are logged and retried forever.
type Loop struct {
	config     Config
	transport  lights.Transport
	sampler    sampler.Sampler
	openScreen func() (Screen, error)
	cursor     *palette.Cursor
	clock      Clock
	observe    func(from, to device.State)

	state       device.State
	lastWarning time.Time
}

func New(config Config, transport lights.Transport, opts ...Option) (*Loop, error) {
	l := &Loop{
		config:    config,
		transport: transport,
		clock:     realClock{},
		state:     device.StateDisconnected,
	}
	for _, opt := range opts {
		opt(l)
	}

	switch {
	case transport == nil:
		return nil, errors.New("transport is required")
	case config.Address == "":
		return nil, errors.New("device address is required")
	case config.Interval < 0 || config.RetryInterval < 0:
		return nil, errors.New("intervals must not be negative")
	case config.Mode == ModeDemo && l.cursor == nil:
		return nil, errors.New("demo mode requires a palette")
	case config.Mode == ModeAmbient && (l.sampler == nil || l.openScreen == nil):
		return nil, errors.New("ambient mode requires a sampler and a screen")
	}
	return l, nil
}

func (l *Loop) State() device.State {
	return l.state
}

func (l *Loop) setState(s device.State) {
	if s == l.state {
		return
	}
	from := l.state
	l.state = s
	logger.With(zap.Stringer("from", from), zap.Stringer("to", s)).Debug("State changed")
	if l.observe != nil {
		l.observe(from, s)
	}
}

// Run connects, runs the configured mode and reconnects after every failure,
// waiting RetryInterval between attempts. It returns nil once ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	logger.With(zap.String("address", l.config.Address), zap.Stringer("mode", l.config.Mode)).
		Info("Connecting to light strip")

	for {
		if ctx.Err() != nil {
			break
		}

		err := l.connected(ctx)
		if ctx.Err() != nil {
			break
		}

		l.setState(device.StateFailed)
		logger.With(zap.Error(err), zap.Stringer("retryInterval", l.config.RetryInterval)).
			Warn("Light strip link failed, retrying")
		if err := l.clock.Sleep(ctx, l.config.RetryInterval); err != nil {
			break
		}
		l.setState(device.StateDisconnected)
	}

	l.setState(device.StateDisconnected)
	logger.Info("Stopped")
	return nil
}

// connected runs one connect-and-operate phase. The session and any screen
// it opens are released before it returns.
func (l *Loop) connected(ctx context.Context) error {
	l.setState(device.StateConnecting)
	session, err := device.Connect(ctx, l.transport, l.config.Address, l.config.Characteristic)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.With(zap.Error(err)).Warn("Failed to close session")
		}
	}()
	l.setState(device.StateConnected)

	if l.config.Mode == ModeDemo {
		return l.demo(ctx, session)
	}
	return l.ambient(ctx, session)
}

func (l *Loop) demo(ctx context.Context, session *device.Session) error {
	logger.Info("Entering demo mode")
	if err := session.SetPower(ctx, true); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := session.SetColor(ctx, l.cursor.Next()); err != nil {
			return err
		}
		if err := l.clock.Sleep(ctx, l.config.Interval); err != nil {
			return err
		}
	}
}

func (l *Loop) ambient(ctx context.Context, session *device.Session) error {
	scr, err := l.openScreen()
	if err != nil {
		return l.captureError(err)
	}
	defer func() {
		if err := scr.Close(); err != nil {
			logger.With(zap.Error(err)).Warn("Failed to close screen")
		}
	}()
	logger.With(zap.Int("display", l.config.Display)).Info("Entering ambient mode")

	var last lights.Color
	sent := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := l.clock.Now()
		img, err := scr.Grab()
		if err != nil {
			return l.captureError(err)
		}
		captured := l.clock.Now()

		c, err := l.sampler.Sample(img)
		if err != nil {
			return l.captureError(err)
		}
		sampled := l.clock.Now()

		if !sent || c != last {
			if err := session.SetColor(ctx, c); err != nil {
				return err
			}
			last, sent = c, true
		}
		l.warnIfSlow(start, captured, sampled)

		if err := l.clock.Sleep(ctx, l.config.Interval); err != nil {
			return err
		}
	}
}

func (l *Loop) warnIfSlow(start, captured, sampled time.Time) {
	now := l.clock.Now()
	total := now.Sub(start)
	if total <= l.config.Interval || now.Sub(l.lastWarning) < slowWarningInterval {
		return
	}
	logger.With(
		zap.Stringer("captureScreenDuration", captured.Sub(start)),
		zap.Stringer("colorCalculationDuration", sampled.Sub(captured)),
		zap.Stringer("setColorDuration", now.Sub(sampled)),
		zap.Stringer("totalDuration", total)).
		Warn("Updating the light strip takes longer than the interval. Consider increasing the interval or lowering REDUCE_RATIO.")
	l.lastWarning = now
}

func (l *Loop) captureError(err error) error {
	var ce *screen.CaptureError
	if errors.As(err, &ce) {
		return err
	}
	return &screen.CaptureError{Display: l.config.Display, Err: err}
}
