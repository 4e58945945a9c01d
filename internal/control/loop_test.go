package control

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scheerer/ble-screen-colors/internal/device"
	"github.com/scheerer/ble-screen-colors/internal/palette"
	"github.com/scheerer/ble-screen-colors/internal/protocol"
	"github.com/scheerer/ble-screen-colors/internal/sampler"
	"github.com/scheerer/ble-screen-colors/internal/screen"
	"github.com/scheerer/ble-screen-colors/lights"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	address       = "AA:BB:CC:DD:EE:FF"
	interval      = 100 * time.Millisecond
	retryInterval = 5 * time.Second
)

var (
	red   = lights.Color{Red: 255}
	green = lights.Color{Green: 255}
	blue  = lights.Color{Blue: 255}
)

// recorder is the shared event log of all fakes in one test.
type recorder struct {
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

type fakeClock struct {
	rec    *recorder
	now    time.Time
	sleeps []time.Duration
	// cancel is called once sleeps reaches stopAfter
	cancel    context.CancelFunc
	stopAfter int
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.rec.add("sleep %s", d)
	c.now = c.now.Add(d)
	if len(c.sleeps) == c.stopAfter {
		c.cancel()
	}
	return ctx.Err()
}

type fakeLink struct {
	rec    *recorder
	writes int
	// failAt fails the write with this 1-based index across the link's life
	failAt int
	closed bool
}

func (l *fakeLink) Write(_ context.Context, characteristic string, data []byte, requireAck bool) error {
	l.writes++
	if characteristic != protocol.ControlCharacteristic || !requireAck {
		return errors.New("unexpected write target")
	}
	if l.writes == l.failAt {
		l.rec.add("write failed")
		return errors.New("write timeout")
	}
	cmd, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	l.rec.add("write %v", cmd)
	return nil
}

func (l *fakeLink) Close() error {
	l.closed = true
	l.rec.add("disconnect")
	return nil
}

type fakeTransport struct {
	rec      *recorder
	attempts int
	// fail reports whether connection attempt n (1-based) fails
	fail  func(n int) bool
	links []*fakeLink
	// failWriteAt is copied into every new link
	failWriteAt map[int]int
}

func (t *fakeTransport) Connect(_ context.Context, addr string) (lights.Link, error) {
	t.attempts++
	if t.fail != nil && t.fail(t.attempts) {
		t.rec.add("connect failed")
		return nil, errors.New("device not found")
	}
	t.rec.add("connect %s", addr)
	link := &fakeLink{rec: t.rec, failAt: t.failWriteAt[len(t.links)]}
	t.links = append(t.links, link)
	return link, nil
}

type fakeScreen struct {
	rec     *recorder
	frames  []image.Image
	grabs   int
	grabErr error
	closed  bool
}

func (s *fakeScreen) Grab() (image.Image, error) {
	if s.grabErr != nil {
		return nil, s.grabErr
	}
	img := s.frames[s.grabs%len(s.frames)]
	s.grabs++
	return img, nil
}

func (s *fakeScreen) Close() error {
	s.closed = true
	s.rec.add("screen closed")
	return nil
}

func frame(c lights.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: c.Red, G: c.Green, B: c.Blue, A: 255}}, image.Point{}, draw.Src)
	return img
}

type harness struct {
	rec       *recorder
	clock     *fakeClock
	transport *fakeTransport
	screens   []*fakeScreen
	states    []string
	ctx       context.Context
}

func newHarness(t *testing.T, stopAfter int) *harness {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rec := &recorder{}
	return &harness{
		rec:       rec,
		clock:     &fakeClock{rec: rec, now: time.Unix(0, 0), cancel: cancel, stopAfter: stopAfter},
		transport: &fakeTransport{rec: rec, failWriteAt: map[int]int{}},
		ctx:       ctx,
	}
}

func (h *harness) options(frames ...lights.Color) []Option {
	imgs := make([]image.Image, 0, len(frames))
	for _, c := range frames {
		imgs = append(imgs, frame(c))
	}
	return []Option{
		WithClock(h.clock),
		WithSampler(&sampler.Border{ReduceRatio: 1, BorderRatio: 0.25}),
		WithScreen(func() (Screen, error) {
			s := &fakeScreen{rec: h.rec, frames: imgs}
			h.screens = append(h.screens, s)
			return s, nil
		}),
		WithStateObserver(func(from, to device.State) {
			h.states = append(h.states, to.String())
		}),
	}
}

func ambientConfig() Config {
	return Config{
		Address:        address,
		Characteristic: protocol.ControlCharacteristic,
		Mode:           ModeAmbient,
		Interval:       interval,
		RetryInterval:  retryInterval,
	}
}

func run(t *testing.T, h *harness, config Config, opts ...Option) *Loop {
	l, err := New(config, h.transport, opts...)
	require.NoError(t, err)
	require.NoError(t, l.Run(h.ctx))
	assert.Equal(t, device.StateDisconnected, l.State())
	return l
}

func TestRetryWaitsBetweenConnectAttempts(t *testing.T) {
	h := newHarness(t, 6)
	h.transport.fail = func(int) bool { return true }

	run(t, h, ambientConfig(), h.options(red)...)

	assert.Equal(t, 6, h.transport.attempts)
	assert.Equal(t, []time.Duration{
		retryInterval, retryInterval, retryInterval, retryInterval, retryInterval, retryInterval,
	}, h.clock.sleeps)
	for i := 0; i < len(h.rec.events); i += 2 {
		assert.Equal(t, "connect failed", h.rec.events[i])
		assert.Equal(t, "sleep 5s", h.rec.events[i+1])
	}
	assert.Empty(t, h.screens)
}

func TestRetryHasNoAttemptCap(t *testing.T) {
	h := newHarness(t, 250)
	h.transport.fail = func(n int) bool { return n <= 200 }

	run(t, h, ambientConfig(), h.options(red)...)

	// 200 failed attempts, then one session that samples until the 250th sleep
	assert.Equal(t, 201, h.transport.attempts)
	require.Len(t, h.transport.links, 1)
	assert.True(t, h.transport.links[0].closed)
	assert.Equal(t, retryInterval, h.clock.sleeps[199])
	assert.Equal(t, interval, h.clock.sleeps[200])
}

func TestDemoForcesPowerThenCyclesPalette(t *testing.T) {
	h := newHarness(t, 5)
	p, err := palette.Generate([]lights.Color{red, green, blue}, 1, palette.BlendRGB)
	require.NoError(t, err)

	config := ambientConfig()
	config.Mode = ModeDemo
	run(t, h, config, WithClock(h.clock), WithPalette(p))

	assert.Equal(t, []string{
		"connect " + address,
		"write set-power on",
		"write set-color #ff0000", "sleep 100ms",
		"write set-color #00ff00", "sleep 100ms",
		"write set-color #0000ff", "sleep 100ms",
		"write set-color #ff0000", "sleep 100ms",
		"write set-color #00ff00", "sleep 100ms",
		"disconnect",
	}, h.rec.events)
}

func TestDemoContinuesPaletteAfterReconnect(t *testing.T) {
	h := newHarness(t, 4)
	h.transport.failWriteAt[0] = 4
	p, err := palette.Generate([]lights.Color{red, green, blue}, 1, palette.BlendRGB)
	require.NoError(t, err)

	config := ambientConfig()
	config.Mode = ModeDemo
	run(t, h, config, WithClock(h.clock), WithPalette(p))

	assert.Equal(t, []string{
		"connect " + address,
		"write set-power on",
		"write set-color #ff0000", "sleep 100ms",
		"write set-color #00ff00", "sleep 100ms",
		"write failed",
		"disconnect",
		"sleep 5s",
		"connect " + address,
		"write set-power on",
		"write set-color #ff0000",
		"sleep 100ms",
		"disconnect",
	}, h.rec.events)
}

func TestAmbientDeduplicatesIdenticalFrames(t *testing.T) {
	h := newHarness(t, 10)

	run(t, h, ambientConfig(), h.options(blue)...)

	require.Len(t, h.transport.links, 1)
	writes := 0
	for _, e := range h.rec.events {
		if e == "write set-color #0000ff" {
			writes++
		}
		assert.NotEqual(t, "write set-power on", e, "ambient mode must not force power")
	}
	assert.Equal(t, 1, writes)
	assert.Equal(t, 1, h.transport.links[0].writes)
	assert.Equal(t, 10, h.screens[0].grabs)
	assert.Len(t, h.clock.sleeps, 10)
}

func TestAmbientSendsOnlyChanges(t *testing.T) {
	h := newHarness(t, 6)

	run(t, h, ambientConfig(), h.options(red, red, blue, blue, blue, red)...)

	assert.Equal(t, []string{
		"connect " + address,
		"write set-color #ff0000", "sleep 100ms",
		"sleep 100ms",
		"write set-color #0000ff", "sleep 100ms",
		"sleep 100ms",
		"sleep 100ms",
		"write set-color #ff0000", "sleep 100ms",
		"screen closed",
		"disconnect",
	}, h.rec.events)
}

func TestAmbientLinkFailureReconnects(t *testing.T) {
	h := newHarness(t, 4)
	h.transport.failWriteAt[0] = 2

	run(t, h, ambientConfig(), h.options(red, blue)...)

	assert.Equal(t, []string{
		"connect " + address,
		"write set-color #ff0000", "sleep 100ms",
		"write failed",
		"screen closed",
		"disconnect",
		"sleep 5s",
		"connect " + address,
		// a new session always sends its first color
		"write set-color #ff0000", "sleep 100ms",
		"write set-color #0000ff", "sleep 100ms",
		"screen closed",
		"disconnect",
	}, h.rec.events)

	assert.Equal(t, []string{
		"CONNECTING", "CONNECTED", "FAILED", "DISCONNECTED",
		"CONNECTING", "CONNECTED", "DISCONNECTED",
	}, h.states)
	require.Len(t, h.screens, 2)
	assert.True(t, h.screens[0].closed)
	assert.True(t, h.screens[1].closed)
}

func TestAmbientCaptureFailureRetries(t *testing.T) {
	h := newHarness(t, 3)
	opts := h.options(red)
	opts = append(opts, WithScreen(func() (Screen, error) {
		s := &fakeScreen{rec: h.rec, grabErr: errors.New("display asleep")}
		h.screens = append(h.screens, s)
		return s, nil
	}))

	run(t, h, ambientConfig(), opts...)

	assert.Equal(t, 3, h.transport.attempts)
	assert.Equal(t, []time.Duration{retryInterval, retryInterval, retryInterval}, h.clock.sleeps)
	for _, s := range h.screens {
		assert.True(t, s.closed)
	}
	for _, l := range h.transport.links {
		assert.True(t, l.closed)
		assert.Zero(t, l.writes)
	}
}

func TestAmbientScreenOpenFailureRetries(t *testing.T) {
	h := newHarness(t, 2)
	opts := append(h.options(red), WithScreen(func() (Screen, error) {
		return nil, &screen.CaptureError{Display: 1, Err: screen.ErrNoDisplay}
	}))

	run(t, h, ambientConfig(), opts...)

	assert.Equal(t, []string{
		"connect " + address, "disconnect", "sleep 5s",
		"connect " + address, "disconnect", "sleep 5s",
	}, h.rec.events)
}

func TestSampleFailureIsCaptureError(t *testing.T) {
	h := newHarness(t, 1)
	l, err := New(ambientConfig(), h.transport, h.options(red)...)
	require.NoError(t, err)

	err = l.captureError(sampler.ErrEmptyFrame)
	var ce *screen.CaptureError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, sampler.ErrEmptyFrame)

	original := &screen.CaptureError{Display: 2, Err: screen.ErrClosed}
	assert.Same(t, original, l.captureError(original))
}

func TestRunReturnsImmediatelyWhenCancelled(t *testing.T) {
	h := newHarness(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l, err := New(ambientConfig(), h.transport, h.options(red)...)
	require.NoError(t, err)
	require.NoError(t, l.Run(ctx))
	assert.Zero(t, h.transport.attempts)
	assert.Empty(t, h.states)
}

func TestSlowIterationsWarnWithoutFailing(t *testing.T) {
	h := newHarness(t, 3)
	opts := append(h.options(red), WithScreen(func() (Screen, error) {
		return &slowScreen{clock: h.clock, frame: frame(red)}, nil
	}))

	l := run(t, h, ambientConfig(), opts...)
	assert.False(t, l.lastWarning.IsZero())
	assert.Equal(t, 1, h.transport.attempts)
}

// slowScreen advances the fake clock past the interval on every grab.
type slowScreen struct {
	clock *fakeClock
	frame image.Image
}

func (s *slowScreen) Grab() (image.Image, error) {
	s.clock.now = s.clock.now.Add(time.Second)
	return s.frame, nil
}

func (s *slowScreen) Close() error { return nil }

func TestNewValidates(t *testing.T) {
	h := newHarness(t, 1)
	p, err := palette.Generate([]lights.Color{red, blue}, 1, palette.BlendRGB)
	require.NoError(t, err)

	config := ambientConfig()
	_, err = New(config, nil, h.options(red)...)
	assert.Error(t, err)

	config.Address = ""
	_, err = New(config, h.transport, h.options(red)...)
	assert.Error(t, err)

	config = ambientConfig()
	config.Interval = -time.Second
	_, err = New(config, h.transport, h.options(red)...)
	assert.Error(t, err)

	config = ambientConfig()
	_, err = New(config, h.transport, WithClock(h.clock))
	assert.Error(t, err, "ambient without sampler and screen")

	config.Mode = ModeDemo
	_, err = New(config, h.transport, WithClock(h.clock))
	assert.Error(t, err, "demo without palette")

	_, err = New(config, h.transport, WithPalette(p))
	assert.NoError(t, err)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "AMBIENT", ModeAmbient.String())
	assert.Equal(t, "DEMO", ModeDemo.String())
}
