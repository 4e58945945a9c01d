package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/scheerer/ble-screen-colors/internal/config"
	"github.com/scheerer/ble-screen-colors/internal/control"
	"github.com/scheerer/ble-screen-colors/internal/device"
	"github.com/scheerer/ble-screen-colors/internal/lights/ble"
	"github.com/scheerer/ble-screen-colors/internal/logging"
	"github.com/scheerer/ble-screen-colors/internal/screen"
)

var logger = logging.New("main")

func main() {
	defer logger.Sync()

	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		logger.With(zap.Error(err)).Fatal("Invalid configuration")
	}

	logging.SetVerbose(cfg.Verbose)
	if cfg.Log {
		if err := logging.SetLogFile(cfg.LogFile); err != nil {
			logger.With(zap.Error(err), zap.String("path", cfg.LogFile)).Fatal("Failed to open log file")
		}
		defer logging.Close()
	}

	logger.With(zap.Any("config", cfg)).Info("Starting light strip controller")
	if cfg.Demo {
		logger.Info("Adjust DEMO_COLORS, DEMO_TRANSITION_COLORS and DEMO_BLEND to change the demo palette.")
	} else {
		logger.Info("Adjust CAPTURE_INTERVAL (or --interval) to change how often the screen is captured.")
		logger.Info("Adjust COLOR_ALGO to change color algorithm. Valid values are: [DOMINANT, BORDER]")
		logger.Info("Adjust REDUCE_RATIO or BORDER_REDUCE_RATIO to trade accuracy for speed. 1 is full resolution.")
		logger.Info("Adjust SCREEN_NUMBER to target a different screen. 0 is the primary screen.")
	}
	logger.Info("Press Ctrl+C to stop")

	loop, err := newLoop(cfg)
	if err != nil {
		logger.With(zap.Error(err)).Fatal("Failed to set up control loop")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
		<-shutdown
		logger.Info("Shutting down")
		cancel()
	}()

	if err := loop.Run(ctx); err != nil {
		logger.With(zap.Error(err)).Error("Control loop stopped")
	}
}

func newLoop(cfg *config.Config) (*control.Loop, error) {
	opts := []control.Option{
		control.WithStateObserver(func(from, to device.State) {
			logger.With(zap.Stringer("from", from), zap.Stringer("to", to)).Info("Light strip state changed")
		}),
	}

	switch cfg.Mode() {
	case control.ModeDemo:
		p, err := cfg.Palette()
		if err != nil {
			return nil, err
		}
		opts = append(opts, control.WithPalette(p))
	default:
		s, err := cfg.Sampler()
		if err != nil {
			return nil, err
		}
		display := cfg.ScreenNumber
		opts = append(opts,
			control.WithSampler(s),
			control.WithScreen(func() (control.Screen, error) {
				c, err := screen.Open(display)
				if err != nil {
					return nil, err
				}
				return c, nil
			}))
	}

	return control.New(cfg.Loop(), ble.New(cfg.BLE()), opts...)
}
