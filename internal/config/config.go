package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/scheerer/ble-screen-colors/internal/control"
	"github.com/scheerer/ble-screen-colors/internal/lights/ble"
	"github.com/scheerer/ble-screen-colors/internal/palette"
	"github.com/scheerer/ble-screen-colors/internal/protocol"
	"github.com/scheerer/ble-screen-colors/internal/sampler"
	"github.com/scheerer/ble-screen-colors/lights"
)

// ConfigError reports an invalid setting. Field is the environment variable
// or flag that carried it.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type Config struct {
	DeviceAddress string `env:"DEVICE_ADDRESS"`
	Demo          bool   `env:"DEMO" envDefault:"false"`

	DemoInterval    time.Duration `env:"DEMO_INTERVAL" envDefault:"100ms"`
	CaptureInterval time.Duration `env:"CAPTURE_INTERVAL" envDefault:"80ms"`
	RetryInterval   time.Duration `env:"RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT" envDefault:"20s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"2s"`

	ColorAlgo                string  `env:"COLOR_ALGO" envDefault:"DOMINANT"`
	ReduceRatio              float64 `env:"REDUCE_RATIO" envDefault:"0.1"`
	NumColors                int     `env:"NUM_COLORS" envDefault:"16"`
	BorderReduceRatio        float64 `env:"BORDER_REDUCE_RATIO" envDefault:"0.25"`
	BorderRatio              float64 `env:"BORDER_RATIO" envDefault:"0.1"`
	BorderReducer            string  `env:"BORDER_REDUCER" envDefault:"MEAN"`
	BorderNormalizeLightness bool    `env:"BORDER_NORMALIZE_LIGHTNESS" envDefault:"false"`
	ScreenNumber             int     `env:"SCREEN_NUMBER" envDefault:"0"`

	DemoColors           []string `env:"DEMO_COLORS" envSeparator:","`
	DemoTransitionColors int      `env:"DEMO_TRANSITION_COLORS" envDefault:"100"`
	DemoBlend            string   `env:"DEMO_BLEND" envDefault:"HSL"`

	CharacteristicUUID string `env:"CHARACTERISTIC_UUID" envDefault:"0000ffd9-0000-1000-8000-00805f9b34fb"`

	Verbose bool   `env:"VERBOSE" envDefault:"false"`
	Log     bool   `env:"LOG" envDefault:"false"`
	LogFile string `env:"LOG_FILE" envDefault:"bt_lights.log"`

	// Interval overrides the mode's default interval when set by --interval.
	Interval time.Duration
}

// Load reads the environment, then applies the command line flags in args on
// top of it. A *ConfigError is returned for invalid settings; pflag.ErrHelp
// is returned as is when help was requested.
func Load(args []string) (*Config, error) {
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, &ConfigError{Field: "environment", Reason: err.Error()}
	}

	fs := pflag.NewFlagSet("ble-screen-colors", pflag.ContinueOnError)
	fs.StringVarP(&c.DeviceAddress, "address", "a", c.DeviceAddress, "Bluetooth address of the light strip (DEVICE_ADDRESS)")
	fs.BoolVarP(&c.Demo, "demo", "d", c.Demo, "cycle through the demo palette instead of following the screen (DEMO)")
	interval := fs.Float64P("interval", "i", 0, "seconds between color updates (default 0.1 in demo mode, 0.08 otherwise)")
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "log at debug level (VERBOSE)")
	fs.BoolVarP(&c.Log, "log", "l", c.Log, "also write the log to LOG_FILE (LOG)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, &ConfigError{Field: "flags", Reason: err.Error()}
	}
	if fs.Changed("interval") {
		if *interval <= 0 {
			return nil, &ConfigError{Field: "--interval", Reason: fmt.Sprintf("must be positive, got %v", *interval)}
		}
		c.Interval = time.Duration(*interval * float64(time.Second))
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every setting the selected mode depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DeviceAddress) == "" {
		return &ConfigError{Field: "DEVICE_ADDRESS", Reason: "a device address is required (--address)"}
	}
	if _, err := uuid.Parse(c.CharacteristicUUID); err != nil {
		return &ConfigError{Field: "CHARACTERISTIC_UUID", Reason: err.Error()}
	}
	for field, d := range map[string]time.Duration{
		"DEMO_INTERVAL":    c.DemoInterval,
		"CAPTURE_INTERVAL": c.CaptureInterval,
		"RETRY_INTERVAL":   c.RetryInterval,
	} {
		if d < 0 {
			return &ConfigError{Field: field, Reason: fmt.Sprintf("must not be negative, got %v", d)}
		}
	}
	if c.ConnectTimeout <= 0 {
		return &ConfigError{Field: "CONNECT_TIMEOUT", Reason: "must be positive"}
	}
	if c.WriteTimeout <= 0 {
		return &ConfigError{Field: "WRITE_TIMEOUT", Reason: "must be positive"}
	}

	if c.Demo {
		return c.validateDemo()
	}
	return c.validateAmbient()
}

func (c *Config) validateDemo() error {
	if c.DemoTransitionColors < 1 {
		return &ConfigError{Field: "DEMO_TRANSITION_COLORS", Reason: "must be positive"}
	}
	if _, err := c.blend(); err != nil {
		return err
	}
	if _, err := c.anchors(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAmbient() error {
	algo, err := sampler.ParseAlgorithm(c.ColorAlgo)
	if err != nil {
		return &ConfigError{Field: "COLOR_ALGO", Reason: err.Error()}
	}
	if c.ScreenNumber < 0 {
		return &ConfigError{Field: "SCREEN_NUMBER", Reason: "must not be negative"}
	}

	switch algo {
	case sampler.AlgorithmDominant:
		if c.ReduceRatio <= 0 || c.ReduceRatio > 1 {
			return &ConfigError{Field: "REDUCE_RATIO", Reason: fmt.Sprintf("must be in (0, 1], got %v", c.ReduceRatio)}
		}
		if c.NumColors < 1 {
			return &ConfigError{Field: "NUM_COLORS", Reason: "must be positive"}
		}
	case sampler.AlgorithmBorder:
		if c.BorderReduceRatio <= 0 || c.BorderReduceRatio > 1 {
			return &ConfigError{Field: "BORDER_REDUCE_RATIO", Reason: fmt.Sprintf("must be in (0, 1], got %v", c.BorderReduceRatio)}
		}
		if c.BorderRatio <= 0 || c.BorderRatio > 0.5 {
			return &ConfigError{Field: "BORDER_RATIO", Reason: fmt.Sprintf("must be in (0, 0.5], got %v", c.BorderRatio)}
		}
		if _, err := sampler.ParseReducer(c.BorderReducer); err != nil {
			return &ConfigError{Field: "BORDER_REDUCER", Reason: err.Error()}
		}
	}
	return nil
}

func (c *Config) Mode() control.Mode {
	if c.Demo {
		return control.ModeDemo
	}
	return control.ModeAmbient
}

// UpdateInterval is the --interval value if given, else the mode's default.
func (c *Config) UpdateInterval() time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	if c.Demo {
		return c.DemoInterval
	}
	return c.CaptureInterval
}

func (c *Config) Loop() control.Config {
	return control.Config{
		Address:        c.DeviceAddress,
		Characteristic: c.characteristic(),
		Mode:           c.Mode(),
		Interval:       c.UpdateInterval(),
		RetryInterval:  c.RetryInterval,
		Display:        c.ScreenNumber,
	}
}

func (c *Config) BLE() ble.Config {
	return ble.Config{
		ConnectTimeout: c.ConnectTimeout,
		WriteTimeout:   c.WriteTimeout,
	}
}

// Sampler builds the ambient color algorithm. The config must be valid.
func (c *Config) Sampler() (sampler.Sampler, error) {
	algo, err := sampler.ParseAlgorithm(c.ColorAlgo)
	if err != nil {
		return nil, &ConfigError{Field: "COLOR_ALGO", Reason: err.Error()}
	}
	if algo == sampler.AlgorithmBorder {
		reducer, err := sampler.ParseReducer(c.BorderReducer)
		if err != nil {
			return nil, &ConfigError{Field: "BORDER_REDUCER", Reason: err.Error()}
		}
		return &sampler.Border{
			ReduceRatio:        c.BorderReduceRatio,
			BorderRatio:        c.BorderRatio,
			Reducer:            reducer,
			NormalizeLightness: c.BorderNormalizeLightness,
		}, nil
	}
	return &sampler.Dominant{ReduceRatio: c.ReduceRatio, NumColors: c.NumColors}, nil
}

// Palette builds the demo palette from DEMO_COLORS, or the default color
// wheel when unset.
func (c *Config) Palette() (*palette.Palette, error) {
	blend, err := c.blend()
	if err != nil {
		return nil, err
	}
	anchors, err := c.anchors()
	if err != nil {
		return nil, err
	}
	p, err := palette.Generate(anchors, c.DemoTransitionColors, blend)
	if err != nil {
		return nil, &ConfigError{Field: "DEMO_COLORS", Reason: err.Error()}
	}
	return p, nil
}

func (c *Config) blend() (palette.Blend, error) {
	switch b := palette.Blend(strings.ToUpper(strings.TrimSpace(c.DemoBlend))); b {
	case palette.BlendRGB, palette.BlendHSL:
		return b, nil
	}
	return "", &ConfigError{
		Field:  "DEMO_BLEND",
		Reason: fmt.Sprintf("unknown blend %q, valid values are [%s, %s]", c.DemoBlend, palette.BlendRGB, palette.BlendHSL),
	}
}

func (c *Config) anchors() ([]lights.Color, error) {
	names := c.DemoColors
	if len(names) == 0 {
		names = palette.DefaultAnchors
	}
	colors, err := palette.Resolve(names)
	if err != nil {
		return nil, &ConfigError{Field: "DEMO_COLORS", Reason: err.Error()}
	}
	if len(colors) < 2 {
		return nil, &ConfigError{Field: "DEMO_COLORS", Reason: palette.ErrTooFewAnchors.Error()}
	}
	return colors, nil
}

// characteristic is the normalized lower-case form of CHARACTERISTIC_UUID.
func (c *Config) characteristic() string {
	id, err := uuid.Parse(c.CharacteristicUUID)
	if err != nil {
		return protocol.ControlCharacteristic
	}
	return id.String()
}
