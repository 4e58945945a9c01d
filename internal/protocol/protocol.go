// Package protocol encodes commands for the BLE light strip controller
// found in the common "Triones"/"HappyLighting" strips.
//
// All commands are written to a single control characteristic:
//
//	set color:  56 RR GG BB 00 F0 AA
//	power on:   CC 23 33
//	power off:  CC 24 33
package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/scheerer/ble-screen-colors/lights"
)

// ControlCharacteristic is the GATT characteristic every command is written to.
const ControlCharacteristic = "0000ffd9-0000-1000-8000-00805f9b34fb"

const (
	colorHeader   = 0x56
	colorMode     = 0xF0
	colorTerminal = 0xAA

	powerHeader   = 0xCC
	powerOn       = 0x23
	powerOff      = 0x24
	powerTerminal = 0x33

	colorFrameLen = 7
	powerFrameLen = 3
)

var ErrUnknownFrame = errors.New("unknown frame")

// Command is either SetColor or SetPower.
type Command interface {
	command()
}

type SetColor struct {
	Color lights.Color
}

type SetPower struct {
	On bool
}

func (SetColor) command() {}
func (SetPower) command() {}

func (c SetColor) String() string {
	return fmt.Sprintf("set-color %s", c.Color)
}

func (c SetPower) String() string {
	if c.On {
		return "set-power on"
	}
	return "set-power off"
}

func EncodeSetColor(c lights.Color) []byte {
	return []byte{colorHeader, c.Red, c.Green, c.Blue, 0x00, colorMode, colorTerminal}
}

func EncodeSetPower(on bool) []byte {
	if on {
		return []byte{powerHeader, powerOn, powerTerminal}
	}
	return []byte{powerHeader, powerOff, powerTerminal}
}

// Encode returns the wire frame for cmd.
func Encode(cmd Command) []byte {
	switch c := cmd.(type) {
	case SetColor:
		return EncodeSetColor(c.Color)
	case SetPower:
		return EncodeSetPower(c.On)
	default:
		panic(fmt.Sprintf("protocol: unsupported command %T", cmd))
	}
}

// Decode parses a frame produced by Encode.
func Decode(frame []byte) (Command, error) {
	switch {
	case len(frame) == colorFrameLen && frame[0] == colorHeader &&
		frame[4] == 0x00 && frame[5] == colorMode && frame[6] == colorTerminal:
		return SetColor{Color: lights.Color{Red: frame[1], Green: frame[2], Blue: frame[3]}}, nil
	case bytes.Equal(frame, EncodeSetPower(true)):
		return SetPower{On: true}, nil
	case bytes.Equal(frame, EncodeSetPower(false)):
		return SetPower{On: false}, nil
	}
	return nil, fmt.Errorf("%w: % x", ErrUnknownFrame, frame)
}
