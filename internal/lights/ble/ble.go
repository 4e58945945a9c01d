package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/scheerer/ble-screen-colors/internal/logging"
	"github.com/scheerer/ble-screen-colors/lights"
)

var logger = logging.New("ble")

var (
	ErrDisconnected          = errors.New("device disconnected")
	ErrCharacteristicMissing = errors.New("characteristic not found")
	ErrScanStopped           = errors.New("scan stopped before device was found")
)

type Config struct {
	// ConnectTimeout bounds scanning for and connecting to the device.
	ConnectTimeout time.Duration
	// WriteTimeout bounds a single characteristic write.
	WriteTimeout time.Duration
}

// Transport connects to light strips through the default Bluetooth adapter.
type Transport struct {
	config  Config
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	linkMu sync.Mutex
	link   *Link
}

var _ lights.Transport = (*Transport)(nil)

func New(config Config) *Transport {
	return &Transport{
		config:  config,
		adapter: bluetooth.DefaultAdapter,
	}
}

func (t *Transport) enable() error {
	t.enableOnce.Do(func() {
		t.enableErr = t.adapter.Enable()
		if t.enableErr != nil {
			return
		}
		t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			t.linkMu.Lock()
			link := t.link
			t.linkMu.Unlock()
			if link != nil && !connected && strings.EqualFold(device.Address.String(), link.address) {
				logger.With(zap.String("address", link.address)).Warn("Device disconnected")
				link.disconnected.Store(true)
			}
		})
	})
	return t.enableErr
}

// Connect scans until a device with address advertises, then connects to it.
func (t *Transport) Connect(ctx context.Context, address string) (lights.Link, error) {
	if err := t.enable(); err != nil {
		return nil, fmt.Errorf("enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.ConnectTimeout)
	defer cancel()

	logger.With(zap.String("address", address)).Debug("Scanning for device")
	result, err := t.scan(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	logger.With(zap.String("address", address), zap.Int16("rssi", result.RSSI), zap.String("name", result.LocalName())).
		Debug("Found device, connecting")
	device, err := t.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	link := &Link{
		device:       device,
		address:      address,
		writeTimeout: t.config.WriteTimeout,
		chars:        make(map[string]bluetooth.DeviceCharacteristic),
		release:      t.release,
	}
	t.linkMu.Lock()
	t.link = link
	t.linkMu.Unlock()
	return link, nil
}

func (t *Transport) release(link *Link) {
	t.linkMu.Lock()
	if t.link == link {
		t.link = nil
	}
	t.linkMu.Unlock()
}

func (t *Transport) scan(ctx context.Context, address string) (bluetooth.ScanResult, error) {
	found := make(chan bluetooth.ScanResult, 1)
	done := make(chan error, 1)

	go func() {
		done <- t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !strings.EqualFold(result.Address.String(), address) {
				return
			}
			select {
			case found <- result:
			default:
			}
			_ = adapter.StopScan()
		})
	}()

	select {
	case result := <-found:
		<-done
		return result, nil
	case err := <-done:
		select {
		case result := <-found:
			return result, nil
		default:
		}
		if err == nil {
			err = ErrScanStopped
		}
		return bluetooth.ScanResult{}, err
	case <-ctx.Done():
		_ = t.adapter.StopScan()
		<-done
		return bluetooth.ScanResult{}, ctx.Err()
	}
}

// Link is a connected device. Writes are not safe for concurrent use.
type Link struct {
	device       bluetooth.Device
	address      string
	writeTimeout time.Duration
	disconnected atomic.Bool

	chars   map[string]bluetooth.DeviceCharacteristic
	release func(*Link)
}

var _ lights.Link = (*Link)(nil)

// Write sends data to the characteristic, discovering it on first use. With
// requireAck the write waits for the device's write response.
func (l *Link) Write(ctx context.Context, characteristic string, data []byte, requireAck bool) error {
	if l.disconnected.Load() {
		return ErrDisconnected
	}
	char, err := l.characteristic(characteristic)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, l.writeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var err error
		if requireAck {
			_, err = char.Write(data)
		} else {
			_, err = char.WriteWithoutResponse(data)
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write %s: %w", characteristic, ctx.Err())
	}
}

func (l *Link) characteristic(id string) (bluetooth.DeviceCharacteristic, error) {
	if c, ok := l.chars[id]; ok {
		return c, nil
	}

	uuid, err := bluetooth.ParseUUID(id)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}
	services, err := l.device.DiscoverServices(nil)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discover services: %w", err)
	}
	for _, service := range services {
		chars, err := service.DiscoverCharacteristics([]bluetooth.UUID{uuid})
		if err != nil || len(chars) == 0 {
			continue
		}
		logger.With(zap.String("address", l.address),
			zap.Stringer("service", service.UUID()),
			zap.String("characteristic", id)).
			Debug("Discovered characteristic")
		l.chars[id] = chars[0]
		return chars[0], nil
	}
	return bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: %s", ErrCharacteristicMissing, id)
}

func (l *Link) Close() error {
	l.release(l)
	return l.device.Disconnect()
}
