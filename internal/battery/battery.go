// Package battery reads a PiSugar-style UPS over I2C so a battery-backed
// dial host can report its charge.
package battery

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/Shy/vu-consumer/internal/config"
)

// Register map of the controller.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

// ErrDisabled is returned by the reader used when no battery is configured.
var ErrDisabled = errors.New("battery: monitoring disabled")

// Status is the current battery state.
type Status struct {
	Percent   int `json:"percent"`
	VoltageMv int `json:"voltage_mv"`
}

// Reader obtains battery information.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// FromConfig returns the reader for cfg. A disabled config yields a reader
// that always fails with ErrDisabled.
func FromConfig(cfg config.BatteryConfig) Reader {
	if !cfg.Enabled {
		return disabled{}
	}
	return NewI2CReader(cfg.Bus, cfg.Addr)
}

type disabled struct{}

func (disabled) Read(context.Context) (Status, error) { return Status{}, ErrDisabled }

// I2CReader talks to the controller at addr on the named bus ("" for the
// first bus periph finds).
type I2CReader struct {
	busName string
	addr    uint16
	open    func(name string) (i2c.BusCloser, error)
}

// NewI2CReader keeps the configuration only; the bus is opened per Read.
func NewI2CReader(busName string, addr uint16) *I2CReader {
	return &I2CReader{busName: busName, addr: addr, open: openBus}
}

var (
	hostOnce sync.Once
	hostErr  error
)

func openBus(name string) (i2c.BusCloser, error) {
	if runtime.GOOS != "linux" {
		return nil, errors.New("battery: i2c unavailable on this platform")
	}
	hostOnce.Do(func() { _, hostErr = host.Init() })
	if hostErr != nil {
		return nil, fmt.Errorf("battery: host init: %w", hostErr)
	}
	return i2creg.Open(name)
}

// Read implements Reader.
func (r *I2CReader) Read(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	bus, err := r.open(r.busName)
	if err != nil {
		return Status{}, err
	}
	defer bus.Close()
	return readStatus(&i2c.Dev{Bus: bus, Addr: r.addr})
}

func readStatus(dev conn.Conn) (Status, error) {
	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, fmt.Errorf("battery: read register 0x%02x: %w", reg, err)
		}
		return buf[0], nil
	}

	high, err := readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := readReg(regPercent)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Percent:   int(min(pct, 100)),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}
