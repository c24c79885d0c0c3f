package battery

import (
	"context"
	"errors"
	"testing"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/Shy/vu-consumer/internal/config"
)

func playbackReader(ops []i2ctest.IO) *I2CReader {
	r := NewI2CReader("", 0x57)
	r.open = func(string) (i2c.BusCloser, error) {
		return &i2ctest.Playback{Ops: ops, DontPanic: true}, nil
	}
	return r
}

func TestI2CReaderDecodesRegisters(t *testing.T) {
	r := playbackReader([]i2ctest.IO{
		{Addr: 0x57, W: []byte{0x22}, R: []byte{0x0F}},
		{Addr: 0x57, W: []byte{0x23}, R: []byte{0xA0}},
		{Addr: 0x57, W: []byte{0x2A}, R: []byte{87}},
	})
	got, err := r.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.VoltageMv != 4000 || got.Percent != 87 {
		t.Errorf("Read() = %+v, want 4000mV 87%%", got)
	}
}

func TestI2CReaderClampsPercent(t *testing.T) {
	r := playbackReader([]i2ctest.IO{
		{Addr: 0x57, W: []byte{0x22}, R: []byte{0x10}},
		{Addr: 0x57, W: []byte{0x23}, R: []byte{0x68}},
		{Addr: 0x57, W: []byte{0x2A}, R: []byte{0xFF}},
	})
	got, err := r.Read(context.Background())
	if err != nil || got.Percent != 100 {
		t.Errorf("Read() = %+v, %v", got, err)
	}
}

func TestI2CReaderBusError(t *testing.T) {
	r := NewI2CReader("", 0x57)
	r.open = func(string) (i2c.BusCloser, error) { return nil, errors.New("no bus") }
	if _, err := r.Read(context.Background()); err == nil {
		t.Error("bus error swallowed")
	}

	short := playbackReader([]i2ctest.IO{
		{Addr: 0x57, W: []byte{0x22}, R: []byte{0x0F}},
	})
	if _, err := short.Read(context.Background()); err == nil {
		t.Error("missing register reply swallowed")
	}
}

func TestFromConfigDisabled(t *testing.T) {
	_, err := FromConfig(config.BatteryConfig{}).Read(context.Background())
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("err = %v", err)
	}
	if _, ok := FromConfig(config.BatteryConfig{Enabled: true, Addr: 0x57}).(*I2CReader); !ok {
		t.Error("enabled config should yield an I2C reader")
	}
}
