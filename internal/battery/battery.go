// Package battery reads the UPS HAT that keeps a classroom display alive
// through short power cuts. /health reports it next to calendar health.
package battery

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// ErrUnavailable means no battery controller is configured or reachable.
var ErrUnavailable = errors.New("battery: unavailable")

// Status is the battery state reported on /health.
type Status struct {
	// Percent is the battery level in 0–100%.
	Percent int `json:"percent"`
	// VoltageMv is the battery voltage in millivolts, if known.
	VoltageMv int       `json:"voltage_mv"`
	ReadAt    time.Time `json:"read_at"`
}

// Reader abstracts how battery information is obtained.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// Controller registers (PiSugar-style layout).
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

// regReader reads one register byte.
type regReader func(reg byte) (byte, error)

// decode reads the voltage and level registers through rd.
func decode(rd regReader) (Status, error) {
	high, err := rd(regVoltageHigh)
	if err != nil {
		return Status{}, fmt.Errorf("battery: voltage high: %w", err)
	}
	low, err := rd(regVoltageLow)
	if err != nil {
		return Status{}, fmt.Errorf("battery: voltage low: %w", err)
	}
	pct, err := rd(regPercent)
	if err != nil {
		return Status{}, fmt.Errorf("battery: percent: %w", err)
	}
	if pct > 100 {
		pct = 100
	}
	return Status{
		Percent:   int(pct),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

// i2cReader talks to the controller over I2C.
type i2cReader struct {
	busName string
	addr    uint16
}

// NewI2CReader returns a Reader for the controller at addr on busName
// ("" picks the default bus, /dev/i2c-1 on a Raspberry Pi). Nothing is
// opened until Read.
func NewI2CReader(busName string, addr uint16) Reader {
	return &i2cReader{busName: busName, addr: addr}
}

func (r *i2cReader) Read(_ context.Context) (Status, error) {
	if runtime.GOOS != "linux" {
		return Status{}, fmt.Errorf("%w: i2c needs linux", ErrUnavailable)
	}
	if _, err := host.Init(); err != nil {
		return Status{}, err
	}

	bus, err := i2creg.Open(r.busName)
	if err != nil {
		return Status{}, err
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.addr}
	st, err := decode(func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, err
		}
		return buf[0], nil
	})
	if err != nil {
		return Status{}, err
	}
	st.ReadAt = time.Now()
	return st, nil
}

type unavailable struct{}

func (unavailable) Read(context.Context) (Status, error) { return Status{}, ErrUnavailable }

// Detect returns an I2C reader when addr is set and a first read works,
// and otherwise a reader that always reports ErrUnavailable.
func Detect(ctx context.Context, busName string, addr uint16) Reader {
	if addr == 0 {
		return unavailable{}
	}
	r := NewI2CReader(busName, addr)
	if _, err := r.Read(ctx); err != nil {
		return unavailable{}
	}
	return r
}

// Cached wraps a Reader so that reads within ttl reuse the last result.
// Failures are not cached.
type Cached struct {
	r   Reader
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	last *Status
	at   time.Time
}

func NewCached(r Reader, ttl time.Duration) *Cached {
	return &Cached{r: r, ttl: ttl, now: time.Now}
}

func (c *Cached) Read(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.last != nil && now.Sub(c.at) < c.ttl {
		return *c.last, nil
	}
	st, err := c.r.Read(ctx)
	if err != nil {
		return Status{}, err
	}
	c.last, c.at = &st, now
	return st, nil
}
