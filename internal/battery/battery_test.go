package battery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	regs := map[byte]byte{regVoltageHigh: 0x0F, regVoltageLow: 0xA0, regPercent: 87}
	st, err := decode(func(reg byte) (byte, error) { return regs[reg], nil })
	require.NoError(t, err)
	assert.Equal(t, 4000, st.VoltageMv)
	assert.Equal(t, 87, st.Percent)

	regs[regPercent] = 140
	st, err = decode(func(reg byte) (byte, error) { return regs[reg], nil })
	require.NoError(t, err)
	assert.Equal(t, 100, st.Percent)

	_, err = decode(func(reg byte) (byte, error) {
		if reg == regVoltageLow {
			return 0, errors.New("nack")
		}
		return 0, nil
	})
	assert.ErrorContains(t, err, "voltage low")
}

func TestDetectWithoutAddress(t *testing.T) {
	_, err := Detect(context.Background(), "", 0).Read(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

type countingReader struct {
	calls int
	err   error
}

func (c *countingReader) Read(context.Context) (Status, error) {
	c.calls++
	if c.err != nil {
		return Status{}, c.err
	}
	return Status{Percent: 50 + c.calls}, nil
}

func TestCached(t *testing.T) {
	base := time.Date(2024, 1, 17, 9, 0, 0, 0, time.UTC)
	now := base
	inner := &countingReader{}
	c := NewCached(inner, 30*time.Second)
	c.now = func() time.Time { return now }

	st, err := c.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 51, st.Percent)

	now = base.Add(10 * time.Second)
	st, _ = c.Read(context.Background())
	assert.Equal(t, 51, st.Percent)
	assert.Equal(t, 1, inner.calls)

	now = base.Add(31 * time.Second)
	st, _ = c.Read(context.Background())
	assert.Equal(t, 52, st.Percent)

	inner.err = errors.New("bus busy")
	now = base.Add(90 * time.Second)
	_, err = c.Read(context.Background())
	assert.Error(t, err)
}
