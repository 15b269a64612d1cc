package timer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-rtkernel/internal/hal"
	"github.com/joeycumines/go-rtkernel/internal/klog"
	"github.com/joeycumines/go-rtkernel/internal/timer"
	"github.com/joeycumines/go-rtkernel/kerrno"
)

func newCore(t *testing.T) *timer.Core {
	t.Helper()
	h := hal.NewHost()
	t.Cleanup(h.Close)
	return timer.NewCore(h, 100, klog.Noop())
}

func TestTick_FiresOneShotAtDeadline(t *testing.T) {
	c := newCore(t)
	fired := 0
	_, ec := c.Arm(5, false, 0, func() { fired++ })
	require.Zero(t, ec)

	for i := 0; i < 4; i++ {
		c.Tick()
		assert.Equal(t, 0, fired)
	}
	c.Tick()
	assert.Equal(t, 1, fired)

	// One-shot does not refire.
	for i := 0; i < 5; i++ {
		c.Tick()
	}
	assert.Equal(t, 1, fired)
}

func TestTick_PeriodicReschedulesAtExpirePlusPeriod(t *testing.T) {
	c := newCore(t)
	fired := 0
	_, ec := c.Arm(3, true, 3, func() { fired++ })
	require.Zero(t, ec)

	for i := 0; i < 9; i++ {
		c.Tick()
	}
	assert.Equal(t, 3, fired)
}

func TestCancel_RemovesPendingTimer(t *testing.T) {
	c := newCore(t)
	fired := false
	id, ec := c.Arm(5, false, 0, func() { fired = true })
	require.Zero(t, ec)

	require.Zero(t, c.Cancel(id))
	assert.Equal(t, kerrno.BadTimerID, c.Cancel(id))

	for i := 0; i < 10; i++ {
		c.Tick()
	}
	assert.False(t, fired)
}

func TestTick_ListStaysNonDecreasingByExpiration(t *testing.T) {
	c := newCore(t)
	var order []int
	_, _ = c.Arm(10, false, 0, func() { order = append(order, 10) })
	_, _ = c.Arm(2, false, 0, func() { order = append(order, 2) })
	_, _ = c.Arm(6, false, 0, func() { order = append(order, 6) })

	for i := 0; i < 10; i++ {
		c.Tick()
	}
	assert.Equal(t, []int{2, 6, 10}, order)
}

func TestWallClock_RoundTripsPackedEncoding(t *testing.T) {
	c := newCore(t)
	dt := timer.DateTime{Year: 2026, Month: 8, Day: 1, Hour: 12, Minute: 30, Second: 0, Hundredths: 0}
	c.Set(dt)

	got := c.Get()
	assert.Equal(t, dt.Hour, got.Hour)
	assert.Equal(t, dt.Minute, got.Minute)

	packedDate, packedTime := dt.PackDate(), dt.PackTime()
	roundTripped := timer.UnpackDateTime(packedDate, packedTime)
	assert.Equal(t, dt, roundTripped)
}

func TestWallClock_AdvancesWithTicksAndWrapsAt24h(t *testing.T) {
	c := newCore(t)
	c.Set(timer.DateTime{Year: 2026, Month: 1, Day: 1, Hour: 23, Minute: 59, Second: 59, Hundredths: 0})

	for i := 0; i < 200; i++ { // 2 seconds at 100Hz
		c.Tick()
	}
	got := c.Get()
	assert.Equal(t, 0, got.Hour)
	assert.Equal(t, 0, got.Minute)
	assert.Equal(t, 1, got.Second)
}
