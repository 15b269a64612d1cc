package timer

// DateTime is the (date, time-of-day) pair tm_get/tm_set exchange with
// callers, packed exactly as original_source's gxkTime.c encodes them even
// though the wheel's own clock is a flat tick counter (SPEC_FULL §9A).
type DateTime struct {
	Year, Month, Day             int
	Hour, Minute, Second, Hundredths int
}

// PackDate returns gxkTime.c's packed date word:
// (year-1900)<<9 | month<<5 | day.
func (d DateTime) PackDate() uint32 {
	return uint32(d.Year-1900)<<9 | uint32(d.Month)<<5 | uint32(d.Day)
}

// PackTime returns gxkTime.c's packed time-of-day word:
// hour<<24 | minute<<16 | second<<8 | hundredths.
func (d DateTime) PackTime() uint32 {
	return uint32(d.Hour)<<24 | uint32(d.Minute)<<16 | uint32(d.Second)<<8 | uint32(d.Hundredths)
}

// UnpackDateTime reverses PackDate/PackTime.
func UnpackDateTime(packedDate, packedTime uint32) DateTime {
	return DateTime{
		Year:       int(packedDate>>9) + 1900,
		Month:      int(packedDate>>5) & 0x0F,
		Day:        int(packedDate) & 0x1F,
		Hour:       int(packedTime >> 24),
		Minute:     int(packedTime>>16) & 0xFF,
		Second:     int(packedTime>>8) & 0xFF,
		Hundredths: int(packedTime) & 0xFF,
	}
}

const secondsPerDay = 86400

func (d DateTime) secondsOfDay() int64 {
	return int64(d.Hour)*3600 + int64(d.Minute)*60 + int64(d.Second)
}

// Set establishes the wall-clock baseline: from then on Get reports elapsed
// kernel ticks added to this DateTime, wrapping the time-of-day component
// at the 24-hour boundary per spec.md §4.3 ("rolls over at the encoded
// 24-hour boundary"); the date component is not auto-advanced, matching
// the original's simplistic counter.
func (c *Core) Set(dt DateTime) {
	c.wallBaseTick = c.now
	c.wallBase = dt
}

// Get reconstructs the current wall DateTime from the baseline set by Set
// (or the zero DateTime if Set was never called) plus ticks elapsed since.
func (c *Core) Get() DateTime {
	elapsedTicks := c.now - c.wallBaseTick
	elapsedHundredths := elapsedTicks * 100 / c.rateHz
	total := c.wallBase.secondsOfDay()*100 + int64(c.wallBase.Hundredths) + int64(elapsedHundredths)
	total %= secondsPerDay * 100

	out := c.wallBase
	out.Hundredths = int(total % 100)
	totalSeconds := total / 100
	out.Second = int(totalSeconds % 60)
	out.Minute = int((totalSeconds / 60) % 60)
	out.Hour = int((totalSeconds / 3600) % 24)
	return out
}
