package timex

import "time"

// NowNs returns Unix nanoseconds as int64. Retained bus documents carry
// this as ts_ns.
func NowNs() int64 { return time.Now().UnixNano() }

// PeriodFromMs returns a duration for a requested poll interval.
// ms==0 is coerced to 1 to avoid a zero period.
func PeriodFromMs(ms uint32) time.Duration {
	if ms == 0 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

// ClampDuration limits d to [lo, hi].
func ClampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
