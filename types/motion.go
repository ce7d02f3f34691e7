package types

// ------------------------
// Accelerometer / motion
// ------------------------

type AccelInfo struct {
	Sensor  string `json:"sensor"` // "lsm303dlx_a"
	Addr    uint16 `json:"addr"`   // I2C address
	Bus     string `json:"bus"`    // "i2c0", ...
	RangeMg int64  `json:"range_mg"`
}

// AccelValue is one sample on hal/capability/accel/<id>/value.
// Raw sensor counts; the scale is published in AccelInfo.
type AccelValue struct {
	X int16 `json:"x"`
	Y int16 `json:"y"`
	Z int16 `json:"z"`
}

// MotionEvent is published (not retained) when the wake interrupt fires.
// Source carries the raw interrupt-source byte.
type MotionEvent struct {
	Source uint8 `json:"source"`
	TS     int64 `json:"ts_ns"`
}

// ------------------------
// Controls
// ------------------------

// SetParam updates one named tuning parameter. Apply=false stages the
// value for the next suspend/resume pass.
type SetParam struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
	Apply bool   `json:"apply,omitempty"`
} // verb: "set_param"

type GetParam struct {
	Key string `json:"key"`
} // verb: "get_param"

// ParamValue is the reply to get_param: the stored, quantized value.
type ParamValue struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

type SetRate struct {
	IntervalMs uint32 `json:"interval_ms"` // 0 stops the schedule
	JitterMs   uint16 `json:"jitter_ms,omitempty"`
} // verb: "set_rate"

// Profiles (reply to "describe") — both operating points as the device
// holds them, after quantization.

type ProfileView struct {
	ODRmHz      int64  `json:"odr_mHz"`
	FSRmg       int64  `json:"fsr_mg"`
	ThresholdMg int64  `json:"threshold_mg"`
	DurationMs  int64  `json:"duration_ms"`
	IRQ         string `json:"irq"` // "none", "motion", "data_ready"
}

type AccelProfiles struct {
	Suspend ProfileView `json:"suspend"`
	Resume  ProfileView `json:"resume"`
}

// ------------------------
// Interrupt source bits
// ------------------------

// MotionSourceBits mirrors the wake interrupt source register.
type MotionSourceBits uint8

const (
	MotionActive MotionSourceBits = 1 << 6
	MotionZHigh  MotionSourceBits = 1 << 5
	MotionZLow   MotionSourceBits = 1 << 4
	MotionYHigh  MotionSourceBits = 1 << 3
	MotionYLow   MotionSourceBits = 1 << 2
	MotionXHigh  MotionSourceBits = 1 << 1
	MotionXLow   MotionSourceBits = 1 << 0
)

// Generic pairing of a bit value with a printable name.
type BitName[T ~uint8 | ~uint16] struct {
	Bit  T
	Name string
}

// BitIter is a zero-alloc iterator over set bits in a value, filtered by a
// table. Caller advances with Next(); no callbacks, no closures.
type BitIter[T ~uint8 | ~uint16] struct {
	v     uint16
	i     int
	table []BitName[T]
}

// NewBitIter constructs an iterator over set bits present in v that also
// exist in table.
func NewBitIter[T ~uint8 | ~uint16](v T, table []BitName[T]) BitIter[T] {
	return BitIter[T]{v: uint16(v), i: 0, table: table}
}

// Next returns the next SET bit: (name, ok). ok=false when done.
func (it *BitIter[T]) Next() (string, bool) {
	for it.i < len(it.table) {
		e := it.table[it.i]
		it.i++
		if (it.v & uint16(e.Bit)) != 0 {
			return e.Name, true
		}
	}
	return "", false
}

// Reset allows reusing the iterator.
func (it *BitIter[T]) Reset() { it.i = 0 }

// MotionSourceTable names the wake interrupt source bits (ordering is
// cosmetic).
var MotionSourceTable = [...]BitName[MotionSourceBits]{
	{MotionActive, "active"},
	{MotionXLow, "x_low"},
	{MotionXHigh, "x_high"},
	{MotionYLow, "y_low"},
	{MotionYHigh, "y_high"},
	{MotionZLow, "z_low"},
	{MotionZHigh, "z_high"},
}
