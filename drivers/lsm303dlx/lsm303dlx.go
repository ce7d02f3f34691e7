// Package lsm303dlx drives the accelerometer half of the ST LSM303DLH/DLM.
//
// The driver keeps two configuration profiles, one for the suspended state
// and one for the resumed state. Setters quantize physical units onto the
// chip's register grid and stage the result in the addressed profile; with
// apply=true they also push the affected register immediately. Suspend() and
// Resume() replay a whole profile onto the chip.
//
// All I/O goes through a drivers.I2C transport. Bus errors are returned
// as-is; the driver never retries.
package lsm303dlx

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// Errors returned by the driver.
var (
	// ErrNotReady reports that STATUS_REG shows no fresh sample.
	ErrNotReady = errors.New("lsm303dlx: data not ready")
	// ErrInvalidParam reports a nil value pointer or an out-of-range mode.
	ErrInvalidParam = errors.New("lsm303dlx: invalid parameter")
	// ErrUnknownParam reports a Param outside the supported set.
	ErrUnknownParam = errors.New("lsm303dlx: unknown parameter")
)

// Sample is one decoded acceleration reading in raw counts.
type Sample struct {
	X, Y, Z int16
}

// Descriptor is the static metadata of the part. It is a plain value;
// callers receive their own copy from Describe.
type Descriptor struct {
	Name      string
	Kind      string
	Address   uint16
	ReadReg   uint8 // burst origin, auto-increment bit included
	ReadLen   int
	BigEndian bool
	RangeMg   int64 // symmetric full-scale metadata, mg
}

// Describe returns the part descriptor.
func Describe() Descriptor {
	return Descriptor{
		Name:      "lsm303dlx_a",
		Kind:      "accelerometer",
		Address:   AddressDefault,
		ReadReg:   regOutXL | autoIncrement,
		ReadLen:   6,
		BigEndian: true,
		RangeMg:   2480,
	}
}

// Device represents one LSM303DLx accelerometer on an I²C bus.
type Device struct {
	bus  drivers.I2C
	addr uint16

	suspend Profile
	resume  Profile

	// settle wait used by Resume; replaceable in tests
	sleep func(time.Duration)

	// Fixed buffers to avoid per-call heap allocations.
	w [2]byte
	r [6]byte
}

// New constructs a Device and seeds both profiles with the power-on
// defaults. No bus traffic happens here; call Resume to activate the chip.
func New(bus drivers.I2C, addr uint16) *Device {
	if addr == 0 {
		addr = AddressDefault
	}
	d := &Device{bus: bus, addr: addr, sleep: time.Sleep}

	d.suspend.Ctrl = 0x47
	d.resume.Ctrl = 0x37
	d.suspend.MotionCfg = 0x2A
	d.resume.MotionCfg = 0x95

	// Seed order matters: rates first so duration ticks are computed
	// against the right ODR, ranges before thresholds.
	_ = d.SetODR_mHz(ProfileSuspend, false, 0)
	_ = d.SetODR_mHz(ProfileResume, false, 200_000)
	_ = d.SetFSR_mg(ProfileSuspend, false, Describe().RangeMg)
	_ = d.SetFSR_mg(ProfileResume, false, Describe().RangeMg)
	_ = d.SetThreshold_mg(ProfileSuspend, false, 80)
	_ = d.SetThreshold_mg(ProfileResume, false, 40)
	_ = d.SetDuration_ms(ProfileSuspend, false, 1000)
	_ = d.SetDuration_ms(ProfileResume, false, 2540)
	_ = d.SetIRQMode(ProfileSuspend, false, IRQNone)
	_ = d.SetIRQMode(ProfileResume, false, IRQNone)

	return d
}

// Address returns the device's bus address.
func (d *Device) Address() uint16 { return d.addr }

// Read polls the status register once and, if any axis has fresh data,
// burst-reads the six output registers. It never waits: when nothing new
// is available it returns ErrNotReady without touching the data registers.
func (d *Device) Read() (Sample, error) {
	st, err := d.readReg(regStatus)
	if err != nil {
		return Sample{}, err
	}
	if st&statusNewData == 0 {
		return Sample{}, ErrNotReady
	}
	d.w[0] = regOutXL | autoIncrement
	if err := d.bus.Tx(d.addr, d.w[:1], d.r[:6]); err != nil {
		return Sample{}, err
	}
	// CTRL_REG4.BLE is always set by the sequencers: MSB at the lower address.
	return Sample{
		X: int16(uint16(d.r[0])<<8 | uint16(d.r[1])),
		Y: int16(uint16(d.r[2])<<8 | uint16(d.r[3])),
		Z: int16(uint16(d.r[4])<<8 | uint16(d.r[5])),
	}, nil
}

// WakeSource reads INT1_SRC. On the part this also clears the latched wake
// interrupt, so the INT line drops until the next qualifying motion.
func (d *Device) WakeSource() (uint8, error) {
	return d.readReg(regInt1Src)
}

func (d *Device) writeReg(reg, val uint8) error {
	d.w[0], d.w[1] = reg, val
	return d.bus.Tx(d.addr, d.w[:2], nil)
}

func (d *Device) readReg(reg uint8) (uint8, error) {
	d.w[0] = reg
	if err := d.bus.Tx(d.addr, d.w[:1], d.r[:1]); err != nil {
		return 0, err
	}
	return d.r[0], nil
}
