package lsm303dlx

import "accelcode-go/x/mathx"

// ---------------- Rate (ODR) ----------------

// odrTiers maps a requested rate onto the chip's grid. Scanned top-down with
// a strictly-greater-than test: a request equal to a tier stays on it, a
// request between tiers lands on the next faster one, so the chip samples at
// least as fast as asked. The bits carry the CTRL_REG1 power-mode/rate
// field; low-power tiers (0xC0..0x40) encode the rate in the PM bits instead
// of DR.
var odrTiers = []struct {
	above int64 // exclusive lower bound, mHz
	odr   int64 // quantized rate, mHz
	bits  uint8 // CTRL_REG1[7:3]
}{
	{400_000, 1_000_000, 0x38},
	{100_000, 400_000, 0x30},
	{50_000, 100_000, 0x28},
	{10_000, 50_000, 0x20},
	{5_000, 10_000, 0xC0},
	{2_000, 5_000, 0xA0},
	{1_000, 2_000, 0x80},
	{500, 1_000, 0x60},
	{0, 500, 0x40},
}

// odrSelect quantizes a rate in mHz. Zero and negative requests power the
// sampling engine down (rate 0, all mode bits clear).
func odrSelect(mHz int64) (odr int64, bits uint8) {
	for _, t := range odrTiers {
		if mHz > t.above {
			return t.odr, t.bits
		}
	}
	return 0, 0
}

// ---------------- Full scale (FSR) ----------------

// fsrSelect snaps a range request UP to 2048, 4096 or 8192 mg and returns
// the CTRL_REG4 byte the configuration path writes. BLE is always set so
// data reads out big-endian.
func fsrSelect(mg int64) (fsr int64, bits uint8) {
	switch {
	case mg <= 2048:
		return 2048, ctrl4BLE
	case mg <= 4096:
		return 4096, ctrl4BLE | 0x30
	default:
		return 8192, ctrl4BLE | 0x10
	}
}

// seqFSBits is the CTRL_REG4 byte the suspend/resume sequencers write for a
// stored range. Note the FS patterns for 4096/8192 are swapped relative to
// fsrSelect; both maps are kept exactly as the part has always been driven.
func seqFSBits(fsr int64) uint8 {
	switch fsr {
	case 8192:
		return ctrl4BLE | 0x30
	case 4096:
		return ctrl4BLE | 0x10
	default:
		return ctrl4BLE
	}
}

// ---------------- Threshold ----------------

// thsEncode clamps a threshold into [0, fsr) and scales it onto the 7-bit
// INT1_THS grid: reg = floor(ths*128/fsr), always within [0,127].
func thsEncode(mg, fsr int64) (clamped int64, reg uint8) {
	clamped = mathx.Clamp(mg, 0, fsr-1)
	return clamped, uint8(clamped * 128 / fsr)
}

// ---------------- Duration ----------------

// durEncode converts a duration in ms to INT1_DURATION ticks of the given
// rate: ticks = ms*odr_mHz/1e6, saturating at the 7-bit ceiling. A powered
// down rate always yields zero ticks.
func durEncode(ms, odrmHz int64) uint8 {
	return uint8(mathx.Clamp(ms*odrmHz/1_000_000, 0, maxDurTicks))
}

// ---------------- IRQ routing ----------------

// irqSelect returns the CTRL_REG3 and INT1_CFG bytes for an interrupt mode.
// Motion mode routes the profile's stored INT1 configuration byte.
func irqSelect(mode IRQMode, motionCfg uint8) (ctrl3, int1cfg uint8, ok bool) {
	switch mode {
	case IRQDataReady:
		return 0x02, 0x00, true
	case IRQMotion:
		return 0x00, motionCfg, true
	case IRQNone:
		return 0x00, 0x00, true
	default:
		return 0, 0, false
	}
}
