package lsm303dlx

const (
	// 7-bit I2C address with SA0 low.
	AddressDefault = 0x18

	// --- Register sub-addresses (8-bit registers) ---

	regCtrl1         = 0x20 // PM2..PM0 | DR1 DR0 | Zen Yen Xen
	regCtrl2         = 0x21 // high-pass filter config
	regCtrl3         = 0x22 // interrupt routing
	regCtrl4         = 0x23 // BLE | FS1 FS0 | ...
	regCtrl5         = 0x24
	regHPFilterReset = 0x25 // dummy read resets the HP filter reference
	regReference     = 0x26
	regStatus        = 0x27
	regOutXL         = 0x28 // six data bytes from here with auto-increment

	regInt1Cfg = 0x30
	regInt1Src = 0x31
	regInt1Ths = 0x32
	regInt1Dur = 0x33
	regInt2Cfg = 0x34
	regInt2Src = 0x35
	regInt2Ths = 0x36
	regInt2Dur = 0x37

	// --- Bits and fixed patterns ---

	autoIncrement = 0x80 // sub-address MSB: burst auto-increment

	ctrlAxesMask = 0x07 // CTRL_REG1 axis enables, preserved across rate changes
	ctrl4BLE     = 0x40 // big-endian data output
	ctrl2HPCoeff = 0x0F // HP filter coefficients written by both sequencers

	// STATUS_REG low nibble: XDA|YDA|ZDA|ZYXDA, any set means fresh data.
	statusNewData = 0x0F

	maxDurTicks = 127 // INT1_DURATION is a 7-bit tick count
)
