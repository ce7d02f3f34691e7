// services/hal/internal/platform/board.go
package platform

// SimBoard bundles the simulated rig: one accelerometer on "i2c0" with its
// INT1 line wired to a sim pin. Used by the sim run mode and service tests.
type SimBoard struct {
	Buses *SimBusFactory
	Pins  *SimPinFactory
	Accel *SimAccel
}

func NewSimBoard(addr uint16, intPin int) *SimBoard {
	b := &SimBoard{
		Buses: NewSimBusFactory(),
		Pins:  NewSimPinFactory(),
		Accel: NewSimAccel(addr),
	}
	b.Buses.Add("i2c0", b.Accel)
	if intPin >= 0 {
		b.Accel.BindINT1(b.Pins.Pin(intPin))
	}
	return b
}
