package types

// HAL configuration supplied on topic "config/hal".

type HALConfig struct {
	Devices []Device   `json:"devices"`
	Pollers []PollSpec `json:"pollers,omitempty"`
}

type Device struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Params any    `json:"params,omitempty"`
	BusRef BusRef `json:"bus_ref,omitempty"`
}

type BusRef struct {
	Type string `json:"type"` // "i2c"
	ID   string `json:"id"`   // e.g. "i2c0"
}
