package config

// Embedded per-board configuration. Key: board ID (the value placed in ctx
// under CtxBoardKey). Val: raw JSON for that board, one top-level key per
// consuming service.

// sim: the in-process rig. One accelerometer on the simulated i2c0 with its
// INT1 line on sim pin 6, waking on motion while suspended.
const cfgSim = `{
  "hal": {
    "devices": [
      {
        "id": "accel1",
        "type": "lsm303dlx",
        "bus_ref": {"type": "i2c", "id": "i2c0"},
        "params": {
          "addr": 24,
          "sample_every_ms": 1000,
          "int1_pin": 6,
          "suspend": {"odr_mhz": 0, "irq": 1},
          "resume": {"odr_mhz": 200000}
        }
      }
    ]
  },
  "bridge": {
    "enabled": false,
    "broker": "tcp://127.0.0.1:1883",
    "prefix": "accel-rig"
  },
  "heartbeat": {
    "interval": 2
  }
}`

// rpi-devkit: a Raspberry Pi carrier with the part on the hardware I2C bus
// and INT1 on GPIO17. The logical bus id "i2c0" is mapped to the host bus
// name by the run mode flags.
const cfgRPiDevkit = `{
  "hal": {
    "devices": [
      {
        "id": "accel1",
        "type": "lsm303dlx",
        "bus_ref": {"type": "i2c", "id": "i2c0"},
        "params": {
          "addr": 24,
          "sample_every_ms": 1000,
          "int1_pin": 17,
          "suspend": {"odr_mhz": 0, "irq": 1},
          "resume": {"odr_mhz": 200000, "fsr_mg": 4096}
        }
      }
    ],
    "pollers": [
      {"name": "accel1", "verb": "read", "interval_ms": 1000, "jitter_ms": 50}
    ]
  },
  "bridge": {
    "enabled": true,
    "broker": "tcp://127.0.0.1:1883",
    "prefix": "accel-rig"
  },
  "heartbeat": {
    "interval": 2
  }
}`

var embeddedConfigs = map[string][]byte{
	"sim":        []byte(cfgSim),
	"rpi-devkit": []byte(cfgRPiDevkit),
}
