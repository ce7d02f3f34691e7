// services/hal/internal/consts/consts.go
package consts

// Top-level topics
const (
	TokConfig     = "config"
	TokHAL        = "hal"
	TokCapability = "capability"
	TokInfo       = "info"
	TokState      = "state"
	TokValue      = "value"
	TokControl    = "control"
	TokEvent      = "event"
	TokHeartbeat  = "heartbeat"
)

// Control verbs handled by the service itself
const (
	CtrlReadNow = "read_now"
	CtrlSetRate = "set_rate"
)

// Control verbs passed through to the accelerometer adaptor
const (
	CtrlSetParam   = "set_param"
	CtrlGetParam   = "get_param"
	CtrlSuspend    = "suspend"
	CtrlResume     = "resume"
	CtrlDescribe   = "describe"
	CtrlWakeSource = "wake_source"
)

// Capability kinds used in service wiring
const (
	KindAccel  = "accel"
	KindMotion = "motion"
)
