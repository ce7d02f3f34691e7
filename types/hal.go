package types

// ------------------------
// Common HAL state (retained)
// ------------------------

type HALState struct {
	Level  string `json:"level"`  // "idle", "ready", "degraded", "stopped"
	Status string `json:"status"` // freeform short code
	TS     int64  `json:"ts_ns"`  // publish Unix ns
	Error  string `json:"error,omitempty"`
}

// Link is the link/state reported for a capability.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

type CapabilityStatus struct {
	Link  Link   `json:"link"`
	TS    int64  `json:"ts_ns"`
	Error string `json:"error,omitempty"` // machine-readable short code
}

// ------------------------
// Polling (declarative)
// ------------------------

// PollSpec declares a sampling schedule for one device in HALConfig. Name
// addresses the device by its config id; the jitter spreads wakeups so
// several pollers do not beat against each other.
type PollSpec struct {
	Name       string `json:"name"`
	Verb       string `json:"verb,omitempty"` // "" or "read"
	IntervalMs uint32 `json:"interval_ms"`    // 0 disables the schedule
	JitterMs   uint16 `json:"jitter_ms,omitempty"`
}

// ------------------------
// Generic replies
// ------------------------

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// BridgeState is the retained link-state document on bridge/state.
type BridgeState struct {
	Level  string `json:"level"` // "idle", "up", "degraded", "error"
	Status string `json:"status"`
	TS     int64  `json:"ts_ns"`
	Error  string `json:"error,omitempty"`
}

// ------------------------
// Liveness
// ------------------------

// Heartbeat is the retained liveness document on hal/heartbeat.
type Heartbeat struct {
	Seq uint64 `json:"seq"`
	TS  int64  `json:"ts_ns"`
}

// ------------------------
// Info envelope (retained)
// ------------------------

type Info struct {
	SchemaVersion int    `json:"schema_version"`
	Driver        string `json:"driver"`
	Detail        any    `json:"detail,omitempty"` // one of the *Info types
}
