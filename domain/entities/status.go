package entities

// DriverStatus is the single authoritative state of a driver instance.
// Legal transitions: Disconnected→Connecting→{Connected|Error},
// Connected→{Disconnected|Error}. Instances are never reused across
// sessions.
type DriverStatus string

const (
	StatusDisconnected DriverStatus = "disconnected"
	StatusConnecting   DriverStatus = "connecting"
	StatusConnected    DriverStatus = "connected"
	StatusError        DriverStatus = "error"
)

// CanTransition reports whether moving from s to next is a legal driver
// state transition. Disconnect is always legal because teardown must be
// idempotent.
func (s DriverStatus) CanTransition(next DriverStatus) bool {
	if next == StatusDisconnected || next == StatusError {
		return true
	}
	switch s {
	case StatusDisconnected:
		return next == StatusConnecting
	case StatusConnecting:
		return next == StatusConnected
	default:
		return false
	}
}
