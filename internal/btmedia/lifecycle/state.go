// Package lifecycle implements the per-device connection-lifecycle state
// machine (§4.3): the core of the coordinator. It reconciles
// independently-arriving profile connect/disconnect events with
// time-bounded retries and decides when to announce or retract a device
// upward.
package lifecycle

import "fmt"

// State is one of the four states a device's connection lifecycle can be
// in. There is deliberately no "Disconnected" state: a device with no
// profiles connected has no state-machine entry at all (see invariant I1).
type State int

const (
	// ConnectingBeforeRetry: at least one profile connected; the device
	// that initiated the connection gets a grace window to finish the rest
	// on its own before the coordinator intervenes.
	ConnectingBeforeRetry State = iota
	// ConnectingAfterRetry: the grace window elapsed and the coordinator
	// has re-requested the missing profiles.
	ConnectingAfterRetry
	// FullyConnected: the device has been announced upward.
	FullyConnected
	// Disconnecting: tearing down, awaiting the final profile to clear or
	// manual removal.
	Disconnecting
)

func (s State) String() string {
	switch s {
	case ConnectingBeforeRetry:
		return "ConnectingBeforeRetry"
	case ConnectingAfterRetry:
		return "ConnectingAfterRetry"
	case FullyConnected:
		return "FullyConnected"
	case Disconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}
