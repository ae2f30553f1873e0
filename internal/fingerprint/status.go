package fingerprint

import "fmt"

// Status is the outcome of a collection lifecycle operation.
type Status int

const (
	StatusOK Status = iota
	StatusAlreadyCollecting
	StatusNotCollecting
	StatusNoMeasurements
	StatusAlreadyFinalized
	StatusInvalidRSSI
	StatusUnknownHandle
	StatusInvalidBeacon
	StatusTooManyHandles
)

// OK reports whether the operation succeeded.
func (s Status) OK() bool { return s == StatusOK }

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusAlreadyCollecting:
		return "already collecting"
	case StatusNotCollecting:
		return "not collecting"
	case StatusNoMeasurements:
		return "no measurements"
	case StatusAlreadyFinalized:
		return "already finalized"
	case StatusInvalidRSSI:
		return "invalid rssi"
	case StatusUnknownHandle:
		return "unknown handle"
	case StatusInvalidBeacon:
		return "invalid beacon id"
	case StatusTooManyHandles:
		return "too many open handles"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}
