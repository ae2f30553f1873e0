// Package rssi holds raw beacon signal-strength measurements and the
// time-windowed buffer that accumulates them.
//
// Buffers are owned by exactly one localization session or fingerprint
// collection. They are safe for concurrent Add and Snapshot calls.
package rssi

import "fmt"

const (
	// MinRSSI is the weakest reading accepted, in dBm.
	MinRSSI = -127
	// MaxRSSI is the strongest reading accepted, in dBm.
	MaxRSSI = -1
	// NoReading marks a scan that saw the beacon without a usable rssi.
	NoReading = 0
)

// Measurement is one scan result for one beacon.
type Measurement struct {
	BeaconID    string `json:"id"`
	RSSI        int    `json:"rssi"`
	TimestampMs int64  `json:"ts"`
}

// Valid reports whether rssi is a usable reading.
func Valid(rssi int) bool {
	return rssi >= MinRSSI && rssi <= MaxRSSI
}

// Acceptable reports whether rssi is either a usable reading or NoReading.
func Acceptable(rssi int) bool {
	return rssi == NoReading || Valid(rssi)
}

// HasReading reports whether the measurement carries a signal strength.
func (m Measurement) HasReading() bool {
	return Valid(m.RSSI)
}

func (m Measurement) String() string {
	return fmt.Sprintf("%s@%d:%ddBm", m.BeaconID, m.TimestampMs, m.RSSI)
}

// New builds a Measurement, substituting nowMs when timestampMs is nil.
func New(rssi int, beaconID string, timestampMs *int64, nowMs int64) Measurement {
	ts := nowMs
	if timestampMs != nil {
		ts = *timestampMs
	}
	return Measurement{BeaconID: beaconID, RSSI: rssi, TimestampMs: ts}
}
