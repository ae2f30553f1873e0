package serialmux

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rssi.locate/internal/rssi"
)

func TestClassifyPayload(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"-60,B1", EventTypeScan},
		{" -60 , B1 , 1700000000000 ", EventTypeScan},
		{`{"rssi":-60,"id":"B1"}`, EventTypeScan},
		{`{"fw":"1.4.2","scan":true}`, EventTypeStatus},
		{"", EventTypeUnknown},
		{"READY", EventTypeUnknown},
		{"hello,world", EventTypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyPayload(tt.line), "line %q", tt.line)
	}
}

func TestParseScanLine(t *testing.T) {
	const now = 5000
	tests := []struct {
		name string
		line string
		want rssi.Measurement
	}{
		{"csv with timestamp", "-60,B1,1234", rssi.Measurement{BeaconID: "B1", RSSI: -60, TimestampMs: 1234}},
		{"csv without timestamp", "-71, kitchen-beacon", rssi.Measurement{BeaconID: "kitchen-beacon", RSSI: -71, TimestampMs: now}},
		{"csv no reading", "0,B3", rssi.Measurement{BeaconID: "B3", RSSI: 0, TimestampMs: now}},
		{"json with timestamp", `{"rssi":-58,"id":"B2","ts":99}`, rssi.Measurement{BeaconID: "B2", RSSI: -58, TimestampMs: 99}},
		{"json without timestamp", `{"id":"B2","rssi":-58}`, rssi.Measurement{BeaconID: "B2", RSSI: -58, TimestampMs: now}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScanLine(tt.line, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseScanLine_Errors(t *testing.T) {
	for _, line := range []string{
		"-60,",
		"-60,B1,soon",
		"-60,B1,1,2",
		`{"rssi":-60}`,
		`{"rssi":"loud","id":"B1"}`,
	} {
		_, err := ParseScanLine(line, 0)
		assert.Error(t, err, "line %q", line)
	}

	_, err := ParseScanLine(`{"fw":"1.0"}`, 0)
	assert.True(t, errors.Is(err, ErrNotScan))
	_, err = ParseScanLine("READY", 0)
	assert.True(t, errors.Is(err, ErrNotScan))
}
