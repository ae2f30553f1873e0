package serialmux

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/rssi.locate/internal/rssi"
)

const (
	EventTypeScan    = "scan"
	EventTypeStatus  = "status"
	EventTypeUnknown = "unknown"
)

// ErrNotScan is returned by ParseScanLine for lines that are not scan
// results.
var ErrNotScan = errors.New("not a scan line")

// ClassifyPayload returns the event type of one scanner line. Scan lines
// are either CSV (rssi,id[,ts]) or JSON objects carrying an "rssi" key;
// any other JSON object is a status report.
func ClassifyPayload(payload string) string {
	p := strings.TrimSpace(payload)
	switch {
	case p == "":
		return EventTypeUnknown
	case strings.HasPrefix(p, "{"):
		if strings.Contains(p, `"rssi"`) {
			return EventTypeScan
		}
		return EventTypeStatus
	}
	first, _, found := strings.Cut(p, ",")
	if !found {
		return EventTypeUnknown
	}
	if _, err := strconv.Atoi(strings.TrimSpace(first)); err != nil {
		return EventTypeUnknown
	}
	return EventTypeScan
}

type jsonScan struct {
	RSSI *int   `json:"rssi"`
	ID   string `json:"id"`
	TS   *int64 `json:"ts"`
}

// ParseScanLine parses one scan line into a Measurement. Lines without a
// timestamp are stamped with nowMs. The rssi range is not checked here.
func ParseScanLine(line string, nowMs int64) (rssi.Measurement, error) {
	line = strings.TrimSpace(line)
	if ClassifyPayload(line) != EventTypeScan {
		return rssi.Measurement{}, ErrNotScan
	}

	if strings.HasPrefix(line, "{") {
		dec := json.NewDecoder(bytes.NewReader([]byte(line)))
		var s jsonScan
		if err := dec.Decode(&s); err != nil {
			return rssi.Measurement{}, fmt.Errorf("failed to parse scan JSON: %w", err)
		}
		if s.RSSI == nil {
			return rssi.Measurement{}, ErrNotScan
		}
		if s.ID == "" {
			return rssi.Measurement{}, errors.New("scan line has no beacon id")
		}
		return rssi.New(*s.RSSI, s.ID, s.TS, nowMs), nil
	}

	fields := strings.Split(line, ",")
	if len(fields) < 2 || len(fields) > 3 {
		return rssi.Measurement{}, fmt.Errorf("scan line has %d fields, want 2 or 3", len(fields))
	}
	v, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return rssi.Measurement{}, fmt.Errorf("invalid rssi %q: %w", fields[0], err)
	}
	id := strings.TrimSpace(fields[1])
	if id == "" {
		return rssi.Measurement{}, errors.New("scan line has no beacon id")
	}
	var ts *int64
	if len(fields) == 3 {
		parsed, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
		if err != nil {
			return rssi.Measurement{}, fmt.Errorf("invalid timestamp %q: %w", fields[2], err)
		}
		ts = &parsed
	}
	return rssi.New(v, id, ts, nowMs), nil
}
