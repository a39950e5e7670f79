package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/fueltrack/core/model"
)

// decodeRecord parses a telemetry payload. The ts field may be an RFC 3339
// string, unix seconds or unix milliseconds. A missing vehicle id is taken
// from the topic. A fuel_pct the sensor garbled is kept as NaN so the
// estimator counts it as an invalid reading.
func decodeRecord(payload []byte, pattern, topic string, now time.Time) (model.TelemetryRecord, error) {
	var msg struct {
		model.TelemetryRecord
		TS      json.RawMessage `json:"ts"`
		FuelPct json.RawMessage `json:"fuel_pct"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return model.TelemetryRecord{}, err
	}
	rec := msg.TelemetryRecord
	rec.FuelPct = parseReading(msg.FuelPct)
	ts, err := parseTimestamp(msg.TS, now)
	if err != nil {
		return model.TelemetryRecord{}, err
	}
	rec.Timestamp = ts
	if rec.VehicleID == "" {
		rec.VehicleID = idFromTopic(pattern, topic)
	}
	if err := rec.Validate(); err != nil {
		return model.TelemetryRecord{}, err
	}
	return rec, nil
}

func parseTimestamp(raw json.RawMessage, now time.Time) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return now.UTC(), nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("ts: %w", err)
		}
		return ts.UTC(), nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, fmt.Errorf("ts: %w", err)
	}
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC(), nil
	}
	sec := int64(n)
	return time.Unix(sec, int64((n-float64(sec))*1e9)).UTC(), nil
}

// parseReading returns nil for a missing reading, the value for a number or a
// numeric string, and NaN for anything else.
func parseReading(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return &v
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &v
		}
	}
	v = math.NaN()
	return &v
}

// idFromTopic returns the topic segment matched by the first single-level
// wildcard of pattern, or the last segment.
func idFromTopic(pattern, topic string) string {
	parts := strings.Split(topic, "/")
	for i, p := range strings.Split(pattern, "/") {
		if p == "+" && i < len(parts) {
			return parts[i]
		}
	}
	return parts[len(parts)-1]
}

// decodeVehicleID accepts {"vehicle_id": "..."} or a bare id.
func decodeVehicleID(payload []byte) string {
	var msg struct {
		VehicleID string `json:"vehicle_id"`
	}
	if err := json.Unmarshal(payload, &msg); err == nil {
		return msg.VehicleID
	}
	return strings.TrimSpace(string(payload))
}

// Decode parses one telemetry document that carries its own vehicle id, as
// found in recorded JSONL files.
func Decode(payload []byte, now time.Time) (model.TelemetryRecord, error) {
	return decodeRecord(payload, "", "", now)
}
