package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DecodeReading accepts the loose JSON shapes upstream producers emit:
// sensor id under sensor_id/sensor/id, value as number or numeric string,
// timestamps as RFC3339, a handful of common layouts, or unix epoch.
func DecodeReading(data []byte) (Submission, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return Submission{}, fmt.Errorf("decode reading: %w", err)
	}
	fields := make(map[string]string, len(obj))
	for key, val := range obj {
		fields[strings.ToLower(key)] = fmt.Sprint(val)
	}

	sub := Submission{
		SensorID: firstNonEmpty(fields, "sensor_id", "sensor", "sensorid", "id", "device"),
		Unit:     firstNonEmpty(fields, "unit", "units"),
	}
	if sub.SensorID == "" {
		return Submission{}, fmt.Errorf("decode reading: missing sensor id")
	}

	rawValue := firstNonEmpty(fields, "value", "reading", "measurement")
	if rawValue == "" {
		return Submission{}, fmt.Errorf("decode reading: missing value")
	}
	value, err := strconv.ParseFloat(rawValue, 64)
	if err != nil {
		return Submission{}, fmt.Errorf("decode reading: value %q: %w", rawValue, err)
	}
	sub.Value = value

	if raw := firstNonEmpty(fields, "quality"); raw != "" {
		if q, err := strconv.ParseFloat(raw, 64); err == nil {
			sub.Quality = &q
		}
	}
	if raw := firstNonEmpty(fields, "timestamp", "time", "ts"); raw != "" {
		if ts, err := ParseTimestamp(raw); err == nil {
			sub.Timestamp = ts
		}
	}
	return sub, nil
}

func firstNonEmpty(fields map[string]string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(fields[key]); v != "" {
			return v
		}
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
}

func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if isNumeric(value) {
		return parseUnix(value)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
