package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Timestamps arrive from status pages and from the store in several shapes.
// ParseTimestamp is the only place that decides how to read them:
//
//	input                              interpretation
//	-------------------------------    ------------------------------------
//	time.Time                          as is
//	integer/float < 1e11               unix seconds
//	integer/float >= 1e11              unix milliseconds
//	numeric string                     same rules as numbers
//	"2006-01-02 15:04:05[.000]"        wall clock in the local zone (SetLocalZone)
//	"2006-01-02T15:04:05[.000]"        wall clock in the local zone
//	RFC 3339 (with offset or Z)        as is
//
// 1e11 seconds is in the year 5138 while 1e11 milliseconds is March 1973,
// so the threshold never misreads a plausible value.
const millisThreshold = 1e11

var (
	zoneMu    sync.RWMutex
	localZone = time.UTC
)

var localLayouts = []string{
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
}

// SetLocalZone sets the zone used for timestamps without an offset.
func SetLocalZone(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	zoneMu.Lock()
	localZone = loc
	zoneMu.Unlock()
}

func zone() *time.Location {
	zoneMu.RLock()
	defer zoneMu.RUnlock()
	return localZone
}

func ParseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("nil timestamp")
		}
		return *t, nil
	case int64:
		return fromNumber(float64(t)), nil
	case int:
		return fromNumber(float64(t)), nil
	case float64:
		return fromNumber(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid numeric timestamp %q", t.String())
		}
		return fromNumber(f), nil
	case []byte:
		return parseString(string(t))
	case string:
		return parseString(t)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func fromNumber(f float64) time.Time {
	if math.Abs(f) >= millisThreshold {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func parseString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromNumber(f), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	loc := zone()
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
