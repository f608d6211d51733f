package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// StatusPagePayload is the body of GET {base}/api/status-page/{slug}.
type StatusPagePayload struct {
	Config          StatusPageConfig `json:"config"`
	PublicGroupList []MonitorGroup   `json:"publicGroupList"`
	// HeartbeatList is only present when the page embeds heartbeats.
	HeartbeatList map[string][]RawHeartbeat `json:"heartbeatList,omitempty"`
}

type StatusPageConfig struct {
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Published bool   `json:"published"`
}

type MonitorGroup struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	MonitorList []RawMonitor `json:"monitorList"`
}

type RawMonitor struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	URL      *string `json:"url,omitempty"`
	Type     *string `json:"type,omitempty"`
	Interval *int    `json:"interval,omitempty"`
	Active   *Bool   `json:"active,omitempty"`
}

// HeartbeatPayload is the body of GET {base}/api/status-page/heartbeat/{slug}.
type HeartbeatPayload struct {
	HeartbeatList map[string][]RawHeartbeat `json:"heartbeatList"`
	UptimeList    map[string]float64        `json:"uptimeList,omitempty"`
}

type RawHeartbeat struct {
	Status    int      `json:"status"`
	Time      any      `json:"time"`
	Msg       string   `json:"msg"`
	Ping      *float64 `json:"ping,omitempty"`
	Important Bool     `json:"important"`
	Duration  *int64   `json:"duration,omitempty"`
}

// MonitorCount is the number of monitors across all groups.
func (p *StatusPagePayload) MonitorCount() int {
	n := 0
	for _, g := range p.PublicGroupList {
		n += len(g.MonitorList)
	}
	return n
}

// Bool accepts true/false as well as the 0/1 integers some servers emit.
type Bool bool

func (b *Bool) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	switch string(data) {
	case "null", "":
		*b = false
		return nil
	case "true":
		*b = true
		return nil
	case "false":
		*b = false
		return nil
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid boolean %s", data)
	}
	*b = n != 0
	return nil
}

func (b Bool) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}
