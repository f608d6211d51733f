package core

// HeartbeatStatus is the tri-state check outcome reported by a status page,
// plus an unknown sentinel for codes this service does not recognise.
type HeartbeatStatus string

const (
	HeartbeatDown    HeartbeatStatus = "down"
	HeartbeatUp      HeartbeatStatus = "up"
	HeartbeatPending HeartbeatStatus = "pending"
	HeartbeatUnknown HeartbeatStatus = "unknown"
)

// HeartbeatStatusFromCode converts the numeric wire status (0 down, 1 up,
// 2 pending) into a HeartbeatStatus.
func HeartbeatStatusFromCode(code int) HeartbeatStatus {
	switch code {
	case 0:
		return HeartbeatDown
	case 1:
		return HeartbeatUp
	case 2:
		return HeartbeatPending
	default:
		return HeartbeatUnknown
	}
}
