package domain

// Client message types accepted on the live socket.
const (
	MsgSetDate     = "setClientDate"
	MsgRequestData = "requestCurrentData"
	MsgPing        = "ping"
)

// Frame types pushed to subscribers.
const (
	FrameUpdate = "update"
	FramePong   = "pong"
)

// ClientMessage is one inbound message from a live subscriber.
type ClientMessage struct {
	Type string `json:"type"`
	Date string `json:"date,omitempty"`
}

// DateView is the full state for one date as pushed to subscribers. It is
// built once per broadcast and shared by every subscriber viewing that date.
type DateView struct {
	Date      string                      `json:"date"`
	Counts    map[string]map[string]int64 `json:"counts"`
	Hourly    HourlyRates                 `json:"hourly"`
	Total     int64                       `json:"total"`
	TargetPct map[string]int              `json:"target_pct"`
	Peaks     map[string]PeakSnapshot     `json:"peaks"`
	Milestone string                      `json:"milestone,omitempty"`
}

// Frame is one outbound message to a live subscriber.
type Frame struct {
	Type string    `json:"type"`
	Date string    `json:"date,omitempty"`
	Data *DateView `json:"data,omitempty"`
}
