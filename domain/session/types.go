// Package session owns the span lifecycle of the local participant's group
// call membership: one root membership span per join-to-leave interval, one
// child span per tracked peer call, one per paired stats batch, and one per
// currently-speaking (member, device) pair.
package session

// Span names and attribute keys are a documented contract with the exporter
// mapping and dashboards; do not change them without updating consumers.
const (
	SpanMembership = "rtc.membership"
	SpanCall       = "rtc.call"
	SpanStats      = "rtc.stats"
	SpanSpeaking   = "rtc.speaking"
)

const (
	AttrConfID      = "rtc.conf_id"
	AttrUserID      = "rtc.user_id"
	AttrDeviceID    = "rtc.device_id"
	AttrDisplayName = "rtc.display_name"

	AttrCallID            = "rtc.call.id"
	AttrTargetUserID      = "rtc.call.target.user_id"
	AttrTargetDeviceID    = "rtc.call.target.device_id"
	AttrTargetDisplayName = "rtc.call.target.display_name"

	AttrMemberUserID   = "rtc.member.user_id"
	AttrMemberDeviceID = "rtc.member.device_id"

	AttrSender    = "rtc.sender"
	AttrEventType = "rtc.event_type"
	AttrEnabled   = "rtc.enabled"
)

// Span event names. Names carrying a variable suffix (state label, event
// type) are built from these prefixes.
const (
	EventJoined        = "joined"
	EventLeft          = "left"
	EventVoIPReceived  = "voip.received"
	EventUndecryptable = "undecryptable"

	eventCallStatePrefix     = "call.state:"
	eventCallDirectPrefix    = "call.event.direct:"
	eventCallBroadcastPrefix = "call.event.broadcast:"
	eventRoomStatePrefix     = "room.state:"
	eventReportPrefix        = "report."
)

// callEventTypePrefix selects which room-state and outbound event types are
// call signalling; everything else is ignored.
const callEventTypePrefix = "m.call."

// CallSnapshot describes one tracked call in a state snapshot.
type CallSnapshot struct {
	CallID      string `json:"callId"`
	UserID      string `json:"userId"`
	DeviceID    string `json:"deviceId"`
	DisplayName string `json:"displayName,omitempty"`
}

// SpeakingSnapshot describes one open speaking interval in a state snapshot.
type SpeakingSnapshot struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
}

// Snapshot is the manager's externally visible state, served on the admin
// surface.
type Snapshot struct {
	Joined         bool               `json:"joined"`
	ConferenceID   string             `json:"conferenceId"`
	TrackedCalls   []CallSnapshot     `json:"trackedCalls"`
	Speaking       []SpeakingSnapshot `json:"speaking"`
	StatsBatchOpen bool               `json:"statsBatchOpen"`
}
