// Package signalling models the inbound event stream of a group-call session
// and delivers it to subscribers over an in-process bus. Events originate from
// the external signalling stack (negotiation, room state, media stats); this
// package only transports them, it attaches no meaning beyond decoding.
package signalling

// MemberID identifies a remote participant in the group call.
type MemberID string

// DeviceID identifies one device of a participant.
type DeviceID string

// CallID identifies a single peer-to-peer call.
type CallID string

// Call is the signalling layer's view of one peer-to-peer connection between
// the local participant and a remote device.
type Call struct {
	ID          CallID
	UserID      MemberID
	DeviceID    DeviceID
	DisplayName string
	State       string
}

// CallMap is the full current set of active calls, keyed by remote user and
// device. Call-set-changed notifications always carry the complete mapping,
// never a delta.
type CallMap map[MemberID]map[DeviceID]*Call

// Channel distinguishes how an outbound signalling event was delivered.
type Channel string

const (
	ChannelDirect    Channel = "direct"
	ChannelBroadcast Channel = "broadcast"
)

// Control names a local media toggle.
type Control string

const (
	ControlMute        Control = "mute"
	ControlVideo       Control = "video"
	ControlScreenshare Control = "screenshare"
)

// ReportKind names one of the two statistics streams. Reports of complementary
// kinds are paired downstream into a single stats span.
type ReportKind string

const (
	ReportConnection ReportKind = "connection"
	ReportMedia      ReportKind = "media"
)

// Event is implemented by every notification delivered on the Bus.
type Event interface {
	// EventKind returns the wire label of the notification, used for decoding
	// and diagnostics.
	EventKind() string
}

// Joined signals that the local participant entered the group call.
type Joined struct{}

// Left signals that the local participant left the group call.
type Left struct{}

// RoomState carries a room state update. Only call-related types are acted
// on downstream; everything else is ignored.
type RoomState struct {
	Type    string
	Sender  string
	Content map[string]any
}

// CallsChanged carries the complete current call set.
type CallsChanged struct {
	Calls CallMap
}

// CallStateChanged reports a state transition of a single call.
type CallStateChanged struct {
	CallID CallID
	State  string
}

// OutboundSent reports a signalling event the local participant sent.
type OutboundSent struct {
	CallID  CallID
	Type    string
	Channel Channel
	Content map[string]any
}

// VoIPReceived reports an inbound VoIP event. The call it belongs to, if any,
// is identified by the "call_id" field inside Content.
type VoIPReceived struct {
	Sender  string
	Content map[string]any
}

// ToggleChanged reports a local media toggle flip.
type ToggleChanged struct {
	Control Control
	Enabled bool
}

// StatsReport carries one statistics snapshot of either kind.
type StatsReport struct {
	ReportKind ReportKind
	Report     map[string]any
}

// SpeakingChanged reports that a (member, device) pair started or stopped
// speaking.
type SpeakingChanged struct {
	UserID   MemberID
	DeviceID DeviceID
	Speaking bool
}

// CallError reports an error attributed to a single call.
type CallError struct {
	CallID  CallID
	Message string
}

// GroupCallError reports an error attributed to the whole group call.
type GroupCallError struct {
	Message string
}

// Undecryptable reports an inbound event that could not be decrypted.
type Undecryptable struct {
	Sender    string
	EventType string
}

func (Joined) EventKind() string           { return "joined" }
func (Left) EventKind() string             { return "left" }
func (RoomState) EventKind() string        { return "room_state" }
func (CallsChanged) EventKind() string     { return "calls_changed" }
func (CallStateChanged) EventKind() string { return "call_state" }
func (OutboundSent) EventKind() string     { return "outbound" }
func (VoIPReceived) EventKind() string     { return "voip" }
func (ToggleChanged) EventKind() string    { return "toggle" }
func (e StatsReport) EventKind() string    { return "report_" + string(e.ReportKind) }
func (SpeakingChanged) EventKind() string  { return "speaking" }
func (CallError) EventKind() string        { return "call_error" }
func (GroupCallError) EventKind() string   { return "group_call_error" }
func (Undecryptable) EventKind() string    { return "undecryptable" }
