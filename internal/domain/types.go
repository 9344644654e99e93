package domain

import "time"

// CallState models the call lifecycle.
type CallState string

const (
	CallStateIdle       CallState = "idle"
	CallStateConnecting CallState = "connecting"
	CallStateCapturing  CallState = "capturing"
	CallStateError      CallState = "error"
)

// CallStateReason provides a structured reason for state transitions.
type CallStateReason string

const (
	CallReasonReady           CallStateReason = "ready"
	CallReasonSessionCreating CallStateReason = "session_creating"
	CallReasonCaptureStarted  CallStateReason = "capture_started"
	CallReasonCallEnded       CallStateReason = "call_ended"
	CallReasonSessionFailed   CallStateReason = "session_failed"
	CallReasonCaptureFailed   CallStateReason = "capture_failed"
	CallReasonErrorCleared    CallStateReason = "error_cleared"
)

// ErrorClass buckets backend failures by how the UI should treat them.
type ErrorClass string

const (
	// ErrorClassPermission is recoverable via OS settings; the message carries
	// the remedy and the banner does not auto-dismiss.
	ErrorClassPermission ErrorClass = "permission"
	// ErrorClassDevice means no capturable audio device exists.
	ErrorClassDevice ErrorClass = "device"
	// ErrorClassTransport is a transient remote failure; auto-dismisses.
	ErrorClassTransport ErrorClass = "transport"
	// ErrorClassStateConflict is an operation invalid for the current state.
	ErrorClassStateConflict ErrorClass = "state_conflict"
	ErrorClassUnknown       ErrorClass = "unknown"
)

// AudioChannel identifies one of the two captured audio channels.
type AudioChannel string

const (
	ChannelMicrophone AudioChannel = "microphone"
	ChannelSystem     AudioChannel = "system"
)

// Other returns the opposite channel.
func (c AudioChannel) Other() AudioChannel {
	if c == ChannelMicrophone {
		return ChannelSystem
	}
	return ChannelMicrophone
}

// SpeakerRole is who a segment or counter belongs to.
type SpeakerRole string

const (
	RoleCloser   SpeakerRole = "closer"
	RoleProspect SpeakerRole = "prospect"
)

// SpeakerMapping records which channel carries the closer. Once Confirmed it
// is immutable from the client's perspective.
type SpeakerMapping struct {
	CloserChannel AudioChannel `json:"closerChannel"`
	Confirmed     bool         `json:"confirmed"`
}

// Swapped returns the mapping with the closer on the other channel. A swap is
// itself a confirmation.
func (m SpeakerMapping) Swapped() SpeakerMapping {
	return SpeakerMapping{CloserChannel: m.CloserChannel.Other(), Confirmed: true}
}

// CallSession is the locally tracked remote call session.
type CallSession struct {
	ID              string         `json:"id"`
	StartedAt       time.Time      `json:"startedAt"`
	Speaker         SpeakerMapping `json:"speaker"`
	CloserSeconds   float64        `json:"closerSeconds"`
	ProspectSeconds float64        `json:"prospectSeconds"`
}

// LevelSample is a normalized amplitude reading from the mixed stream.
type LevelSample struct {
	Level float64   `json:"level"`
	At    time.Time `json:"at"`
}

// TranscriptSegment is one immutable piece of the live transcript.
type TranscriptSegment struct {
	ID        string      `json:"id"`
	Speaker   SpeakerRole `json:"speaker"`
	Text      string      `json:"text"`
	Timestamp float64     `json:"timestamp"`
	CreatedAt time.Time   `json:"createdAt"`
}

// AmmoItem is a prospect quote worth reusing later in the call.
type AmmoItem struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"createdAt"`
	Score       float64   `json:"score,omitempty"`
	HeavyHitter bool      `json:"heavyHitter,omitempty"`
}

// NudgeStatus is the three-state nudge lifecycle. Transitions away from
// active are one-way on the client.
type NudgeStatus string

const (
	NudgeActive    NudgeStatus = "active"
	NudgeSaved     NudgeStatus = "saved"
	NudgeDismissed NudgeStatus = "dismissed"
)

// Nudge is a real-time coaching suggestion.
type Nudge struct {
	ID       string      `json:"id"`
	Category string      `json:"category"`
	Message  string      `json:"message"`
	Status   NudgeStatus `json:"status"`
}

// CallMeta is the last-write-wins call metadata snapshot.
type CallMeta struct {
	Speaker         SpeakerMapping `json:"speaker"`
	SampleSnippet   string         `json:"sampleSnippet"`
	CloserSeconds   float64        `json:"closerSeconds"`
	ProspectSeconds float64        `json:"prospectSeconds"`
}

// NotesBuffer is the UI view of the per-call notes state.
type NotesBuffer struct {
	Text      string    `json:"text"`
	Dirty     bool      `json:"dirty"`
	LastSaved time.Time `json:"lastSaved,omitempty"`
}

// Status summarizes the current backend status for the UI.
type Status struct {
	State    CallState `json:"state"`
	CallID   string    `json:"callId,omitempty"`
	Duration int       `json:"durationSeconds"`
	Message  string    `json:"message,omitempty"`
}

// OutcomeGate is the post-call questionnaire gate. It stays revisitable for
// the finalized call until an outcome is submitted.
type OutcomeGate struct {
	CallID string `json:"callId"`
	Open   bool   `json:"open"`
}
