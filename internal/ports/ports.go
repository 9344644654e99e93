package ports

import (
	"context"
	"io"

	"callpilot/internal/domain"
)

// AudioConfig describes how one audio source should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSource is a live PCM capture session for one device.
type AudioSource interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates capture sessions for a device described by cfg.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSource, error)
}

// PermissionStatus is the OS microphone permission state.
type PermissionStatus string

const (
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
	PermissionUndetermined PermissionStatus = "undetermined"
)

// MicPermissions is the OS permission triad for microphone access.
type MicPermissions interface {
	Status(ctx context.Context) (PermissionStatus, error)
	Request(ctx context.Context) (PermissionStatus, error)
	OpenSettings(ctx context.Context) error
}

// PushEventType tags inbound push events from the remote processor.
type PushEventType string

const (
	PushStatusChanged PushEventType = "status_changed"
	PushAmmoAdded     PushEventType = "ammo_added"
	PushSegmentAdded  PushEventType = "segment_added"
	PushCallChanged   PushEventType = "call_changed"
)

// PushEvent is one inbound event; only the field matching Type is set.
type PushEvent struct {
	Type    PushEventType             `json:"type"`
	Ammo    *domain.AmmoItem          `json:"ammo,omitempty"`
	Segment *domain.TranscriptSegment `json:"segment,omitempty"`
	CallID  string                    `json:"callId,omitempty"`
	State   string                    `json:"state,omitempty"`
}

// TransportSession is one live uplink/downlink connection scoped to a call.
// Chunks are delivered in the order SendChunk is called.
type TransportSession interface {
	SendChunk(chunk []byte) error
	SendLevel(sample domain.LevelSample) error
	SendStatus(state domain.CallState) error
	Events() <-chan PushEvent
	Close() error
}

// Transport opens processor connections.
type Transport interface {
	Connect(ctx context.Context, callID string) (TransportSession, error)
}

// CallAPI is the remote data collaborator.
type CallAPI interface {
	CreateSession(ctx context.Context, teamID, closerID string) (string, error)
	FinalizeSession(ctx context.Context, callID string) error
	FetchAmmo(ctx context.Context, callID string) ([]domain.AmmoItem, error)
	FetchTranscript(ctx context.Context, callID string) ([]domain.TranscriptSegment, error)
	FetchNudges(ctx context.Context, callID string) ([]domain.Nudge, error)
	UpdateNudge(ctx context.Context, callID, nudgeID string, status domain.NudgeStatus) error
	FetchMeta(ctx context.Context, callID string) (domain.CallMeta, error)
	ConfirmSpeaker(ctx context.Context, callID string) error
	SwapSpeaker(ctx context.Context, callID string) error
	SubmitOutcome(ctx context.Context, callID, outcome string) error
}

// NotesStore is the local durable per-call notes collaborator.
type NotesStore interface {
	Get(callID string) (string, error)
	Set(callID, text string) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	CallStateChanged(state domain.CallState, reason domain.CallStateReason)
	DurationTick(seconds int)
	LevelSampled(sample domain.LevelSample)
	AmmoUpdated(items []domain.AmmoItem)
	TranscriptUpdated(segments []domain.TranscriptSegment)
	NudgesUpdated(nudges []domain.Nudge)
	MetaUpdated(meta domain.CallMeta)
	OutcomeGateChanged(gate domain.OutcomeGate)
	CallError(class domain.ErrorClass, detail string)
}
