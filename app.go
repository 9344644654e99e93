package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"callpilot/internal/bootstrap"
	"callpilot/internal/config"
	"callpilot/internal/domain"
	"callpilot/internal/usecase"
)

const (
	eventState      = "callpilot:state"
	eventDuration   = "callpilot:duration"
	eventLevel      = "callpilot:level"
	eventAmmo       = "callpilot:ammo"
	eventTranscript = "callpilot:transcript"
	eventNudges     = "callpilot:nudges"
	eventMeta       = "callpilot:meta"
	eventGate       = "callpilot:gate"
	eventError      = "callpilot:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context
	log zerolog.Logger

	controller *usecase.CallController
	sync       syncFacade
	speaker    *usecase.SpeakerNegotiator
	notes      *usecase.NotesController
	cfg        config.Config
	bootErr    error
}

// syncFacade is the slice of the live sync engine the UI methods use.
type syncFacade interface {
	Ammo() []domain.AmmoItem
	Transcript() []domain.TranscriptSegment
	Nudges() []domain.Nudge
	SaveNudge(ctx context.Context, id string) error
	DismissNudge(ctx context.Context, id string) error
	Close()
}

func NewApp(log zerolog.Logger) *App {
	return &App{log: log}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, a.log)
	if err != nil {
		a.bootErr = err
		a.CallError(domain.ErrorClassUnknown, err.Error())
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.sync = services.Sync
	a.speaker = services.Speaker
	a.notes = services.Notes
	a.CallStateChanged(domain.CallStateIdle, domain.CallReasonReady)
}

func (a *App) shutdown(ctx context.Context) {
	if a.notes != nil {
		a.notes.FlushNow()
	}
	if a.controller != nil {
		a.controller.Shutdown(ctx)
	}
	if a.sync != nil {
		a.sync.Close()
	}
}

// StartCall creates a remote session and begins capturing the call.
func (a *App) StartCall() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Start(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// StopCall ends the call and raises the post-call outcome gate.
func (a *App) StopCall() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Stop(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// GetStatus returns the current lifecycle status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.CallStateError, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.CallStateIdle}
	}
	return a.controller.Status()
}

func (a *App) GetAmmo() []domain.AmmoItem {
	if a.sync == nil {
		return nil
	}
	return a.sync.Ammo()
}

func (a *App) GetTranscript() []domain.TranscriptSegment {
	if a.sync == nil {
		return nil
	}
	return a.sync.Transcript()
}

func (a *App) GetNudges() []domain.Nudge {
	if a.sync == nil {
		return nil
	}
	return a.sync.Nudges()
}

// SaveNudge keeps a coaching nudge for later review.
func (a *App) SaveNudge(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.sync.SaveNudge(a.ctx, id)
}

// DismissNudge hides a coaching nudge.
func (a *App) DismissNudge(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.sync.DismissNudge(a.ctx, id)
}

// ConfirmSpeaker accepts the proposed speaker mapping.
func (a *App) ConfirmSpeaker() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.speaker.Confirm(a.ctx)
}

// SwapSpeaker flips which channel is the closer; this also confirms.
func (a *App) SwapSpeaker() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.speaker.Swap(a.ctx)
}

func (a *App) CanNegotiateSpeaker() bool {
	return a.speaker != nil && a.speaker.CanNegotiate()
}

func (a *App) GetSpeakerSession() domain.CallSession {
	if a.speaker == nil {
		return domain.CallSession{}
	}
	return a.speaker.Snapshot()
}

// EditNotes replaces the notes buffer; persistence is debounced.
func (a *App) EditNotes(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.notes.Edit(text)
	return nil
}

func (a *App) GetNotes() domain.NotesBuffer {
	if a.notes == nil {
		return domain.NotesBuffer{}
	}
	text, dirty := a.notes.Text()
	return domain.NotesBuffer{Text: text, Dirty: dirty, LastSaved: a.notes.LastSaved()}
}

// SubmitOutcome records the post-call outcome and closes the gate.
func (a *App) SubmitOutcome(outcome string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.SubmitOutcome(a.ctx, outcome)
}

func (a *App) DismissOutcomeGate() {
	if a.controller != nil {
		a.controller.DismissOutcomeGate()
	}
}

func (a *App) ReopenOutcomeGate() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.ReopenOutcomeGate()
}

func (a *App) GetOutcomeGate() domain.OutcomeGate {
	if a.controller == nil {
		return domain.OutcomeGate{}
	}
	return a.controller.OutcomeGate()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"apiBase":        a.cfg.Backend.APIBaseURL,
		"teamId":         a.cfg.Call.TeamID,
		"loopbackDevice": a.cfg.Audio.LoopbackDevice,
		"micDevice":      a.cfg.Audio.MicDevice,
		"ammoRulesFile":  a.cfg.Score.Path,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// CallStateChanged emits lifecycle updates to the frontend.
func (a *App) CallStateChanged(state domain.CallState, reason domain.CallStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventState, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": stateReasonMessage(reason),
	})
}

// DurationTick emits the per-second call duration counter.
func (a *App) DurationTick(seconds int) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventDuration, map[string]int{"seconds": seconds})
}

// LevelSampled emits a normalized meter reading.
func (a *App) LevelSampled(sample domain.LevelSample) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventLevel, sample)
}

func (a *App) AmmoUpdated(items []domain.AmmoItem) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventAmmo, items)
}

func (a *App) TranscriptUpdated(segments []domain.TranscriptSegment) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTranscript, segments)
}

func (a *App) NudgesUpdated(nudges []domain.Nudge) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventNudges, nudges)
}

func (a *App) MetaUpdated(meta domain.CallMeta) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventMeta, meta)
}

func (a *App) OutcomeGateChanged(gate domain.OutcomeGate) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventGate, gate)
}

// CallError emits classified errors. Transient classes auto-dismiss in the
// UI; permission errors carry a remedy and stay visible.
func (a *App) CallError(class domain.ErrorClass, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]any{
		"class":       string(class),
		"message":     errorMessage(class, detail),
		"detail":      detail,
		"autoDismiss": class != domain.ErrorClassPermission,
	})
}

func stateReasonMessage(reason domain.CallStateReason) string {
	switch reason {
	case domain.CallReasonReady:
		return "Ready"
	case domain.CallReasonSessionCreating:
		return "Connecting..."
	case domain.CallReasonCaptureStarted:
		return "Recording call"
	case domain.CallReasonCallEnded:
		return "Call ended"
	case domain.CallReasonSessionFailed:
		return "Could not reach the call service"
	case domain.CallReasonCaptureFailed:
		return "Audio capture failed"
	case domain.CallReasonErrorCleared:
		return "Ready"
	default:
		return ""
	}
}

func errorMessage(class domain.ErrorClass, detail string) string {
	switch class {
	case domain.ErrorClassPermission:
		return "Microphone access is blocked. Enable it in system sound settings and try again."
	case domain.ErrorClassDevice:
		return "No audio device could be captured"
	case domain.ErrorClassTransport:
		return "Connection problem; will keep retrying"
	case domain.ErrorClassStateConflict:
		return "That action is not available right now"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
