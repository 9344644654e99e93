package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"callpilot/internal/audio"
	"callpilot/internal/domain"
	"callpilot/internal/ports"
)

var ErrNoOutcomePending = errors.New("no finalized call awaiting an outcome")

// CapturePipeline is implemented by audio.Pipeline.
type CapturePipeline interface {
	Start(ctx context.Context, sinks audio.Sinks) error
	Stop()
}

// LiveSync is the call-scoped view engine.
type LiveSync interface {
	SetCall(id string)
	ApplyPush(ev ports.PushEvent)
}

// CallScoped components reset when the active call id changes.
type CallScoped interface {
	SetCall(id string)
}

// ControllerConfig tunes the lifecycle controller.
type ControllerConfig struct {
	TeamID       string
	CloserID     string
	ErrorDisplay time.Duration
	TickInterval time.Duration
}

// CallController owns the Idle/Connecting/Capturing/Error state machine. It
// creates the remote session before starting capture, rolls the session back
// if capture fails, and gates a post-call outcome questionnaire on stop.
type CallController struct {
	api       ports.CallAPI
	transport ports.Transport
	pipeline  CapturePipeline
	sync      LiveSync
	speaker   CallScoped
	notes     CallScoped
	events    ports.EventSink
	log       zerolog.Logger
	cfg       ControllerConfig
	now       func() time.Time

	mu            sync.Mutex
	state         domain.CallState
	session       *domain.CallSession
	transportSess ports.TransportSession
	cancelRun     context.CancelFunc
	tickDone      chan struct{}
	dispatchDone  chan struct{}
	gate          domain.OutcomeGate
	errorTimer    *time.Timer
}

func NewCallController(
	api ports.CallAPI,
	transport ports.Transport,
	pipeline CapturePipeline,
	liveSync LiveSync,
	speaker CallScoped,
	notes CallScoped,
	events ports.EventSink,
	cfg ControllerConfig,
	log zerolog.Logger,
) *CallController {
	if cfg.ErrorDisplay <= 0 {
		cfg.ErrorDisplay = 5 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &CallController{
		api:       api,
		transport: transport,
		pipeline:  pipeline,
		sync:      liveSync,
		speaker:   speaker,
		notes:     notes,
		events:    events,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		state:     domain.CallStateIdle,
	}
}

// Start requests a remote session and only then starts capture. A capture
// failure finalizes the remote session so no "connecting" session is
// orphaned.
func (c *CallController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.CallStateIdle {
		state := c.state
		c.mu.Unlock()
		c.log.Debug().Str("state", string(state)).Msg("start ignored in current state")
		return nil
	}
	c.state = domain.CallStateConnecting
	c.mu.Unlock()
	c.events.CallStateChanged(domain.CallStateConnecting, domain.CallReasonSessionCreating)

	callID, err := c.api.CreateSession(ctx, c.cfg.TeamID, c.cfg.CloserID)
	if err != nil {
		err = fmt.Errorf("session create failed: %w", err)
		c.toError(domain.ErrorClassTransport, domain.CallReasonSessionFailed, err)
		return err
	}

	sess, err := c.transport.Connect(ctx, callID)
	if err != nil {
		c.rollbackSession(callID)
		err = fmt.Errorf("processor connect failed: %w", err)
		c.toError(domain.ErrorClassTransport, domain.CallReasonSessionFailed, err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sinks := audio.Sinks{
		Chunk: func(chunk []byte) {
			if sendErr := sess.SendChunk(chunk); sendErr != nil {
				c.log.Warn().Err(sendErr).Msg("audio chunk send failed")
			}
		},
		Level: func(sample domain.LevelSample) {
			c.events.LevelSampled(sample)
			if sendErr := sess.SendLevel(sample); sendErr != nil {
				c.log.Debug().Err(sendErr).Msg("level send failed")
			}
		},
	}
	if err := c.pipeline.Start(ctx, sinks); err != nil {
		cancel()
		_ = sess.Close()
		c.rollbackSession(callID)
		c.toError(audio.Classify(err), domain.CallReasonCaptureFailed, err)
		return err
	}

	started := c.now()
	tickDone := make(chan struct{})
	dispatchDone := make(chan struct{})

	c.mu.Lock()
	c.state = domain.CallStateCapturing
	c.session = &domain.CallSession{ID: callID, StartedAt: started}
	c.transportSess = sess
	c.cancelRun = cancel
	c.tickDone = tickDone
	c.dispatchDone = dispatchDone
	c.mu.Unlock()

	if err := sess.SendStatus(domain.CallStateCapturing); err != nil {
		c.log.Debug().Err(err).Msg("status send failed")
	}
	c.sync.SetCall(callID)
	c.speaker.SetCall(callID)
	c.notes.SetCall(callID)
	c.events.CallStateChanged(domain.CallStateCapturing, domain.CallReasonCaptureStarted)

	go c.tickLoop(runCtx, tickDone)
	go c.dispatchPush(sess, dispatchDone)
	return nil
}

// Stop tears down capture, finalizes the remote session, and raises the
// post-call outcome gate. Stopping while Idle is a no-op.
func (c *CallController) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.CallStateCapturing {
		c.mu.Unlock()
		return nil
	}
	sess := c.transportSess
	session := c.session
	cancel := c.cancelRun
	tickDone := c.tickDone
	dispatchDone := c.dispatchDone
	c.transportSess = nil
	c.cancelRun = nil
	c.tickDone = nil
	c.dispatchDone = nil
	c.mu.Unlock()

	c.pipeline.Stop()
	cancel()
	_ = sess.Close()
	<-tickDone
	<-dispatchDone

	if err := c.api.FinalizeSession(ctx, session.ID); err != nil {
		c.log.Warn().Err(err).Str("call", session.ID).Msg("session finalize failed")
		c.events.CallError(domain.ErrorClassTransport, "call ended but could not be finalized remotely")
	}

	c.mu.Lock()
	c.state = domain.CallStateIdle
	c.session = nil
	c.gate = domain.OutcomeGate{CallID: session.ID, Open: true}
	gate := c.gate
	c.mu.Unlock()

	c.sync.SetCall("")
	c.speaker.SetCall("")
	c.notes.SetCall("")
	c.events.CallStateChanged(domain.CallStateIdle, domain.CallReasonCallEnded)
	c.events.OutcomeGateChanged(gate)
	return nil
}

// SubmitOutcome records the post-call outcome for the gated call and closes
// the gate.
func (c *CallController) SubmitOutcome(ctx context.Context, outcome string) error {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate.CallID == "" {
		return ErrNoOutcomePending
	}

	if err := c.api.SubmitOutcome(ctx, gate.CallID, outcome); err != nil {
		c.events.CallError(domain.ErrorClassTransport, "outcome could not be saved; try again")
		return err
	}

	c.mu.Lock()
	c.gate = domain.OutcomeGate{}
	c.mu.Unlock()
	c.events.OutcomeGateChanged(domain.OutcomeGate{CallID: gate.CallID, Open: false})
	return nil
}

// DismissOutcomeGate hides the questionnaire without deleting the session;
// ReopenOutcomeGate brings it back.
func (c *CallController) DismissOutcomeGate() {
	c.mu.Lock()
	c.gate.Open = false
	gate := c.gate
	c.mu.Unlock()
	c.events.OutcomeGateChanged(gate)
}

func (c *CallController) ReopenOutcomeGate() error {
	c.mu.Lock()
	if c.gate.CallID == "" {
		c.mu.Unlock()
		return ErrNoOutcomePending
	}
	c.gate.Open = true
	gate := c.gate
	c.mu.Unlock()
	c.events.OutcomeGateChanged(gate)
	return nil
}

// Status returns the current lifecycle status.
func (c *CallController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := domain.Status{State: c.state}
	if c.session != nil {
		status.CallID = c.session.ID
		status.Duration = int(c.now().Sub(c.session.StartedAt) / time.Second)
	}
	return status
}

// OutcomeGate returns the current post-call gate state.
func (c *CallController) OutcomeGate() domain.OutcomeGate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gate
}

// Shutdown stops any active call; used on process teardown.
func (c *CallController) Shutdown(ctx context.Context) {
	if err := c.Stop(ctx); err != nil {
		c.log.Warn().Err(err).Msg("shutdown stop failed")
	}
	c.mu.Lock()
	if c.errorTimer != nil {
		c.errorTimer.Stop()
		c.errorTimer = nil
	}
	c.mu.Unlock()
}

func (c *CallController) tickLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	seconds := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seconds++
			c.events.DurationTick(seconds)
		}
	}
}

func (c *CallController) dispatchPush(sess ports.TransportSession, done chan struct{}) {
	defer close(done)

	for ev := range sess.Events() {
		switch ev.Type {
		case ports.PushAmmoAdded, ports.PushSegmentAdded:
			c.sync.ApplyPush(ev)
		case ports.PushCallChanged:
			c.handleCallChanged(ev.CallID)
		case ports.PushStatusChanged:
			c.log.Debug().Str("state", ev.State).Msg("processor status changed")
		}
	}
}

// handleCallChanged re-keys every call-scoped component when the remote
// collaborator reassigns the active call id.
func (c *CallController) handleCallChanged(newID string) {
	c.mu.Lock()
	if c.session != nil {
		if c.session.ID == newID {
			c.mu.Unlock()
			return
		}
		if newID != "" {
			c.session = &domain.CallSession{ID: newID, StartedAt: c.session.StartedAt}
		} else {
			c.session = nil
		}
	}
	c.mu.Unlock()

	c.sync.SetCall(newID)
	c.speaker.SetCall(newID)
	c.notes.SetCall(newID)
}

func (c *CallController) rollbackSession(callID string) {
	if err := c.api.FinalizeSession(context.Background(), callID); err != nil {
		c.log.Warn().Err(err).Str("call", callID).Msg("session rollback failed")
	}
}

func (c *CallController) toError(class domain.ErrorClass, reason domain.CallStateReason, err error) {
	c.events.CallError(class, err.Error())

	c.mu.Lock()
	c.state = domain.CallStateError
	if c.errorTimer != nil {
		c.errorTimer.Stop()
	}
	c.errorTimer = time.AfterFunc(c.cfg.ErrorDisplay, c.clearError)
	c.mu.Unlock()

	c.events.CallStateChanged(domain.CallStateError, reason)
}

func (c *CallController) clearError() {
	c.mu.Lock()
	if c.state != domain.CallStateError {
		c.mu.Unlock()
		return
	}
	c.state = domain.CallStateIdle
	c.mu.Unlock()
	c.events.CallStateChanged(domain.CallStateIdle, domain.CallReasonErrorCleared)
}
