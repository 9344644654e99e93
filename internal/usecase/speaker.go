package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"callpilot/internal/domain"
	"callpilot/internal/ports"
)

var (
	ErrNoActiveCall        = errors.New("no active call")
	ErrSampleNotReady      = errors.New("speaker sample has not arrived yet")
	ErrNegotiationInFlight = errors.New("a speaker negotiation is already in flight")
	ErrMappingConfirmed    = errors.New("speaker mapping is already confirmed")
)

// SpeakerState is the negotiation progression; Confirmed is terminal.
type SpeakerState string

const (
	SpeakerUnset     SpeakerState = "unset"
	SpeakerProposed  SpeakerState = "proposed"
	SpeakerConfirmed SpeakerState = "confirmed"
)

// SpeakerNegotiator manages the unconfirmed-to-confirmed speaker mapping and
// keeps the per-role talk-time counters consistent with it. Both Swap and
// Confirm commit remotely first; the local view changes only on success.
type SpeakerNegotiator struct {
	api    ports.CallAPI
	events ports.EventSink
	log    zerolog.Logger

	mu              sync.Mutex
	callID          string
	state           SpeakerState
	mapping         domain.SpeakerMapping
	sampleSnippet   string
	inFlight        bool
	closerSeconds   float64
	prospectSeconds float64
}

func NewSpeakerNegotiator(api ports.CallAPI, events ports.EventSink, log zerolog.Logger) *SpeakerNegotiator {
	return &SpeakerNegotiator{api: api, events: events, log: log}
}

// SetCall resets the negotiation for a new call id.
func (n *SpeakerNegotiator) SetCall(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callID = id
	n.state = SpeakerUnset
	n.mapping = domain.SpeakerMapping{CloserChannel: domain.ChannelMicrophone}
	n.sampleSnippet = ""
	n.inFlight = false
	n.closerSeconds = 0
	n.prospectSeconds = 0
}

// ApplyMeta consumes a call metadata snapshot from the live sync engine.
func (n *SpeakerNegotiator) ApplyMeta(meta domain.CallMeta) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if meta.SampleSnippet != "" {
		n.sampleSnippet = meta.SampleSnippet
	}
	if n.state != SpeakerConfirmed && meta.Speaker.CloserChannel != "" {
		n.mapping = meta.Speaker
		if meta.Speaker.Confirmed {
			n.state = SpeakerConfirmed
		} else if n.state == SpeakerUnset {
			n.state = SpeakerProposed
		}
	}
	if !n.inFlight {
		n.closerSeconds = meta.CloserSeconds
		n.prospectSeconds = meta.ProspectSeconds
	}
}

// Swap flips the proposed closer channel. A swap is itself a confirmation,
// and the talk-time counters are exchanged atomically with the mapping.
func (n *SpeakerNegotiator) Swap(ctx context.Context) error {
	return n.negotiate(ctx, n.api.SwapSpeaker, func() {
		n.mapping = n.mapping.Swapped()
		n.closerSeconds, n.prospectSeconds = n.prospectSeconds, n.closerSeconds
	})
}

// Confirm keeps the proposed mapping and marks it confirmed.
func (n *SpeakerNegotiator) Confirm(ctx context.Context) error {
	return n.negotiate(ctx, n.api.ConfirmSpeaker, func() {
		n.mapping.Confirmed = true
	})
}

func (n *SpeakerNegotiator) negotiate(ctx context.Context, remote func(context.Context, string) error, apply func()) error {
	n.mu.Lock()
	if n.callID == "" {
		n.mu.Unlock()
		return ErrNoActiveCall
	}
	if n.state == SpeakerConfirmed {
		n.mu.Unlock()
		return ErrMappingConfirmed
	}
	if n.sampleSnippet == "" {
		n.mu.Unlock()
		return ErrSampleNotReady
	}
	if n.inFlight {
		n.mu.Unlock()
		return ErrNegotiationInFlight
	}
	n.inFlight = true
	callID := n.callID
	n.mu.Unlock()

	err := remote(ctx, callID)

	n.mu.Lock()
	n.inFlight = false
	if n.callID != callID {
		// The call changed while the request was in flight; the result no
		// longer applies to anything.
		n.mu.Unlock()
		return nil
	}
	if err != nil {
		n.mu.Unlock()
		n.log.Warn().Err(err).Str("call", callID).Msg("speaker negotiation failed")
		return err
	}
	apply()
	n.state = SpeakerConfirmed
	meta := domain.CallMeta{
		Speaker:         n.mapping,
		SampleSnippet:   n.sampleSnippet,
		CloserSeconds:   n.closerSeconds,
		ProspectSeconds: n.prospectSeconds,
	}
	n.mu.Unlock()

	n.events.MetaUpdated(meta)
	return nil
}

// CanNegotiate reports whether Swap/Confirm would currently be accepted.
func (n *SpeakerNegotiator) CanNegotiate() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.callID != "" && n.state != SpeakerConfirmed && n.sampleSnippet != "" && !n.inFlight
}

// Snapshot returns the session view of the negotiation state.
func (n *SpeakerNegotiator) Snapshot() domain.CallSession {
	n.mu.Lock()
	defer n.mu.Unlock()
	return domain.CallSession{
		ID:              n.callID,
		Speaker:         n.mapping,
		CloserSeconds:   n.closerSeconds,
		ProspectSeconds: n.prospectSeconds,
	}
}

// State returns the negotiation state.
func (n *SpeakerNegotiator) State() SpeakerState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}
