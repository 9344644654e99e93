package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"callpilot/internal/domain"
)

func proposedNegotiator(api *fakeSpeakerAPI, sink *eventRecorder) *SpeakerNegotiator {
	n := NewSpeakerNegotiator(api, sink, zerolog.Nop())
	n.SetCall("call-1")
	n.ApplyMeta(domain.CallMeta{
		Speaker:         domain.SpeakerMapping{CloserChannel: domain.ChannelMicrophone},
		SampleSnippet:   "so tell me about your current setup",
		CloserSeconds:   30,
		ProspectSeconds: 90,
	})
	return n
}

func TestSpeakerConfirmKeepsMapping(t *testing.T) {
	t.Parallel()

	api := &fakeSpeakerAPI{}
	n := proposedNegotiator(api, &eventRecorder{})

	if err := n.Confirm(context.Background()); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if n.State() != SpeakerConfirmed {
		t.Fatalf("expected confirmed state, got %s", n.State())
	}
	snap := n.Snapshot()
	if snap.Speaker.CloserChannel != domain.ChannelMicrophone || !snap.Speaker.Confirmed {
		t.Fatalf("unexpected mapping: %+v", snap.Speaker)
	}
	if snap.CloserSeconds != 30 || snap.ProspectSeconds != 90 {
		t.Fatalf("confirm must not touch counters: %+v", snap)
	}
	if api.confirms() != 1 {
		t.Fatalf("expected one remote confirm, got %d", api.confirms())
	}
}

func TestSpeakerSwapFlipsChannelAndCounters(t *testing.T) {
	t.Parallel()

	api := &fakeSpeakerAPI{}
	n := proposedNegotiator(api, &eventRecorder{})

	if err := n.Swap(context.Background()); err != nil {
		t.Fatalf("swap failed: %v", err)
	}
	snap := n.Snapshot()
	if snap.Speaker.CloserChannel != domain.ChannelSystem || !snap.Speaker.Confirmed {
		t.Fatalf("expected swapped confirmed mapping, got %+v", snap.Speaker)
	}
	if snap.CloserSeconds != 90 || snap.ProspectSeconds != 30 {
		t.Fatalf("expected counters exchanged with the mapping, got %+v", snap)
	}
}

func TestSpeakerSwapTwiceRestoresOriginal(t *testing.T) {
	t.Parallel()

	api := &fakeSpeakerAPI{}
	n := proposedNegotiator(api, &eventRecorder{})

	if err := n.Swap(context.Background()); err != nil {
		t.Fatalf("first swap failed: %v", err)
	}
	// A confirmed mapping refuses further negotiation; rewind the state to
	// exercise the involution on the mapping itself.
	n.mu.Lock()
	n.state = SpeakerProposed
	n.mu.Unlock()
	if err := n.Swap(context.Background()); err != nil {
		t.Fatalf("second swap failed: %v", err)
	}

	snap := n.Snapshot()
	if snap.Speaker.CloserChannel != domain.ChannelMicrophone {
		t.Fatalf("expected original channel restored, got %s", snap.Speaker.CloserChannel)
	}
	if snap.CloserSeconds != 30 || snap.ProspectSeconds != 90 {
		t.Fatalf("expected original counters restored, got %+v", snap)
	}
}

func TestSpeakerMappingSwappedIsInvolution(t *testing.T) {
	t.Parallel()

	m := domain.SpeakerMapping{CloserChannel: domain.ChannelMicrophone}
	if got := m.Swapped().Swapped(); got.CloserChannel != m.CloserChannel {
		t.Fatalf("double swap must restore the channel, got %+v", got)
	}
}

func TestSpeakerGuards(t *testing.T) {
	t.Parallel()

	api := &fakeSpeakerAPI{}
	sink := &eventRecorder{}

	n := NewSpeakerNegotiator(api, sink, zerolog.Nop())
	if err := n.Confirm(context.Background()); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("expected ErrNoActiveCall, got %v", err)
	}

	n.SetCall("call-1")
	if err := n.Swap(context.Background()); !errors.Is(err, ErrSampleNotReady) {
		t.Fatalf("expected ErrSampleNotReady, got %v", err)
	}
	if n.CanNegotiate() {
		t.Fatalf("negotiation must be unavailable without a sample")
	}

	n.ApplyMeta(domain.CallMeta{SampleSnippet: "a snippet"})
	if !n.CanNegotiate() {
		t.Fatalf("expected negotiation available")
	}
	if err := n.Confirm(context.Background()); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if err := n.Swap(context.Background()); !errors.Is(err, ErrMappingConfirmed) {
		t.Fatalf("expected ErrMappingConfirmed, got %v", err)
	}
	if n.CanNegotiate() {
		t.Fatalf("negotiation must close after confirmation")
	}
	if api.swaps() != 0 {
		t.Fatalf("guarded swap must never reach the remote")
	}
}

func TestSpeakerRejectsConcurrentNegotiation(t *testing.T) {
	t.Parallel()

	api := &fakeSpeakerAPI{confirmGate: make(chan struct{})}
	n := proposedNegotiator(api, &eventRecorder{})

	firstDone := make(chan error, 1)
	go func() { firstDone <- n.Confirm(context.Background()) }()
	<-api.confirmEntered()

	if err := n.Swap(context.Background()); !errors.Is(err, ErrNegotiationInFlight) {
		t.Fatalf("expected ErrNegotiationInFlight, got %v", err)
	}

	close(api.confirmGate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first negotiation failed: %v", err)
	}
}

func TestSpeakerRemoteFailureLeavesLocalUnchanged(t *testing.T) {
	t.Parallel()

	api := &fakeSpeakerAPI{swapErr: errors.New("write refused")}
	n := proposedNegotiator(api, &eventRecorder{})

	if err := n.Swap(context.Background()); err == nil {
		t.Fatalf("expected remote failure to propagate")
	}
	snap := n.Snapshot()
	if snap.Speaker.CloserChannel != domain.ChannelMicrophone || snap.Speaker.Confirmed {
		t.Fatalf("local mapping must be untouched, got %+v", snap.Speaker)
	}
	if n.State() != SpeakerProposed {
		t.Fatalf("expected state still proposed, got %s", n.State())
	}
}

func TestSpeakerStaleCompletionDiscarded(t *testing.T) {
	t.Parallel()

	api := &fakeSpeakerAPI{confirmGate: make(chan struct{})}
	n := proposedNegotiator(api, &eventRecorder{})

	done := make(chan error, 1)
	go func() { done <- n.Confirm(context.Background()) }()
	<-api.confirmEntered()

	// The call ends while the confirm request is in flight.
	n.SetCall("call-2")
	close(api.confirmGate)

	if err := <-done; err != nil {
		t.Fatalf("stale completion must be silently discarded, got %v", err)
	}
	if n.State() != SpeakerUnset {
		t.Fatalf("the new call must start unset, got %s", n.State())
	}
}

func TestSpeakerApplyMetaRespectsConfirmation(t *testing.T) {
	t.Parallel()

	api := &fakeSpeakerAPI{}
	n := proposedNegotiator(api, &eventRecorder{})
	if err := n.Swap(context.Background()); err != nil {
		t.Fatalf("swap failed: %v", err)
	}

	// A later proposal from the backend must not reopen a confirmed mapping.
	n.ApplyMeta(domain.CallMeta{
		Speaker:       domain.SpeakerMapping{CloserChannel: domain.ChannelMicrophone},
		SampleSnippet: "another snippet",
	})
	if snap := n.Snapshot(); snap.Speaker.CloserChannel != domain.ChannelSystem {
		t.Fatalf("confirmed mapping was overwritten: %+v", snap.Speaker)
	}
}

func TestSpeakerMetaEmittedOnCommit(t *testing.T) {
	t.Parallel()

	api := &fakeSpeakerAPI{}
	sink := &metaRecorder{}
	n := NewSpeakerNegotiator(api, sink, zerolog.Nop())
	n.SetCall("call-1")
	n.ApplyMeta(domain.CallMeta{
		Speaker:         domain.SpeakerMapping{CloserChannel: domain.ChannelMicrophone},
		SampleSnippet:   "snippet",
		CloserSeconds:   10,
		ProspectSeconds: 20,
	})

	if err := n.Swap(context.Background()); err != nil {
		t.Fatalf("swap failed: %v", err)
	}
	meta := sink.last()
	if meta.Speaker.CloserChannel != domain.ChannelSystem || !meta.Speaker.Confirmed {
		t.Fatalf("unexpected emitted meta: %+v", meta)
	}
	if meta.CloserSeconds != 20 || meta.ProspectSeconds != 10 {
		t.Fatalf("expected exchanged counters in emitted meta: %+v", meta)
	}
}

// fakeSpeakerAPI layers controllable speaker endpoints over the lifecycle
// fake.
type fakeSpeakerAPI struct {
	fakeCallAPI

	mu           sync.Mutex
	swapErr      error
	confirmErr   error
	confirmGate  chan struct{}
	entered      chan struct{}
	swapCalls    int
	confirmCalls int
}

func (f *fakeSpeakerAPI) confirmEntered() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entered == nil {
		f.entered = make(chan struct{}, 1)
	}
	return f.entered
}

func (f *fakeSpeakerAPI) SwapSpeaker(_ context.Context, _ string) error {
	f.mu.Lock()
	f.swapCalls++
	err := f.swapErr
	f.mu.Unlock()
	return err
}

func (f *fakeSpeakerAPI) ConfirmSpeaker(_ context.Context, _ string) error {
	f.mu.Lock()
	f.confirmCalls++
	gate := f.confirmGate
	err := f.confirmErr
	f.mu.Unlock()

	select {
	case f.confirmEntered() <- struct{}{}:
	default:
	}
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeSpeakerAPI) swaps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.swapCalls
}

func (f *fakeSpeakerAPI) confirms() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmCalls
}

// metaRecorder captures MetaUpdated emissions.
type metaRecorder struct {
	eventRecorder

	metaMu   sync.Mutex
	lastMeta domain.CallMeta
}

func (r *metaRecorder) MetaUpdated(meta domain.CallMeta) {
	r.metaMu.Lock()
	defer r.metaMu.Unlock()
	r.lastMeta = meta
}

func (r *metaRecorder) last() domain.CallMeta {
	r.metaMu.Lock()
	defer r.metaMu.Unlock()
	return r.lastMeta
}
