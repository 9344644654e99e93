package livesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"callpilot/internal/domain"
	"callpilot/internal/ports"
)

var ErrNoActiveCall = errors.New("no active call")

// Options tune the engine cadence and window sizes.
type Options struct {
	PollInterval time.Duration
	AmmoWindow   int
}

// Engine keeps the four live views (ammo, transcript, nudges, call metadata)
// synchronized for the active call via polling plus push events. Each view
// has its own dedup/merge policy; completions scoped to a superseded call id
// are discarded.
type Engine struct {
	api   ports.CallAPI
	sink  ports.EventSink
	score *ScoreEngine
	log   zerolog.Logger
	opts  Options

	// MetaConsumer, when set, receives every metadata snapshot. Wired to the
	// speaker negotiator at boot.
	MetaConsumer func(meta domain.CallMeta)

	mu         sync.Mutex
	callID     string
	epoch      int
	cancel     context.CancelFunc
	ammo       *ammoView
	transcript *transcriptView
	nudges     *nudgeView
	meta       *metaView
}

func NewEngine(api ports.CallAPI, sink ports.EventSink, score *ScoreEngine, opts Options, log zerolog.Logger) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.AmmoWindow <= 0 {
		opts.AmmoWindow = 12
	}
	return &Engine{
		api:        api,
		sink:       sink,
		score:      score,
		log:        log,
		opts:       opts,
		ammo:       newAmmoView(opts.AmmoWindow),
		transcript: newTranscriptView(),
		nudges:     newNudgeView(),
		meta:       &metaView{},
	}
}

// SetCall switches the engine to a new call id. Prior polling is canceled
// before anything else happens; all views and seen sets clear. A non-empty id
// triggers an immediate fetch of all four views and restarts the cadence.
func (e *Engine) SetCall(id string) {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.epoch++
	epoch := e.epoch
	e.callID = id
	e.ammo.reset()
	e.transcript.reset()
	e.nudges.reset()
	e.meta.reset()
	e.mu.Unlock()

	e.sink.AmmoUpdated(nil)
	e.sink.TranscriptUpdated(nil)
	e.sink.NudgesUpdated(nil)
	e.sink.MetaUpdated(domain.CallMeta{})

	if id == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		cancel()
		return
	}
	e.cancel = cancel
	e.mu.Unlock()

	go e.pollLoop(ctx, id, epoch)
}

// Close cancels polling. Push unsubscription is handled by whoever owns the
// transport session.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.epoch++
}

func (e *Engine) pollLoop(ctx context.Context, id string, epoch int) {
	e.fetchAll(ctx, id, epoch)

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.fetchAll(ctx, id, epoch)
		}
	}
}

// fetchAll polls the four collections. Individual failures are logged and
// skipped for this cycle; they are never surfaced to the user.
func (e *Engine) fetchAll(ctx context.Context, id string, epoch int) {
	if items, err := e.api.FetchAmmo(ctx, id); err != nil {
		e.log.Warn().Err(err).Str("call", id).Msg("ammo poll failed")
	} else {
		e.applyAmmoPoll(epoch, items)
	}

	if segs, err := e.api.FetchTranscript(ctx, id); err != nil {
		e.log.Warn().Err(err).Str("call", id).Msg("transcript poll failed")
	} else {
		e.applyTranscriptPoll(epoch, segs)
	}

	if nudges, err := e.api.FetchNudges(ctx, id); err != nil {
		e.log.Warn().Err(err).Str("call", id).Msg("nudge poll failed")
	} else {
		e.applyNudgePoll(epoch, nudges)
	}

	if meta, err := e.api.FetchMeta(ctx, id); err != nil {
		e.log.Warn().Err(err).Str("call", id).Msg("meta poll failed")
	} else {
		e.applyMetaPoll(epoch, meta)
	}
}

func (e *Engine) applyAmmoPoll(epoch int, items []domain.AmmoItem) {
	for i := range items {
		items[i] = e.score.Annotate(items[i])
	}
	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return
	}
	snap := e.ammo.poll(items)
	e.mu.Unlock()
	e.sink.AmmoUpdated(snap)
}

func (e *Engine) applyTranscriptPoll(epoch int, segs []domain.TranscriptSegment) {
	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return
	}
	snap := e.transcript.poll(segs)
	e.mu.Unlock()
	e.sink.TranscriptUpdated(snap)
}

func (e *Engine) applyNudgePoll(epoch int, nudges []domain.Nudge) {
	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return
	}
	snap := e.nudges.poll(nudges)
	e.mu.Unlock()
	e.sink.NudgesUpdated(snap)
}

func (e *Engine) applyMetaPoll(epoch int, meta domain.CallMeta) {
	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return
	}
	snap := e.meta.poll(meta)
	e.mu.Unlock()
	e.sink.MetaUpdated(snap)
	if e.MetaConsumer != nil {
		e.MetaConsumer(snap)
	}
}

// ApplyPush merges one inbound push event; re-delivery of a known id is a
// no-op.
func (e *Engine) ApplyPush(ev ports.PushEvent) {
	switch ev.Type {
	case ports.PushAmmoAdded:
		if ev.Ammo == nil {
			return
		}
		item := e.score.Annotate(*ev.Ammo)
		e.mu.Lock()
		changed := e.ammo.push(item)
		snap := e.ammo.snapshot()
		e.mu.Unlock()
		if changed {
			e.sink.AmmoUpdated(snap)
		}
	case ports.PushSegmentAdded:
		if ev.Segment == nil {
			return
		}
		e.mu.Lock()
		changed := e.transcript.push(*ev.Segment)
		snap := e.transcript.snapshot()
		e.mu.Unlock()
		if changed {
			e.sink.TranscriptUpdated(snap)
		}
	}
}

// SaveNudge marks a nudge saved: local first so the UI responds immediately,
// then the remote update; a remote failure rolls the local status back.
func (e *Engine) SaveNudge(ctx context.Context, id string) error {
	return e.updateNudge(ctx, id, domain.NudgeSaved)
}

// DismissNudge marks a nudge dismissed with the same commit discipline.
func (e *Engine) DismissNudge(ctx context.Context, id string) error {
	return e.updateNudge(ctx, id, domain.NudgeDismissed)
}

func (e *Engine) updateNudge(ctx context.Context, id string, status domain.NudgeStatus) error {
	e.mu.Lock()
	callID := e.callID
	epoch := e.epoch
	if callID == "" {
		e.mu.Unlock()
		return ErrNoActiveCall
	}
	applied := e.nudges.setOverride(id, status)
	snap := e.nudges.list()
	e.mu.Unlock()

	if !applied {
		// Unknown id or already past active; monotone statuses make this a
		// no-op rather than an error.
		return nil
	}
	e.sink.NudgesUpdated(snap)

	err := e.api.UpdateNudge(ctx, callID, id, status)
	if err == nil {
		return nil
	}

	e.mu.Lock()
	stale := epoch != e.epoch
	if !stale {
		e.nudges.clearOverride(id)
		snap = e.nudges.list()
	}
	e.mu.Unlock()

	e.log.Warn().Err(err).Str("nudge", id).Msg("nudge update failed; rolled back")
	if !stale {
		e.sink.NudgesUpdated(snap)
	}
	return err
}

// Ammo returns the current ammo window.
func (e *Engine) Ammo() []domain.AmmoItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ammo.snapshot()
}

// Transcript returns the current ordered transcript.
func (e *Engine) Transcript() []domain.TranscriptSegment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcript.snapshot()
}

// Nudges returns the current nudges with local overrides applied.
func (e *Engine) Nudges() []domain.Nudge {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nudges.list()
}

// Meta returns the latest metadata snapshot, if any has arrived.
func (e *Engine) Meta() (domain.CallMeta, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meta.meta, e.meta.has
}
