package livesync

import (
	"sort"

	"github.com/samber/lo"

	"callpilot/internal/domain"
)

// ammoView keeps the most-recent window of ammo items, deduplicated by id.
// The seen set survives poll replacement so re-delivered ids are cheap to
// reject.
type ammoView struct {
	window int
	seen   map[string]struct{}
	items  []domain.AmmoItem
}

func newAmmoView(window int) *ammoView {
	return &ammoView{window: window, seen: make(map[string]struct{})}
}

// poll replaces the window with the authoritative list, sorted by recency and
// truncated.
func (v *ammoView) poll(items []domain.AmmoItem) []domain.AmmoItem {
	items = lo.UniqBy(items, func(item domain.AmmoItem) string { return item.ID })
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > v.window {
		items = items[:v.window]
	}
	for _, item := range items {
		v.seen[item.ID] = struct{}{}
	}
	v.items = items
	return v.snapshot()
}

// push inserts an unseen item at the head and re-truncates.
func (v *ammoView) push(item domain.AmmoItem) bool {
	if _, ok := v.seen[item.ID]; ok {
		return false
	}
	v.seen[item.ID] = struct{}{}
	v.items = append([]domain.AmmoItem{item}, v.items...)
	if len(v.items) > v.window {
		v.items = v.items[:v.window]
	}
	return true
}

func (v *ammoView) snapshot() []domain.AmmoItem {
	out := make([]domain.AmmoItem, len(v.items))
	copy(out, v.items)
	return out
}

func (v *ammoView) reset() {
	v.seen = make(map[string]struct{})
	v.items = nil
}

// transcriptView keeps segments strictly ascending by timestamp.
type transcriptView struct {
	seen map[string]struct{}
	segs []domain.TranscriptSegment
}

func newTranscriptView() *transcriptView {
	return &transcriptView{seen: make(map[string]struct{})}
}

// poll overwrites the view with the authoritative ordered set.
func (v *transcriptView) poll(segs []domain.TranscriptSegment) []domain.TranscriptSegment {
	segs = lo.UniqBy(segs, func(seg domain.TranscriptSegment) string { return seg.ID })
	sort.SliceStable(segs, func(i, j int) bool {
		return segs[i].Timestamp < segs[j].Timestamp
	})
	for _, seg := range segs {
		v.seen[seg.ID] = struct{}{}
	}
	v.segs = segs
	return v.snapshot()
}

// push appends an unseen segment in timestamp position; re-delivery is a
// no-op.
func (v *transcriptView) push(seg domain.TranscriptSegment) bool {
	if _, ok := v.seen[seg.ID]; ok {
		return false
	}
	v.seen[seg.ID] = struct{}{}
	v.segs = append(v.segs, seg)
	sort.SliceStable(v.segs, func(i, j int) bool {
		return v.segs[i].Timestamp < v.segs[j].Timestamp
	})
	return true
}

func (v *transcriptView) snapshot() []domain.TranscriptSegment {
	out := make([]domain.TranscriptSegment, len(v.segs))
	copy(out, v.segs)
	return out
}

func (v *transcriptView) reset() {
	v.seen = make(map[string]struct{})
	v.segs = nil
}

// nudgeView tracks the authoritative status per nudge plus an optional local
// override that wins until the server acknowledges it.
type nudgeEntry struct {
	nudge    domain.Nudge
	override domain.NudgeStatus
}

type nudgeView struct {
	order   []string
	entries map[string]*nudgeEntry
}

func newNudgeView() *nudgeView {
	return &nudgeView{entries: make(map[string]*nudgeEntry)}
}

func (v *nudgeView) poll(nudges []domain.Nudge) []domain.Nudge {
	nudges = lo.UniqBy(nudges, func(n domain.Nudge) string { return n.ID })
	order := make([]string, 0, len(nudges))
	entries := make(map[string]*nudgeEntry, len(nudges))
	for _, n := range nudges {
		entry := &nudgeEntry{nudge: n}
		if prev, ok := v.entries[n.ID]; ok && prev.override != "" && n.Status == domain.NudgeActive {
			// The poll has not caught up with the user's action yet; keep the
			// local status so the UI never visibly reverts.
			entry.override = prev.override
		}
		order = append(order, n.ID)
		entries[n.ID] = entry
	}
	v.order = order
	v.entries = entries
	return v.list()
}

// setOverride records a user action; it only applies while the displayed
// status is still active.
func (v *nudgeView) setOverride(id string, status domain.NudgeStatus) bool {
	entry, ok := v.entries[id]
	if !ok {
		return false
	}
	if entry.override != "" || entry.nudge.Status != domain.NudgeActive {
		return false
	}
	entry.override = status
	return true
}

func (v *nudgeView) clearOverride(id string) {
	if entry, ok := v.entries[id]; ok {
		entry.override = ""
	}
}

func (v *nudgeView) list() []domain.Nudge {
	out := make([]domain.Nudge, 0, len(v.order))
	for _, id := range v.order {
		entry := v.entries[id]
		n := entry.nudge
		if entry.override != "" {
			n.Status = entry.override
		}
		out = append(out, n)
	}
	return out
}

func (v *nudgeView) reset() {
	v.order = nil
	v.entries = make(map[string]*nudgeEntry)
}

// metaView is a last-write-wins snapshot of the call metadata.
type metaView struct {
	meta domain.CallMeta
	has  bool
}

func (v *metaView) poll(meta domain.CallMeta) domain.CallMeta {
	v.meta = meta
	v.has = true
	return meta
}

func (v *metaView) reset() {
	v.meta = domain.CallMeta{}
	v.has = false
}
