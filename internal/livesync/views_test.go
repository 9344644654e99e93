package livesync

import (
	"testing"
	"time"

	"callpilot/internal/domain"
)

func ammoAt(id string, at time.Time) domain.AmmoItem {
	return domain.AmmoItem{ID: id, Text: "quote " + id, CreatedAt: at}
}

func seg(id string, ts float64) domain.TranscriptSegment {
	return domain.TranscriptSegment{ID: id, Text: "segment " + id, Timestamp: ts}
}

func TestAmmoViewPollSortsAndTruncates(t *testing.T) {
	t.Parallel()

	base := time.Now()
	v := newAmmoView(3)
	got := v.poll([]domain.AmmoItem{
		ammoAt("a", base.Add(1*time.Second)),
		ammoAt("b", base.Add(4*time.Second)),
		ammoAt("c", base.Add(2*time.Second)),
		ammoAt("d", base.Add(3*time.Second)),
	})

	if len(got) != 3 {
		t.Fatalf("expected window of 3, got %d", len(got))
	}
	if got[0].ID != "b" || got[1].ID != "d" || got[2].ID != "c" {
		t.Fatalf("expected newest-first order, got %v", got)
	}
}

func TestAmmoViewPollDeduplicatesByID(t *testing.T) {
	t.Parallel()

	base := time.Now()
	v := newAmmoView(10)
	got := v.poll([]domain.AmmoItem{
		ammoAt("a", base),
		ammoAt("a", base.Add(time.Second)),
		ammoAt("b", base),
	})
	if len(got) != 2 {
		t.Fatalf("expected duplicates collapsed, got %v", got)
	}
}

func TestAmmoViewPushIgnoresSeenIDs(t *testing.T) {
	t.Parallel()

	base := time.Now()
	v := newAmmoView(10)
	v.poll([]domain.AmmoItem{ammoAt("a", base)})

	if v.push(ammoAt("a", base)) {
		t.Fatalf("expected push of polled id to be a no-op")
	}
	if !v.push(ammoAt("b", base.Add(time.Second))) {
		t.Fatalf("expected unseen push to apply")
	}
	got := v.snapshot()
	if len(got) != 2 || got[0].ID != "b" {
		t.Fatalf("expected pushed item at head, got %v", got)
	}
}

func TestAmmoViewPushSurvivesPollReplacement(t *testing.T) {
	t.Parallel()

	base := time.Now()
	v := newAmmoView(10)
	v.push(ammoAt("a", base))

	// The next poll re-delivers the same id; the seen set survives replacement
	// so nothing bounces.
	v.poll([]domain.AmmoItem{ammoAt("a", base)})
	if v.push(ammoAt("a", base)) {
		t.Fatalf("expected redelivery after poll to stay a no-op")
	}
}

func TestAmmoViewPushTruncatesWindow(t *testing.T) {
	t.Parallel()

	base := time.Now()
	v := newAmmoView(2)
	v.push(ammoAt("a", base))
	v.push(ammoAt("b", base.Add(time.Second)))
	v.push(ammoAt("c", base.Add(2*time.Second)))

	got := v.snapshot()
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("expected two newest items, got %v", got)
	}
}

func TestTranscriptViewPollOrdersByTimestamp(t *testing.T) {
	t.Parallel()

	v := newTranscriptView()
	got := v.poll([]domain.TranscriptSegment{seg("b", 2.0), seg("a", 1.0), seg("c", 3.0)})
	if got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Fatalf("expected ascending timestamps, got %v", got)
	}
}

func TestTranscriptViewPushInsertsInOrder(t *testing.T) {
	t.Parallel()

	v := newTranscriptView()
	v.poll([]domain.TranscriptSegment{seg("a", 1.0), seg("c", 3.0)})

	if !v.push(seg("b", 2.0)) {
		t.Fatalf("expected push to apply")
	}
	if v.push(seg("b", 2.0)) {
		t.Fatalf("expected redelivery to be a no-op")
	}

	got := v.snapshot()
	if len(got) != 3 || got[1].ID != "b" {
		t.Fatalf("expected late segment in timestamp position, got %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp < got[i-1].Timestamp {
			t.Fatalf("timestamps went backwards at %d: %v", i, got)
		}
	}
}

func TestNudgeViewOverrideWinsUntilAcknowledged(t *testing.T) {
	t.Parallel()

	v := newNudgeView()
	v.poll([]domain.Nudge{{ID: "n1", Message: "slow down", Status: domain.NudgeActive}})

	if !v.setOverride("n1", domain.NudgeSaved) {
		t.Fatalf("expected override on active nudge to apply")
	}
	if got := v.list(); got[0].Status != domain.NudgeSaved {
		t.Fatalf("expected saved status displayed, got %s", got[0].Status)
	}

	// Server has not caught up: the poll still says active, the local status
	// must not revert.
	got := v.poll([]domain.Nudge{{ID: "n1", Message: "slow down", Status: domain.NudgeActive}})
	if got[0].Status != domain.NudgeSaved {
		t.Fatalf("expected override to survive an un-acknowledged poll, got %s", got[0].Status)
	}

	// Server acknowledged: authoritative status takes over.
	got = v.poll([]domain.Nudge{{ID: "n1", Message: "slow down", Status: domain.NudgeSaved}})
	if got[0].Status != domain.NudgeSaved {
		t.Fatalf("expected acknowledged status, got %s", got[0].Status)
	}
	if v.entries["n1"].override != "" {
		t.Fatalf("expected override cleared once acknowledged")
	}
}

func TestNudgeViewOverrideRefusedPastActive(t *testing.T) {
	t.Parallel()

	v := newNudgeView()
	v.poll([]domain.Nudge{{ID: "n1", Status: domain.NudgeDismissed}})

	if v.setOverride("n1", domain.NudgeSaved) {
		t.Fatalf("expected no override on a non-active nudge")
	}
	if v.setOverride("missing", domain.NudgeSaved) {
		t.Fatalf("expected no override on an unknown id")
	}
}

func TestNudgeViewServerWinsWithoutLocalOverride(t *testing.T) {
	t.Parallel()

	v := newNudgeView()
	v.poll([]domain.Nudge{{ID: "n1", Status: domain.NudgeActive}})

	// Another client acted; with no local override the authoritative status
	// is displayed as-is.
	got := v.poll([]domain.Nudge{{ID: "n1", Status: domain.NudgeDismissed}})
	if got[0].Status != domain.NudgeDismissed {
		t.Fatalf("expected server status to win, got %s", got[0].Status)
	}
}

func TestMetaViewLastWriteWins(t *testing.T) {
	t.Parallel()

	v := &metaView{}
	v.poll(domain.CallMeta{SampleSnippet: "first"})
	got := v.poll(domain.CallMeta{SampleSnippet: "second", CloserSeconds: 10})

	if got.SampleSnippet != "second" || got.CloserSeconds != 10 {
		t.Fatalf("expected latest snapshot, got %+v", got)
	}
}
