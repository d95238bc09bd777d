package core

import (
	"testing"

	"github.com/google/uuid"
)

func TestReputationTransitions(t *testing.T) {
	tr := NewReputationTracker(100)
	id := uuid.New()

	if rep := tr.Reputation(id); rep.Score != 50 {
		t.Fatalf("initial score %d want 50", rep.Score)
	}

	tr.RecordSuccess(id)
	if rep := tr.Reputation(id); rep.Score != 51 || rep.Successes != 1 {
		t.Fatalf("after success: %+v", rep)
	}

	tr.RecordFailure(id)
	if rep := tr.Reputation(id); rep.Score != 49 || rep.Failures != 1 {
		t.Fatalf("after failure: %+v", rep)
	}

	tr.RecordViolation(id)
	if rep := tr.Reputation(id); rep.Score != 39 || rep.Violations != 1 {
		t.Fatalf("after violation: %+v", rep)
	}
}

func TestReputationBounds(t *testing.T) {
	tr := NewReputationTracker(100)
	top, bottom := uuid.New(), uuid.New()

	for i := 0; i < 200; i++ {
		tr.RecordSuccess(top)
		tr.RecordFailure(bottom)
	}
	if rep := tr.Reputation(top); rep.Score != 100 {
		t.Fatalf("cap: %d", rep.Score)
	}
	if rep := tr.Reputation(bottom); rep.Score != 0 {
		t.Fatalf("floor: %d", rep.Score)
	}
}

func TestAutoBanAndRehabilitation(t *testing.T) {
	tr := NewReputationTracker(100)
	now := uint64(10_000)
	tr.SetClock(func() uint64 { return now })
	id := uuid.New()

	// Five violations: 50 → 0, banned on the way down.
	for i := 0; i < 5; i++ {
		tr.RecordViolation(id)
	}
	rep := tr.Reputation(id)
	if !rep.Banned {
		t.Fatal("not banned")
	}
	if tr.IsTrustworthy(id) {
		t.Fatal("banned peer trustworthy")
	}

	// Ban expires after the default duration; peer rehabilitates at 20.
	now += uint64(DefaultBanDuration.Seconds()) + 1
	rep = tr.Reputation(id)
	if rep.Banned {
		t.Fatal("ban did not expire")
	}
	if rep.Score != 20 {
		t.Fatalf("rehab score %d want 20", rep.Score)
	}
	// Score 20 < 30: rehabilitated but not yet trustworthy.
	if tr.IsTrustworthy(id) {
		t.Fatal("rehabilitated peer immediately trustworthy")
	}
	for i := 0; i < 10; i++ {
		tr.RecordSuccess(id)
	}
	if !tr.IsTrustworthy(id) {
		t.Fatal("peer at 30 not trustworthy")
	}
}

func TestTrackerEvictsLowestScore(t *testing.T) {
	tr := NewReputationTracker(3)
	low, mid, high := uuid.New(), uuid.New(), uuid.New()

	tr.RecordFailure(low)  // 48
	tr.RecordSuccess(mid)  // 51
	tr.RecordSuccess(high) // 51
	tr.RecordSuccess(high) // 52

	// Fourth peer forces eviction of the lowest score.
	extra := uuid.New()
	tr.RecordSuccess(extra)

	if tr.Len() != 3 {
		t.Fatalf("tracker size %d want 3", tr.Len())
	}
	// The evicted peer re-enters at the initial score if queried.
	if rep := tr.Reputation(low); rep.Failures != 0 {
		t.Fatal("low-score peer was not evicted")
	}
}
