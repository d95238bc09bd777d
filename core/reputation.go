package core

// Peer reputation tracking. Scores live in [0,100], start at 50, and move
// +1 on success, −2 on failure, −10 on protocol violation with an automatic
// ban below 10. Bans expire and the peer is rehabilitated at 20. Transient
// network errors never penalise reputation.

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	reputationInitial  = 50
	reputationMax      = 100
	reputationBanBelow = 10
	reputationRehab    = 20
	trustworthyMinimum = 30

	// DefaultBanDuration is how long an auto-ban lasts.
	DefaultBanDuration = 3600 * time.Second
)

// PeerReputation is the tracked state for one peer.
type PeerReputation struct {
	Score      int    `json:"score"`
	Successes  uint64 `json:"successes"`
	Failures   uint64 `json:"failures"`
	Violations uint64 `json:"violations"`
	LastSeen   uint64 `json:"last_seen"`
	Banned     bool   `json:"banned"`
	BanExpires uint64 `json:"ban_expires,omitempty"`
}

// ReputationTracker holds per-peer reputation with bounded capacity; when
// full, the lowest-score peer is evicted.
type ReputationTracker struct {
	mu       sync.Mutex
	peers    map[uuid.UUID]*PeerReputation
	capacity int
	banFor   uint64
	now      func() uint64
	logger   *logrus.Entry
}

func NewReputationTracker(capacity int) *ReputationTracker {
	if capacity <= 0 {
		capacity = MaxDiscoveredPeers
	}
	return &ReputationTracker{
		peers:    make(map[uuid.UUID]*PeerReputation),
		capacity: capacity,
		banFor:   uint64(DefaultBanDuration / time.Second),
		now:      func() uint64 { return uint64(time.Now().Unix()) },
		logger:   logrus.WithField("module", "reputation"),
	}
}

// SetClock overrides the tracker clock for tests.
func (t *ReputationTracker) SetClock(now func() uint64) { t.now = now }

// get fetches-or-creates under the lock, applying ban expiry first.
func (t *ReputationTracker) get(id uuid.UUID) *PeerReputation {
	rep, ok := t.peers[id]
	if !ok {
		if len(t.peers) >= t.capacity {
			t.evictLowest()
		}
		rep = &PeerReputation{Score: reputationInitial}
		t.peers[id] = rep
	}
	if rep.Banned && rep.BanExpires != 0 && t.now() >= rep.BanExpires {
		rep.Banned = false
		rep.BanExpires = 0
		rep.Score = reputationRehab
		t.logger.Infof("peer %s rehabilitated at score %d", id, reputationRehab)
	}
	return rep
}

func (t *ReputationTracker) evictLowest() {
	var victim uuid.UUID
	lowest := reputationMax + 1
	for id, rep := range t.peers {
		if rep.Score < lowest {
			lowest, victim = rep.Score, id
		}
	}
	delete(t.peers, victim)
}

// RecordSuccess bumps the score by one, capped at 100.
func (t *ReputationTracker) RecordSuccess(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rep := t.get(id)
	rep.Successes++
	rep.LastSeen = t.now()
	if rep.Score < reputationMax {
		rep.Score++
		if rep.Score > reputationMax {
			rep.Score = reputationMax
		}
	}
}

// RecordFailure subtracts two, floored at zero.
func (t *ReputationTracker) RecordFailure(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rep := t.get(id)
	rep.Failures++
	rep.LastSeen = t.now()
	rep.Score -= 2
	if rep.Score < 0 {
		rep.Score = 0
	}
}

// RecordViolation subtracts ten and auto-bans below the threshold.
func (t *ReputationTracker) RecordViolation(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rep := t.get(id)
	rep.Violations++
	rep.LastSeen = t.now()
	rep.Score -= 10
	if rep.Score < 0 {
		rep.Score = 0
	}
	if rep.Score < reputationBanBelow && !rep.Banned {
		rep.Banned = true
		rep.BanExpires = t.now() + t.banFor
		t.logger.Warnf("peer %s banned until %d (score %d)", id, rep.BanExpires, rep.Score)
	}
}

// IsTrustworthy reports !banned ∧ score ≥ 30.
func (t *ReputationTracker) IsTrustworthy(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rep := t.get(id)
	return !rep.Banned && rep.Score >= trustworthyMinimum
}

// Reputation returns a copy of the tracked state.
func (t *ReputationTracker) Reputation(id uuid.UUID) PeerReputation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.get(id)
}

// Len reports tracked peer count.
func (t *ReputationTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}
