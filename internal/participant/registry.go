// Package participant tracks the connected users of a document session
// and which of them currently leads navigation.
package participant

import (
	"sort"
	"sync"
	"time"
)

// Participant is the identity of one connected user as seen by peers.
type Participant struct {
	UserID          string    `json:"user_id"`
	DisplayName     string    `json:"display_name"`
	IsCurrentLeader bool      `json:"is_current_leader"`
	ConnectedAt     time.Time `json:"connected_at"`
}

// Registry owns the participant set. The sync controller is the single
// writer; presentation code only ever sees Snapshot copies.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]Participant
	epoch int64
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Participant)}
}

// OnJoin adds or refreshes a participant. Leadership flags are managed by
// OnLeadershipChanged only; a join never grants leadership.
func (r *Registry) OnJoin(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byID[p.UserID]; ok {
		p.IsCurrentLeader = cur.IsCurrentLeader
	} else {
		p.IsCurrentLeader = false
	}
	r.byID[p.UserID] = p
}

func (r *Registry) OnLeave(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, userID)
}

// OnLeadershipChanged moves the leader flag to newLeaderID. Events with an
// epoch older than one already applied are ignored, so a straggler from a
// previous leader session cannot flip the flag back.
func (r *Registry) OnLeadershipChanged(newLeaderID string, epoch int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if epoch < r.epoch {
		return
	}
	r.epoch = epoch
	for id, p := range r.byID {
		p.IsCurrentLeader = id == newLeaderID
		r.byID[id] = p
	}
}

// Leader returns the current leader, if any participant holds the flag.
func (r *Registry) Leader() (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.byID {
		if p.IsCurrentLeader {
			return p, true
		}
	}
	return Participant{}, false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshot returns an immutable copy ordered by connection time.
func (r *Registry) Snapshot() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Participant, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Reset replaces the whole set from a full resync. The leader flag is
// derived from leaderID, not from the incoming records.
func (r *Registry) Reset(participants []Participant, leaderID string, epoch int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID = make(map[string]Participant, len(participants))
	r.epoch = epoch
	for _, p := range participants {
		p.IsCurrentLeader = p.UserID == leaderID
		r.byID[p.UserID] = p
	}
}
