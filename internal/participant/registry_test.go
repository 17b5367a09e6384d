package participant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func join(r *Registry, id string, at time.Time) {
	r.OnJoin(Participant{UserID: id, DisplayName: "user " + id, ConnectedAt: at})
}

func countLeaders(ps []Participant) int {
	n := 0
	for _, p := range ps {
		if p.IsCurrentLeader {
			n++
		}
	}
	return n
}

func TestRegistry_SingleLeaderInvariant(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	join(r, "a", now)
	join(r, "b", now.Add(time.Second))
	join(r, "c", now.Add(2*time.Second))

	// Any valid sequence of leadership changes leaves exactly one leader.
	changes := []struct {
		leader string
		epoch  int64
	}{
		{"a", 1}, {"b", 2}, {"c", 3}, {"a", 4},
	}
	for _, ch := range changes {
		r.OnLeadershipChanged(ch.leader, ch.epoch)
		assert.Equal(t, 1, countLeaders(r.Snapshot()), "after epoch %d", ch.epoch)
		leader, ok := r.Leader()
		require.True(t, ok)
		assert.Equal(t, ch.leader, leader.UserID)
	}
}

func TestRegistry_StaleEpochIgnored(t *testing.T) {
	r := NewRegistry()
	join(r, "a", time.Now())
	join(r, "b", time.Now())

	r.OnLeadershipChanged("b", 5)
	r.OnLeadershipChanged("a", 3) // ghost leader straggler

	leader, ok := r.Leader()
	require.True(t, ok)
	assert.Equal(t, "b", leader.UserID)
}

func TestRegistry_JoinNeverGrantsLeadership(t *testing.T) {
	r := NewRegistry()
	join(r, "a", time.Now())
	r.OnLeadershipChanged("a", 1)

	// Rejoin with a stale leader flag set by the sender.
	r.OnJoin(Participant{UserID: "b", IsCurrentLeader: true, ConnectedAt: time.Now()})

	leader, ok := r.Leader()
	require.True(t, ok)
	assert.Equal(t, "a", leader.UserID)
	assert.Equal(t, 1, countLeaders(r.Snapshot()))
}

func TestRegistry_LeaveRemoves(t *testing.T) {
	r := NewRegistry()
	join(r, "a", time.Now())
	join(r, "b", time.Now())

	r.OnLeave("a")
	assert.Equal(t, 1, r.Len())
	r.OnLeave("a") // idempotent
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_SnapshotOrderedAndDetached(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	join(r, "late", now.Add(time.Minute))
	join(r, "early", now)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "early", snap[0].UserID)

	snap[0].DisplayName = "mutated"
	again := r.Snapshot()
	assert.Equal(t, "user early", again[0].DisplayName)
}

func TestRegistry_Reset(t *testing.T) {
	r := NewRegistry()
	join(r, "old", time.Now())
	r.OnLeadershipChanged("old", 7)

	r.Reset([]Participant{
		{UserID: "x", ConnectedAt: time.Now()},
		{UserID: "y", ConnectedAt: time.Now()},
	}, "y", 9)

	assert.Equal(t, 2, r.Len())
	leader, ok := r.Leader()
	require.True(t, ok)
	assert.Equal(t, "y", leader.UserID)

	// Epoch carried by Reset still gates stragglers.
	r.OnLeadershipChanged("x", 8)
	leader, _ = r.Leader()
	assert.Equal(t, "y", leader.UserID)
}
