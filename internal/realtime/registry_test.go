package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func participant(connID string, isHost bool) *Participant {
	return &Participant{
		ConnID:    connID,
		Nickname:  "p-" + connID,
		IsHost:    isHost,
		JoinedAt:  time.Now(),
		Connected: true,
	}
}

func TestRegistryJoinLeaveCounts(t *testing.T) {
	reg := NewRegistry()

	assert.Equal(t, 1, reg.AddParticipant("42", participant("a", false)))
	assert.Equal(t, 2, reg.AddParticipant("42", participant("b", false)))
	assert.Equal(t, 2, reg.ParticipantCount("42"))

	d, ok := reg.RemoveParticipant("42", "a")
	require.True(t, ok)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, 1, reg.ParticipantCount("42"))

	// leave without join is a no-op
	_, ok = reg.RemoveParticipant("42", "a")
	assert.False(t, ok)
	assert.Equal(t, 1, reg.ParticipantCount("42"))

	_, ok = reg.RemoveParticipant("missing-room", "b")
	assert.False(t, ok)
}

func TestRegistryRoomGarbageCollection(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		reg.AddParticipant("42", participant(id, false))
	}
	assert.True(t, reg.RoomExists("42"))

	for _, id := range []string{"a", "b", "c"} {
		reg.RemoveParticipant("42", id)
	}
	// room exists iff it has participants
	assert.False(t, reg.RoomExists("42"))
	assert.Equal(t, 0, reg.RoomCount())
}

func TestRegistryHostsAreParticipants(t *testing.T) {
	reg := NewRegistry()
	reg.AddParticipant("42", participant("host", true))
	reg.AddParticipant("42", participant("guest", false))

	assert.True(t, reg.IsHost("42", "host"))
	assert.False(t, reg.IsHost("42", "guest"))
	for _, id := range reg.HostConnIDs("42") {
		assert.True(t, reg.IsParticipant("42", id), "host %s not a participant", id)
	}

	// removing the participant record also removes host membership
	reg.RemoveParticipant("42", "host")
	assert.False(t, reg.IsHost("42", "host"))
	assert.Empty(t, reg.HostConnIDs("42"))
}

func TestRegistryRemoveConnectionAcrossRooms(t *testing.T) {
	reg := NewRegistry()
	reg.AddParticipant("42", participant("a", true))
	reg.AddParticipant("43", participant("a", true))
	reg.AddParticipant("43", participant("b", false))

	departures := reg.RemoveConnection("a")
	require.Len(t, departures, 2)

	assert.False(t, reg.RoomExists("42"), "solo room should be garbage-collected")
	assert.True(t, reg.RoomExists("43"))
	assert.Equal(t, 1, reg.ParticipantCount("43"))
	assert.Empty(t, reg.HostConnIDs("43"))

	assert.Nil(t, reg.RemoveConnection("a"), "second removal is a no-op")
}

func TestRegistrySetQuestion(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.SetQuestion("42", 0)
	assert.False(t, ok, "no room yet")

	reg.AddParticipant("42", participant("a", true))
	state, ok := reg.SetQuestion("42", 2)
	require.True(t, ok)
	assert.Equal(t, QuestionActive, state.Phase)
	assert.Equal(t, 2, state.Index)
	assert.False(t, state.StartedAt.IsZero())
}

func TestRegistryPollLifecycle(t *testing.T) {
	reg := NewRegistry()
	reg.AddParticipant("42", participant("a", true))

	poll, ok := reg.CreatePoll("42", "favorite medium?", []string{"paint", "code"}, time.Minute)
	require.True(t, ok)
	assert.Equal(t, PollOpen, poll.Phase)

	counts, ok := reg.VotePoll("42", poll.ID, "a", 1)
	require.True(t, ok)
	assert.Equal(t, []int{0, 1}, counts)

	_, ok = reg.VotePoll("42", poll.ID, "a", 5)
	assert.False(t, ok, "out-of-range option index")

	assert.True(t, reg.ExpirePoll("42", poll.ID))
	assert.False(t, reg.ExpirePoll("42", poll.ID), "already expired")

	_, ok = reg.VotePoll("42", poll.ID, "a", 0)
	assert.False(t, ok, "expired poll rejects votes")
}

func TestRegistryExpirePollAfterRoomDeleted(t *testing.T) {
	reg := NewRegistry()
	reg.AddParticipant("42", participant("a", true))
	poll, ok := reg.CreatePoll("42", "q", []string{"x", "y"}, time.Minute)
	require.True(t, ok)

	reg.RemoveParticipant("42", "a")
	assert.False(t, reg.RoomExists("42"))
	assert.False(t, reg.ExpirePoll("42", poll.ID), "stale timer must no-op")
	assert.False(t, reg.ExpirePoll("42", uuid.New()))
}

func TestRegistryQAModeration(t *testing.T) {
	reg := NewRegistry()
	reg.AddParticipant("42", participant("a", false))

	item := &QAItem{
		ID:        uuid.New(),
		AskerID:   "a",
		Nickname:  "p-a",
		Question:  "when is the open house?",
		Status:    QAPending,
		Upvotes:   make(map[string]struct{}),
		CreatedAt: time.Now(),
	}
	require.True(t, reg.AppendQA("42", item))

	assert.True(t, reg.ToggleQAUpvote("42", item.ID, "a"))
	items, ok := reg.QASnapshot("42")
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Len(t, items[0].Upvotes, 1)

	// toggling again removes the upvote
	assert.True(t, reg.ToggleQAUpvote("42", item.ID, "a"))
	items, _ = reg.QASnapshot("42")
	assert.Empty(t, items[0].Upvotes)

	assert.True(t, reg.AnswerQA("42", item.ID, "next friday"))
	items, _ = reg.QASnapshot("42")
	assert.Equal(t, QAAnswered, items[0].Status)
	assert.Equal(t, "next friday", items[0].Answer)

	assert.True(t, reg.DismissQA("42", item.ID))
	items, _ = reg.QASnapshot("42")
	assert.Equal(t, QADismissed, items[0].Status)

	assert.False(t, reg.AnswerQA("42", uuid.New(), "x"), "unknown question id")
}

func TestRegistryWordClouds(t *testing.T) {
	reg := NewRegistry()
	reg.AddParticipant("42", participant("a", false))

	words, ok := reg.AddWord("42", "one word for the lab", "chaotic")
	require.True(t, ok)
	assert.Equal(t, map[string]int{"chaotic": 1}, words)

	words, _ = reg.AddWord("42", "one word for the lab", "chaotic")
	assert.Equal(t, 2, words["chaotic"])

	_, ok = reg.AddWord("missing", "p", "w")
	assert.False(t, ok)
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	reg := NewRegistry()
	reg.AddParticipant("42", participant("a", false))
	reg.AddWord("42", "prompt", "word")

	snap, ok := reg.Snapshot("42")
	require.True(t, ok)
	snap.WordClouds["prompt"]["word"] = 99

	fresh, _ := reg.Snapshot("42")
	assert.Equal(t, 1, fresh.WordClouds["prompt"]["word"], "snapshot mutation must not leak into the room")
}
