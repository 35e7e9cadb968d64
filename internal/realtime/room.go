package realtime

import (
	"time"

	"github.com/google/uuid"
)

// QuestionPhase tags the activity progression state.
type QuestionPhase int

const (
	// QuestionNotStarted means no host has advanced the activity yet.
	QuestionNotStarted QuestionPhase = iota
	// QuestionActive means a question at Index is showing.
	QuestionActive
)

// QuestionState is the explicit progression state of a room. Index and
// StartedAt are meaningful only when Phase == QuestionActive.
type QuestionState struct {
	Phase     QuestionPhase
	Index     int
	StartedAt time.Time
}

// PollPhase tags a live poll's lifecycle state.
type PollPhase int

const (
	// PollOpen means the poll accepts votes until ExpiresAt.
	PollOpen PollPhase = iota
	// PollExpired means the expiry timer fired.
	PollExpired
)

// QAStatus is the moderation state of an audience question.
type QAStatus string

const (
	QAPending   QAStatus = "pending"
	QAAnswered  QAStatus = "answered"
	QADismissed QAStatus = "dismissed"
)

// Participant is one connection's membership in a room.
type Participant struct {
	ConnID    string
	UserID    *uuid.UUID // nil for anonymous connections
	Nickname  string
	IsHost    bool
	JoinedAt  time.Time
	Connected bool
}

// QAItem is one audience-submitted question in the Q&A queue.
type QAItem struct {
	ID        uuid.UUID
	AskerID   string // connection id of the asker
	Nickname  string
	Question  string
	Status    QAStatus
	Upvotes   map[string]struct{} // connection ids
	Answer    string
	CreatedAt time.Time
}

// PollVote is one vote on a live poll. Votes are append-only; tallies are
// derived per option at broadcast time.
type PollVote struct {
	ConnID      string
	OptionIndex int
	VotedAt     time.Time
}

// LivePoll is a time-boxed poll running inside a room.
type LivePoll struct {
	ID        uuid.UUID
	Question  string
	Options   []string
	Votes     []PollVote
	Phase     PollPhase
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Tally returns per-option vote counts.
func (p *LivePoll) Tally() []int {
	counts := make([]int, len(p.Options))
	for _, v := range p.Votes {
		if v.OptionIndex >= 0 && v.OptionIndex < len(counts) {
			counts[v.OptionIndex]++
		}
	}
	return counts
}

// Room is the volatile in-memory state for one live activity session.
// Rooms exist exactly while they have participants; the Registry owns all
// mutation and garbage-collects empty rooms.
type Room struct {
	ActivityID    string
	Participants  map[string]*Participant
	Hosts         map[string]struct{}
	Question      QuestionState
	QAQueue       []*QAItem
	LivePolls     []*LivePoll
	WordClouds    map[string]map[string]int // prompt -> word -> count
	AnswerTallies map[int]map[string]int    // question index -> answer -> count
	CreatedAt     time.Time
}

func newRoom(activityID string) *Room {
	return &Room{
		ActivityID:    activityID,
		Participants:  make(map[string]*Participant),
		Hosts:         make(map[string]struct{}),
		WordClouds:    make(map[string]map[string]int),
		AnswerTallies: make(map[int]map[string]int),
		CreatedAt:     time.Now(),
	}
}

// findPoll returns the poll with the given id, or nil.
func (r *Room) findPoll(pollID uuid.UUID) *LivePoll {
	for _, p := range r.LivePolls {
		if p.ID == pollID {
			return p
		}
	}
	return nil
}

// findQA returns the Q&A item with the given id, or nil.
func (r *Room) findQA(questionID uuid.UUID) *QAItem {
	for _, item := range r.QAQueue {
		if item.ID == questionID {
			return item
		}
	}
	return nil
}
