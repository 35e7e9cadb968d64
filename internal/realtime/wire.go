package realtime

import "time"

// Wire shapes for emitted events. Field names are part of the client
// contract and must not drift.

type questionStateWire struct {
	QuestionIndex int       `json:"questionIndex"`
	StartedAt     time.Time `json:"startedAt"`
}

type qaItemWire struct {
	ID        string    `json:"id"`
	Nickname  string    `json:"nickname"`
	Question  string    `json:"question"`
	Status    string    `json:"status"`
	Upvotes   int       `json:"upvotes"`
	Answer    string    `json:"answer,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type pollWire struct {
	PollID    string    `json:"pollId"`
	Question  string    `json:"question"`
	Options   []string  `json:"options"`
	Counts    []int     `json:"counts"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type snapshotWirePayload struct {
	ActivityID       string                    `json:"activityId"`
	CurrentQuestion  *questionStateWire        `json:"currentQuestion"`
	ParticipantCount int                       `json:"participantCount"`
	QAQueue          []qaItemWire              `json:"qaQueue"`
	LivePolls        []pollWire                `json:"livePolls"`
	WordClouds       map[string]map[string]int `json:"wordClouds"`
}

func qaWire(item QAItem) qaItemWire {
	return qaItemWire{
		ID:        item.ID.String(),
		Nickname:  item.Nickname,
		Question:  item.Question,
		Status:    string(item.Status),
		Upvotes:   len(item.Upvotes),
		Answer:    item.Answer,
		Timestamp: item.CreatedAt,
	}
}

// qaListWire converts Q&A items for participant broadcast; dismissed items
// never reach participants.
func qaListWire(items []QAItem) []qaItemWire {
	out := make([]qaItemWire, 0, len(items))
	for _, item := range items {
		if item.Status == QADismissed {
			continue
		}
		out = append(out, qaWire(item))
	}
	return out
}

func pollToWire(p LivePoll) pollWire {
	return pollWire{
		PollID:    p.ID.String(),
		Question:  p.Question,
		Options:   p.Options,
		Counts:    p.Tally(),
		IsActive:  p.Phase == PollOpen,
		CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt,
	}
}

func snapshotWire(snap RoomSnapshot) snapshotWirePayload {
	out := snapshotWirePayload{
		ActivityID:       snap.ActivityID,
		ParticipantCount: snap.ParticipantCount,
		QAQueue:          qaListWire(snap.QAQueue),
		LivePolls:        make([]pollWire, 0, len(snap.LivePolls)),
		WordClouds:       snap.WordClouds,
	}
	if snap.Question.Phase == QuestionActive {
		out.CurrentQuestion = &questionStateWire{
			QuestionIndex: snap.Question.Index,
			StartedAt:     snap.Question.StartedAt,
		}
	}
	for _, p := range snap.LivePolls {
		out.LivePolls = append(out.LivePolls, pollToWire(p))
	}
	return out
}
