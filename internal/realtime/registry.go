package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the in-memory room state for all live activity sessions.
// It is an owned instance (constructor-injected into the router), never a
// package-level singleton. Every operation is atomic under the registry
// mutex; no lock is ever held across I/O, so handlers get the
// validate-then-mutate, all-or-nothing discipline the event contracts need.
//
// Invariants maintained here:
//   - a connection id in a room's host set is always also a participant
//   - a room exists if and only if it has at least one participant
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]*Room
	connRooms map[string]map[string]struct{} // conn id -> activity ids joined
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:     make(map[string]*Room),
		connRooms: make(map[string]map[string]struct{}),
	}
}

// Departure describes one room a connection was removed from.
type Departure struct {
	ActivityID string
	Remaining  int
	UserID     *uuid.UUID
	Nickname   string
	JoinedAt   time.Time
}

// AddParticipant inserts a participant into the activity's room, creating the
// room if needed. A host participant is also added to the host set. Returns
// the resulting participant count.
func (g *Registry) AddParticipant(activityID string, p *Participant) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.rooms[activityID]
	if room == nil {
		room = newRoom(activityID)
		g.rooms[activityID] = room
	}
	room.Participants[p.ConnID] = p
	if p.IsHost {
		room.Hosts[p.ConnID] = struct{}{}
	}
	if g.connRooms[p.ConnID] == nil {
		g.connRooms[p.ConnID] = make(map[string]struct{})
	}
	g.connRooms[p.ConnID][activityID] = struct{}{}
	return len(room.Participants)
}

// RemoveParticipant removes a connection from a room's participant and host
// sets. The room is deleted when its participant map becomes empty. Returns
// the departure record and whether the participant was present.
func (g *Registry) RemoveParticipant(activityID, connID string) (Departure, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeLocked(activityID, connID)
}

func (g *Registry) removeLocked(activityID, connID string) (Departure, bool) {
	room := g.rooms[activityID]
	if room == nil {
		return Departure{}, false
	}
	p, ok := room.Participants[connID]
	if !ok {
		return Departure{}, false
	}
	delete(room.Participants, connID)
	delete(room.Hosts, connID)
	if rooms := g.connRooms[connID]; rooms != nil {
		delete(rooms, activityID)
		if len(rooms) == 0 {
			delete(g.connRooms, connID)
		}
	}
	if len(room.Participants) == 0 {
		delete(g.rooms, activityID)
	}
	return Departure{
		ActivityID: activityID,
		Remaining:  len(room.Participants),
		UserID:     p.UserID,
		Nickname:   p.Nickname,
		JoinedAt:   p.JoinedAt,
	}, true
}

// RemoveConnection removes a dropped connection from every room it joined
// and returns one departure per room. This is the only multi-room operation.
func (g *Registry) RemoveConnection(connID string) []Departure {
	g.mu.Lock()
	defer g.mu.Unlock()
	joined := g.connRooms[connID]
	if len(joined) == 0 {
		return nil
	}
	ids := make([]string, 0, len(joined))
	for activityID := range joined {
		ids = append(ids, activityID)
	}
	var departures []Departure
	for _, activityID := range ids {
		if d, ok := g.removeLocked(activityID, connID); ok {
			departures = append(departures, d)
		}
	}
	return departures
}

// IsHost reports whether the connection is a host of the activity's room.
func (g *Registry) IsHost(activityID, connID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room := g.rooms[activityID]
	if room == nil {
		return false
	}
	_, ok := room.Hosts[connID]
	return ok
}

// IsParticipant reports whether the connection is in the activity's room.
func (g *Registry) IsParticipant(activityID, connID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room := g.rooms[activityID]
	if room == nil {
		return false
	}
	_, ok := room.Participants[connID]
	return ok
}

// Participant returns a copy of the participant record, if present.
func (g *Registry) Participant(activityID, connID string) (Participant, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room := g.rooms[activityID]
	if room == nil {
		return Participant{}, false
	}
	p, ok := room.Participants[connID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// HostConnIDs returns the connection ids of the room's hosts.
func (g *Registry) HostConnIDs(activityID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room := g.rooms[activityID]
	if room == nil {
		return nil
	}
	ids := make([]string, 0, len(room.Hosts))
	for id := range room.Hosts {
		ids = append(ids, id)
	}
	return ids
}

// RoomExists reports whether the activity currently has a room.
func (g *Registry) RoomExists(activityID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[activityID] != nil
}

// RoomCount returns the number of live rooms.
func (g *Registry) RoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// ParticipantCount returns the number of participants in a room (0 if absent).
func (g *Registry) ParticipantCount(activityID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room := g.rooms[activityID]
	if room == nil {
		return 0
	}
	return len(room.Participants)
}

// SetQuestion transitions the room to QuestionActive at index. Returns the
// new state and false if the room does not exist.
func (g *Registry) SetQuestion(activityID string, index int) (QuestionState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.rooms[activityID]
	if room == nil {
		return QuestionState{}, false
	}
	room.Question = QuestionState{Phase: QuestionActive, Index: index, StartedAt: time.Now()}
	return room.Question, true
}

// RecordAnswer adds one submitted answer to the derived tally for a question
// index and returns a copy of that tally.
func (g *Registry) RecordAnswer(activityID string, questionIndex int, answer string) (map[string]int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.rooms[activityID]
	if room == nil {
		return nil, false
	}
	tally := room.AnswerTallies[questionIndex]
	if tally == nil {
		tally = make(map[string]int)
		room.AnswerTallies[questionIndex] = tally
	}
	tally[answer]++
	return copyTally(tally), true
}

// AppendQA appends a pending Q&A item to the room's queue.
func (g *Registry) AppendQA(activityID string, item *QAItem) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.rooms[activityID]
	if room == nil {
		return false
	}
	room.QAQueue = append(room.QAQueue, item)
	return true
}

// ToggleQAUpvote adds or removes the connection's upvote on a Q&A item.
func (g *Registry) ToggleQAUpvote(activityID string, questionID uuid.UUID, connID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.rooms[activityID]
	if room == nil {
		return false
	}
	item := room.findQA(questionID)
	if item == nil {
		return false
	}
	if _, ok := item.Upvotes[connID]; ok {
		delete(item.Upvotes, connID)
	} else {
		item.Upvotes[connID] = struct{}{}
	}
	return true
}

// AnswerQA marks a Q&A item answered with the host's answer text.
func (g *Registry) AnswerQA(activityID string, questionID uuid.UUID, answer string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.rooms[activityID]
	if room == nil {
		return false
	}
	item := room.findQA(questionID)
	if item == nil {
		return false
	}
	item.Status = QAAnswered
	item.Answer = answer
	return true
}

// DismissQA marks a Q&A item dismissed so it is filtered from participant broadcasts.
func (g *Registry) DismissQA(activityID string, questionID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.rooms[activityID]
	if room == nil {
		return false
	}
	item := room.findQA(questionID)
	if item == nil {
		return false
	}
	item.Status = QADismissed
	return true
}

// QASnapshot returns copies of the room's Q&A items in submission order.
func (g *Registry) QASnapshot(activityID string) ([]QAItem, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room := g.rooms[activityID]
	if room == nil {
		return nil, false
	}
	return copyQA(room.QAQueue), true
}

// CreatePoll appends an open poll to the room and returns a copy of it.
func (g *Registry) CreatePoll(activityID, question string, options []string, ttl time.Duration) (LivePoll, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.rooms[activityID]
	if room == nil {
		return LivePoll{}, false
	}
	now := time.Now()
	poll := &LivePoll{
		ID:        uuid.New(),
		Question:  question,
		Options:   append([]string(nil), options...),
		Phase:     PollOpen,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	room.LivePolls = append(room.LivePolls, poll)
	return *poll, true
}

// ExpirePoll looks the poll up by id and marks it expired. Returns false if
// the room or poll is gone or the poll already expired, so a stale timer
// firing after room deletion is a silent no-op.
func (g *Registry) ExpirePoll(activityID string, pollID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.rooms[activityID]
	if room == nil {
		return false
	}
	poll := room.findPoll(pollID)
	if poll == nil || poll.Phase != PollOpen {
		return false
	}
	poll.Phase = PollExpired
	return true
}

// VotePoll appends a vote to an open poll and returns the updated tally.
func (g *Registry) VotePoll(activityID string, pollID uuid.UUID, connID string, optionIndex int) ([]int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.rooms[activityID]
	if room == nil {
		return nil, false
	}
	poll := room.findPoll(pollID)
	if poll == nil || poll.Phase != PollOpen {
		return nil, false
	}
	if optionIndex < 0 || optionIndex >= len(poll.Options) {
		return nil, false
	}
	poll.Votes = append(poll.Votes, PollVote{ConnID: connID, OptionIndex: optionIndex, VotedAt: time.Now()})
	return poll.Tally(), true
}

// AddWord increments the word tally for a prompt and returns a copy of it.
func (g *Registry) AddWord(activityID, prompt, word string) (map[string]int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.rooms[activityID]
	if room == nil {
		return nil, false
	}
	cloud := room.WordClouds[prompt]
	if cloud == nil {
		cloud = make(map[string]int)
		room.WordClouds[prompt] = cloud
	}
	cloud[word]++
	return copyTally(cloud), true
}

// RoomSnapshot is a consistent copy of room state for a newly joined participant.
type RoomSnapshot struct {
	ActivityID       string
	Question         QuestionState
	ParticipantCount int
	QAQueue          []QAItem
	LivePolls        []LivePoll
	WordClouds       map[string]map[string]int
}

// Snapshot returns a copy of the room's broadcastable state.
func (g *Registry) Snapshot(activityID string) (RoomSnapshot, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room := g.rooms[activityID]
	if room == nil {
		return RoomSnapshot{}, false
	}
	snap := RoomSnapshot{
		ActivityID:       activityID,
		Question:         room.Question,
		ParticipantCount: len(room.Participants),
		QAQueue:          copyQA(room.QAQueue),
		LivePolls:        make([]LivePoll, 0, len(room.LivePolls)),
		WordClouds:       make(map[string]map[string]int, len(room.WordClouds)),
	}
	for _, p := range room.LivePolls {
		cp := *p
		cp.Options = append([]string(nil), p.Options...)
		cp.Votes = append([]PollVote(nil), p.Votes...)
		snap.LivePolls = append(snap.LivePolls, cp)
	}
	for prompt, cloud := range room.WordClouds {
		snap.WordClouds[prompt] = copyTally(cloud)
	}
	return snap, true
}

func copyQA(queue []*QAItem) []QAItem {
	out := make([]QAItem, 0, len(queue))
	for _, item := range queue {
		cp := *item
		cp.Upvotes = make(map[string]struct{}, len(item.Upvotes))
		for id := range item.Upvotes {
			cp.Upvotes[id] = struct{}{}
		}
		out = append(out, cp)
	}
	return out
}

func copyTally(t map[string]int) map[string]int {
	out := make(map[string]int, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
