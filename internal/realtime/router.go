package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arts-tech-lab/backend/internal/models"
)

// Inbound event names (the wire contract clients emit).
const (
	EvtJoinActivity       = "join_activity"
	EvtLeaveActivity      = "leave_activity"
	EvtHostNextQuestion   = "host_next_question"
	EvtHostPrevQuestion   = "host_previous_question"
	EvtHostToggleActivity = "host_toggle_activity"
	EvtSubmitAnswer       = "submit_answer"
	EvtSubmitComment      = "submit_comment"
	EvtAskQuestion        = "ask_question"
	EvtUpvoteQuestion     = "upvote_question"
	EvtHostAnswerQuestion = "host_answer_question"
	EvtHostDismissQuestion = "host_dismiss_question"
	EvtCreateLivePoll     = "create_live_poll"
	EvtVoteLivePoll       = "vote_live_poll"
	EvtSubmitWord         = "submit_word"
	EvtHeartbeat          = "heartbeat"
)

const storeTimeout = 5 * time.Second

// genericErrMsg is the only failure text surfaced to callers; detail stays in
// server logs so one probing client learns nothing about room internals.
const genericErrMsg = "unable to process event"

// ActivityStore is the narrow view of the persistence collaborator the
// router needs: authoritative question counts for bounds checks and the
// Live flag toggle. Calls to it are the router's only asynchronous boundary.
type ActivityStore interface {
	QuestionCount(ctx context.Context, activityID string) (int, error)
	ToggleLive(ctx context.Context, activityID string) (bool, error)
}

// PresenceHandlers receive join/leave/audience notifications for attendance
// logging and peak tracking. All fields are optional.
type PresenceHandlers struct {
	OnJoin     func(activityID string, userID uuid.UUID)
	OnLeave    func(activityID string, userID uuid.UUID)
	OnAudience func(activityID string, count int)
}

// Router dispatches inbound client events: it validates payloads and caller
// authorization against registry state, mutates room state through the
// registry, and fans resulting broadcasts out through the hub. A failing
// handler reports a generic error to the calling connection only; nothing
// propagates to other connections or rooms.
type Router struct {
	registry *Registry
	hub      *Hub
	store    ActivityStore
	logger   *zap.Logger
	presence PresenceHandlers
}

// NewRouter creates an event router over the given registry, hub, and store.
func NewRouter(registry *Registry, hub *Hub, store ActivityStore, logger *zap.Logger) *Router {
	return &Router{registry: registry, hub: hub, store: store, logger: logger}
}

// SetPresenceHandlers installs attendance/peak callbacks.
func (r *Router) SetPresenceHandlers(h PresenceHandlers) {
	r.presence = h
}

// Dispatch routes one inbound event to its handler. Panics and handler
// errors are contained here: logged server-side, generic error to the caller.
func (r *Router) Dispatch(c *Client, msg WSMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler panic",
				zap.String("event", msg.Event),
				zap.String("conn_id", c.ID),
				zap.Any("panic", rec),
			)
			r.sendError(c)
		}
	}()

	switch msg.Event {
	case EvtJoinActivity:
		r.handleJoin(c, msg.Data)
	case EvtLeaveActivity:
		r.handleLeave(c, msg.Data)
	case EvtHostNextQuestion, EvtHostPrevQuestion:
		r.handleHostSetQuestion(c, msg.Data)
	case EvtHostToggleActivity:
		r.handleHostToggle(c, msg.Data)
	case EvtSubmitAnswer:
		r.handleSubmitAnswer(c, msg.Data)
	case EvtSubmitComment:
		r.handleSubmitComment(c, msg.Data)
	case EvtAskQuestion:
		r.handleAskQuestion(c, msg.Data)
	case EvtUpvoteQuestion:
		r.handleUpvoteQuestion(c, msg.Data)
	case EvtHostAnswerQuestion:
		r.handleHostAnswerQuestion(c, msg.Data)
	case EvtHostDismissQuestion:
		r.handleHostDismissQuestion(c, msg.Data)
	case EvtCreateLivePoll:
		r.handleCreateLivePoll(c, msg.Data)
	case EvtVoteLivePoll:
		r.handleVoteLivePoll(c, msg.Data)
	case EvtSubmitWord:
		r.handleSubmitWord(c, msg.Data)
	case EvtHeartbeat:
		r.hub.SendToConn(c.ID, "heartbeat_ack", map[string]interface{}{"at": time.Now()})
	default:
		// unknown events are ignored
	}
}

// HandleDisconnect reclaims state for a dropped connection: the participant
// is removed from every room it joined, each such room gets a
// participant_left broadcast, and emptied rooms are garbage-collected by the
// registry. This is the only path that touches multiple rooms at once.
func (r *Router) HandleDisconnect(c *Client) {
	departures := r.registry.RemoveConnection(c.ID)
	for _, d := range departures {
		r.hub.Detach(d.ActivityID, c.ID)
		r.hub.BroadcastToRoom(d.ActivityID, "participant_left", map[string]interface{}{
			"activityId":       d.ActivityID,
			"connectionId":     c.ID,
			"nickname":         d.Nickname,
			"participantCount": d.Remaining,
		})
		r.notifyLeave(d)
	}
}

func (r *Router) sendError(c *Client) {
	r.hub.SendToConn(c.ID, "error", map[string]string{"message": genericErrMsg})
}

func (r *Router) notifyJoin(activityID string, p *Participant, count int) {
	if r.presence.OnJoin != nil && p.UserID != nil {
		r.presence.OnJoin(activityID, *p.UserID)
	}
	if r.presence.OnAudience != nil {
		r.presence.OnAudience(activityID, count)
	}
}

func (r *Router) notifyLeave(d Departure) {
	if r.presence.OnLeave != nil && d.UserID != nil {
		r.presence.OnLeave(d.ActivityID, *d.UserID)
	}
	if r.presence.OnAudience != nil && d.Remaining > 0 {
		r.presence.OnAudience(d.ActivityID, d.Remaining)
	}
}

// ---- join / leave ----

type joinPayload struct {
	ActivityID string `json:"activityId"`
	Nickname   string `json:"nickname"`
}

func (r *Router) handleJoin(c *Client, data json.RawMessage) {
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ActivityID == "" {
		r.logWarn(c, EvtJoinActivity, "malformed payload")
		r.sendError(c)
		return
	}
	nickname := strings.TrimSpace(p.Nickname)
	if nickname == "" {
		nickname = "Anonymous"
	}
	// Host status is decided once, at join time, by a static role predicate.
	isHost := !c.Identity.Anonymous && models.HostEligible(c.Identity.Role)

	participant := &Participant{
		ConnID:    c.ID,
		UserID:    c.Identity.UserID,
		Nickname:  nickname,
		IsHost:    isHost,
		JoinedAt:  time.Now(),
		Connected: true,
	}
	count := r.registry.AddParticipant(p.ActivityID, participant)
	r.hub.Attach(p.ActivityID, c)

	snap, ok := r.registry.Snapshot(p.ActivityID)
	if !ok {
		// the room existed a moment ago; treat as internal
		r.logWarn(c, EvtJoinActivity, "room vanished after join")
		r.sendError(c)
		return
	}
	r.hub.SendToConn(c.ID, "activity_state", snapshotWire(snap))
	r.hub.BroadcastToRoom(p.ActivityID, "participant_joined", map[string]interface{}{
		"activityId":       p.ActivityID,
		"connectionId":     c.ID,
		"nickname":         nickname,
		"isHost":           isHost,
		"participantCount": count,
	})
	r.notifyJoin(p.ActivityID, participant, count)
}

type activityPayload struct {
	ActivityID string `json:"activityId"`
}

func (r *Router) handleLeave(c *Client, data json.RawMessage) {
	var p activityPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ActivityID == "" {
		r.logWarn(c, EvtLeaveActivity, "malformed payload")
		r.sendError(c)
		return
	}
	d, ok := r.registry.RemoveParticipant(p.ActivityID, c.ID)
	if !ok {
		// leave without join is a no-op
		return
	}
	r.hub.Detach(p.ActivityID, c.ID)
	r.hub.BroadcastToRoom(p.ActivityID, "participant_left", map[string]interface{}{
		"activityId":       p.ActivityID,
		"connectionId":     c.ID,
		"nickname":         d.Nickname,
		"participantCount": d.Remaining,
	})
	r.notifyLeave(d)
}

// ---- host question control ----

type questionPayload struct {
	ActivityID    string `json:"activityId"`
	QuestionIndex int    `json:"questionIndex"`
}

func (r *Router) handleHostSetQuestion(c *Client, data json.RawMessage) {
	var p questionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ActivityID == "" {
		r.logWarn(c, "host question change", "malformed payload")
		r.sendError(c)
		return
	}
	// Non-host control events are dropped silently: no state change, no
	// error, so probing clients learn nothing.
	if !r.registry.IsHost(p.ActivityID, c.ID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	count, err := r.store.QuestionCount(ctx, p.ActivityID)
	if err != nil {
		r.logWarn(c, "host question change", "question count lookup failed")
		r.sendError(c)
		return
	}
	if p.QuestionIndex < 0 || p.QuestionIndex >= count {
		r.sendError(c)
		return
	}
	// The store call is a suspend point: re-check authorization against
	// current room state before mutating.
	if !r.registry.IsHost(p.ActivityID, c.ID) {
		return
	}
	state, ok := r.registry.SetQuestion(p.ActivityID, p.QuestionIndex)
	if !ok {
		r.sendError(c)
		return
	}
	r.hub.BroadcastToRoom(p.ActivityID, "question_changed", map[string]interface{}{
		"activityId":    p.ActivityID,
		"questionIndex": state.Index,
		"startedAt":     state.StartedAt,
	})
}

func (r *Router) handleHostToggle(c *Client, data json.RawMessage) {
	var p activityPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ActivityID == "" {
		r.logWarn(c, EvtHostToggleActivity, "malformed payload")
		r.sendError(c)
		return
	}
	if !r.registry.IsHost(p.ActivityID, c.ID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	live, err := r.store.ToggleLive(ctx, p.ActivityID)
	if err != nil {
		r.logWarn(c, EvtHostToggleActivity, "live toggle failed")
		r.sendError(c)
		return
	}
	r.logger.Info("activity live flag toggled",
		zap.String("activity_id", p.ActivityID),
		zap.Bool("live", live),
	)
}

// ---- answers and comments ----

type answerPayload struct {
	ActivityID    string  `json:"activityId"`
	QuestionIndex int     `json:"questionIndex"`
	Answer        string  `json:"answer"`
	ResponseTime  float64 `json:"responseTime"`
}

func (r *Router) handleSubmitAnswer(c *Client, data json.RawMessage) {
	var p answerPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ActivityID == "" || p.Answer == "" {
		r.logWarn(c, EvtSubmitAnswer, "malformed payload")
		r.sendError(c)
		return
	}
	participant, ok := r.registry.Participant(p.ActivityID, c.ID)
	if !ok {
		r.sendError(c)
		return
	}
	results, ok := r.registry.RecordAnswer(p.ActivityID, p.QuestionIndex, p.Answer)
	if !ok {
		r.sendError(c)
		return
	}
	r.hub.BroadcastToHosts(p.ActivityID, r.registry.HostConnIDs(p.ActivityID), "new_answer", map[string]interface{}{
		"activityId":    p.ActivityID,
		"questionIndex": p.QuestionIndex,
		"connectionId":  c.ID,
		"nickname":      participant.Nickname,
		"answer":        p.Answer,
		"responseTime":  p.ResponseTime,
		"submittedAt":   time.Now(),
	})
	r.hub.BroadcastToRoom(p.ActivityID, "live_results_update", map[string]interface{}{
		"activityId":    p.ActivityID,
		"questionIndex": p.QuestionIndex,
		"results":       results,
	})
}

type commentPayload struct {
	ActivityID string `json:"activityId"`
	Comment    string `json:"comment"`
}

func (r *Router) handleSubmitComment(c *Client, data json.RawMessage) {
	var p commentPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ActivityID == "" || strings.TrimSpace(p.Comment) == "" {
		r.logWarn(c, EvtSubmitComment, "malformed payload")
		r.sendError(c)
		return
	}
	participant, ok := r.registry.Participant(p.ActivityID, c.ID)
	if !ok {
		r.sendError(c)
		return
	}
	r.hub.BroadcastToRoom(p.ActivityID, "new_comment", map[string]interface{}{
		"activityId":   p.ActivityID,
		"id":           uuid.New().String(),
		"connectionId": c.ID,
		"nickname":     participant.Nickname,
		"comment":      p.Comment,
		"likes":        0,
		"timestamp":    time.Now(),
	})
}

// ---- Q&A ----

type askPayload struct {
	ActivityID string `json:"activityId"`
	Question   string `json:"question"`
}

func (r *Router) handleAskQuestion(c *Client, data json.RawMessage) {
	var p askPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ActivityID == "" || strings.TrimSpace(p.Question) == "" {
		r.logWarn(c, EvtAskQuestion, "malformed payload")
		r.sendError(c)
		return
	}
	participant, ok := r.registry.Participant(p.ActivityID, c.ID)
	if !ok {
		r.sendError(c)
		return
	}
	item := &QAItem{
		ID:        uuid.New(),
		AskerID:   c.ID,
		Nickname:  participant.Nickname,
		Question:  strings.TrimSpace(p.Question),
		Status:    QAPending,
		Upvotes:   make(map[string]struct{}),
		CreatedAt: time.Now(),
	}
	if !r.registry.AppendQA(p.ActivityID, item) {
		r.sendError(c)
		return
	}
	r.hub.BroadcastToHosts(p.ActivityID, r.registry.HostConnIDs(p.ActivityID), "new_qa_question", map[string]interface{}{
		"activityId": p.ActivityID,
		"question":   qaWire(*item),
	})
	r.broadcastQAUpdate(p.ActivityID)
}

type qaRefPayload struct {
	ActivityID string `json:"activityId"`
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

func (r *Router) handleUpvoteQuestion(c *Client, data json.RawMessage) {
	p, qid, ok := r.parseQARef(c, data, EvtUpvoteQuestion)
	if !ok {
		return
	}
	if !r.registry.IsParticipant(p.ActivityID, c.ID) {
		r.sendError(c)
		return
	}
	if !r.registry.ToggleQAUpvote(p.ActivityID, qid, c.ID) {
		r.sendError(c)
		return
	}
	r.broadcastQAUpdate(p.ActivityID)
}

func (r *Router) handleHostAnswerQuestion(c *Client, data json.RawMessage) {
	p, qid, ok := r.parseQARef(c, data, EvtHostAnswerQuestion)
	if !ok {
		return
	}
	if !r.registry.IsHost(p.ActivityID, c.ID) {
		return
	}
	if !r.registry.AnswerQA(p.ActivityID, qid, p.Answer) {
		r.sendError(c)
		return
	}
	r.broadcastQAUpdate(p.ActivityID)
}

func (r *Router) handleHostDismissQuestion(c *Client, data json.RawMessage) {
	p, qid, ok := r.parseQARef(c, data, EvtHostDismissQuestion)
	if !ok {
		return
	}
	if !r.registry.IsHost(p.ActivityID, c.ID) {
		return
	}
	if !r.registry.DismissQA(p.ActivityID, qid) {
		r.sendError(c)
		return
	}
	r.broadcastQAUpdate(p.ActivityID)
}

func (r *Router) parseQARef(c *Client, data json.RawMessage, event string) (qaRefPayload, uuid.UUID, bool) {
	var p qaRefPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ActivityID == "" {
		r.logWarn(c, event, "malformed payload")
		r.sendError(c)
		return p, uuid.Nil, false
	}
	qid, err := uuid.Parse(p.QuestionID)
	if err != nil {
		r.logWarn(c, event, "malformed question id")
		r.sendError(c)
		return p, uuid.Nil, false
	}
	return p, qid, true
}

// broadcastQAUpdate sends the queue to the whole room with dismissed items
// filtered out.
func (r *Router) broadcastQAUpdate(activityID string) {
	items, ok := r.registry.QASnapshot(activityID)
	if !ok {
		return
	}
	r.hub.BroadcastToRoom(activityID, "qa_updated", map[string]interface{}{
		"activityId": activityID,
		"questions":  qaListWire(items),
	})
}

// ---- live polls ----

type createPollPayload struct {
	ActivityID string   `json:"activityId"`
	Question   string   `json:"question"`
	Options    []string `json:"options"`
	Duration   float64  `json:"duration"` // seconds
}

func (r *Router) handleCreateLivePoll(c *Client, data json.RawMessage) {
	var p createPollPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ActivityID == "" {
		r.logWarn(c, EvtCreateLivePoll, "malformed payload")
		r.sendError(c)
		return
	}
	if !r.registry.IsHost(p.ActivityID, c.ID) {
		return
	}
	if strings.TrimSpace(p.Question) == "" || len(p.Options) < 2 || p.Duration <= 0 {
		r.sendError(c)
		return
	}
	ttl := time.Duration(p.Duration * float64(time.Second))
	poll, ok := r.registry.CreatePoll(p.ActivityID, p.Question, p.Options, ttl)
	if !ok {
		r.sendError(c)
		return
	}
	r.hub.BroadcastToRoom(p.ActivityID, "new_live_poll", map[string]interface{}{
		"activityId": p.ActivityID,
		"pollId":     poll.ID.String(),
		"question":   poll.Question,
		"options":    poll.Options,
		"duration":   p.Duration,
		"expiresAt":  poll.ExpiresAt,
	})
	r.schedulePollExpiry(p.ActivityID, poll.ID, ttl)
}

type votePollPayload struct {
	ActivityID  string `json:"activityId"`
	PollID      string `json:"pollId"`
	OptionIndex int    `json:"optionIndex"`
}

func (r *Router) handleVoteLivePoll(c *Client, data json.RawMessage) {
	var p votePollPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ActivityID == "" {
		r.logWarn(c, EvtVoteLivePoll, "malformed payload")
		r.sendError(c)
		return
	}
	pollID, err := uuid.Parse(p.PollID)
	if err != nil {
		r.logWarn(c, EvtVoteLivePoll, "malformed poll id")
		r.sendError(c)
		return
	}
	if !r.registry.IsParticipant(p.ActivityID, c.ID) {
		r.sendError(c)
		return
	}
	counts, ok := r.registry.VotePoll(p.ActivityID, pollID, c.ID, p.OptionIndex)
	if !ok {
		r.sendError(c)
		return
	}
	r.hub.BroadcastToRoom(p.ActivityID, "live_poll_update", map[string]interface{}{
		"activityId": p.ActivityID,
		"pollId":     p.PollID,
		"counts":     counts,
	})
}

// ---- word clouds ----

type wordPayload struct {
	ActivityID string `json:"activityId"`
	Prompt     string `json:"prompt"`
	Word       string `json:"word"`
}

func (r *Router) handleSubmitWord(c *Client, data json.RawMessage) {
	var p wordPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ActivityID == "" || p.Prompt == "" {
		r.logWarn(c, EvtSubmitWord, "malformed payload")
		r.sendError(c)
		return
	}
	word := strings.ToLower(strings.TrimSpace(p.Word))
	if word == "" || len(word) > 64 {
		r.sendError(c)
		return
	}
	if !r.registry.IsParticipant(p.ActivityID, c.ID) {
		r.sendError(c)
		return
	}
	words, ok := r.registry.AddWord(p.ActivityID, p.Prompt, word)
	if !ok {
		r.sendError(c)
		return
	}
	r.hub.BroadcastToRoom(p.ActivityID, "word_cloud_update", map[string]interface{}{
		"activityId": p.ActivityID,
		"prompt":     p.Prompt,
		"words":      words,
	})
}

func (r *Router) logWarn(c *Client, event, reason string) {
	r.logger.Warn("event rejected",
		zap.String("event", event),
		zap.String("conn_id", c.ID),
		zap.String("reason", reason),
	)
}
