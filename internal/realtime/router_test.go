package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arts-tech-lab/backend/internal/models"
)

// stubStore fakes the persistence collaborator.
type stubStore struct {
	mu        sync.Mutex
	questions int
	countErr  error
	live      bool
	toggled   []string
}

func (s *stubStore) QuestionCount(_ context.Context, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questions, s.countErr
}

func (s *stubStore) ToggleLive(_ context.Context, activityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toggled = append(s.toggled, activityID)
	s.live = !s.live
	return s.live, nil
}

func (s *stubStore) toggleCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.toggled)
}

func newTestRouter(store *stubStore) (*Router, *Hub, *Registry) {
	logger := zap.NewNop()
	hub := NewHub(logger, nil, nil)
	registry := NewRegistry()
	hub.SetHostResolver(registry.HostConnIDs)
	router := NewRouter(registry, hub, store, logger)
	return router, hub, registry
}

func newTestClient(hub *Hub, router *Router, identity Identity) *Client {
	c := &Client{
		ID:       uuid.New().String(),
		Identity: identity,
		hub:      hub,
		router:   router,
		send:     make(chan WSMessage, 64),
		logger:   zap.NewNop(),
	}
	hub.RegisterConn(c)
	return c
}

func hostIdentity(role models.Role) Identity {
	id := uuid.New()
	return Identity{UserID: &id, Role: string(role)}
}

func anonIdentity() Identity {
	return Identity{Anonymous: true}
}

func emit(router *Router, c *Client, event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	router.Dispatch(c, WSMessage{Event: event, Data: data})
}

// recvEvent drains the client's send channel until an event with the given
// name arrives.
func recvEvent(t *testing.T, c *Client, event string) json.RawMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-c.send:
			if msg.Event == event {
				return msg.Data
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", event)
		}
	}
}

// assertNoEvent asserts the client never receives the named event within the
// grace window.
func assertNoEvent(t *testing.T, c *Client, event string) {
	t.Helper()
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case msg := <-c.send:
			if msg.Event == event {
				t.Fatalf("unexpected event %q: %s", event, msg.Data)
			}
		case <-deadline:
			return
		}
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func join(router *Router, c *Client, activityID, nickname string) {
	emit(router, c, EvtJoinActivity, map[string]string{"activityId": activityID, "nickname": nickname})
}

func TestJoinSendsSnapshotAndBroadcast(t *testing.T) {
	router, hub, _ := newTestRouter(&stubStore{questions: 3})
	a := newTestClient(hub, router, anonIdentity())

	join(router, a, "42", "")

	var state struct {
		ActivityID       string           `json:"activityId"`
		CurrentQuestion  *json.RawMessage `json:"currentQuestion"`
		ParticipantCount int              `json:"participantCount"`
		QAQueue          []qaItemWire     `json:"qaQueue"`
	}
	require.NoError(t, json.Unmarshal(recvEvent(t, a, "activity_state"), &state))
	assert.Equal(t, "42", state.ActivityID)
	assert.Nil(t, state.CurrentQuestion, "no question active yet")
	assert.Equal(t, 1, state.ParticipantCount)
	assert.Empty(t, state.QAQueue)

	var joined struct {
		Nickname         string `json:"nickname"`
		ParticipantCount int    `json:"participantCount"`
	}
	require.NoError(t, json.Unmarshal(recvEvent(t, a, "participant_joined"), &joined))
	assert.Equal(t, "Anonymous", joined.Nickname)
	assert.Equal(t, 1, joined.ParticipantCount)
}

func TestHostQuestionChangeReachesWholeRoom(t *testing.T) {
	router, hub, registry := newTestRouter(&stubStore{questions: 3})
	a := newTestClient(hub, router, anonIdentity())
	b := newTestClient(hub, router, hostIdentity(models.RoleFaculty))

	join(router, a, "42", "alex")
	join(router, b, "42", "prof")
	require.True(t, registry.IsHost("42", b.ID))
	require.Equal(t, 2, registry.ParticipantCount("42"))
	drain(a)
	drain(b)

	emit(router, b, EvtHostNextQuestion, map[string]interface{}{"activityId": "42", "questionIndex": 0})

	for _, c := range []*Client{a, b} {
		var changed struct {
			QuestionIndex int `json:"questionIndex"`
		}
		require.NoError(t, json.Unmarshal(recvEvent(t, c, "question_changed"), &changed))
		assert.Equal(t, 0, changed.QuestionIndex)
	}
}

func TestNonHostQuestionChangeSilentlyIgnored(t *testing.T) {
	router, hub, registry := newTestRouter(&stubStore{questions: 3})
	a := newTestClient(hub, router, anonIdentity())
	join(router, a, "42", "alex")
	drain(a)

	emit(router, a, EvtHostNextQuestion, map[string]interface{}{"activityId": "42", "questionIndex": 0})

	assertNoEvent(t, a, "question_changed")
	assertNoEvent(t, a, "error")
	snap, _ := registry.Snapshot("42")
	assert.Equal(t, QuestionNotStarted, snap.Question.Phase)
}

func TestHostQuestionIndexOutOfBounds(t *testing.T) {
	router, hub, registry := newTestRouter(&stubStore{questions: 2})
	b := newTestClient(hub, router, hostIdentity(models.RoleStaff))
	join(router, b, "42", "prof")
	drain(b)

	emit(router, b, EvtHostNextQuestion, map[string]interface{}{"activityId": "42", "questionIndex": 2})

	recvEvent(t, b, "error")
	snap, _ := registry.Snapshot("42")
	assert.Equal(t, QuestionNotStarted, snap.Question.Phase)
}

func TestHostToggleActivity(t *testing.T) {
	store := &stubStore{questions: 1}
	router, hub, _ := newTestRouter(store)
	a := newTestClient(hub, router, anonIdentity())
	b := newTestClient(hub, router, hostIdentity(models.RoleAssistant))
	join(router, a, "42", "alex")
	join(router, b, "42", "ta")

	// non-host: silently dropped, no external toggle call
	emit(router, a, EvtHostToggleActivity, map[string]string{"activityId": "42"})
	assert.Equal(t, 0, store.toggleCalls())

	emit(router, b, EvtHostToggleActivity, map[string]string{"activityId": "42"})
	assert.Equal(t, 1, store.toggleCalls())
}

func TestSubmitAnswerFansOut(t *testing.T) {
	router, hub, _ := newTestRouter(&stubStore{questions: 3})
	a := newTestClient(hub, router, anonIdentity())
	b := newTestClient(hub, router, hostIdentity(models.RoleFaculty))
	join(router, a, "42", "alex")
	join(router, b, "42", "prof")
	drain(a)
	drain(b)

	emit(router, a, EvtSubmitAnswer, map[string]interface{}{
		"activityId": "42", "questionIndex": 0, "answer": "blue", "responseTime": 1.25,
	})

	var ans struct {
		Answer       string  `json:"answer"`
		Nickname     string  `json:"nickname"`
		ResponseTime float64 `json:"responseTime"`
	}
	require.NoError(t, json.Unmarshal(recvEvent(t, b, "new_answer"), &ans))
	assert.Equal(t, "blue", ans.Answer)
	assert.Equal(t, "alex", ans.Nickname)
	assert.Equal(t, 1.25, ans.ResponseTime)

	var results struct {
		Results map[string]int `json:"results"`
	}
	require.NoError(t, json.Unmarshal(recvEvent(t, a, "live_results_update"), &results))
	assert.Equal(t, map[string]int{"blue": 1}, results.Results)

	// the raw answer feed is host-only; participants get derived tallies
	assertNoEvent(t, a, "new_answer")
}

func TestQADismissedNeverBroadcast(t *testing.T) {
	router, hub, registry := newTestRouter(&stubStore{})
	a := newTestClient(hub, router, anonIdentity())
	b := newTestClient(hub, router, hostIdentity(models.RoleFaculty))
	join(router, a, "42", "alex")
	join(router, b, "42", "prof")
	drain(a)
	drain(b)

	emit(router, a, EvtAskQuestion, map[string]string{"activityId": "42", "question": "what is this?"})
	emit(router, a, EvtAskQuestion, map[string]string{"activityId": "42", "question": "when do we start?"})

	var newQ struct {
		Question qaItemWire `json:"question"`
	}
	require.NoError(t, json.Unmarshal(recvEvent(t, b, "new_qa_question"), &newQ))
	assert.Equal(t, "what is this?", newQ.Question.Question)

	items, _ := registry.QASnapshot("42")
	require.Len(t, items, 2)
	drain(a)
	drain(b)

	emit(router, b, EvtHostDismissQuestion, map[string]string{
		"activityId": "42", "questionId": items[0].ID.String(),
	})

	var update struct {
		Questions []qaItemWire `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(recvEvent(t, a, "qa_updated"), &update))
	require.Len(t, update.Questions, 1)
	assert.Equal(t, "when do we start?", update.Questions[0].Question)
	for _, q := range update.Questions {
		assert.NotEqual(t, string(QADismissed), q.Status)
	}
}

func TestQAUpvoteAndHostAnswer(t *testing.T) {
	router, hub, registry := newTestRouter(&stubStore{})
	a := newTestClient(hub, router, anonIdentity())
	b := newTestClient(hub, router, hostIdentity(models.RoleStaff))
	join(router, a, "42", "alex")
	join(router, b, "42", "prof")
	emit(router, a, EvtAskQuestion, map[string]string{"activityId": "42", "question": "why Go?"})
	items, _ := registry.QASnapshot("42")
	require.Len(t, items, 1)
	qid := items[0].ID.String()
	drain(a)
	drain(b)

	emit(router, a, EvtUpvoteQuestion, map[string]string{"activityId": "42", "questionId": qid})
	var update struct {
		Questions []qaItemWire `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(recvEvent(t, a, "qa_updated"), &update))
	assert.Equal(t, 1, update.Questions[0].Upvotes)

	// non-host cannot answer: silent drop
	emit(router, a, EvtHostAnswerQuestion, map[string]string{"activityId": "42", "questionId": qid, "answer": "nope"})
	items, _ = registry.QASnapshot("42")
	assert.Equal(t, QAPending, items[0].Status)

	emit(router, b, EvtHostAnswerQuestion, map[string]string{"activityId": "42", "questionId": qid, "answer": "it scales"})
	items, _ = registry.QASnapshot("42")
	assert.Equal(t, QAAnswered, items[0].Status)
	assert.Equal(t, "it scales", items[0].Answer)
}

func TestLivePollLifecycle(t *testing.T) {
	router, hub, registry := newTestRouter(&stubStore{})
	a := newTestClient(hub, router, anonIdentity())
	b := newTestClient(hub, router, hostIdentity(models.RoleFaculty))
	join(router, a, "42", "alex")
	join(router, b, "42", "prof")
	drain(a)
	drain(b)

	// non-host creation: silent drop
	emit(router, a, EvtCreateLivePoll, map[string]interface{}{
		"activityId": "42", "question": "q", "options": []string{"x", "y"}, "duration": 60,
	})
	assertNoEvent(t, a, "new_live_poll")

	emit(router, b, EvtCreateLivePoll, map[string]interface{}{
		"activityId": "42", "question": "best tool?", "options": []string{"pen", "plotter"}, "duration": 0.05,
	})

	var created struct {
		PollID  string   `json:"pollId"`
		Options []string `json:"options"`
	}
	require.NoError(t, json.Unmarshal(recvEvent(t, a, "new_live_poll"), &created))
	assert.Equal(t, []string{"pen", "plotter"}, created.Options)

	emit(router, a, EvtVoteLivePoll, map[string]interface{}{
		"activityId": "42", "pollId": created.PollID, "optionIndex": 1,
	})
	var voted struct {
		Counts []int `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(recvEvent(t, a, "live_poll_update"), &voted))
	assert.Equal(t, []int{0, 1}, voted.Counts)

	var expired struct {
		PollID string `json:"pollId"`
	}
	require.NoError(t, json.Unmarshal(recvEvent(t, a, "poll_expired"), &expired))
	assert.Equal(t, created.PollID, expired.PollID)

	assert.Eventually(t, func() bool {
		snap, ok := registry.Snapshot("42")
		return ok && len(snap.LivePolls) == 1 && snap.LivePolls[0].Phase == PollExpired
	}, time.Second, 10*time.Millisecond)
}

func TestPollTimerAfterRoomGoneIsSilent(t *testing.T) {
	router, hub, registry := newTestRouter(&stubStore{})
	b := newTestClient(hub, router, hostIdentity(models.RoleFaculty))
	join(router, b, "42", "prof")
	drain(b)

	emit(router, b, EvtCreateLivePoll, map[string]interface{}{
		"activityId": "42", "question": "q", "options": []string{"x", "y"}, "duration": 0.05,
	})
	recvEvent(t, b, "new_live_poll")

	// everyone leaves before the timer fires; the room is garbage-collected
	emit(router, b, EvtLeaveActivity, map[string]string{"activityId": "42"})
	require.False(t, registry.RoomExists("42"))

	time.Sleep(150 * time.Millisecond)
	assertNoEvent(t, b, "poll_expired")
}

func TestDisconnectCleansAllRooms(t *testing.T) {
	router, hub, registry := newTestRouter(&stubStore{})
	a := newTestClient(hub, router, anonIdentity())
	b := newTestClient(hub, router, anonIdentity())
	join(router, a, "42", "alex")
	join(router, a, "43", "alex")
	join(router, b, "43", "bo")
	drain(a)
	drain(b)

	router.HandleDisconnect(a)

	assert.False(t, registry.RoomExists("42"), "solo room removed entirely")
	assert.True(t, registry.RoomExists("43"))

	var left struct {
		ParticipantCount int `json:"participantCount"`
	}
	require.NoError(t, json.Unmarshal(recvEvent(t, b, "participant_left"), &left))
	assert.Equal(t, 1, left.ParticipantCount)
}

func TestLeaveWithoutJoinIsNoOp(t *testing.T) {
	router, hub, registry := newTestRouter(&stubStore{})
	a := newTestClient(hub, router, anonIdentity())

	emit(router, a, EvtLeaveActivity, map[string]string{"activityId": "42"})

	assertNoEvent(t, a, "error")
	assert.Equal(t, 0, registry.RoomCount())
}

func TestSubmitWordNormalizesAndTallies(t *testing.T) {
	router, hub, _ := newTestRouter(&stubStore{})
	a := newTestClient(hub, router, anonIdentity())
	join(router, a, "42", "alex")
	drain(a)

	emit(router, a, EvtSubmitWord, map[string]string{"activityId": "42", "prompt": "mood", "word": "  Excited "})
	emit(router, a, EvtSubmitWord, map[string]string{"activityId": "42", "prompt": "mood", "word": "excited"})

	var update struct {
		Prompt string         `json:"prompt"`
		Words  map[string]int `json:"words"`
	}
	require.NoError(t, json.Unmarshal(recvEvent(t, a, "word_cloud_update"), &update))
	require.NoError(t, json.Unmarshal(recvEvent(t, a, "word_cloud_update"), &update))
	assert.Equal(t, "mood", update.Prompt)
	assert.Equal(t, map[string]int{"excited": 2}, update.Words)
}

func TestCommentBroadcast(t *testing.T) {
	router, hub, _ := newTestRouter(&stubStore{})
	a := newTestClient(hub, router, anonIdentity())
	b := newTestClient(hub, router, anonIdentity())
	join(router, a, "42", "alex")
	join(router, b, "42", "bo")
	drain(a)
	drain(b)

	emit(router, a, EvtSubmitComment, map[string]string{"activityId": "42", "comment": "this rules"})

	var comment struct {
		ID       string `json:"id"`
		Nickname string `json:"nickname"`
		Comment  string `json:"comment"`
		Likes    int    `json:"likes"`
	}
	require.NoError(t, json.Unmarshal(recvEvent(t, b, "new_comment"), &comment))
	assert.NotEmpty(t, comment.ID)
	assert.Equal(t, "alex", comment.Nickname)
	assert.Equal(t, "this rules", comment.Comment)
	assert.Zero(t, comment.Likes)
}

func TestHeartbeatAck(t *testing.T) {
	router, hub, _ := newTestRouter(&stubStore{})
	a := newTestClient(hub, router, anonIdentity())

	emit(router, a, EvtHeartbeat, map[string]string{})
	recvEvent(t, a, "heartbeat_ack")
}

func TestMalformedPayloadYieldsErrorToCallerOnly(t *testing.T) {
	router, hub, _ := newTestRouter(&stubStore{})
	a := newTestClient(hub, router, anonIdentity())
	b := newTestClient(hub, router, anonIdentity())
	join(router, a, "42", "alex")
	join(router, b, "42", "bo")
	drain(a)
	drain(b)

	router.Dispatch(a, WSMessage{Event: EvtAskQuestion, Data: json.RawMessage(`{"activityId":`)})

	var errMsg struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(recvEvent(t, a, "error"), &errMsg))
	assert.Equal(t, genericErrMsg, errMsg.Message)
	assertNoEvent(t, b, "error")
}

func TestStoreFailureSurfacesGenericError(t *testing.T) {
	store := &stubStore{questions: 3, countErr: fmt.Errorf("connection refused")}
	router, hub, registry := newTestRouter(store)
	b := newTestClient(hub, router, hostIdentity(models.RoleFaculty))
	join(router, b, "42", "prof")
	drain(b)

	emit(router, b, EvtHostNextQuestion, map[string]interface{}{"activityId": "42", "questionIndex": 0})

	var errMsg struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(recvEvent(t, b, "error"), &errMsg))
	assert.Equal(t, genericErrMsg, errMsg.Message)
	snap, _ := registry.Snapshot("42")
	assert.Equal(t, QuestionNotStarted, snap.Question.Phase, "failed handler leaves state unchanged")
}

func TestAnonymousNeverHost(t *testing.T) {
	router, hub, registry := newTestRouter(&stubStore{})
	// anonymous with a forged role string still cannot host
	a := newTestClient(hub, router, Identity{Anonymous: true, Role: string(models.RoleAdmin)})
	join(router, a, "42", "sneaky")
	assert.False(t, registry.IsHost("42", a.ID))

	// plain members do not host either
	m := newTestClient(hub, router, hostIdentity(models.RoleMember))
	join(router, m, "42", "member")
	assert.False(t, registry.IsHost("42", m.ID))
}
