package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"mathduel-service/internal/app"
	"mathduel-service/internal/domain"
	"mathduel-service/internal/infra/memory"
	"mathduel-service/internal/question"
)

func TestCreateLobbyStartsWaiting(t *testing.T) {
	service := newTestService(app.MatchConfig{})

	snap, err := service.CreateLobby("alice", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if snap.Status != domain.StatusWaiting {
		t.Fatalf("expected waiting, got %s", snap.Status)
	}
	if len(snap.Participants) != 1 || snap.Participants[0].PlayerID != "alice" {
		t.Fatalf("expected creator attached, got %+v", snap.Participants)
	}
	if len(snap.Questions) != 0 {
		t.Fatalf("waiting lobby must not expose questions, got %d", len(snap.Questions))
	}
}

func TestSecondJoinStartsMatch(t *testing.T) {
	service := newTestService(app.MatchConfig{QuestionCount: 5})
	snap, _ := service.CreateLobby("alice", nil)

	joined, err := service.JoinLobby(snap.ID, "bob")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if joined.Status != domain.StatusPlaying {
		t.Fatalf("expected playing immediately after second join, got %s", joined.Status)
	}
	if len(joined.Questions) != 5 {
		t.Fatalf("expected 5 questions, got %d", len(joined.Questions))
	}
	if joined.StartedAt == nil || joined.StartedAt.IsZero() {
		t.Fatalf("expected startedAt to be stamped")
	}
}

func TestWaitingSnapshotOmitsStartTime(t *testing.T) {
	service := newTestService(app.MatchConfig{})
	snap, _ := service.CreateLobby("alice", nil)

	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if bytes.Contains(raw, []byte("startedAt")) {
		t.Fatalf("waiting snapshot must not carry a start time: %s", raw)
	}

	joined, _ := service.JoinLobby(snap.ID, "bob")
	raw, err = json.Marshal(joined)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !bytes.Contains(raw, []byte("startedAt")) {
		t.Fatalf("playing snapshot must carry a start time: %s", raw)
	}
}

func TestJoinErrors(t *testing.T) {
	service := newTestService(app.MatchConfig{})
	snap, _ := service.CreateLobby("alice", nil)

	if _, err := service.JoinLobby("nope", "bob"); !errors.Is(err, domain.ErrLobbyNotFound) {
		t.Fatalf("expected lobby not found, got %v", err)
	}
	if _, err := service.JoinLobby(snap.ID, "alice"); !errors.Is(err, domain.ErrAlreadyJoined) {
		t.Fatalf("expected already joined, got %v", err)
	}
	if _, err := service.JoinLobby(snap.ID, "bob"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if _, err := service.JoinLobby(snap.ID, "carol"); !errors.Is(err, domain.ErrLobbyFull) {
		t.Fatalf("expected lobby full, got %v", err)
	}
}

func TestConcurrentJoinAdmitsExactlyOne(t *testing.T) {
	service := newTestService(app.MatchConfig{})
	snap, _ := service.CreateLobby("alice", nil)

	const racers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded []string
		rejected  int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			playerID := "racer-" + strconv.Itoa(i)
			_, err := service.JoinLobby(snap.ID, playerID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded = append(succeeded, playerID)
			} else if errors.Is(err, domain.ErrLobbyFull) {
				rejected++
			} else {
				t.Errorf("unexpected join error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if len(succeeded) != 1 || rejected != racers-1 {
		t.Fatalf("expected exactly 1 admission, got %d (rejected %d)", len(succeeded), rejected)
	}
	got, _ := service.GetLobby(snap.ID)
	if got.Status != domain.StatusPlaying || len(got.Participants) != 2 {
		t.Fatalf("expected a started 2-player lobby, got status=%s participants=%d", got.Status, len(got.Participants))
	}
}

func TestScoringAndDuplicateRejection(t *testing.T) {
	service := newTestService(app.MatchConfig{QuestionCount: 3})
	lobby := startMatch(t, service, "alice", "bob")

	q := lobby.Questions[0]
	record, score, err := service.SubmitAnswer(lobby.ID, "alice", q.ID, strconv.Itoa(q.Answer))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !record.IsCorrect || score != 1 {
		t.Fatalf("expected correct answer and score 1, got correct=%v score=%d", record.IsCorrect, score)
	}

	if _, _, err := service.SubmitAnswer(lobby.ID, "alice", q.ID, strconv.Itoa(q.Answer)); !errors.Is(err, domain.ErrDuplicateAnswer) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}

	got, _ := service.GetLobby(lobby.ID)
	alice := participant(t, got, "alice")
	if alice.Score != 1 || len(alice.Answers) != 1 {
		t.Fatalf("duplicate must not change state, got score=%d answers=%d", alice.Score, len(alice.Answers))
	}
}

func TestWrongAndMalformedAnswersScoreZero(t *testing.T) {
	service := newTestService(app.MatchConfig{QuestionCount: 3})
	lobby := startMatch(t, service, "alice", "bob")

	record, score, err := service.SubmitAnswer(lobby.ID, "alice", 0, strconv.Itoa(lobby.Questions[0].Answer+1))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if record.IsCorrect || score != 0 {
		t.Fatalf("wrong answer must not score, got correct=%v score=%d", record.IsCorrect, score)
	}

	// Non-numeric input is accepted and scored as incorrect, not rejected.
	record, score, err = service.SubmitAnswer(lobby.ID, "alice", 1, "not a number")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if record.IsCorrect || score != 0 {
		t.Fatalf("malformed answer must score zero, got correct=%v score=%d", record.IsCorrect, score)
	}
}

func TestSubmitErrors(t *testing.T) {
	service := newTestService(app.MatchConfig{QuestionCount: 3})
	snap, _ := service.CreateLobby("alice", nil)

	if _, _, err := service.SubmitAnswer(snap.ID, "alice", 0, "1"); !errors.Is(err, domain.ErrMatchNotStarted) {
		t.Fatalf("expected match not started, got %v", err)
	}

	service.JoinLobby(snap.ID, "bob")

	if _, _, err := service.SubmitAnswer(snap.ID, "mallory", 0, "1"); !errors.Is(err, domain.ErrPlayerNotInLobby) {
		t.Fatalf("expected player not in lobby, got %v", err)
	}
	if _, _, err := service.SubmitAnswer(snap.ID, "alice", 99, "1"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
}

func TestAllAnsweredFinishesWithWinner(t *testing.T) {
	sink := newRecordingSink()
	service := newTestService(app.MatchConfig{QuestionCount: 5}, sink)
	lobby := startMatch(t, service, "alice", "bob")

	// Alice gets 4 of 5, Bob gets 3 of 5.
	answerAll(t, service, lobby, "alice", 4)
	answerAll(t, service, lobby, "bob", 3)

	got, _ := service.GetLobby(lobby.ID)
	if got.Status != domain.StatusFinished {
		t.Fatalf("expected finished after all answers, got %s", got.Status)
	}
	if got.Result == nil || got.Result.Winner != "alice" {
		t.Fatalf("expected alice to win, got %+v", got.Result)
	}
	if got.Result.Standings[0].PlayerID != "alice" || got.Result.Standings[0].Score != 4 {
		t.Fatalf("unexpected standings: %+v", got.Result.Standings)
	}

	result := sink.wait(t)
	if result.Winner != "alice" || len(result.Standings) != 2 {
		t.Fatalf("sink received wrong result: %+v", result)
	}
}

func TestEqualScoresIsATie(t *testing.T) {
	service := newTestService(app.MatchConfig{QuestionCount: 3})
	lobby := startMatch(t, service, "alice", "bob")

	answerAll(t, service, lobby, "alice", 2)
	answerAll(t, service, lobby, "bob", 2)

	got, _ := service.GetLobby(lobby.ID)
	if got.Result == nil || got.Result.Winner != "" {
		t.Fatalf("expected an explicit tie, got %+v", got.Result)
	}
}

func TestDeadlineForcesFinish(t *testing.T) {
	service := newTestService(app.MatchConfig{QuestionCount: 5, Deadline: 250 * time.Millisecond})
	lobby := startMatch(t, service, "alice", "bob")

	// Partial progress only: alice 2 correct, bob 1 correct.
	answerSome(t, service, lobby, "alice", 2, 2)
	answerSome(t, service, lobby, "bob", 2, 1)

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := service.GetLobby(lobby.ID)
		if got.Status == domain.StatusFinished {
			if got.Result.Winner != "alice" {
				t.Fatalf("expected alice winning on partial scores, got %+v", got.Result)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("lobby never finished after deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLateSubmissionRejectedAfterFinish(t *testing.T) {
	service := newTestService(app.MatchConfig{QuestionCount: 2})
	lobby := startMatch(t, service, "alice", "bob")

	answerAll(t, service, lobby, "alice", 2)
	answerAll(t, service, lobby, "bob", 1)

	if _, _, err := service.SubmitAnswer(lobby.ID, "bob", 1, "0"); !errors.Is(err, domain.ErrMatchFinished) {
		t.Fatalf("expected match finished, got %v", err)
	}

	// The terminal snapshot keeps serving for late polling clients.
	got, err := service.GetLobby(lobby.ID)
	if err != nil || got.Result == nil || got.Result.Winner != "alice" {
		t.Fatalf("standings changed after late submit: %+v err=%v", got.Result, err)
	}
}

func TestStakedLobbyWaitsForReadyCheck(t *testing.T) {
	service := newTestService(app.MatchConfig{QuestionCount: 3})
	snap, _ := service.CreateLobby("alice", []byte(`{"amount":"0.1","token":"AVAX"}`))

	joined, err := service.JoinLobby(snap.ID, "bob")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if joined.Status != domain.StatusWaiting {
		t.Fatalf("staked lobby must wait for ready check, got %s", joined.Status)
	}

	if _, err := service.SetReady(snap.ID, "alice"); err != nil {
		t.Fatalf("ready failed: %v", err)
	}
	got, _ := service.GetLobby(snap.ID)
	if got.Status != domain.StatusWaiting {
		t.Fatalf("one ready player must not start the match")
	}

	ready, err := service.SetReady(snap.ID, "bob")
	if err != nil {
		t.Fatalf("ready failed: %v", err)
	}
	if ready.Status != domain.StatusPlaying {
		t.Fatalf("expected playing after both ready, got %s", ready.Status)
	}
}

func TestSubscribeReceivesLifecycleEvents(t *testing.T) {
	service := newTestService(app.MatchConfig{QuestionCount: 2})
	snap, _ := service.CreateLobby("alice", nil)

	events, cancel, err := service.Subscribe(snap.ID)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	if _, err := service.JoinLobby(snap.ID, "bob"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for !seen[domain.EventTypeMatchStarted] {
		select {
		case e := <-events:
			seen[e.EventType()] = true
		case <-timeout:
			t.Fatalf("never saw match_started, saw %v", seen)
		}
	}
	if !seen[domain.EventTypePlayerJoined] {
		t.Fatalf("expected player_joined before match_started, saw %v", seen)
	}
}

func TestLeaveWaitingLobbyDropsIt(t *testing.T) {
	service := newTestService(app.MatchConfig{})
	snap, _ := service.CreateLobby("alice", nil)

	service.Leave(snap.ID, "alice")

	if _, err := service.GetLobby(snap.ID); !errors.Is(err, domain.ErrLobbyNotFound) {
		t.Fatalf("expected empty lobby to be removed, got %v", err)
	}
}

func newTestService(cfg app.MatchConfig, sinks ...app.ResultSink) *app.MatchService {
	store := memory.NewLobbyStore()
	gen := question.NewGenerator(question.Config{Seed: 1})
	return app.NewMatchService(store, gen, cfg, sinks...)
}

// startMatch creates a lobby, joins the second player, and returns the
// playing snapshot with the question sequence.
func startMatch(t *testing.T, service *app.MatchService, a, b string) domain.LobbySnapshot {
	t.Helper()
	snap, err := service.CreateLobby(a, nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	joined, err := service.JoinLobby(snap.ID, b)
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if joined.Status != domain.StatusPlaying {
		t.Fatalf("match did not start: %s", joined.Status)
	}
	return joined
}

// answerAll submits every question for the player, answering the first
// `correct` questions right and the rest wrong.
func answerAll(t *testing.T, service *app.MatchService, lobby domain.LobbySnapshot, playerID string, correct int) {
	t.Helper()
	answerSome(t, service, lobby, playerID, len(lobby.Questions), correct)
}

func answerSome(t *testing.T, service *app.MatchService, lobby domain.LobbySnapshot, playerID string, count, correct int) {
	t.Helper()
	for i := 0; i < count; i++ {
		value := lobby.Questions[i].Answer
		if i >= correct {
			value++
		}
		if _, _, err := service.SubmitAnswer(lobby.ID, playerID, i, strconv.Itoa(value)); err != nil {
			t.Fatalf("submit q%d for %s failed: %v", i, playerID, err)
		}
	}
}

func participant(t *testing.T, snap domain.LobbySnapshot, playerID string) domain.PlayerState {
	t.Helper()
	for _, p := range snap.Participants {
		if p.PlayerID == playerID {
			return p
		}
	}
	t.Fatalf("player %s not in snapshot", playerID)
	return domain.PlayerState{}
}

type recordingSink struct {
	results chan domain.MatchResult
}

func newRecordingSink() *recordingSink {
	return &recordingSink{results: make(chan domain.MatchResult, 1)}
}

func (s *recordingSink) RecordResult(_ context.Context, result domain.MatchResult) error {
	s.results <- result
	return nil
}

func (s *recordingSink) wait(t *testing.T) domain.MatchResult {
	t.Helper()
	select {
	case r := <-s.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("result sink never invoked")
		return domain.MatchResult{}
	}
}
