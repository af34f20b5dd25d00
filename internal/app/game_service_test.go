package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const (
	host = domain.CapabilityHost
	anon = domain.CapabilityPlayer
)

func createRoom(t *testing.T, h *harness) string {
	t.Helper()
	created, err := h.service.CreateRoom(context.Background(), "host-conn", host)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return created.Code
}

func TestCreateRoomRequiresHostCapability(t *testing.T) {
	h := newHarness(app.Options{})

	if _, err := h.service.CreateRoom(context.Background(), "c1", anon); !errors.Is(err, domain.ErrAuthorizationRequired) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	created, err := h.service.CreateRoom(context.Background(), "host-conn", host)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if created.QuizTitle != "Warm-up" || created.Total != 2 || len(created.Code) != domain.DefaultCodeLength {
		t.Fatalf("unexpected create result %+v", created)
	}
	if !h.out.subscribed(created.Code, "host-conn") {
		t.Fatalf("expected host subscribed to the room topic")
	}
	if h.service.RoomCount() != 1 {
		t.Fatalf("expected one room, got %d", h.service.RoomCount())
	}
}

func TestHostCommandsChecks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)

	if err := h.service.Start(ctx, code, "host-conn", anon); !errors.Is(err, domain.ErrAuthorizationRequired) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if err := h.service.Start(ctx, "ZZZZZZ", "host-conn", host); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room not found, got %v", err)
	}
	if err := h.service.Start(ctx, code, "other-host", host); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected not host, got %v", err)
	}
	if err := h.service.Reveal(ctx, code, "host-conn", host); !errors.Is(err, domain.ErrNotStarted) {
		t.Fatalf("expected reveal in lobby to fail with not started, got %v", err)
	}
	if _, err := h.service.Next(ctx, code, "host-conn", host); !errors.Is(err, domain.ErrNotStarted) {
		t.Fatalf("expected next in lobby to fail with not started, got %v", err)
	}
	if err := h.service.Start(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.service.Start(ctx, code, "host-conn", host); !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Fatalf("expected already started, got %v", err)
	}
}

func TestJoinValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)

	if _, err := h.service.Join(ctx, "NOPE42", "p1", "Alice"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room not found, got %v", err)
	}
	if _, err := h.service.Join(ctx, code, "p1", "   "); !errors.Is(err, domain.ErrMissingName) {
		t.Fatalf("expected missing name, got %v", err)
	}

	state, err := h.service.Join(ctx, " "+strings.ToLower(code)+" ", "p1", "  Alice  ")
	if err != nil {
		t.Fatalf("join with lower-case code: %v", err)
	}
	if state.Code != code || state.Started || state.Ended || state.Total != 2 {
		t.Fatalf("unexpected state %+v", state)
	}
	evt, ok := h.out.last(domain.EventPlayersCount)
	if !ok || evt.Payload.(domain.PlayersCount).Count != 1 {
		t.Fatalf("expected players:count 1, got %+v", evt)
	}
	if !h.out.subscribed(code, "p1") {
		t.Fatalf("expected player subscribed to the room topic")
	}
}

func TestScoringScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)

	for _, p := range []struct{ id, name string }{{"p1", "Alice"}, {"p2", "Bob"}, {"p3", "Carol"}} {
		if _, err := h.service.Join(ctx, code, p.id, p.name); err != nil {
			t.Fatalf("join %s: %v", p.name, err)
		}
	}
	if _, err := h.service.Answer(ctx, code, "p1", 1); !errors.Is(err, domain.ErrNotStarted) {
		t.Fatalf("expected not started, got %v", err)
	}
	if err := h.service.Start(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.clock.Skip(2 * time.Second)
	res, err := h.service.Answer(ctx, code, "p1", 1)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !res.Correct || res.Points != 800 || res.TotalScore != 800 || res.Rank != 1 {
		t.Fatalf("expected 800 points at rank 1, got %+v", res)
	}

	res, err = h.service.Answer(ctx, code, "p2", 0)
	if err != nil {
		t.Fatalf("wrong answer: %v", err)
	}
	if res.Correct || res.Points != 0 || res.TotalScore != 0 {
		t.Fatalf("expected 0 points for a wrong answer, got %+v", res)
	}

	// The deadline has been reached but the expiry has not been processed yet.
	h.clock.Skip(8 * time.Second)
	res, err = h.service.Answer(ctx, code, "p3", 1)
	if err != nil {
		t.Fatalf("late answer: %v", err)
	}
	if res.Points != 1 || res.Rank != 2 {
		t.Fatalf("expected 1 point at rank 2, got %+v", res)
	}

	evt, ok := h.out.last(domain.EventQuestionProgress)
	if !ok {
		t.Fatalf("expected question:progress")
	}
	if progress := evt.Payload.(domain.QuestionProgress); progress.Answered != 3 || progress.TotalPlayers != 3 {
		t.Fatalf("unexpected progress %+v", progress)
	}
}

func TestAnswerAtMostOncePerQuestion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)
	if _, err := h.service.Join(ctx, code, "p1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := h.service.Answer(ctx, code, "stranger", 1); !errors.Is(err, domain.ErrNotStarted) {
		t.Fatalf("expected not started before start, got %v", err)
	}
	if err := h.service.Start(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.service.Answer(ctx, code, "stranger", 1); !errors.Is(err, domain.ErrNotJoined) {
		t.Fatalf("expected not joined, got %v", err)
	}

	first, err := h.service.Answer(ctx, code, "p1", 1)
	if err != nil {
		t.Fatalf("first answer: %v", err)
	}
	if _, err := h.service.Answer(ctx, code, "p1", 1); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected already answered, got %v", err)
	}

	// Next question resets the record.
	if _, err := h.service.Next(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("next: %v", err)
	}
	second, err := h.service.Answer(ctx, code, "p1", 0)
	if err != nil {
		t.Fatalf("answer on next question: %v", err)
	}
	if second.TotalScore != first.TotalScore {
		t.Fatalf("wrong answer changed score: %d -> %d", first.TotalScore, second.TotalScore)
	}
}

func TestConcurrentAnswersScoreOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)
	if _, err := h.service.Join(ctx, code, "p1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := h.service.Start(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("start: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.service.Answer(ctx, code, "p1", 1); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one scored answer, got %d", successes)
	}
}

func TestTimerRevealsQuestion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)
	if _, err := h.service.Join(ctx, code, "p1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := h.service.Start(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.service.Answer(ctx, code, "p1", 1); err != nil {
		t.Fatalf("answer: %v", err)
	}

	h.clock.Advance(10 * time.Second)
	// Any command is queued behind the expiry.
	if _, err := h.service.RoomState(ctx, code); err != nil {
		t.Fatalf("state: %v", err)
	}
	if n := h.out.count(domain.EventQuestionEnd); n != 1 {
		t.Fatalf("expected one question:end after the timer, got %d", n)
	}
	evt, _ := h.out.last(domain.EventQuestionEnd)
	end := evt.Payload.(domain.QuestionEnd)
	if end.QIndex != 0 || end.CorrectIndex != 1 || len(end.Top5) != 1 || end.Top5[0].Name != "Alice" {
		t.Fatalf("unexpected question:end %+v", end)
	}

	// Revealing again is a no-op.
	if err := h.service.Reveal(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if n := h.out.count(domain.EventQuestionEnd); n != 1 {
		t.Fatalf("expected reveal to be idempotent, got %d question:end", n)
	}

	if _, err := h.service.Join(ctx, code, "p2", "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := h.service.Answer(ctx, code, "p2", 1); !errors.Is(err, domain.ErrNoActiveQuestion) {
		t.Fatalf("expected no active question after reveal, got %v", err)
	}
}

func TestHostRevealCancelsTimer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)
	if err := h.service.Start(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.clock.Advance(3 * time.Second)
	if _, err := h.service.Next(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("next: %v", err)
	}
	// The first question's timer would have fired here.
	h.clock.Advance(8 * time.Second)
	state, err := h.service.RoomState(ctx, code)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.QIndex != 1 {
		t.Fatalf("expected question 1, got %d", state.QIndex)
	}
	if n := h.out.count(domain.EventQuestionEnd); n != 1 {
		t.Fatalf("expected only the host reveal of question 0, got %d question:end", n)
	}

	h.clock.Advance(2 * time.Second)
	if _, err := h.service.RoomState(ctx, code); err != nil {
		t.Fatalf("state: %v", err)
	}
	if n := h.out.count(domain.EventQuestionEnd); n != 2 {
		t.Fatalf("expected question 1 to time out, got %d question:end", n)
	}
}

func TestAdvancePastLastQuestionEndsGame(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)
	if _, err := h.service.Join(ctx, code, "p1", "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := h.service.Join(ctx, code, "p2", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := h.service.Start(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.clock.Skip(5 * time.Second)
	for _, id := range []string{"p1", "p2"} {
		if _, err := h.service.Answer(ctx, code, id, 1); err != nil {
			t.Fatalf("answer %s: %v", id, err)
		}
	}

	ended, err := h.service.Next(ctx, code, "host-conn", host)
	if err != nil || ended {
		t.Fatalf("expected second question, got ended=%v err=%v", ended, err)
	}
	ended, err = h.service.Next(ctx, code, "host-conn", host)
	if err != nil || !ended {
		t.Fatalf("expected game end, got ended=%v err=%v", ended, err)
	}

	if n := h.out.count(domain.EventGameEnd); n != 1 {
		t.Fatalf("expected one game:end, got %d", n)
	}
	evt, _ := h.out.last(domain.EventGameEnd)
	final := evt.Payload.(domain.GameEnd)
	if final.TotalPlayers != 2 || final.Top15[0].Name != "Alice" || final.Top15[1].Name != "Bob" {
		t.Fatalf("expected tie broken by name, got %+v", final)
	}

	if _, err := h.service.Answer(ctx, code, "p1", 2); !errors.Is(err, domain.ErrGameEnded) {
		t.Fatalf("expected game ended, got %v", err)
	}
	if err := h.service.Start(ctx, code, "host-conn", host); err == nil {
		t.Fatalf("expected start to fail after the game ended")
	}
	if _, err := h.service.Next(ctx, code, "host-conn", host); !errors.Is(err, domain.ErrGameEnded) {
		t.Fatalf("expected game ended, got %v", err)
	}
	if _, err := h.service.Join(ctx, code, "p3", "Dan"); !errors.Is(err, domain.ErrGameEnded) {
		t.Fatalf("expected join to fail with game ended, got %v", err)
	}
	if err := h.service.Reveal(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("expected reveal after the end to be a no-op, got %v", err)
	}
}

func TestMidGameJoinCatchesUp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)
	if err := h.service.Start(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("start: %v", err)
	}
	startedAt := h.clock.Now().UnixMilli()

	h.clock.Skip(4 * time.Second)
	if _, err := h.service.Join(ctx, code, "late", "Latecomer"); err != nil {
		t.Fatalf("join: %v", err)
	}

	catchUp := h.out.sentTo("late", domain.EventQuestionStart)
	if len(catchUp) != 1 {
		t.Fatalf("expected one question:start sent to the joiner, got %d", len(catchUp))
	}
	q := catchUp[0].Payload.(domain.QuestionStart)
	if q.StartedAtMs != startedAt || q.QIndex != 0 || q.Total != 2 || len(q.Choices) != 4 {
		t.Fatalf("unexpected catch-up payload %+v", q)
	}
	if n := h.out.count(domain.EventQuestionStart); n != 1 {
		t.Fatalf("joining must not restart the question, got %d broadcasts", n)
	}

	res, err := h.service.Answer(ctx, code, "late", 1)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if res.Points != 600 {
		t.Fatalf("expected points measured from the question start (600), got %d", res.Points)
	}
}

func TestHostDisconnectEndsAndDestroysRoom(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)
	if _, err := h.service.Join(ctx, code, "p1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := h.service.Start(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.service.Disconnect(ctx, "host-conn")

	if n := h.out.count(domain.EventGameEnd); n != 1 {
		t.Fatalf("expected exactly one game:end, got %d", n)
	}
	if n := h.out.count(domain.EventQuestionEnd); n != 1 {
		t.Fatalf("expected the active question to be revealed, got %d", n)
	}
	if _, ok := h.registry.Get(code); ok {
		t.Fatalf("expected room removed from the registry")
	}
	if len(h.out.closed) != 1 || h.out.closed[0] != code {
		t.Fatalf("expected room topic closed, got %v", h.out.closed)
	}
	if _, err := h.service.Answer(ctx, code, "p1", 1); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room not found, got %v", err)
	}

	// A second disconnect has nothing to end.
	h.service.Disconnect(ctx, "host-conn")
	if n := h.out.count(domain.EventGameEnd); n != 1 {
		t.Fatalf("expected still one game:end, got %d", n)
	}
}

func TestHostDisconnectAfterGameEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)
	if err := h.service.Start(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := h.service.Next(ctx, code, "host-conn", host); err != nil {
			t.Fatalf("next: %v", err)
		}
	}

	h.service.Disconnect(ctx, "host-conn")
	if n := h.out.count(domain.EventGameEnd); n != 1 {
		t.Fatalf("expected a single game:end, got %d", n)
	}
	if h.service.RoomCount() != 0 {
		t.Fatalf("expected room destroyed")
	}
}

func TestPlayerDisconnect(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)
	for _, id := range []string{"p1", "p2"} {
		if _, err := h.service.Join(ctx, code, id, "Player "+id); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	if err := h.service.Start(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.service.Answer(ctx, code, "p2", 1); err != nil {
		t.Fatalf("answer: %v", err)
	}

	h.service.Disconnect(ctx, "p1")

	evt, _ := h.out.last(domain.EventPlayersCount)
	if evt.Payload.(domain.PlayersCount).Count != 1 {
		t.Fatalf("expected one player left, got %+v", evt.Payload)
	}
	if h.out.subscribed(code, "p1") {
		t.Fatalf("expected p1 unsubscribed")
	}
	if _, err := h.service.Answer(ctx, code, "p1", 1); !errors.Is(err, domain.ErrNotJoined) {
		t.Fatalf("expected not joined, got %v", err)
	}
	if _, ok := h.registry.Get(code); !ok {
		t.Fatalf("player disconnect must not destroy the room")
	}

	if err := h.service.Leave(ctx, code, "p2"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := h.service.Leave(ctx, code, "p2"); !errors.Is(err, domain.ErrNotJoined) {
		t.Fatalf("expected not joined on second leave, got %v", err)
	}
}

func TestReapIdleRooms(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	idle := createRoom(t, h)

	h.clock.Skip(20 * time.Minute)
	busy := createRoom(t, h)

	h.clock.Skip(15 * time.Minute)
	if _, err := h.service.RoomState(ctx, busy); err != nil {
		t.Fatalf("state: %v", err)
	}

	if n := h.service.ReapIdle(ctx, 30*time.Minute); n != 1 {
		t.Fatalf("expected one room reaped, got %d", n)
	}
	if _, ok := h.registry.Get(idle); ok {
		t.Fatalf("expected idle room removed")
	}
	if _, ok := h.registry.Get(busy); !ok {
		t.Fatalf("expected busy room kept")
	}
	if n := h.out.count(domain.EventGameEnd); n != 1 {
		t.Fatalf("expected game:end for the reaped room, got %d", n)
	}
}

func TestUnrelatedDisconnectKeepsRoomIdle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)

	h.clock.Skip(3 * time.Hour)
	h.service.Disconnect(ctx, "stranger")

	if n := h.service.ReapIdle(ctx, 2*time.Hour); n != 1 {
		t.Fatalf("expected the idle room reaped, got %d", n)
	}
	if _, ok := h.registry.Get(code); ok {
		t.Fatalf("expected idle room removed")
	}
}

func TestPlayerDisconnectCountsAsActivity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)
	if _, err := h.service.Join(ctx, code, "p1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	h.clock.Skip(3 * time.Hour)
	h.service.Disconnect(ctx, "p1")

	if n := h.service.ReapIdle(ctx, 2*time.Hour); n != 0 {
		t.Fatalf("expected no room reaped, got %d", n)
	}
}

func TestAnswerAfterDeadlineRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)
	if _, err := h.service.Join(ctx, code, "p1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := h.service.Start(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.clock.Skip(15 * time.Second)
	if _, err := h.service.Answer(ctx, code, "p1", 1); !errors.Is(err, domain.ErrNoActiveQuestion) {
		t.Fatalf("expected no active question past the deadline, got %v", err)
	}
	state, err := h.service.RoomState(ctx, code)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.QIndex != 0 || state.Ended {
		t.Fatalf("late answer must not change the game, got %+v", state)
	}
}

func TestHostKeepsSubscriptionAfterLeavingRoster(t *testing.T) {
	ctx := context.Background()
	h := newHarness(app.Options{})
	code := createRoom(t, h)

	if _, err := h.service.Join(ctx, code, "host-conn", "Host"); err != nil {
		t.Fatalf("host join: %v", err)
	}
	if err := h.service.Leave(ctx, code, "host-conn"); err != nil {
		t.Fatalf("host leave: %v", err)
	}
	if !h.out.subscribed(code, "host-conn") {
		t.Fatalf("host lost its room subscription")
	}
	if err := h.service.Start(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.service.Disconnect(ctx, "host-conn")
	if _, ok := h.registry.Get(code); ok {
		t.Fatalf("expected host disconnect to destroy the room")
	}
}

type chanRecorder struct {
	results chan domain.GameResult
}

func (r *chanRecorder) RecordGame(_ context.Context, result domain.GameResult) error {
	r.results <- result
	return nil
}

func TestFinishedGameIsRecorded(t *testing.T) {
	ctx := context.Background()
	rec := &chanRecorder{results: make(chan domain.GameResult, 1)}
	h := newHarness(app.Options{Recorder: rec})
	code := createRoom(t, h)
	if _, err := h.service.Join(ctx, code, "p1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := h.service.Start(ctx, code, "host-conn", host); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := h.service.Next(ctx, code, "host-conn", host); err != nil {
			t.Fatalf("next: %v", err)
		}
	}

	select {
	case result := <-rec.results:
		if result.RoomCode != code || result.QuizID != "quiz-1" || len(result.Entries) != 1 {
			t.Fatalf("unexpected result %+v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the game result")
	}
}
