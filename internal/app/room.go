package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

const inboxSize = 64

// Room owns the state of one game. All state below the inbox is touched only
// by the run goroutine; every command and every timer expiry is a task that
// goes through the inbox, so they never interleave.
type Room struct {
	code       string
	hostID     string
	quiz       domain.Quiz
	out        Broadcaster
	clock      Clock
	nameMaxLen int
	finished   func(domain.GameResult)

	inbox      chan func()
	done       chan struct{}
	runOnce    sync.Once
	lastActive atomic.Int64
	// members holds the host and player connection ids. Written on the run
	// goroutine, read by Involves from any goroutine.
	members    sync.Map

	started  bool
	ended    bool
	revealed bool
	closing  bool
	qIndex   int
	qStartAt time.Time
	timer    Timer
	timerSeq uint64
	players  map[string]*domain.Player
}

// RoomConfig carries what a room needs besides its identity.
type RoomConfig struct {
	Quiz       domain.Quiz
	Out        Broadcaster
	Clock      Clock
	NameMaxLen int
	// Finished is called on the room goroutine once the game ends.
	Finished func(domain.GameResult)
}

// NewRoom builds a room in the lobby state. It does not process commands
// until Run is called.
func NewRoom(code, hostID string, cfg RoomConfig) *Room {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	r := &Room{
		code:       code,
		hostID:     hostID,
		quiz:       cfg.Quiz,
		out:        cfg.Out,
		clock:      clock,
		nameMaxLen: cfg.NameMaxLen,
		finished:   cfg.Finished,
		inbox:      make(chan func(), inboxSize),
		done:       make(chan struct{}),
		players:    make(map[string]*domain.Player),
	}
	r.members.Store(hostID, struct{}{})
	r.touch()
	return r
}

// Code returns the room code.
func (r *Room) Code() string {
	return r.code
}

// HostID returns the connection id of the room creator.
func (r *Room) HostID() string {
	return r.hostID
}

// Involves reports whether connID is the host or a player of the room.
func (r *Room) Involves(connID string) bool {
	_, ok := r.members.Load(connID)
	return ok
}

// LastActive is the time of the last command the room executed.
func (r *Room) LastActive() time.Time {
	return time.Unix(0, r.lastActive.Load())
}

// Run starts the room goroutine. Calling it more than once is a no-op.
func (r *Room) Run() {
	r.runOnce.Do(func() {
		go r.loop()
	})
}

func (r *Room) loop() {
	for {
		select {
		case <-r.done:
			return
		case task := <-r.inbox:
			task()
			if r.closing {
				r.stopTimer()
				close(r.done)
				return
			}
		}
	}
}

// exec runs fn on the room goroutine, marks the room active and waits.
func (r *Room) exec(ctx context.Context, fn func()) error {
	return r.call(ctx, func() {
		r.touch()
		fn()
	})
}

// call runs fn on the room goroutine and waits for it. It leaves LastActive
// alone; fn touches the room itself if it changes anything.
func (r *Room) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case r.inbox <- task:
	case <-r.done:
		return domain.ErrRoomNotFound
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-r.done:
		select {
		case <-finished:
			return nil
		default:
			return domain.ErrRoomNotFound
		}
	}
}

// post enqueues fn without waiting. Used by timers.
func (r *Room) post(fn func()) {
	select {
	case r.inbox <- fn:
	case <-r.done:
	}
}

func (r *Room) touch() {
	r.lastActive.Store(r.clock.Now().UnixNano())
}

// Open subscribes the host to the room topic and announces the lobby state.
func (r *Room) Open(ctx context.Context) error {
	return r.exec(ctx, func() {
		r.out.Subscribe(r.code, r.hostID)
		r.broadcastState()
	})
}

// State returns the public room snapshot.
func (r *Room) State(ctx context.Context) (domain.RoomState, error) {
	var state domain.RoomState
	err := r.exec(ctx, func() {
		state = r.state()
	})
	return state, err
}

// Start moves the room from the lobby to the first question.
func (r *Room) Start(ctx context.Context, connID string) error {
	var err error
	if execErr := r.exec(ctx, func() {
		if connID != r.hostID {
			err = domain.ErrNotHost
			return
		}
		if r.started {
			err = domain.ErrAlreadyStarted
			return
		}
		r.started = true
		r.qIndex = 0
		r.startQuestion()
		r.broadcastState()
		log.Info().Str("room", r.code).Int("questions", len(r.quiz.Questions)).Msg("game started")
	}); execErr != nil {
		return execErr
	}
	return err
}

// Reveal ends the active question early. It is a no-op once the question is
// revealed or the game is over.
func (r *Room) Reveal(ctx context.Context, connID string) error {
	var err error
	if execErr := r.exec(ctx, func() {
		if connID != r.hostID {
			err = domain.ErrNotHost
			return
		}
		if !r.started {
			err = domain.ErrNotStarted
			return
		}
		r.reveal()
	}); execErr != nil {
		return execErr
	}
	return err
}

// Advance reveals the current question and moves to the next one, ending the
// game when the catalog is exhausted. It reports whether the game ended.
func (r *Room) Advance(ctx context.Context, connID string) (bool, error) {
	var (
		ended bool
		err   error
	)
	if execErr := r.exec(ctx, func() {
		if connID != r.hostID {
			err = domain.ErrNotHost
			return
		}
		if !r.started {
			err = domain.ErrNotStarted
			return
		}
		if r.ended {
			err = domain.ErrGameEnded
			return
		}
		r.reveal()
		r.qIndex++
		if r.qIndex < len(r.quiz.Questions) {
			r.startQuestion()
			r.broadcastState()
			return
		}
		r.endGame()
		ended = true
	}); execErr != nil {
		return false, execErr
	}
	return ended, err
}

// Join adds or resets the player for connID and subscribes it to the room.
func (r *Room) Join(ctx context.Context, connID, rawName string) (domain.RoomState, error) {
	name := domain.CleanName(rawName, r.nameMaxLen)
	var (
		state domain.RoomState
		err   error
	)
	if execErr := r.exec(ctx, func() {
		if r.ended {
			err = domain.ErrGameEnded
			return
		}
		if name == "" {
			err = domain.ErrMissingName
			return
		}
		r.players[connID] = &domain.Player{ID: connID, Name: name}
		r.members.Store(connID, struct{}{})
		r.out.Subscribe(r.code, connID)
		r.broadcastCount()
		if r.questionActive() {
			r.out.Send(connID, domain.Event{Type: domain.EventQuestionStart, Payload: r.questionPayload()})
		}
		r.broadcastState()
		state = r.state()
		log.Debug().Str("room", r.code).Str("conn", connID).Str("name", name).Msg("player joined")
	}); execErr != nil {
		return domain.RoomState{}, execErr
	}
	return state, err
}

// Answer scores connID's choice for the active question. A player gets at
// most one scored answer per question.
func (r *Room) Answer(ctx context.Context, connID string, choiceIndex int) (domain.AnswerResult, error) {
	var (
		result domain.AnswerResult
		err    error
	)
	if execErr := r.exec(ctx, func() {
		if !r.started {
			err = domain.ErrNotStarted
			return
		}
		if r.ended {
			err = domain.ErrGameEnded
			return
		}
		player, ok := r.players[connID]
		if !ok {
			err = domain.ErrNotJoined
			return
		}
		if r.qIndex >= len(r.quiz.Questions) {
			err = domain.ErrNoActiveQuestion
			return
		}
		if player.AnsweredAt(r.qIndex) {
			err = domain.ErrAlreadyAnswered
			return
		}
		if r.revealed {
			err = domain.ErrNoActiveQuestion
			return
		}

		q := r.quiz.Questions[r.qIndex]
		elapsedMs := r.clock.Now().Sub(r.qStartAt).Milliseconds()
		// The expiry may still be queued behind this task.
		if elapsedMs > int64(q.TimeLimitSec)*1000 {
			err = domain.ErrNoActiveQuestion
			return
		}
		correct := choiceIndex == q.CorrectIndex
		points := domain.Points(correct, elapsedMs, q.TimeLimitSec)

		player.Score += points
		player.LastAnswer = &domain.AnswerRecord{
			QIndex:      r.qIndex,
			ChoiceIndex: choiceIndex,
			ElapsedMs:   elapsedMs,
			Correct:     correct,
		}

		result = domain.AnswerResult{
			Correct:    correct,
			Points:     points,
			TotalScore: player.Score,
			Rank:       domain.RankOf(domain.Rank(r.players), connID),
		}
		r.out.Broadcast(r.code, domain.Event{Type: domain.EventQuestionProgress, Payload: domain.QuestionProgress{
			Answered:     r.answeredCount(),
			TotalPlayers: len(r.players),
		}})
		log.Debug().Str("room", r.code).Str("conn", connID).Bool("correct", correct).Int("points", points).Msg("answer scored")
	}); execErr != nil {
		return domain.AnswerResult{}, execErr
	}
	return result, err
}

// Leave removes the player for connID.
func (r *Room) Leave(ctx context.Context, connID string) error {
	var err error
	if execErr := r.exec(ctx, func() {
		if !r.removePlayer(connID) {
			err = domain.ErrNotJoined
		}
	}); execErr != nil {
		return execErr
	}
	return err
}

// Disconnect handles a dropped connection. If it was the host the game is
// forced to its end and the room shuts down; the return value reports that.
// A connection the room does not know leaves it untouched.
func (r *Room) Disconnect(ctx context.Context, connID string) (bool, error) {
	var closed bool
	err := r.call(ctx, func() {
		if connID == r.hostID {
			r.touch()
			r.forceEnd()
			closed = true
			return
		}
		if r.removePlayer(connID) {
			r.touch()
		}
	})
	return closed, err
}

// Close force-ends the game and shuts the room down.
func (r *Room) Close(ctx context.Context) error {
	return r.exec(ctx, r.forceEnd)
}

// Done is closed once the room goroutine has stopped.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

func (r *Room) forceEnd() {
	if !r.ended {
		if r.started {
			r.reveal()
		}
		r.endGame()
	}
	r.closing = true
}

func (r *Room) removePlayer(connID string) bool {
	if _, ok := r.players[connID]; !ok {
		return false
	}
	delete(r.players, connID)
	// A host that also played keeps its subscription to drive the game.
	if connID != r.hostID {
		r.members.Delete(connID)
		r.out.Unsubscribe(r.code, connID)
	}
	r.broadcastCount()
	r.broadcastState()
	log.Debug().Str("room", r.code).Str("conn", connID).Msg("player left")
	return true
}

func (r *Room) startQuestion() {
	r.stopTimer()
	r.qStartAt = r.clock.Now()
	r.revealed = false
	for _, p := range r.players {
		p.LastAnswer = nil
	}
	r.out.Broadcast(r.code, domain.Event{Type: domain.EventQuestionStart, Payload: r.questionPayload()})

	seq := r.timerSeq
	limit := r.quiz.Questions[r.qIndex].TimeLimit()
	r.timer = r.clock.AfterFunc(limit, func() {
		r.post(func() { r.expire(seq) })
	})
}

func (r *Room) expire(seq uint64) {
	if seq != r.timerSeq {
		return
	}
	r.timer = nil
	r.reveal()
}

// stopTimer cancels the armed timer and invalidates any expiry already queued.
func (r *Room) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerSeq++
}

func (r *Room) reveal() {
	if !r.started || r.ended || r.revealed {
		return
	}
	r.stopTimer()
	r.revealed = true

	q := r.quiz.Questions[r.qIndex]
	lb := domain.Rank(r.players)
	r.out.Broadcast(r.code, domain.Event{Type: domain.EventQuestionEnd, Payload: domain.QuestionEnd{
		QIndex:       r.qIndex,
		CorrectIndex: q.CorrectIndex,
		Top5:         domain.Top(lb, domain.QuestionTopN),
	}})
	r.broadcastState()
}

func (r *Room) endGame() {
	r.ended = true
	r.stopTimer()

	lb := domain.Rank(r.players)
	r.out.Broadcast(r.code, domain.Event{Type: domain.EventGameEnd, Payload: domain.GameEnd{
		Top15:        domain.Top(lb, domain.FinalTopN),
		TotalPlayers: len(lb),
	}})
	r.broadcastState()
	log.Info().Str("room", r.code).Int("players", len(lb)).Msg("game ended")

	if r.finished != nil {
		r.finished(domain.GameResult{
			RoomCode: r.code,
			QuizID:   r.quiz.ID,
			EndedAt:  r.clock.Now(),
			Entries:  lb,
		})
	}
}

func (r *Room) questionActive() bool {
	return r.started && !r.ended && !r.revealed && r.qIndex < len(r.quiz.Questions)
}

func (r *Room) answeredCount() int {
	n := 0
	for _, p := range r.players {
		if p.AnsweredAt(r.qIndex) {
			n++
		}
	}
	return n
}

func (r *Room) state() domain.RoomState {
	return domain.RoomState{
		Code:    r.code,
		Started: r.started,
		Ended:   r.ended,
		QIndex:  r.qIndex,
		Total:   len(r.quiz.Questions),
	}
}

func (r *Room) questionPayload() domain.QuestionStart {
	q := r.quiz.Questions[r.qIndex]
	return domain.QuestionStart{
		QIndex:       r.qIndex,
		Total:        len(r.quiz.Questions),
		Text:         q.Text,
		Choices:      q.Choices,
		TimeLimitSec: q.TimeLimitSec,
		StartedAtMs:  r.qStartAt.UnixMilli(),
	}
}

func (r *Room) broadcastState() {
	r.out.Broadcast(r.code, domain.Event{Type: domain.EventRoomState, Payload: r.state()})
}

func (r *Room) broadcastCount() {
	r.out.Broadcast(r.code, domain.Event{Type: domain.EventPlayersCount, Payload: domain.PlayersCount{Count: len(r.players)}})
}
