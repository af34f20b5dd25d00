package app_test

import (
	"sync"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

// manualClock only moves when told to. Advance fires due timers on the
// calling goroutine; Skip moves time without firing anything.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) app.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Skip(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type recordedEvent struct {
	target string
	event  domain.Event
}

// recordingBroadcaster keeps every event for inspection.
type recordingBroadcaster struct {
	mu         sync.Mutex
	broadcasts []recordedEvent
	sent       []recordedEvent
	subs       map[string]map[string]bool
	closed     []string
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{subs: make(map[string]map[string]bool)}
}

func (b *recordingBroadcaster) Subscribe(code, connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[code] == nil {
		b.subs[code] = make(map[string]bool)
	}
	b.subs[code][connID] = true
}

func (b *recordingBroadcaster) Unsubscribe(code, connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[code], connID)
}

func (b *recordingBroadcaster) Broadcast(code string, evt domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts = append(b.broadcasts, recordedEvent{target: code, event: evt})
}

func (b *recordingBroadcaster) Send(connID string, evt domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, recordedEvent{target: connID, event: evt})
}

func (b *recordingBroadcaster) CloseTopic(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, code)
	b.closed = append(b.closed, code)
}

func (b *recordingBroadcaster) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.broadcasts {
		if r.event.Type == eventType {
			n++
		}
	}
	return n
}

func (b *recordingBroadcaster) last(eventType string) (domain.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.broadcasts) - 1; i >= 0; i-- {
		if b.broadcasts[i].event.Type == eventType {
			return b.broadcasts[i].event, true
		}
	}
	return domain.Event{}, false
}

func (b *recordingBroadcaster) sentTo(connID, eventType string) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, r := range b.sent {
		if r.target == connID && r.event.Type == eventType {
			out = append(out, r.event)
		}
	}
	return out
}

func (b *recordingBroadcaster) subscribed(code, connID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[code][connID]
}

type harness struct {
	service  *app.GameService
	registry *memory.RoomRegistry
	out      *recordingBroadcaster
	clock    *manualClock
}

func newHarness(opts app.Options) *harness {
	h := &harness{
		registry: memory.NewRoomRegistry(domain.DefaultCodeLength),
		out:      newRecordingBroadcaster(),
		clock:    newManualClock(),
	}
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": testQuiz(),
	}), time.Minute)
	opts.QuizID = "quiz-1"
	opts.Clock = h.clock
	h.service = app.NewGameService(h.registry, quizzes, h.out, opts)
	return h
}

func testQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Warm-up",
		Questions: []domain.Question{
			{
				Text:         "What is the capital of Vietnam?",
				Choices:      []string{"Ho Chi Minh City", "Hanoi", "Da Nang", "Hue"},
				CorrectIndex: 1,
				TimeLimitSec: 10,
			},
			{
				Text:         "5 x 6 = ?",
				Choices:      []string{"11", "25", "30", "56"},
				CorrectIndex: 2,
				TimeLimitSec: 10,
			},
		},
	}
}
