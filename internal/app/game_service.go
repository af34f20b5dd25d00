package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// RoomRegistry is the process-wide table of live rooms (in-memory, Redis-backed, etc).
type RoomRegistry interface {
	// Create picks a free code and registers the room built by newRoom.
	Create(ctx context.Context, newRoom func(code string) *Room) (*Room, error)
	Get(code string) (*Room, bool)
	Delete(code string)
	List() []*Room
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Broadcaster fans events out to connections. Delivery is best effort.
type Broadcaster interface {
	Subscribe(code, connID string)
	Unsubscribe(code, connID string)
	Broadcast(code string, evt domain.Event)
	Send(connID string, evt domain.Event)
	CloseTopic(code string)
}

// ResultRecorder archives final standings.
type ResultRecorder interface {
	RecordGame(ctx context.Context, result domain.GameResult) error
}

// ResultHistory reads archived games back, newest first.
type ResultHistory interface {
	RecentGames(ctx context.Context, roomCode string, limit int) ([]domain.GameResult, error)
}

// Options tunes a GameService. Zero values get defaults.
type Options struct {
	QuizID     string
	NameMaxLen int
	Clock      Clock
	Recorder   ResultRecorder
}

// GameService contains the room-scoped use cases.
type GameService struct {
	rooms    RoomRegistry
	quizzes  QuizRepository
	out      Broadcaster
	quizID   string
	nameMax  int
	clock    Clock
	recorder ResultRecorder
}

func NewGameService(rooms RoomRegistry, quizzes QuizRepository, out Broadcaster, opts Options) *GameService {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.NameMaxLen <= 0 {
		opts.NameMaxLen = domain.DefaultNameMaxLen
	}
	return &GameService{
		rooms:    rooms,
		quizzes:  quizzes,
		out:      out,
		quizID:   opts.QuizID,
		nameMax:  opts.NameMaxLen,
		clock:    opts.Clock,
		recorder: opts.Recorder,
	}
}

// CreateRoom opens a new room hosted by connID.
func (s *GameService) CreateRoom(ctx context.Context, connID string, capability domain.Capability) (domain.RoomCreated, error) {
	if !capability.IsHost() {
		return domain.RoomCreated{}, domain.ErrAuthorizationRequired
	}

	quiz, err := s.quizzes.GetQuiz(ctx, s.quizID)
	if err != nil {
		return domain.RoomCreated{}, err
	}
	if err := quiz.Validate(); err != nil {
		return domain.RoomCreated{}, err
	}

	room, err := s.rooms.Create(ctx, func(code string) *Room {
		return NewRoom(code, connID, RoomConfig{
			Quiz:       quiz,
			Out:        s.out,
			Clock:      s.clock,
			NameMaxLen: s.nameMax,
			Finished:   s.record,
		})
	})
	if err != nil {
		return domain.RoomCreated{}, fmt.Errorf("create room: %w", err)
	}
	room.Run()
	if err := room.Open(ctx); err != nil {
		return domain.RoomCreated{}, err
	}

	log.Info().Str("room", room.Code()).Str("host", connID).Str("quiz", quiz.ID).Msg("room created")
	return domain.RoomCreated{
		Code:      room.Code(),
		QuizTitle: quiz.Title,
		Total:     len(quiz.Questions),
	}, nil
}

// Start begins the game in the room.
func (s *GameService) Start(ctx context.Context, code, connID string, capability domain.Capability) error {
	room, err := s.hostRoom(code, capability)
	if err != nil {
		return err
	}
	return room.Start(ctx, connID)
}

// Reveal ends the active question and publishes its result.
func (s *GameService) Reveal(ctx context.Context, code, connID string, capability domain.Capability) error {
	room, err := s.hostRoom(code, capability)
	if err != nil {
		return err
	}
	return room.Reveal(ctx, connID)
}

// Next advances to the next question and reports whether the game ended.
func (s *GameService) Next(ctx context.Context, code, connID string, capability domain.Capability) (bool, error) {
	room, err := s.hostRoom(code, capability)
	if err != nil {
		return false, err
	}
	return room.Advance(ctx, connID)
}

// Join registers connID as a player of the room.
func (s *GameService) Join(ctx context.Context, code, connID, name string) (domain.RoomState, error) {
	room, err := s.lookup(code)
	if err != nil {
		return domain.RoomState{}, err
	}
	return room.Join(ctx, connID, name)
}

// Answer submits connID's choice for the active question.
func (s *GameService) Answer(ctx context.Context, code, connID string, choiceIndex int) (domain.AnswerResult, error) {
	room, err := s.lookup(code)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	return room.Answer(ctx, connID, choiceIndex)
}

// Leave removes connID from the room's players.
func (s *GameService) Leave(ctx context.Context, code, connID string) error {
	room, err := s.lookup(code)
	if err != nil {
		return err
	}
	return room.Leave(ctx, connID)
}

// RoomState returns the public snapshot of a room.
func (s *GameService) RoomState(ctx context.Context, code string) (domain.RoomState, error) {
	room, err := s.lookup(code)
	if err != nil {
		return domain.RoomState{}, err
	}
	return room.State(ctx)
}

// Disconnect cleans up after a dropped connection in every room it touched.
// Rooms hosted by connID are ended and destroyed.
func (s *GameService) Disconnect(ctx context.Context, connID string) {
	for _, room := range s.rooms.List() {
		if !room.Involves(connID) {
			continue
		}
		closed, err := room.Disconnect(ctx, connID)
		if err != nil {
			continue
		}
		if closed {
			s.destroy(room, "host disconnected")
		}
	}
}

// ReapIdle ends and destroys rooms that executed no command for idle.
func (s *GameService) ReapIdle(ctx context.Context, idle time.Duration) int {
	cutoff := s.clock.Now().Add(-idle)
	reaped := 0
	for _, room := range s.rooms.List() {
		if !room.LastActive().Before(cutoff) {
			continue
		}
		if err := room.Close(ctx); err != nil {
			continue
		}
		s.destroy(room, "idle timeout")
		reaped++
	}
	return reaped
}

// RunReaper calls ReapIdle every interval until ctx is done.
func (s *GameService) RunReaper(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.ReapIdle(ctx, idle); n > 0 {
				log.Info().Int("reaped", n).Int("rooms", s.RoomCount()).Msg("idle rooms reaped")
			}
		}
	}
}

// RoomCount reports the number of live rooms.
func (s *GameService) RoomCount() int {
	return len(s.rooms.List())
}

func (s *GameService) destroy(room *Room, reason string) {
	s.rooms.Delete(room.Code())
	s.out.CloseTopic(room.Code())
	log.Info().Str("room", room.Code()).Str("reason", reason).Msg("room destroyed")
}

func (s *GameService) lookup(code string) (*Room, error) {
	room, ok := s.rooms.Get(domain.NormalizeCode(code))
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

func (s *GameService) hostRoom(code string, capability domain.Capability) (*Room, error) {
	if !capability.IsHost() {
		return nil, domain.ErrAuthorizationRequired
	}
	return s.lookup(code)
}

// record archives a finished game off the room goroutine.
func (s *GameService) record(result domain.GameResult) {
	if s.recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.recorder.RecordGame(ctx, result); err != nil {
			log.Error().Err(err).Str("room", result.RoomCode).Msg("record game result failed")
		}
	}()
}
