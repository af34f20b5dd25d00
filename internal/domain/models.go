package domain

import (
	"fmt"
	"time"
)

// Question is a multiple-choice question. CorrectIndex never leaves the server
// until the question is revealed.
type Question struct {
	Text         string   `json:"text" yaml:"text"`
	Choices      []string `json:"choices" yaml:"choices"`
	CorrectIndex int      `json:"correctIndex" yaml:"correctIndex"`
	TimeLimitSec int      `json:"timeLimitSec" yaml:"timeLimitSec"`
}

// TimeLimit returns the answer window as a duration.
func (q Question) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitSec) * time.Second
}

// Quiz is the ordered question catalog a room plays through.
type Quiz struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Validate reports whether the quiz can be played.
func (q Quiz) Validate() error {
	if len(q.Questions) == 0 {
		return fmt.Errorf("%w: %q has no questions", ErrInvalidQuiz, q.ID)
	}
	for i, question := range q.Questions {
		if len(question.Choices) < 2 {
			return fmt.Errorf("%w: question %d needs at least two choices", ErrInvalidQuiz, i)
		}
		if question.CorrectIndex < 0 || question.CorrectIndex >= len(question.Choices) {
			return fmt.Errorf("%w: question %d correct index %d out of range", ErrInvalidQuiz, i, question.CorrectIndex)
		}
		if question.TimeLimitSec <= 0 {
			return fmt.Errorf("%w: question %d needs a positive time limit", ErrInvalidQuiz, i)
		}
	}
	return nil
}

// AnswerRecord is the last answer a player gave.
type AnswerRecord struct {
	QIndex      int
	ChoiceIndex int
	ElapsedMs   int64
	Correct     bool
}

// Player is a participant in a room, keyed by its connection id.
type Player struct {
	ID         string
	Name       string
	Score      int
	LastAnswer *AnswerRecord
}

// AnsweredAt reports whether the player has an answer recorded for qIndex.
func (p *Player) AnsweredAt(qIndex int) bool {
	return p.LastAnswer != nil && p.LastAnswer.QIndex == qIndex
}

// LeaderboardEntry is a ranked view of a player.
type LeaderboardEntry struct {
	PlayerID string `json:"-"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

// Capability is what the transport vouches for on a connection.
type Capability int

const (
	CapabilityPlayer Capability = iota
	CapabilityHost
)

// IsHost reports whether the connection presented the host key.
func (c Capability) IsHost() bool {
	return c == CapabilityHost
}

// AnswerResult summarizes the outcome of a submission for a single player.
type AnswerResult struct {
	Correct    bool `json:"correct"`
	Points     int  `json:"points"`
	TotalScore int  `json:"totalScore"`
	Rank       int  `json:"rank"`
}

// RoomCreated is returned to the host after creating a room.
type RoomCreated struct {
	Code      string `json:"code"`
	QuizTitle string `json:"quizTitle"`
	Total     int    `json:"total"`
}

// GameResult is the final standing of a finished game.
type GameResult struct {
	RoomCode string             `json:"roomCode"`
	QuizID   string             `json:"quizId"`
	EndedAt  time.Time          `json:"endedAt"`
	Entries  []LeaderboardEntry `json:"leaderboard"`
}
