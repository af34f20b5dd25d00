package domain

// Event names broadcast to connections subscribed to a room.
const (
	EventRoomState        = "room:state"
	EventQuestionStart    = "question:start"
	EventQuestionProgress = "question:progress"
	EventQuestionEnd      = "question:end"
	EventGameEnd          = "game:end"
	EventPlayersCount     = "players:count"
)

// Event is one outbound message.
type Event struct {
	Type    string
	Payload any
}

// RoomState is the idempotent room snapshot sent after every state change.
type RoomState struct {
	Code    string `json:"code"`
	Started bool   `json:"started"`
	Ended   bool   `json:"ended"`
	QIndex  int    `json:"qIndex"`
	Total   int    `json:"total"`
}

// QuestionStart announces a question. It deliberately has no correct index.
type QuestionStart struct {
	QIndex       int      `json:"qIndex"`
	Total        int      `json:"total"`
	Text         string   `json:"text"`
	Choices      []string `json:"choices"`
	TimeLimitSec int      `json:"timeLimitSec"`
	StartedAtMs  int64    `json:"startedAtMs"`
}

type QuestionProgress struct {
	Answered     int `json:"answered"`
	TotalPlayers int `json:"totalPlayers"`
}

type QuestionEnd struct {
	QIndex       int                `json:"qIndex"`
	CorrectIndex int                `json:"correctIndex"`
	Top5         []LeaderboardEntry `json:"top5"`
}

type GameEnd struct {
	Top15        []LeaderboardEntry `json:"top15"`
	TotalPlayers int                `json:"totalPlayers"`
}

type PlayersCount struct {
	Count int `json:"count"`
}
