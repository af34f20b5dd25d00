package domain

import "errors"

// Command errors. The message of each is sent verbatim to the calling
// connection, so keep them readable.
var (
	// ErrRoomNotFound is returned when no room is registered under a code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotHost is returned when a host command comes from a connection other than the room creator.
	ErrNotHost = errors.New("only the room host can do that")
	// ErrAlreadyStarted is returned by start on a room that has already started.
	ErrAlreadyStarted = errors.New("game already started")
	// ErrNotStarted is returned when a command needs a running game.
	ErrNotStarted = errors.New("game has not started")
	// ErrGameEnded is returned for any mutation after the game is over.
	ErrGameEnded = errors.New("game has ended")
	// ErrMissingName is returned when a player joins with an empty display name.
	ErrMissingName = errors.New("a name is required to join")
	// ErrNotJoined is returned when a connection answers without joining first.
	ErrNotJoined = errors.New("you have not joined this room")
	// ErrNoActiveQuestion is returned when no question is accepting answers.
	ErrNoActiveQuestion = errors.New("no question is accepting answers")
	// ErrAlreadyAnswered is returned for a second answer to the same question.
	ErrAlreadyAnswered = errors.New("you already answered this question")
	// ErrAuthorizationRequired is returned for host commands without host capability.
	ErrAuthorizationRequired = errors.New("host key required for host commands")
)

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrInvalidQuiz indicates quiz content that cannot be played.
	ErrInvalidQuiz = errors.New("invalid quiz")
	// ErrCodeSpaceExhausted is returned when no free room code was found.
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique room code")
)
