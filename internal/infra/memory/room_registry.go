package memory

import (
	"context"
	"fmt"
	"sync"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// maxCodeAttempts bounds code regeneration on collisions.
const maxCodeAttempts = 10

// RoomRegistry is an in-memory implementation of app.RoomRegistry.
type RoomRegistry struct {
	mu       sync.RWMutex
	rooms    map[string]*app.Room
	codeLen  int
	generate func(n int) (string, error)
}

func NewRoomRegistry(codeLength int) *RoomRegistry {
	return &RoomRegistry{
		rooms:    make(map[string]*app.Room),
		codeLen:  codeLength,
		generate: domain.GenerateCode,
	}
}

func (r *RoomRegistry) Create(_ context.Context, newRoom func(code string) *app.Room) (*app.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := r.generate(r.codeLen)
		if err != nil {
			return nil, fmt.Errorf("generate room code: %w", err)
		}
		if _, exists := r.rooms[code]; exists {
			continue
		}
		room := newRoom(code)
		r.rooms[code] = room
		return room, nil
	}
	return nil, fmt.Errorf("%w after %d attempts", domain.ErrCodeSpaceExhausted, maxCodeAttempts)
}

func (r *RoomRegistry) Get(code string) (*app.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[code]
	return room, ok
}

func (r *RoomRegistry) Delete(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, code)
}

func (r *RoomRegistry) List() []*app.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*app.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		list = append(list, room)
	}
	return list
}
