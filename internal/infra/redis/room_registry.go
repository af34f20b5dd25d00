package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const (
	maxCodeAttempts = 10
	releaseTimeout  = 2 * time.Second
)

// RoomRegistry keeps live rooms in process and reserves their codes in Redis
// so that instances sharing a Redis never hand out the same code.
// Reservations are SET NX quiz:room:{code} {owner} with a TTL; Refresh keeps
// them alive while the room exists.
type RoomRegistry struct {
	client   *redis.Client
	owner    string
	ttl      time.Duration
	codeLen  int
	generate func(n int) (string, error)
	// release bounds the DEL issued when a room is torn down.
	release  time.Duration

	mu    sync.RWMutex
	rooms map[string]*app.Room
}

func NewRoomRegistry(client *redis.Client, owner string, ttl time.Duration, codeLength int) *RoomRegistry {
	return &RoomRegistry{
		client:   client,
		owner:    owner,
		ttl:      ttl,
		codeLen:  codeLength,
		generate: domain.GenerateCode,
		release:  releaseTimeout,
		rooms:    make(map[string]*app.Room),
	}
}

func (r *RoomRegistry) Create(ctx context.Context, newRoom func(code string) *app.Room) (*app.Room, error) {
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
		ok, err := r.client.SetNX(ctx, r.key(code), r.owner, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("reserve room code: %w", err)
		}
		if !ok {
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
	_, ok := r.rooms[code]
	delete(r.rooms, code)
	r.mu.Unlock()
	if !ok {
		return
	}
	// best effort; the TTL clears it otherwise
	ctx, cancel := context.WithTimeout(context.Background(), r.release)
	defer cancel()
	_ = r.client.Del(ctx, r.key(code)).Err()
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

// Refresh extends the reservation of every live room.
func (r *RoomRegistry) Refresh(ctx context.Context) error {
	if r.ttl <= 0 {
		return nil
	}
	r.mu.RLock()
	codes := make([]string, 0, len(r.rooms))
	for code := range r.rooms {
		codes = append(codes, code)
	}
	r.mu.RUnlock()
	if len(codes) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, code := range codes {
		pipe.Expire(ctx, r.key(code), r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// RunRefresher calls Refresh every interval until ctx is done.
func (r *RoomRegistry) RunRefresher(ctx context.Context, interval time.Duration, onErr func(error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}

func (r *RoomRegistry) key(code string) string {
	return "quiz:room:" + code
}
