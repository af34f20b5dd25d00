package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"live-quiz-service/internal/domain"
)

// GameResultModel is one finished game.
type GameResultModel struct {
	bun.BaseModel `bun:"table:game_results,alias:gr"`

	ID           int64     `bun:"id,pk,autoincrement"`
	RoomCode     string    `bun:"room_code,notnull"`
	QuizID       string    `bun:"quiz_id,notnull"`
	TotalPlayers int       `bun:"total_players,notnull"`
	EndedAt      time.Time `bun:"ended_at,notnull"`

	Players []*GameResultPlayerModel `bun:"rel:has-many,join:id=game_result_id"`
}

// GameResultPlayerModel is one ranked row of a finished game.
type GameResultPlayerModel struct {
	bun.BaseModel `bun:"table:game_result_players,alias:grp"`

	GameResultID int64  `bun:"game_result_id,pk"`
	Rank         int    `bun:"rank,pk"`
	Name         string `bun:"name,notnull"`
	Score        int    `bun:"score,notnull"`
}

// ResultsRecorder archives final leaderboards with bun.
type ResultsRecorder struct {
	db *bun.DB
}

func NewResultsRecorder(db *bun.DB) *ResultsRecorder {
	return &ResultsRecorder{db: db}
}

// RecordGame stores the game and its full ranking in one transaction.
func (r *ResultsRecorder) RecordGame(ctx context.Context, result domain.GameResult) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		game := &GameResultModel{
			RoomCode:     result.RoomCode,
			QuizID:       result.QuizID,
			TotalPlayers: len(result.Entries),
			EndedAt:      result.EndedAt,
		}
		if _, err := tx.NewInsert().Model(game).Returning("id").Exec(ctx); err != nil {
			return fmt.Errorf("insert game result: %w", err)
		}
		if len(result.Entries) == 0 {
			return nil
		}

		players := make([]*GameResultPlayerModel, 0, len(result.Entries))
		for i, entry := range result.Entries {
			players = append(players, &GameResultPlayerModel{
				GameResultID: game.ID,
				Rank:         i + 1,
				Name:         entry.Name,
				Score:        entry.Score,
			})
		}
		if _, err := tx.NewInsert().Model(&players).Exec(ctx); err != nil {
			return fmt.Errorf("insert game result players: %w", err)
		}
		return nil
	})
}

// RecentGames returns the latest finished games of a room with their ranking.
func (r *ResultsRecorder) RecentGames(ctx context.Context, roomCode string, limit int) ([]domain.GameResult, error) {
	var games []GameResultModel
	err := r.db.NewSelect().
		Model(&games).
		Relation("Players", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("grp.rank ASC")
		}).
		Where("gr.room_code = ?", roomCode).
		Order("gr.ended_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select game results: %w", err)
	}

	results := make([]domain.GameResult, 0, len(games))
	for _, game := range games {
		entries := make([]domain.LeaderboardEntry, 0, len(game.Players))
		for _, p := range game.Players {
			entries = append(entries, domain.LeaderboardEntry{Name: p.Name, Score: p.Score})
		}
		results = append(results, domain.GameResult{
			RoomCode: game.RoomCode,
			QuizID:   game.QuizID,
			EndedAt:  game.EndedAt,
			Entries:  entries,
		})
	}
	return results, nil
}
