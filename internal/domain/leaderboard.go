package domain

import "sort"

const (
	// QuestionTopN is the size of the leaderboard shown after each question.
	QuestionTopN = 5
	// FinalTopN is the size of the leaderboard shown when the game ends.
	FinalTopN = 15
)

// Rank orders players by score descending, then by name using Go's byte-wise
// string comparison (case-sensitive: "Bob" sorts before "alice"), then by id.
func Rank(players map[string]*Player) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, LeaderboardEntry{
			PlayerID: p.ID,
			Name:     p.Name,
			Score:    p.Score,
		})
	}
	SortEntries(entries)
	return entries
}

// SortEntries sorts entries in place into leaderboard order.
func SortEntries(entries []LeaderboardEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].PlayerID < entries[j].PlayerID
	})
}

// Top returns at most n leading entries.
func Top(entries []LeaderboardEntry, n int) []LeaderboardEntry {
	if len(entries) <= n {
		return entries
	}
	return entries[:n]
}

// RankOf returns the 1-based position of playerID, or 0 if absent.
func RankOf(entries []LeaderboardEntry, playerID string) int {
	for i, e := range entries {
		if e.PlayerID == playerID {
			return i + 1
		}
	}
	return 0
}
