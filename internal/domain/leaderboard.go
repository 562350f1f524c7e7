package domain

import (
	"sort"
	"time"
)

// StepTotal is a user's summed steps over a period, as reported by the
// step aggregation service.
type StepTotal struct {
	UserID     string `json:"user_id"`
	TotalSteps int64  `json:"total_steps"`
}

// Standing is a ranked step total.
type Standing struct {
	UserID     string
	TotalSteps int64
	Rank       int
}

// LeaderboardEntry represents a single entry in the leaderboard
type LeaderboardEntry struct {
	UserID        string  `json:"user_id"`
	DisplayName   string  `json:"display_name"`
	AvatarURL     *string `json:"avatar_url,omitempty"`
	TotalSteps    int64   `json:"total_steps"`
	Rank          int     `json:"rank"`
	RankChange    int     `json:"rank_change"`
	IsCurrentUser bool    `json:"is_current_user"`
}

// Leaderboard is a group's ranking for its current competition period.
type Leaderboard struct {
	GroupID        string             `json:"group_id"`
	PeriodType     PeriodType         `json:"period_type"`
	Period         Period             `json:"period"`
	PreviousPeriod Period             `json:"previous_period"`
	Entries        []LeaderboardEntry `json:"entries"`
	GeneratedAt    time.Time          `json:"generated_at"`
}

// RankTotals orders totals by steps descending, breaking ties by user id, and
// assigns the dense sequence 1..N. Equal totals never share a rank.
func RankTotals(totals []StepTotal) []Standing {
	sorted := make([]StepTotal, len(totals))
	copy(sorted, totals)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TotalSteps != sorted[j].TotalSteps {
			return sorted[i].TotalSteps > sorted[j].TotalSteps
		}
		return sorted[i].UserID < sorted[j].UserID
	})

	standings := make([]Standing, len(sorted))
	for i, t := range sorted {
		standings[i] = Standing{UserID: t.UserID, TotalSteps: t.TotalSteps, Rank: i + 1}
	}
	return standings
}

// MemberTotals restricts totals to memberIDs and fills members without
// activity with zero. Duplicate rows for a user are summed.
func MemberTotals(memberIDs []string, totals []StepTotal) []StepTotal {
	byUser := make(map[string]int64, len(totals))
	for _, t := range totals {
		byUser[t.UserID] += t.TotalSteps
	}
	out := make([]StepTotal, 0, len(memberIDs))
	seen := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, StepTotal{UserID: id, TotalSteps: byUser[id]})
	}
	return out
}

// PreviousRanks ranks only users with steps in the previous window. Users
// with no steps there are unranked and get a rank change of zero.
func PreviousRanks(totals []StepTotal) map[string]int {
	active := make([]StepTotal, 0, len(totals))
	for _, t := range totals {
		if t.TotalSteps > 0 {
			active = append(active, t)
		}
	}
	ranks := make(map[string]int, len(active))
	for _, s := range RankTotals(active) {
		ranks[s.UserID] = s.Rank
	}
	return ranks
}

// RankChange is previous minus current rank: positive when the user moved up,
// zero when unranked before.
func RankChange(current int, previous map[string]int, userID string) int {
	prev, ok := previous[userID]
	if !ok {
		return 0
	}
	return prev - current
}
