package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jdholdren/minusone/internal/core/db"
	"github.com/jdholdren/minusone/internal/core/models"
)

// MaxBoardLimit caps how many rows a leaderboard query may ask for.
const MaxBoardLimit = 50

// A Policy decides what happens when a vote's magnitude exceeds the
// source's remaining budget.
type Policy string

const (
	// PolicyClamp reduces the request to the largest affordable magnitude,
	// keeping its sign. A +5 with 2 remaining applies +2.
	PolicyClamp Policy = "clamp"
	// PolicyReject applies nothing when the request can't be fully
	// afforded. A +5 with 2 remaining applies 0 and leaves 2 remaining.
	PolicyReject Policy = "reject"
)

// ParsePolicy maps a config string onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyClamp, PolicyReject:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown vote policy %q", s)
}

type Core struct {
	db        db.DB
	allotment int64
	policy    Policy
}

func New(db db.DB, allotment int64, policy Policy) Core {
	return Core{
		db:        db,
		allotment: allotment,
		policy:    policy,
	}
}

// TryVote spends votes from source's daily budget toward target and returns
// the signed amount actually applied, which is zero when nothing could be
// spent. The spend is atomic per source: concurrent calls can't jointly
// overdraw the budget.
func (c Core) TryVote(ctx context.Context, ts time.Time, sourceID, targetID string, votes int64) (int64, error) {
	if votes == 0 {
		return 0, nil
	}

	applied, err := c.db.TryVote(ctx, ts, sourceID, targetID, votes, c.allotment, c.policy == PolicyClamp)
	if err != nil {
		return 0, fmt.Errorf("error applying vote: %s", err)
	}

	return applied, nil
}

// RecordAutoVote appends a transaction granted by an auto-vote rule. It is
// not a spend: no budget is read or decremented.
func (c Core) RecordAutoVote(ctx context.Context, ts time.Time, botID, targetID string, votes int64) error {
	if votes == 0 {
		return nil
	}

	tr := models.Transaction{
		Timestamp: ts,
		SourceID:  botID,
		TargetID:  targetID,
		Votes:     votes,
	}
	if err := c.db.RecordVote(ctx, tr); err != nil {
		return fmt.Errorf("error recording auto-vote: %s", err)
	}

	return nil
}

// AvailableVotes reports how many votes a user has left today, initializing
// them at the allotment on first sight.
func (c Core) AvailableVotes(ctx context.Context, userID string) (int64, error) {
	votes, err := c.db.AvailableVotes(ctx, userID, c.allotment)
	if err != nil {
		return 0, fmt.Errorf("error getting available votes: %s", err)
	}

	return votes, nil
}

// Grant adds (or, negative, removes) votes from a user's remaining budget.
// The budget never goes below zero.
func (c Core) Grant(ctx context.Context, userID string, votes int64) error {
	if err := c.db.AddVotes(ctx, userID, votes, c.allotment); err != nil {
		return fmt.Errorf("error granting votes: %s", err)
	}

	return nil
}

// ResetAllBudgets sets every known user back to the full daily allotment.
func (c Core) ResetAllBudgets(ctx context.Context) error {
	if err := c.db.ResetAll(ctx, c.allotment); err != nil {
		return fmt.Errorf("error resetting budgets: %s", err)
	}

	return nil
}

// Leaderboard returns up to limit users ranked by summed votes received
// (received) or issued. top selects the highest sums, otherwise the lowest.
// Entries always come back sorted descending by value so a "bottom N" list
// still reads top-down; the caller derives bottom rank numbers from
// DistinctUsers.
func (c Core) Leaderboard(ctx context.Context, limit int64, top, received bool) ([]models.BoardEntry, error) {
	if limit < 0 {
		limit = 0
	}
	if limit > MaxBoardLimit {
		limit = MaxBoardLimit
	}

	entries, err := c.db.Leaderboard(ctx, limit, top, received)
	if err != nil {
		return nil, fmt.Errorf("error getting leaderboard: %s", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Votes > entries[j].Votes
	})

	return entries, nil
}

// DistinctUsers counts how many users have ever received (received) or
// issued votes.
func (c Core) DistinctUsers(ctx context.Context, received bool) (int64, error) {
	count, err := c.db.DistinctUsers(ctx, received)
	if err != nil {
		return 0, fmt.Errorf("error counting users: %s", err)
	}

	return count, nil
}

// TotalVotes is the running net score for a user: the sum of everything
// they've received.
func (c Core) TotalVotes(ctx context.Context, userID string) (int64, error) {
	total, err := c.db.TotalVotes(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("error totalling votes: %s", err)
	}

	return total, nil
}

// History returns every vote a user has received in chronological order.
func (c Core) History(ctx context.Context, userID string) ([]models.HistoryPoint, error) {
	points, err := c.db.History(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting history: %s", err)
	}

	return points, nil
}
