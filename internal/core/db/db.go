package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/minusone/internal/core/models"
)

// Timestamps are stored as UTC RFC3339Nano text so that lexicographic
// ordering in sqlite matches chronological ordering.
const timeLayout = time.RFC3339Nano

// A DB struct holds the connection to sqlite and provides methods for interacting with
// persistent storage
type DB struct {
	db *sqlx.DB
}

// New creates an instance of our repository using the provided connection
func New(db *sqlx.DB) DB {
	return DB{
		db: db,
	}
}

// EnsureBudget creates the budget row for a user if it doesn't exist yet,
// initialized to the daily allotment.
func (db DB) EnsureBudget(ctx context.Context, userID string, allotment int64) error {
	q := `
	INSERT INTO votes_per_user(user_id, votes) VALUES (?, ?) ON CONFLICT(user_id) DO NOTHING;
	`
	if _, err := db.db.ExecContext(ctx, q, userID, allotment); err != nil {
		return fmt.Errorf("error initializing votes_per_user row: %s", err)
	}

	return nil
}

// AvailableVotes returns how many votes a user has left today, lazily
// creating their row at the allotment if they've never been seen.
func (db DB) AvailableVotes(ctx context.Context, userID string, allotment int64) (int64, error) {
	if err := db.EnsureBudget(ctx, userID, allotment); err != nil {
		return 0, err
	}

	q := `
	SELECT user_id, votes FROM votes_per_user WHERE user_id = ? LIMIT 1;
	`
	var b models.Budget
	if err := db.db.GetContext(ctx, &b, q, userID); err != nil {
		return 0, fmt.Errorf("error retrieving available votes: %s", err)
	}

	return b.Votes, nil
}

// TryVote spends votes from source's budget and appends the transaction, as
// one sqlite transaction. The read, the clamp, the append, and the decrement
// are never visible partially: either the whole spend lands or none of it.
//
// When clamp is true a request larger than the remaining budget is reduced
// to what's affordable, keeping its sign. When clamp is false such a request
// is rejected outright. Either way the applied (possibly zero) amount is
// returned, and a zero application writes nothing.
func (db DB) TryVote(ctx context.Context, ts time.Time, sourceID, targetID string, votes, allotment int64, clamp bool) (int64, error) {
	tx, err := db.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error beginning vote transaction: %s", err)
	}
	defer tx.Rollback() // no-op once committed

	var available int64
	err = tx.GetContext(ctx, &available, `SELECT votes FROM votes_per_user WHERE user_id = ? LIMIT 1;`, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		available = allotment
		if _, err := tx.ExecContext(ctx, `INSERT INTO votes_per_user(user_id, votes) VALUES (?, ?);`, sourceID, allotment); err != nil {
			return 0, fmt.Errorf("error initializing votes_per_user row: %s", err)
		}
	} else if err != nil {
		return 0, fmt.Errorf("error reading available votes: %s", err)
	}

	applied := votes
	if abs(votes) > available {
		if !clamp {
			return 0, nil
		}
		applied = available
		if votes < 0 {
			applied = -available
		}
	}
	if applied == 0 {
		return 0, nil
	}

	q := `
	INSERT INTO vote_history(timestamp, source_user_id, target_user_id, votes) VALUES (?, ?, ?, ?);
	`
	if _, err := tx.ExecContext(ctx, q, ts.UTC().Format(timeLayout), sourceID, targetID, applied); err != nil {
		return 0, fmt.Errorf("error recording vote: %s", err)
	}

	q = `
	UPDATE votes_per_user SET votes = votes - ? WHERE user_id = ?;
	`
	if _, err := tx.ExecContext(ctx, q, abs(applied), sourceID); err != nil {
		return 0, fmt.Errorf("error decrementing available votes: %s", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing vote transaction: %s", err)
	}

	return applied, nil
}

// RecordVote appends a transaction without touching any budget. Used for
// auto-votes, which are grants rather than spends.
func (db DB) RecordVote(ctx context.Context, tr models.Transaction) error {
	q := `
	INSERT INTO vote_history(timestamp, source_user_id, target_user_id, votes) VALUES (?, ?, ?, ?);
	`
	if _, err := db.db.ExecContext(ctx, q, tr.Timestamp.UTC().Format(timeLayout), tr.SourceID, tr.TargetID, tr.Votes); err != nil {
		return fmt.Errorf("error recording vote: %s", err)
	}

	return nil
}

// AddVotes adjusts a user's remaining budget by delta, flooring at zero.
// The row is created at the allotment first if the user has never been seen.
func (db DB) AddVotes(ctx context.Context, userID string, delta, allotment int64) error {
	if err := db.EnsureBudget(ctx, userID, allotment); err != nil {
		return err
	}

	q := `
	UPDATE votes_per_user SET votes = MAX(votes + ?, 0) WHERE user_id = ?;
	`
	if _, err := db.db.ExecContext(ctx, q, delta, userID); err != nil {
		return fmt.Errorf("error adjusting available votes: %s", err)
	}

	return nil
}

// ResetAll sets every user's remaining budget back to the allotment.
func (db DB) ResetAll(ctx context.Context, allotment int64) error {
	q := `
	UPDATE votes_per_user SET votes = ?;
	`
	if _, err := db.db.ExecContext(ctx, q, allotment); err != nil {
		return fmt.Errorf("error resetting available votes: %s", err)
	}

	return nil
}

// Leaderboard sums votes grouped by target (received) or source (issued)
// and returns the limit highest (top) or lowest rows. Rows come back in the
// query's own order; the caller re-sorts for display.
func (db DB) Leaderboard(ctx context.Context, limit int64, top, received bool) ([]models.BoardEntry, error) {
	col := "source_user_id"
	if received {
		col = "target_user_id"
	}
	dir := "ASC"
	if top {
		dir = "DESC"
	}

	// col and dir only ever hold the literals above; limit is bound.
	q := fmt.Sprintf(`
	SELECT %s AS user_id, SUM(votes) AS votes FROM vote_history GROUP BY %s ORDER BY votes %s LIMIT ?;
	`, col, col, dir)

	entries := make([]models.BoardEntry, 0, limit)
	if err := db.db.SelectContext(ctx, &entries, q, limit); err != nil {
		return nil, fmt.Errorf("error retrieving leaderboard: %s", err)
	}

	return entries, nil
}

// DistinctUsers counts how many distinct targets (received) or sources
// (issued) appear anywhere in the history.
func (db DB) DistinctUsers(ctx context.Context, received bool) (int64, error) {
	col := "source_user_id"
	if received {
		col = "target_user_id"
	}

	q := fmt.Sprintf(`
	SELECT COUNT(DISTINCT %s) FROM vote_history;
	`, col)

	var count int64
	if err := db.db.GetContext(ctx, &count, q); err != nil {
		return 0, fmt.Errorf("error counting users: %s", err)
	}

	return count, nil
}

// TotalVotes sums everything a user has received. Zero if they never have.
func (db DB) TotalVotes(ctx context.Context, userID string) (int64, error) {
	q := `
	SELECT COALESCE(SUM(votes), 0) FROM vote_history WHERE target_user_id = ?;
	`

	var total int64
	if err := db.db.GetContext(ctx, &total, q, userID); err != nil {
		return 0, fmt.Errorf("error totalling votes: %s", err)
	}

	return total, nil
}

// History returns every vote a user has received, oldest first.
func (db DB) History(ctx context.Context, userID string) ([]models.HistoryPoint, error) {
	q := `
	SELECT timestamp, source_user_id, votes FROM vote_history WHERE target_user_id = ? ORDER BY timestamp;
	`

	rows := []struct {
		Timestamp string `db:"timestamp"`
		SourceID  string `db:"source_user_id"`
		Votes     int64  `db:"votes"`
	}{}
	if err := db.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, fmt.Errorf("error retrieving vote history: %s", err)
	}

	points := make([]models.HistoryPoint, 0, len(rows))
	for _, r := range rows {
		ts, err := time.Parse(timeLayout, r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("error parsing history timestamp %q: %s", r.Timestamp, err)
		}
		points = append(points, models.HistoryPoint{
			Timestamp: ts,
			SourceID:  r.SourceID,
			Votes:     r.Votes,
		})
	}

	return points, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
