// Package models provides the structs exposed by the core package,
// but put in an independent package to break the dependency cycle
// between `core` and `db`
package models

import "time"

// A Budget is the number of votes a user has left to spend today
type Budget struct {
	UserID string `db:"user_id"`
	Votes  int64  `db:"votes"`
}

// A Transaction is one recorded vote. Rows are append-only: once written
// they are never updated or deleted, and every amount is nonzero.
type Transaction struct {
	ID        int64     `db:"vote_id"`
	Timestamp time.Time `db:"timestamp"`
	SourceID  string    `db:"source_user_id"`
	TargetID  string    `db:"target_user_id"`
	Votes     int64     `db:"votes"`
}

// An Intent is the parsed, not-yet-applied result of one message:
// who to vote for and by how much. It is never persisted.
type Intent struct {
	TargetID string
	Votes    int64
}

// An AutoVote is a configured content trigger. When a message satisfies
// every set field, the configured amount is granted to the message author
// without touching anyone's budget.
type AutoVote struct {
	// UserID restricts the trigger to messages from this author. Empty
	// matches any author.
	UserID string `json:"user_id"`
	// ChannelID restricts the trigger to one channel. Empty matches any.
	ChannelID string `json:"channel_id"`
	// Contains is the substring the message content must include.
	Contains string `json:"contains"`
	// Votes is the amount granted on match. A zero here disables the rule.
	Votes int64 `json:"votes"`
}

// A BoardEntry is one leaderboard row: a user and their summed votes.
type BoardEntry struct {
	UserID string `db:"user_id"`
	Votes  int64  `db:"votes"`
}

// A HistoryPoint is one received vote in a user's chronological history.
type HistoryPoint struct {
	Timestamp time.Time `db:"timestamp"`
	SourceID  string    `db:"source_user_id"`
	Votes     int64     `db:"votes"`
}
