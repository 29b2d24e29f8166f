package core

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	coredb "github.com/jdholdren/minusone/internal/core/db"
	"github.com/jdholdren/minusone/internal/core/models"
)

var (
	sqlxDB *sqlx.DB
	coreDB coredb.DB
)

func removeDB() {
	os.Remove("../../test.sqlite")
	os.Remove("../../test.sqlite-shm")
	os.Remove("../../test.sqlite-wal")
}

func truncateDB(t *testing.T) {
	t.Helper()
	if _, err := sqlxDB.Exec("DELETE FROM votes_per_user;"); err != nil {
		t.Fatalf("unexpected error truncating votes_per_user: %s", err)
	}
	if _, err := sqlxDB.Exec("DELETE FROM vote_history;"); err != nil {
		t.Fatalf("unexpected error truncating vote_history: %s", err)
	}
}

func TestMain(t *testing.M) {
	u, err := url.Parse("../../test.sqlite")
	if err != nil {
		fmt.Println("error parsing url: ", err)
		os.Exit(1)
	}

	q := u.Query()
	q.Add("_journal", "WAL")
	u.RawQuery = q.Encode()

	sqlxDB, err = sqlx.Open("sqlite", u.String())
	if err != nil {
		fmt.Println("error opening test db: ", err)
		removeDB()
		os.Exit(1)
	}
	sqlxDB.SetMaxOpenConns(1)

	// Perform migrations
	ups, err := os.ReadDir("../../migrate")
	if err != nil {
		fmt.Println("error reading migrate dir: ", err)
		removeDB()
		os.Exit(1)
	}

	for _, up := range ups {
		if up.IsDir() {
			continue
		}

		if !strings.HasSuffix(up.Name(), "sql") {
			continue
		}

		upBytes, err := os.ReadFile(filepath.Join("../../migrate", up.Name()))
		if err != nil {
			fmt.Println("error reading migration file: ", err)
			removeDB()
			os.Exit(1)
		}

		_, err = sqlxDB.Exec(string(upBytes))
		if err != nil {
			fmt.Println("error executing migration: ", err)
			removeDB()
			os.Exit(1)
		}
	}

	coreDB = coredb.New(sqlxDB)

	code := t.Run()

	removeDB()
	os.Exit(code)
}

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad test timestamp %q: %s", s, err)
	}
	return parsed
}

func TestTryVoteClamps(t *testing.T) {
	ctx := context.Background()
	truncateDB(t)
	cr := New(coreDB, 3, PolicyClamp)

	applied, err := cr.TryVote(ctx, ts(t, "2023-05-01T12:00:00Z"), "user-a", "user-b", 2)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if applied != 2 {
		t.Errorf("TryVote() applied = %d, want 2", applied)
	}

	left, err := cr.AvailableVotes(ctx, "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if left != 1 {
		t.Errorf("AvailableVotes() = %d, want 1", left)
	}

	// Only one vote left, so a +5 gets clamped down to +1.
	applied, err = cr.TryVote(ctx, ts(t, "2023-05-01T12:01:00Z"), "user-a", "user-c", 5)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if applied != 1 {
		t.Errorf("TryVote() applied = %d, want 1", applied)
	}

	left, err = cr.AvailableVotes(ctx, "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if left != 0 {
		t.Errorf("AvailableVotes() = %d, want 0", left)
	}

	// Budget exhausted: nothing applies and nothing is written.
	applied, err = cr.TryVote(ctx, ts(t, "2023-05-01T12:02:00Z"), "user-a", "user-b", 1)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if applied != 0 {
		t.Errorf("TryVote() applied = %d, want 0", applied)
	}

	var count int64
	if err := sqlxDB.Get(&count, "SELECT COUNT(*) FROM vote_history;"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if count != 2 {
		t.Errorf("vote_history rows = %d, want 2", count)
	}
}

func TestTryVoteRejects(t *testing.T) {
	ctx := context.Background()
	truncateDB(t)
	cr := New(coreDB, 3, PolicyReject)

	applied, err := cr.TryVote(ctx, ts(t, "2023-05-01T12:00:00Z"), "user-a", "user-b", 2)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if applied != 2 {
		t.Errorf("TryVote() applied = %d, want 2", applied)
	}

	// An unaffordable request is rejected whole, leaving the budget alone.
	applied, err = cr.TryVote(ctx, ts(t, "2023-05-01T12:01:00Z"), "user-a", "user-c", 5)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if applied != 0 {
		t.Errorf("TryVote() applied = %d, want 0", applied)
	}

	left, err := cr.AvailableVotes(ctx, "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if left != 1 {
		t.Errorf("AvailableVotes() = %d, want 1", left)
	}

	// But an affordable one still goes through.
	applied, err = cr.TryVote(ctx, ts(t, "2023-05-01T12:02:00Z"), "user-a", "user-b", -1)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if applied != -1 {
		t.Errorf("TryVote() applied = %d, want -1", applied)
	}
}

func TestTryVoteNegativeClamp(t *testing.T) {
	ctx := context.Background()
	truncateDB(t)
	cr := New(coreDB, 3, PolicyClamp)

	applied, err := cr.TryVote(ctx, ts(t, "2023-05-01T12:00:00Z"), "user-a", "user-b", -5)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if applied != -3 {
		t.Errorf("TryVote() applied = %d, want -3", applied)
	}

	left, err := cr.AvailableVotes(ctx, "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if left != 0 {
		t.Errorf("AvailableVotes() = %d, want 0", left)
	}
}

func TestTryVoteConcurrentNeverOverspends(t *testing.T) {
	ctx := context.Background()
	truncateDB(t)
	cr := New(coreDB, 10, PolicyClamp)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int64
	)
	for n := 0; n < 25; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := cr.TryVote(ctx, time.Now(), "user-a", "user-b", 1)
			if err != nil {
				t.Errorf("unexpected error: %s", err)
				return
			}
			mu.Lock()
			total += applied
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 10 {
		t.Errorf("sum of applied votes = %d, want 10", total)
	}

	left, err := cr.AvailableVotes(ctx, "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if left != 0 {
		t.Errorf("AvailableVotes() = %d, want 0", left)
	}
}

func TestResetAllBudgets(t *testing.T) {
	ctx := context.Background()
	truncateDB(t)
	cr := New(coreDB, 3, PolicyClamp)

	// Safe with no users at all.
	if err := cr.ResetAllBudgets(ctx); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if _, err := cr.TryVote(ctx, ts(t, "2023-05-01T12:00:00Z"), "user-a", "user-b", 3); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := cr.Grant(ctx, "user-b", 40); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if err := cr.ResetAllBudgets(ctx); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// Everyone lands at exactly the allotment, whatever they had before.
	for _, userID := range []string{"user-a", "user-b"} {
		left, err := cr.AvailableVotes(ctx, userID)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if left != 3 {
			t.Errorf("AvailableVotes(%s) = %d, want 3", userID, left)
		}
	}
}

func TestGrant(t *testing.T) {
	ctx := context.Background()
	truncateDB(t)
	cr := New(coreDB, 3, PolicyClamp)

	// Granting to an unseen user initializes them at the allotment first.
	if err := cr.Grant(ctx, "user-a", 2); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	left, err := cr.AvailableVotes(ctx, "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if left != 5 {
		t.Errorf("AvailableVotes() = %d, want 5", left)
	}

	// Negative grants floor at zero.
	if err := cr.Grant(ctx, "user-a", -100); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	left, err = cr.AvailableVotes(ctx, "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if left != 0 {
		t.Errorf("AvailableVotes() = %d, want 0", left)
	}
}

func TestLeaderboard(t *testing.T) {
	ctx := context.Background()
	truncateDB(t)
	cr := New(coreDB, 100, PolicyClamp)

	votes := []struct {
		source, target string
		amount         int64
	}{
		{"user-a", "user-b", 5},
		{"user-a", "user-c", 2},
		{"user-b", "user-c", 1},
		{"user-b", "user-d", -4},
	}
	for n, v := range votes {
		stamp := ts(t, "2023-05-01T12:00:00Z").Add(time.Duration(n) * time.Minute)
		if _, err := cr.TryVote(ctx, stamp, v.source, v.target, v.amount); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}

	got, err := cr.Leaderboard(ctx, 2, true, true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	want := []models.BoardEntry{
		{UserID: "user-b", Votes: 5},
		{UserID: "user-c", Votes: 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Leaderboard(top) mismatch (-want +got):\n%s", diff)
	}

	// Bottom entries still come back highest-first for display.
	got, err = cr.Leaderboard(ctx, 2, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	want = []models.BoardEntry{
		{UserID: "user-c", Votes: 3},
		{UserID: "user-d", Votes: -4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Leaderboard(bottom) mismatch (-want +got):\n%s", diff)
	}

	issued, err := cr.Leaderboard(ctx, 10, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	wantIssued := []models.BoardEntry{
		{UserID: "user-a", Votes: 7},
		{UserID: "user-b", Votes: -3},
	}
	if diff := cmp.Diff(wantIssued, issued); diff != "" {
		t.Errorf("Leaderboard(issued) mismatch (-want +got):\n%s", diff)
	}

	count, err := cr.DistinctUsers(ctx, true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if count != 3 {
		t.Errorf("DistinctUsers(received) = %d, want 3", count)
	}
	count, err = cr.DistinctUsers(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if count != 2 {
		t.Errorf("DistinctUsers(issued) = %d, want 2", count)
	}
}

func TestTotalVotes(t *testing.T) {
	ctx := context.Background()
	truncateDB(t)
	cr := New(coreDB, 10, PolicyClamp)

	total, err := cr.TotalVotes(ctx, "user-b")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if total != 0 {
		t.Errorf("TotalVotes() with no history = %d, want 0", total)
	}

	if _, err := cr.TryVote(ctx, ts(t, "2023-05-01T12:00:00Z"), "user-a", "user-b", 4); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := cr.TryVote(ctx, ts(t, "2023-05-01T12:01:00Z"), "user-c", "user-b", -1); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	total, err = cr.TotalVotes(ctx, "user-b")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if total != 3 {
		t.Errorf("TotalVotes() = %d, want 3", total)
	}
}

func TestHistoryIsChronological(t *testing.T) {
	ctx := context.Background()
	truncateDB(t)
	cr := New(coreDB, 10, PolicyClamp)

	// Inserted out of order: history must come back by timestamp, not by
	// insertion.
	if _, err := cr.TryVote(ctx, ts(t, "2023-05-02T08:00:00Z"), "user-c", "user-b", 2); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := cr.TryVote(ctx, ts(t, "2023-05-01T08:00:00Z"), "user-a", "user-b", 1); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	got, err := cr.History(ctx, "user-b")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	want := []models.HistoryPoint{
		{Timestamp: ts(t, "2023-05-01T08:00:00Z"), SourceID: "user-a", Votes: 1},
		{Timestamp: ts(t, "2023-05-02T08:00:00Z"), SourceID: "user-c", Votes: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("History() mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordAutoVoteBypassesBudget(t *testing.T) {
	ctx := context.Background()
	truncateDB(t)
	cr := New(coreDB, 3, PolicyClamp)

	if err := cr.RecordAutoVote(ctx, ts(t, "2023-05-01T12:00:00Z"), "bot-user", "user-a", 50); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	total, err := cr.TotalVotes(ctx, "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if total != 50 {
		t.Errorf("TotalVotes() = %d, want 50", total)
	}

	// The grant spent nothing: the bot has no budget row at all.
	var count int64
	if err := sqlxDB.Get(&count, "SELECT COUNT(*) FROM votes_per_user;"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if count != 0 {
		t.Errorf("votes_per_user rows = %d, want 0", count)
	}
}
