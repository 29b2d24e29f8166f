/*
MinusOne runs a Discord bot that lets members spend a daily budget of votes
on each other by message: a leading "+N" or "-N" aimed at a mentioned user,
a replied-to user, or a trial channel's subject. Votes land in an
append-only ledger that feeds leaderboards, tallies, and per-user history,
and every budget resets once a day on a fixed wall clock.

It takes in no flags but multiple environment variables that are documented
in the README.

It's backed by a SQLite DB, but does not reqire CGO to compile. There are migrations
in the repo that are run on startup before the bot connects.
*/
package main

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap/zapcore"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/minusone/internal/core"
	"github.com/jdholdren/minusone/internal/core/db"
	"github.com/jdholdren/minusone/internal/core/models"
	"github.com/jdholdren/minusone/internal/discord"
	"github.com/jdholdren/minusone/internal/httpserv"
	"github.com/jdholdren/minusone/internal/logging"
	"github.com/jdholdren/minusone/internal/schedule"
)

//go:embed migrate/*
var f embed.FS

func main() {
	l := logging.NewLogger()
	defer func() {
		if err := l.Sync(); err != nil {
			log.Printf("error syncing logger: %s", err)
		}
	}()

	l.Debug("parsing config...")
	var cfg config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		l.Fatalf("error parsing config: %s", err)
	}
	l.Infow("parsed config", "config", cfg)

	policy, err := core.ParsePolicy(cfg.VotePolicy)
	if err != nil {
		l.Fatalf("error parsing vote policy: %s", err)
	}

	autoVotes, err := parseAutoVotes(cfg.AutoVotes)
	if err != nil {
		l.Fatalf("error parsing auto-votes: %s", err)
	}

	// Connect to the database
	sqlDB, err := setupDB(cfg)
	if err != nil {
		l.Fatalf("error opening db: %s", err)
	}
	defer sqlDB.Close()
	d := db.New(sqlDB)

	cr := core.New(d, cfg.InitialVotes, policy)

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		l.Fatalf("error creating discord session: %s", err)
	}

	bot := discord.New(
		session,
		cr,
		discord.Config{
			GuildIDs:        cfg.DiscordGuildIDs,
			OwnerID:         cfg.OwnerUserID,
			TrialCategoryID: cfg.TrialCategoryID,
			AutoVotes:       autoVotes,
			StreamChannelID: cfg.StreamChannelID,
			StreamerRoleIDs: cfg.StreamerRoleIDs,
			PostRoleIDs:     cfg.PostRoleIDs,
			HistoryBaseURL:  cfg.HistoryBaseURL,
		},
		l.Named("discord"),
	)
	if err := bot.Run(!cfg.SkipRegister); err != nil {
		l.Fatalf("error starting bot: %s", err)
	}
	defer func() {
		if err := bot.Close(); err != nil {
			l.Errorw("error closing session", "err", err)
		}
	}()

	sched, err := schedule.New(
		schedule.Config{
			Timezone: cfg.ResetTimezone,
			Hour:     cfg.ResetHour,
		},
		cr,
		l.Named("schedule"),
	)
	if err != nil {
		l.Fatalf("error creating scheduler: %s", err)
	}
	sched.Start()
	defer sched.Stop()

	s := httpserv.New(
		l.Named("httpserv"),
		httpserv.Config{
			Port: cfg.Port,
		},
		cr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		l.Infof("serving on port %d", cfg.Port)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Errorw("error while serving", "err", err)
		}
	}()

	<-ctx.Done()
	l.Info("shutting down...")
	if err := s.Shutdown(context.Background()); err != nil {
		l.Errorw("error shutting down server", "err", err)
	}
}

type config struct {
	// Server
	Port int `env:"PORT,default=8080"`

	// Database
	DBPath string `env:"DB_PATH,default=minusone.sqlite"`

	// Discord stuffs
	DiscordToken    string   `env:"DISCORD_TOKEN"`
	DiscordGuildIDs []string `env:"DISCORD_GUILD_IDS"`
	OwnerUserID     string   `env:"OWNER_USER_ID"`
	// If we should not try to register commands with discord
	SkipRegister bool `env:"SKIP_REGISTER"`

	// Voting
	InitialVotes int64 `env:"INITIAL_VOTES,default=10"`
	// clamp (partial application) or reject (all-or-nothing)
	VotePolicy      string `env:"VOTE_POLICY,default=clamp"`
	TrialCategoryID string `env:"TRIAL_CATEGORY_ID"`
	// JSON array of auto-vote rules
	AutoVotes string `env:"AUTO_VOTES"`

	// Reset schedule
	ResetTimezone string `env:"RESET_TIMEZONE,default=US/Eastern"`
	ResetHour     int    `env:"RESET_HOUR,default=4"`

	// Streams
	StreamChannelID string   `env:"STREAM_CHANNEL_ID"`
	StreamerRoleIDs []string `env:"STREAMER_ROLE_IDS"`

	// Posts
	PostRoleIDs []string `env:"POST_ROLE_IDS"`

	// Where the history endpoint is reachable publicly, for /votes chart
	HistoryBaseURL string `env:"HISTORY_BASE_URL"`
}

func (c config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("port", c.Port)
	enc.AddString("db_path", c.DBPath)
	enc.AddBool("skip_register", c.SkipRegister)
	enc.AddInt64("initial_votes", c.InitialVotes)
	enc.AddString("vote_policy", c.VotePolicy)
	enc.AddString("trial_category_id", c.TrialCategoryID)
	enc.AddString("reset_timezone", c.ResetTimezone)
	enc.AddInt("reset_hour", c.ResetHour)
	enc.AddString("stream_channel_id", c.StreamChannelID)

	return nil
}

func parseAutoVotes(raw string) ([]models.AutoVote, error) {
	if raw == "" {
		return nil, nil
	}

	var rules []models.AutoVote
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, fmt.Errorf("error decoding auto-vote rules: %s", err)
	}

	return rules, nil
}

// Connects to the db and migrates it
func setupDB(c config) (*sqlx.DB, error) {
	u, err := url.Parse(c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("error parsing db path: %s", err)
	}
	q := u.Query()
	q.Add("_journal", "WAL")
	u.RawQuery = q.Encode()

	db, err := sqlx.Open("sqlite", u.String())
	if err != nil {
		return nil, fmt.Errorf("error opening db: %s", err)
	}

	// sqlite has a single writer anyway; one connection keeps every
	// read-modify-write serialized instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Perform migrations
	ups, err := f.ReadDir("migrate")
	if err != nil {
		return nil, fmt.Errorf("error reading migration dir: %s", err)
	}

	for _, up := range ups {
		if up.IsDir() {
			continue
		}

		if !strings.HasSuffix(up.Name(), "sql") {
			continue
		}

		upBytes, err := f.ReadFile(filepath.Join("migrate", up.Name()))
		if err != nil {
			return nil, fmt.Errorf("error reading up file: %s", err)
		}

		_, err = db.Exec(string(upBytes))
		if err != nil {
			return nil, fmt.Errorf("error executing up query for file %s: %s", up.Name(), err)
		}
	}

	return db, nil
}
