// Package discord wires the vote ledger to a Discord gateway session:
// inbound messages are offered to the intent parser and the auto-vote
// matcher, results are acknowledged with reactions, and slash commands
// expose the read-only queries and admin actions.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/jdholdren/minusone/internal/core"
	"github.com/jdholdren/minusone/internal/core/models"
)

type Config struct {
	// GuildIDs to register slash commands in.
	GuildIDs []string
	// OwnerID may use the owner-only text commands.
	OwnerID string
	// TrialCategoryID marks the channel category where votes fall back to
	// the channel's trial subject.
	TrialCategoryID string
	AutoVotes       []models.AutoVote

	// StreamChannelID receives live-stream announcements.
	StreamChannelID string
	// StreamerRoleIDs limit announcements to members holding one of these.
	StreamerRoleIDs []string
	// PostRoleIDs may use the /post relay commands.
	PostRoleIDs []string

	// HistoryBaseURL is the public base of the HTTP query server, used by
	// /votes chart to link at a user's history series.
	HistoryBaseURL string
}

// Bot owns the gateway session handlers.
type Bot struct {
	s       *discordgo.Session
	cr      core.Core
	parser  core.Parser
	cfg     Config
	streams *postStore

	l *zap.SugaredLogger
}

// New attaches handlers to the session. The session is not opened here;
// call Run.
func New(s *discordgo.Session, cr core.Core, cfg Config, l *zap.SugaredLogger) *Bot {
	b := &Bot{
		s:       s,
		cr:      cr,
		cfg:     cfg,
		streams: newPostStore(),
		l:       l,
	}
	b.parser = core.NewParser(cfg.TrialCategoryID, trialTopics{s: s})

	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildPresences |
		discordgo.IntentMessageContent

	s.AddHandler(b.handleMessage)
	s.AddHandler(b.handleInteraction)
	s.AddHandler(b.handlePresence)

	return b
}

// Run opens the gateway connection and registers slash commands in each
// configured guild.
func (b *Bot) Run(registerCommands bool) error {
	if err := b.s.Open(); err != nil {
		return fmt.Errorf("error opening gateway session: %s", err)
	}

	if registerCommands {
		for _, guildID := range b.cfg.GuildIDs {
			if err := b.registerCommands(guildID); err != nil {
				return fmt.Errorf("error registering commands for guild '%s': %s", guildID, err)
			}
		}
	}

	b.l.Infow("connected to gateway", "user_id", b.s.State.User.ID)
	return nil
}

func (b *Bot) Close() error {
	return b.s.Close()
}

// Reaction vocabulary: the applied magnitude is echoed back as a keycap
// emoji, a zero application gets the cross, and anything past ten falls
// back to a plain arrow.
var numberEmoji = map[int64]string{
	1:  "1⃣",
	2:  "2⃣",
	3:  "3⃣",
	4:  "4⃣",
	5:  "5⃣",
	6:  "6⃣",
	7:  "7⃣",
	8:  "8⃣",
	9:  "9⃣",
	10: "\U0001f51f",
}

const (
	failEmoji     = "❌"
	upvoteEmoji   = "\U0001f53c"
	downvoteEmoji = "\U0001f53d"
)

func emojiFor(applied int64) string {
	if applied == 0 {
		return failEmoji
	}
	mag := applied
	if mag < 0 {
		mag = -mag
	}
	if e, ok := numberEmoji[mag]; ok {
		return e
	}
	if applied > 0 {
		return upvoteEmoji
	}
	return downvoteEmoji
}

func (b *Bot) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	ctx := context.Background()

	// Owner-only text command mirroring the scheduler's bulk reset.
	if m.Content == "!resetavailablevotes" && m.Author.ID == b.cfg.OwnerID {
		if err := b.cr.ResetAllBudgets(ctx); err != nil {
			b.l.Errorw("error resetting budgets", "err", err)
			return
		}
		if _, err := s.ChannelMessageSend(m.ChannelID, "Reset available votes for all users"); err != nil {
			b.l.Errorw("error sending reset confirmation", "err", err)
		}
		return
	}

	msg := b.coreMessage(s, m.Message)

	if intent := b.parser.Parse(ctx, msg); intent != nil {
		applied, err := b.cr.TryVote(ctx, msg.Timestamp, m.Author.ID, intent.TargetID, intent.Votes)
		if err != nil {
			b.l.Errorw("error applying vote",
				"source_user_id", m.Author.ID,
				"target_user_id", intent.TargetID,
				"votes", intent.Votes,
				"err", err,
			)
		} else {
			b.l.Infow("vote handled",
				"source_user_id", m.Author.ID,
				"target_user_id", intent.TargetID,
				"requested", intent.Votes,
				"applied", applied,
			)
			if err := s.MessageReactionAdd(m.ChannelID, m.ID, emojiFor(applied)); err != nil {
				b.l.Errorw("error adding reaction", "message_id", m.ID, "err", err)
			}
		}
	}

	// Auto-votes run against every message, independent of manual voting.
	for _, rule := range b.cfg.AutoVotes {
		if !core.MatchAutoVote(rule, msg) {
			continue
		}
		b.l.Infow("auto-vote triggered",
			"contains", rule.Contains,
			"target_user_id", m.Author.ID,
			"votes", rule.Votes,
		)
		if err := b.cr.RecordAutoVote(ctx, msg.Timestamp, s.State.User.ID, m.Author.ID, rule.Votes); err != nil {
			b.l.Errorw("error recording auto-vote", "target_user_id", m.Author.ID, "err", err)
		}
	}
}

// coreMessage flattens a gateway message into the parser's view of it.
func (b *Bot) coreMessage(s *discordgo.Session, m *discordgo.Message) core.Message {
	mentions := make([]string, 0, len(m.Mentions))
	for _, u := range m.Mentions {
		mentions = append(mentions, u.ID)
	}

	msg := core.Message{
		Content:    m.Content,
		AuthorID:   m.Author.ID,
		MentionIDs: mentions,
		ChannelID:  m.ChannelID,
		CategoryID: b.categoryID(s, m.ChannelID),
		Timestamp:  m.Timestamp,
	}

	if m.Type == discordgo.MessageTypeReply && m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil {
		msg.IsReply = true
		msg.RepliedAuthorID = m.ReferencedMessage.Author.ID
	}

	return msg
}

func (b *Bot) categoryID(s *discordgo.Session, channelID string) string {
	ch, err := s.State.Channel(channelID)
	if err != nil {
		ch, err = s.Channel(channelID)
		if err != nil {
			b.l.Debugw("error looking up channel", "channel_id", channelID, "err", err)
			return ""
		}
	}
	return ch.ParentID
}
