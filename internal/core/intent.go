package core

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jdholdren/minusone/internal/core/models"
)

// A Message is the platform-neutral view of one inbound chat message: just
// the fields the parser and the auto-vote matcher care about.
type Message struct {
	Content    string
	AuthorID   string
	MentionIDs []string
	// IsReply is true when the message references an earlier message.
	IsReply bool
	// RepliedAuthorID is the author of the referenced message, when IsReply.
	RepliedAuthorID string
	ChannelID       string
	CategoryID      string
	Timestamp       time.Time
}

// A TrialResolver looks up the designated trial subject for a channel in a
// trial category. Implemented by the discord layer; a miss is reported as an
// empty id.
type TrialResolver interface {
	TrialSubject(ctx context.Context, channelID string) (string, error)
}

var (
	mentionPattern = regexp.MustCompile(`<@(.*?)>`)
	votePattern    = regexp.MustCompile(`^([+-]\d+)(?:\s|$)`)
)

// A Parser turns raw messages into vote intents.
type Parser struct {
	trialCategoryID string
	trials          TrialResolver
}

// NewParser builds a parser. trials may be nil when no trial category is
// configured.
func NewParser(trialCategoryID string, trials TrialResolver) Parser {
	return Parser{
		trialCategoryID: trialCategoryID,
		trials:          trials,
	}
}

// Parse decides whether a message is a vote, returning nil when it isn't.
//
// The vote token is a leading signed integer in the text once mention tokens
// are stripped, considering only the first ten characters. The target is the
// single mentioned user on a plain message, the replied-to author on a
// reply, or the channel's trial subject in the trial category, in that
// priority order. A failed trial lookup is a miss, not an error.
func (p Parser) Parse(ctx context.Context, m Message) *models.Intent {
	cleaned := strings.TrimSpace(mentionPattern.ReplaceAllString(m.Content, ""))
	if len(cleaned) > 10 {
		cleaned = cleaned[:10]
	}

	match := votePattern.FindStringSubmatch(cleaned)
	if match == nil {
		return nil
	}
	votes, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil || votes == 0 {
		return nil
	}

	switch {
	case !m.IsReply && len(m.MentionIDs) == 1:
		// direct mention
		return &models.Intent{TargetID: m.MentionIDs[0], Votes: votes}
	case p.isReplyVote(m):
		return &models.Intent{TargetID: m.RepliedAuthorID, Votes: votes}
	case p.isTrialChannel(m):
		target := p.trialSubject(ctx, m.ChannelID)
		if target == "" {
			return nil
		}
		return &models.Intent{TargetID: target, Votes: votes}
	}

	return nil
}

// A reply counts as a vote on the replied-to author when it mentions nobody,
// or only mentions that same author (the client adds that mention when the
// "ping on reply" toggle is on).
func (p Parser) isReplyVote(m Message) bool {
	if !m.IsReply || m.RepliedAuthorID == "" {
		return false
	}
	return len(m.MentionIDs) == 0 ||
		(len(m.MentionIDs) == 1 && m.MentionIDs[0] == m.RepliedAuthorID)
}

func (p Parser) isTrialChannel(m Message) bool {
	return p.trialCategoryID != "" && m.CategoryID == p.trialCategoryID
}

func (p Parser) trialSubject(ctx context.Context, channelID string) string {
	if p.trials == nil {
		return ""
	}
	subject, err := p.trials.TrialSubject(ctx, channelID)
	if err != nil {
		return ""
	}
	return subject
}

// MatchAutoVote reports whether a message trips an auto-vote rule: every
// set constraint must hold, and a rule with a zero amount never matches.
func MatchAutoVote(rule models.AutoVote, m Message) bool {
	if rule.UserID != "" && m.AuthorID != rule.UserID {
		return false
	}
	if rule.ChannelID != "" && m.ChannelID != rule.ChannelID {
		return false
	}
	if rule.Contains != "" && !strings.Contains(m.Content, rule.Contains) {
		return false
	}
	return rule.Votes != 0
}
