package core

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jdholdren/minusone/internal/core/models"
)

type stubTrials struct {
	subjects map[string]string
}

func (s stubTrials) TrialSubject(_ context.Context, channelID string) (string, error) {
	subject, ok := s.subjects[channelID]
	if !ok {
		return "", errors.New("no trial subject")
	}
	return subject, nil
}

func TestParse(t *testing.T) {
	trials := stubTrials{subjects: map[string]string{
		"chan-trial": "user-trial",
	}}
	p := NewParser("cat-trial", trials)

	tests := map[string]struct {
		msg  Message
		want *models.Intent
	}{
		"plain upvote with one mention": {
			msg: Message{
				Content:    "+5",
				AuthorID:   "user-a",
				MentionIDs: []string{"user-b"},
			},
			want: &models.Intent{TargetID: "user-b", Votes: 5},
		},
		"downvote reply with trailing text": {
			msg: Message{
				Content:         "-3 nice try",
				AuthorID:        "user-a",
				IsReply:         true,
				RepliedAuthorID: "user-b",
			},
			want: &models.Intent{TargetID: "user-b", Votes: -3},
		},
		"not a vote at all": {
			msg: Message{
				Content:    "hello",
				AuthorID:   "user-a",
				MentionIDs: []string{"user-b"},
			},
			want: nil,
		},
		"zero is not a vote": {
			msg: Message{
				Content:    "+0",
				AuthorID:   "user-a",
				MentionIDs: []string{"user-b"},
			},
			want: nil,
		},
		"mention token is stripped before matching": {
			msg: Message{
				Content:    "<@123>+5",
				AuthorID:   "user-a",
				MentionIDs: []string{"123"},
			},
			want: &models.Intent{TargetID: "123", Votes: 5},
		},
		"amount must lead the text": {
			msg: Message{
				Content:    "i say +5",
				AuthorID:   "user-a",
				MentionIDs: []string{"user-b"},
			},
			want: nil,
		},
		"amount must stand alone": {
			msg: Message{
				Content:    "+5x",
				AuthorID:   "user-a",
				MentionIDs: []string{"user-b"},
			},
			want: nil,
		},
		"only the first ten characters count": {
			msg: Message{
				Content:    "because of +5 reasons",
				AuthorID:   "user-a",
				MentionIDs: []string{"user-b"},
			},
			want: nil,
		},
		"plain message with no mention has no target": {
			msg: Message{
				Content:  "+2",
				AuthorID: "user-a",
			},
			want: nil,
		},
		"plain message with two mentions has no target": {
			msg: Message{
				Content:    "+2",
				AuthorID:   "user-a",
				MentionIDs: []string{"user-b", "user-c"},
			},
			want: nil,
		},
		"reply mentioning the replied author": {
			msg: Message{
				Content:         "+4 <@user-b>",
				AuthorID:        "user-a",
				MentionIDs:      []string{"user-b"},
				IsReply:         true,
				RepliedAuthorID: "user-b",
			},
			want: &models.Intent{TargetID: "user-b", Votes: 4},
		},
		"reply mentioning someone else is ambiguous": {
			msg: Message{
				Content:         "+4 <@user-c>",
				AuthorID:        "user-a",
				MentionIDs:      []string{"user-c"},
				IsReply:         true,
				RepliedAuthorID: "user-b",
			},
			want: nil,
		},
		"trial channel falls back to the subject": {
			msg: Message{
				Content:    "-2",
				AuthorID:   "user-a",
				ChannelID:  "chan-trial",
				CategoryID: "cat-trial",
			},
			want: &models.Intent{TargetID: "user-trial", Votes: -2},
		},
		"trial channel with no subject is a miss": {
			msg: Message{
				Content:    "-2",
				AuthorID:   "user-a",
				ChannelID:  "chan-other",
				CategoryID: "cat-trial",
			},
			want: nil,
		},
		"self-votes are left to the ledger": {
			msg: Message{
				Content:    "+1",
				AuthorID:   "user-a",
				MentionIDs: []string{"user-a"},
			},
			want: &models.Intent{TargetID: "user-a", Votes: 1},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := p.Parse(context.Background(), tc.msg)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseNoTrialResolver(t *testing.T) {
	p := NewParser("cat-trial", nil)

	got := p.Parse(context.Background(), Message{
		Content:    "+3",
		AuthorID:   "user-a",
		ChannelID:  "chan-trial",
		CategoryID: "cat-trial",
	})
	if got != nil {
		t.Errorf("Parse() = %+v, want nil", got)
	}
}

func TestMatchAutoVote(t *testing.T) {
	msg := Message{
		Content:   "gg everyone",
		AuthorID:  "user-a",
		ChannelID: "chan-1",
	}

	tests := map[string]struct {
		rule models.AutoVote
		want bool
	}{
		"contains only": {
			rule: models.AutoVote{Contains: "gg", Votes: 1},
			want: true,
		},
		"contains missing": {
			rule: models.AutoVote{Contains: "wp", Votes: 1},
			want: false,
		},
		"author restricted, matching": {
			rule: models.AutoVote{UserID: "user-a", Contains: "gg", Votes: 1},
			want: true,
		},
		"author restricted, not matching": {
			rule: models.AutoVote{UserID: "user-b", Contains: "gg", Votes: 1},
			want: false,
		},
		"channel restricted, matching": {
			rule: models.AutoVote{ChannelID: "chan-1", Votes: -2},
			want: true,
		},
		"channel restricted, not matching": {
			rule: models.AutoVote{ChannelID: "chan-2", Votes: -2},
			want: false,
		},
		"zero amount never matches": {
			rule: models.AutoVote{Contains: "gg", Votes: 0},
			want: false,
		},
		"no constraints matches everything": {
			rule: models.AutoVote{Votes: 3},
			want: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := MatchAutoVote(tc.rule, msg); got != tc.want {
				t.Errorf("MatchAutoVote() = %t, want %t", got, tc.want)
			}
		})
	}
}
