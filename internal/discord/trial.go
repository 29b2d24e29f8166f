package discord

import (
	"context"
	"fmt"
	"regexp"

	"github.com/bwmarrin/discordgo"
)

// Trial channels carry their subject in the channel topic as a mention,
// set by the moderators when the channel is opened.
var topicMention = regexp.MustCompile(`<@!?(\d+)>`)

// trialTopics resolves a trial channel's designated subject from the
// channel topic. Satisfies core.TrialResolver.
type trialTopics struct {
	s *discordgo.Session
}

func (t trialTopics) TrialSubject(_ context.Context, channelID string) (string, error) {
	ch, err := t.s.State.Channel(channelID)
	if err != nil {
		ch, err = t.s.Channel(channelID)
		if err != nil {
			return "", fmt.Errorf("error looking up trial channel: %s", err)
		}
	}

	match := topicMention.FindStringSubmatch(ch.Topic)
	if match == nil {
		return "", fmt.Errorf("no subject mentioned in topic of channel '%s'", channelID)
	}

	return match[1], nil
}
