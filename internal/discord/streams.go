package discord

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// A streamPost is one live announcement message we've sent.
type streamPost struct {
	ChannelID string
	MessageID string
}

// postStore tracks the announcement sent for each currently-live streamer,
// keyed by user id. It owns the entries end to end: handlers only go
// through Put/Get/Remove.
type postStore struct {
	mu    sync.Mutex
	posts map[string]streamPost
}

func newPostStore() *postStore {
	return &postStore{
		posts: make(map[string]streamPost),
	}
}

func (ps *postStore) Put(userID string, p streamPost) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.posts[userID] = p
}

func (ps *postStore) Get(userID string) (streamPost, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.posts[userID]
	return p, ok
}

// Remove deletes and returns the entry for userID, if any.
func (ps *postStore) Remove(userID string) (streamPost, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.posts[userID]
	if ok {
		delete(ps.posts, userID)
	}
	return p, ok
}

// handlePresence announces when a member with a streamer role goes live,
// and takes the announcement down when the stream ends.
func (b *Bot) handlePresence(s *discordgo.Session, p *discordgo.PresenceUpdate) {
	if b.cfg.StreamChannelID == "" || p.User == nil {
		return
	}
	userID := p.User.ID

	stream := streamActivity(p.Activities)
	if stream == nil {
		post, ok := b.streams.Remove(userID)
		if !ok {
			return
		}
		b.l.Infow("cancelling stream announcement", "user_id", userID)
		if err := s.ChannelMessageDelete(post.ChannelID, post.MessageID); err != nil {
			b.l.Errorw("error deleting stream announcement", "user_id", userID, "err", err)
		}
		return
	}

	if _, ok := b.streams.Get(userID); ok {
		return
	}
	if !b.hasStreamerRole(s, p.GuildID, userID) {
		return
	}

	name := b.displayName(s, p.GuildID, userID)
	b.l.Infow("announcing stream", "user_id", userID, "url", stream.URL)
	msg, err := s.ChannelMessageSend(b.cfg.StreamChannelID, fmt.Sprintf("%s is live: %s", name, stream.URL))
	if err != nil {
		b.l.Errorw("error announcing stream", "user_id", userID, "err", err)
		return
	}
	b.streams.Put(userID, streamPost{ChannelID: msg.ChannelID, MessageID: msg.ID})
}

func streamActivity(activities []*discordgo.Activity) *discordgo.Activity {
	for _, a := range activities {
		if a.Type == discordgo.ActivityTypeStreaming && a.URL != "" {
			return a
		}
	}
	return nil
}

func (b *Bot) hasStreamerRole(s *discordgo.Session, guildID, userID string) bool {
	member, err := s.State.Member(guildID, userID)
	if err != nil {
		member, err = s.GuildMember(guildID, userID)
		if err != nil {
			b.l.Debugw("error looking up member", "user_id", userID, "err", err)
			return false
		}
	}

	for _, roleID := range member.Roles {
		for _, want := range b.cfg.StreamerRoleIDs {
			if roleID == want {
				return true
			}
		}
	}
	return false
}

func (b *Bot) displayName(s *discordgo.Session, guildID, userID string) string {
	member, err := s.State.Member(guildID, userID)
	if err == nil && member.Nick != "" {
		return member.Nick
	}
	if err == nil && member.User != nil {
		return member.User.Username
	}
	return fmt.Sprintf("<@%s>", userID)
}
