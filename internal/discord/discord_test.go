package discord

import (
	"testing"
)

func TestEmojiFor(t *testing.T) {
	tests := map[string]struct {
		applied int64
		want    string
	}{
		"zero is the fail reaction": {0, failEmoji},
		"one":                       {1, numberEmoji[1]},
		"negative uses magnitude":   {-3, numberEmoji[3]},
		"ten has its own keycap":    {10, numberEmoji[10]},
		"past ten falls back up":    {11, upvoteEmoji},
		"past ten falls back down":  {-11, downvoteEmoji},
		"negative ten":              {-10, numberEmoji[10]},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := emojiFor(tc.applied); got != tc.want {
				t.Errorf("emojiFor(%d) = %q, want %q", tc.applied, got, tc.want)
			}
		})
	}
}

func TestPostStore(t *testing.T) {
	ps := newPostStore()

	if _, ok := ps.Get("user-a"); ok {
		t.Error("Get() on empty store reported an entry")
	}

	ps.Put("user-a", streamPost{ChannelID: "chan-1", MessageID: "msg-1"})
	got, ok := ps.Get("user-a")
	if !ok || got.MessageID != "msg-1" {
		t.Errorf("Get() = (%+v, %t), want msg-1", got, ok)
	}

	removed, ok := ps.Remove("user-a")
	if !ok || removed.MessageID != "msg-1" {
		t.Errorf("Remove() = (%+v, %t), want msg-1", removed, ok)
	}
	if _, ok := ps.Get("user-a"); ok {
		t.Error("Get() after Remove() reported an entry")
	}
	if _, ok := ps.Remove("user-a"); ok {
		t.Error("second Remove() reported an entry")
	}
}

func TestMessageLinkParts(t *testing.T) {
	channelID, messageID, ok := messageLinkParts("https://discord.com/channels/1/200/3000")
	if !ok || channelID != "200" || messageID != "3000" {
		t.Errorf("messageLinkParts() = (%s, %s, %t), want (200, 3000, true)", channelID, messageID, ok)
	}

	if _, _, ok := messageLinkParts("https://discord.com/channels/1/notanid/3000"); ok {
		t.Error("messageLinkParts() accepted a non-numeric channel id")
	}
	if _, _, ok := messageLinkParts("nonsense"); ok {
		t.Error("messageLinkParts() accepted a malformed link")
	}
}

func TestLastLinkPart(t *testing.T) {
	id, ok := lastLinkPart("https://discord.com/channels/1/200")
	if !ok || id != "200" {
		t.Errorf("lastLinkPart() = (%s, %t), want (200, true)", id, ok)
	}

	if _, ok := lastLinkPart("https://discord.com/channels/1/general"); ok {
		t.Error("lastLinkPart() accepted a non-numeric id")
	}
}
