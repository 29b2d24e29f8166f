package discord

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// The /post commands let officers relay a drafted message into another
// channel through the bot, and later edit the relayed copy in place.

func postCommand() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "post",
		Description: "Commands related to MinusOne posts.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "create",
				Description: "Creates a new post in the specified channel",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "channel",
						Description: "link to channel to post in",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "message",
						Description: "link to message with content to post",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "edit",
				Description: "Edits an existing bot post",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "destination",
						Description: "link to message to edit",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "source",
						Description: "link to message with new content",
						Required:    true,
					},
				},
			},
		},
	}
}

func (b *Bot) handlePost(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if !b.hasPostRole(i) {
		b.respondText(s, i, "You don't have permission to manage posts.", true)
		return
	}
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]

	switch sub.Name {
	case "create":
		b.handlePostCreate(s, i, sub)
	case "edit":
		b.handlePostEdit(s, i, sub)
	}
}

func (b *Bot) hasPostRole(i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	for _, roleID := range i.Member.Roles {
		for _, want := range b.cfg.PostRoleIDs {
			if roleID == want {
				return true
			}
		}
	}
	return false
}

func (b *Bot) handlePostCreate(s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	var channelLink, messageLink string
	for _, opt := range sub.Options {
		switch opt.Name {
		case "channel":
			channelLink = opt.StringValue()
		case "message":
			messageLink = opt.StringValue()
		}
	}

	destChannelID, ok := lastLinkPart(channelLink)
	if !ok {
		b.respondText(s, i, "Invalid channel link", true)
		return
	}
	srcChannelID, srcMessageID, ok := messageLinkParts(messageLink)
	if !ok {
		b.respondText(s, i, "Invalid message link", true)
		return
	}

	source, err := s.ChannelMessage(srcChannelID, srcMessageID)
	if err != nil {
		b.l.Errorw("error fetching source message", "message_id", srcMessageID, "err", err)
		b.respondText(s, i, "Couldn't fetch the source message.", true)
		return
	}

	if len(source.Content) > 2000 {
		b.respondText(s, i, fmt.Sprintf("Message content is too long [%d/2000]", len(source.Content)), true)
		return
	}

	posted, err := s.ChannelMessageSendComplex(destChannelID, &discordgo.MessageSend{
		Content: source.Content,
		Embeds:  attachmentEmbeds(source),
	})
	if err != nil {
		b.l.Errorw("error creating post", "channel_id", destChannelID, "err", err)
		b.respondText(s, i, "Couldn't create the post.", true)
		return
	}

	link := jumpLink(i.GuildID, posted.ChannelID, posted.ID)
	b.respondText(s, i, fmt.Sprintf("Created post: %s", link), true)
}

func (b *Bot) handlePostEdit(s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	var destLink, srcLink string
	for _, opt := range sub.Options {
		switch opt.Name {
		case "destination":
			destLink = opt.StringValue()
		case "source":
			srcLink = opt.StringValue()
		}
	}

	destChannelID, destMessageID, ok := messageLinkParts(destLink)
	if !ok {
		b.respondText(s, i, "Invalid destination link", true)
		return
	}
	srcChannelID, srcMessageID, ok := messageLinkParts(srcLink)
	if !ok {
		b.respondText(s, i, "Invalid source link", true)
		return
	}

	source, err := s.ChannelMessage(srcChannelID, srcMessageID)
	if err != nil {
		b.l.Errorw("error fetching source message", "message_id", srcMessageID, "err", err)
		b.respondText(s, i, "Couldn't fetch the source message.", true)
		return
	}

	edit := &discordgo.MessageEdit{
		ID:      destMessageID,
		Channel: destChannelID,
		Content: &source.Content,
	}
	embeds := attachmentEmbeds(source)
	if len(embeds) > 0 {
		edit.Embeds = embeds
	}

	if _, err := s.ChannelMessageEditComplex(edit); err != nil {
		b.l.Errorw("error editing post", "message_id", destMessageID, "err", err)
		b.respondText(s, i, "Couldn't edit the post. Is it one of mine?", true)
		return
	}

	link := jumpLink(i.GuildID, destChannelID, destMessageID)
	b.respondText(s, i, fmt.Sprintf("Edited post: %s", link), true)
}

// attachmentEmbeds carries a message's attachments over as image embeds,
// since the bot can't re-upload the files themselves.
func attachmentEmbeds(m *discordgo.Message) []*discordgo.MessageEmbed {
	embeds := make([]*discordgo.MessageEmbed, 0, len(m.Attachments))
	for _, att := range m.Attachments {
		embeds = append(embeds, &discordgo.MessageEmbed{
			Image: &discordgo.MessageEmbedImage{URL: att.URL},
		})
	}
	return embeds
}

// lastLinkPart pulls the trailing snowflake off a channel link.
func lastLinkPart(link string) (string, bool) {
	parts := strings.Split(strings.TrimRight(link, "/"), "/")
	id := parts[len(parts)-1]
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return "", false
	}
	return id, true
}

// messageLinkParts pulls the channel and message snowflakes off a message
// link.
func messageLinkParts(link string) (channelID, messageID string, ok bool) {
	parts := strings.Split(strings.TrimRight(link, "/"), "/")
	if len(parts) < 2 {
		return "", "", false
	}
	channelID, messageID = parts[len(parts)-2], parts[len(parts)-1]
	if _, err := strconv.ParseUint(channelID, 10, 64); err != nil {
		return "", "", false
	}
	if _, err := strconv.ParseUint(messageID, 10, 64); err != nil {
		return "", "", false
	}
	return channelID, messageID, true
}

func jumpLink(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}
