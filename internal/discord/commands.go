package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const ephemeralFlag = 1 << 6

func (b *Bot) registerCommands(guildID string) error {
	cmds := []*discordgo.ApplicationCommand{
		{
			Name:        "votes",
			Description: "Commands related to MinusOne votes.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "left",
					Description: "Check how many votes you have left",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "tally",
					Description: "Check how many votes a user has received",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "whose votes to tally",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "leaderboard",
					Description: "Shows the current leaderboard",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "public",
							Description: "show the leaderboard publicly?",
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "limit",
							Description: "the number of users to show",
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "received",
							Description: "show votes received (True) or issued (False)?",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "grant",
					Description: "Grant votes to a user",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "who to grant votes to",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "votes",
							Description: "how many votes to grant",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "chart",
					Description: "Link the voting history of a user",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "whose votes to chart",
						},
					},
				},
			},
		},
		postCommand(),
	}

	for _, cmd := range cmds {
		if _, err := b.s.ApplicationCommandCreate(b.s.State.User.ID, guildID, cmd); err != nil {
			return fmt.Errorf("error creating command '%s': %s", cmd.Name, err)
		}
	}

	return nil
}

func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	switch data.Name {
	case "votes":
		b.handleVotes(s, i, data)
	case "post":
		b.handlePost(s, i, data)
	}
}

func (b *Bot) handleVotes(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]

	switch sub.Name {
	case "left":
		b.handleLeft(s, i)
	case "tally":
		b.handleTally(s, i, sub)
	case "leaderboard":
		b.handleLeaderboard(s, i, sub)
	case "grant":
		b.handleGrant(s, i, sub)
	case "chart":
		b.handleChart(s, i, sub)
	}
}

func (b *Bot) handleLeft(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	votes, err := b.cr.AvailableVotes(context.Background(), user.ID)
	if err != nil {
		b.l.Errorw("error getting available votes", "user_id", user.ID, "err", err)
		b.respondText(s, i, "Something went wrong.", true)
		return
	}

	b.respondText(s, i, fmt.Sprintf("You have %d votes left today.", votes), true)
}

func (b *Bot) handleTally(s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	user := interactionUser(i)
	if u := userOption(s, sub, "user"); u != nil {
		user = u
	}

	tally, err := b.cr.TotalVotes(context.Background(), user.ID)
	if err != nil {
		b.l.Errorw("error totalling votes", "user_id", user.ID, "err", err)
		b.respondText(s, i, "Something went wrong.", true)
		return
	}

	b.respondText(s, i, fmt.Sprintf("Current vote tally for <@%s>: %d", user.ID, tally), true)
}

func (b *Bot) handleLeaderboard(s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	ctx := context.Background()

	public := false
	limit := int64(10)
	received := true
	for _, opt := range sub.Options {
		switch opt.Name {
		case "public":
			public = opt.BoolValue()
		case "limit":
			limit = opt.IntValue()
		case "received":
			received = opt.BoolValue()
		}
	}

	top, err := b.cr.Leaderboard(ctx, limit, true, received)
	if err != nil {
		b.l.Errorw("error getting leaderboard", "err", err)
		b.respondText(s, i, "Something went wrong.", true)
		return
	}
	bottom, err := b.cr.Leaderboard(ctx, limit, false, received)
	if err != nil {
		b.l.Errorw("error getting leaderboard", "err", err)
		b.respondText(s, i, "Something went wrong.", true)
		return
	}
	userCount, err := b.cr.DistinctUsers(ctx, received)
	if err != nil {
		b.l.Errorw("error counting users", "err", err)
		b.respondText(s, i, "Something went wrong.", true)
		return
	}

	if len(top) == 0 || len(bottom) == 0 {
		b.respondText(s, i, "No leaderboard data available.", true)
		return
	}

	kind := "Received"
	if !received {
		kind = "Issued"
	}

	topLines := make([]string, 0, len(top))
	for n, entry := range top {
		topLines = append(topLines, fmt.Sprintf("%d. <@%s> (%d points)", n+1, entry.UserID, entry.Votes))
	}
	bottomLines := make([]string, 0, len(bottom))
	for n, entry := range bottom {
		// Bottom ranks count from the end of the full standings.
		rank := userCount - int64(len(bottom)) + int64(n) + 1
		bottomLines = append(bottomLines, fmt.Sprintf("%d. <@%s> (%d points)", rank, entry.UserID, entry.Votes))
	}

	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Leaderboard - Votes *%s*", kind),
		Color: 0x2CA453,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:  fmt.Sprintf("Top %d Users", len(top)),
				Value: strings.Join(topLines, "\n"),
			},
			{
				Name:  fmt.Sprintf("Bottom %d Users", len(bottom)),
				Value: strings.Join(bottomLines, "\n"),
			},
		},
	}

	b.respondEmbed(s, i, embed, !public)
}

func (b *Bot) handleGrant(s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	if i.Member == nil || i.Member.Permissions&discordgo.PermissionManageServer == 0 {
		b.respondText(s, i, "You don't have permission to grant votes.", true)
		return
	}

	user := userOption(s, sub, "user")
	var votes int64
	for _, opt := range sub.Options {
		if opt.Name == "votes" {
			votes = opt.IntValue()
		}
	}
	if user == nil {
		b.respondText(s, i, "No user provided.", true)
		return
	}

	if err := b.cr.Grant(context.Background(), user.ID, votes); err != nil {
		b.l.Errorw("error granting votes", "user_id", user.ID, "votes", votes, "err", err)
		b.respondText(s, i, "Something went wrong.", true)
		return
	}

	b.l.Warnw("votes granted",
		"granter_user_id", interactionUser(i).ID,
		"user_id", user.ID,
		"votes", votes,
	)
	b.respondText(s, i, fmt.Sprintf("Granted %d votes to <@%s>.", votes, user.ID), true)
}

// handleChart links at the HTTP history series instead of rendering a chart
// in-process; the charting collaborator lives behind that URL.
func (b *Bot) handleChart(s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	user := interactionUser(i)
	if u := userOption(s, sub, "user"); u != nil {
		user = u
	}

	points, err := b.cr.History(context.Background(), user.ID)
	if err != nil {
		b.l.Errorw("error getting history", "user_id", user.ID, "err", err)
		b.respondText(s, i, "Something went wrong.", true)
		return
	}
	if len(points) == 0 {
		b.respondText(s, i, fmt.Sprintf("<@%s> has no voting history.", user.ID), true)
		return
	}

	url := fmt.Sprintf("%s/users/%s/history", strings.TrimRight(b.cfg.HistoryBaseURL, "/"), user.ID)
	b.respondText(s, i, fmt.Sprintf("Voting history for <@%s>: %s", user.ID, url), true)
}

func (b *Bot) respondText(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	var flags uint64
	if ephemeral {
		flags = ephemeralFlag
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		b.l.Errorw("error responding to interaction", "err", err)
	}
}

func (b *Bot) respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	var flags uint64
	if ephemeral {
		flags = ephemeralFlag
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
	if err != nil {
		b.l.Errorw("error responding to interaction", "err", err)
	}
}

// interactionUser is the invoking user, whether the command came from a
// guild or a DM.
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil {
		return i.Member.User
	}
	return i.User
}

func userOption(s *discordgo.Session, sub *discordgo.ApplicationCommandInteractionDataOption, name string) *discordgo.User {
	for _, opt := range sub.Options {
		if opt.Name == name {
			return opt.UserValue(s)
		}
	}
	return nil
}
