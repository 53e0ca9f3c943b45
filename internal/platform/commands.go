package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"automove/internal/bus"
	"automove/internal/domain"
	"automove/internal/routing"
	"automove/internal/store"

	"github.com/bwmarrin/discordgo"
)

const (
	cmdInfo    = "initinfo"
	cmdClosing = "movetoclosingcategory"
)

// setterCommands maps each administrator setter to the field it writes.
var setterCommands = map[string]store.Field{
	"setwaitingusermessagecategory":  store.FieldWaitingUser,
	"setwaitingstaffmessagecategory": store.FieldWaitingStaff,
	"setclosingcategory":             store.FieldClosing,
	"setrecruitmentcategory":         store.FieldRecruitment,
}

var setterOrder = []string{
	"setwaitingusermessagecategory",
	"setwaitingstaffmessagecategory",
	"setclosingcategory",
	"setrecruitmentcategory",
}

var (
	adminPermission     int64 = discordgo.PermissionAdministrator
	moderatorPermission int64 = discordgo.PermissionManageMessages
)

// slashCommands lists the commands with their required permissions.
// Discord enforces DefaultMemberPermissions before the interaction reaches us.
func slashCommands() []*discordgo.ApplicationCommand {
	cmds := make([]*discordgo.ApplicationCommand, 0, len(setterOrder)+2)
	for _, name := range setterOrder {
		field := setterCommands[name]
		cmds = append(cmds, &discordgo.ApplicationCommand{
			Name:                     name,
			Description:              fmt.Sprintf("Set the %s category", strings.ToLower(field.Label())),
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "category",
					Description:  "Category to use",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildCategory},
					Required:     true,
				},
			},
		})
	}
	cmds = append(cmds,
		&discordgo.ApplicationCommand{
			Name:                     cmdInfo,
			Description:              "Show the configured ticket categories",
			DefaultMemberPermissions: &moderatorPermission,
		},
		&discordgo.ApplicationCommand{
			Name:                     cmdClosing,
			Description:              "Move this ticket to the closing category",
			DefaultMemberPermissions: &moderatorPermission,
		},
	)
	return cmds
}

func (d *Discord) registerSlashCommands() {
	guildID := d.guildID // empty = global commands
	for _, cmd := range slashCommands() {
		_, err := d.session.ApplicationCommandCreate(d.session.State.User.ID, guildID, cmd)
		if err != nil {
			d.logger.Warn("failed to register slash command", "command", cmd.Name, "err", err)
		}
	}
}

func (d *Discord) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	ctx, cancel := context.WithTimeout(context.Background(), discordCallTimeout)
	defer cancel()

	var reply string
	switch {
	case data.Name == cmdInfo:
		reply = d.infoReply(ctx)
	case data.Name == cmdClosing:
		reply = d.closingReply(ctx, i.ChannelID)
	default:
		field, ok := setterCommands[data.Name]
		if !ok {
			return
		}
		reply = d.setReply(ctx, field, optionValue(data.Options, "category"), interactionUser(i))
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: reply,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		d.logger.Warn("discord interaction reply failed", "command", data.Name, "err", err)
	}
}

func (d *Discord) setReply(ctx context.Context, field store.Field, id, by string) string {
	if err := d.categories.Set(ctx, field, id); err != nil {
		d.logger.Error("category update failed", "field", field, "err", err)
		return "Could not save the setting, the config store is unavailable."
	}
	d.logger.Info("category updated", "field", field, "category_id", id, "by", by)
	if d.events != nil {
		d.events.Emit(bus.Event{
			Type:    bus.EventConfigUpdated,
			Source:  "discord",
			Payload: map[string]any{"field": string(field), "label": field.Label(), "value": id, "by": by},
		})
	}
	return fmt.Sprintf("%s category set to %s.", field.Label(), mentionOrUnset(id))
}

func (d *Discord) infoReply(ctx context.Context) string {
	cfg, err := d.categories.Load(ctx)
	if err != nil {
		d.logger.Error("category load failed", "err", err)
		return "Could not read the settings, the config store is unavailable."
	}
	return formatInfo(cfg)
}

func (d *Discord) closingReply(ctx context.Context, channelID string) string {
	task, err := d.closer.MoveToClosing(ctx, channelID)
	switch {
	case errors.Is(err, routing.ErrClosingNotConfigured):
		return "The closing category is not configured. An administrator can set it with /setclosingcategory."
	case errors.Is(err, routing.ErrNotTicket):
		return "This channel is not a ticket."
	case err != nil:
		d.logger.Error("closing request failed", "channel_id", channelID, "err", err)
		return "Could not schedule the move, try again shortly."
	}
	return fmt.Sprintf("This ticket will move to the closing category <t:%d:R>.", task.Due.Unix())
}

func formatInfo(cfg domain.CategoryConfig) string {
	var sb strings.Builder
	sb.WriteString("**Ticket categories**\n")
	rows := []struct {
		field store.Field
		id    string
	}{
		{store.FieldWaitingUser, cfg.WaitingUser},
		{store.FieldWaitingStaff, cfg.WaitingStaff},
		{store.FieldClosing, cfg.Closing},
		{store.FieldRecruitment, cfg.Recruitment},
	}
	for _, row := range rows {
		fmt.Fprintf(&sb, "%s: %s\n", row.field.Label(), mentionOrUnset(row.id))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func mentionOrUnset(id string) string {
	if id == "" {
		return "not set"
	}
	return "<#" + id + ">"
}

func optionValue(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, opt := range opts {
		if opt.Name != name {
			continue
		}
		if s, ok := opt.Value.(string); ok {
			return s
		}
		return fmt.Sprint(opt.Value)
	}
	return ""
}

func interactionUser(i *discordgo.InteractionCreate) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	}
	return ""
}
