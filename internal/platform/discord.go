// Package platform connects hosts to the routing service: a Discord bot and
// an HTTP ingress for anything else.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"automove/internal/bus"
	"automove/internal/domain"
	"automove/internal/store"

	"github.com/bwmarrin/discordgo"
)

const (
	discordMaxMsgLen   = 2000
	discordPageSize    = 100
	discordCallTimeout = 10 * time.Second
)

// DiscordConfig configures the Discord host.
type DiscordConfig struct {
	Token            string
	GuildID          string   // optional: restrict to one guild
	StaffRoleIDs     []string // members holding any of these reply as staff
	RelayBotIDs      []string // bots relaying ticket traffic
	TicketCategories []string // categories holding tickets besides the managed ones; empty means any
	StaffMarker      string   // normalised embed colour of relayed staff replies
	LogChannelID     string   // operator channel for failures, optional
	RegisterCommands bool
	Categories       *store.Categories
	Events           *bus.EventBus
	Logger           *slog.Logger
}

// Discord is the ticket host backed by a Discord guild. It implements
// domain.TicketHost and turns guild messages into reply events.
type Discord struct {
	session    *discordgo.Session
	guildID    string
	rules      roleRules
	tickets    []string
	logChannel string
	register   bool
	categories *store.Categories
	events     *bus.EventBus
	logger     *slog.Logger

	queue  *bus.Queue
	closer Closer
}

// NewDiscord creates the session without connecting it.
func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	return &Discord{
		session: session,
		guildID: cfg.GuildID,
		rules: roleRules{
			staffRoles:  cfg.StaffRoleIDs,
			relayBots:   cfg.RelayBotIDs,
			staffMarker: cfg.StaffMarker,
		},
		tickets:    cfg.TicketCategories,
		logChannel: cfg.LogChannelID,
		register:   cfg.RegisterCommands,
		categories: cfg.Categories,
		events:     cfg.Events,
		logger:     cfg.Logger,
	}, nil
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord, publishes reply events on q and serves slash
// commands until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, q *bus.Queue, closer Closer) error {
	d.queue = q
	d.closer = closer

	d.session.AddHandler(d.onMessageCreate)
	d.session.AddHandler(d.onChannelDelete)
	d.session.AddHandler(d.onInteraction)

	if d.events != nil && d.logChannel != "" {
		d.reportTo(d.events)
	}

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", d.session.State.User.Username)

	if d.register {
		d.registerSlashCommands()
	}

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return d.session.Close()
}

// --- domain.TicketHost ---

func (d *Discord) Channel(ctx context.Context, id string) (*domain.Channel, error) {
	ch, err := d.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return toChannel(ch), nil
}

func (d *Discord) CategoryExists(ctx context.Context, id string) (bool, error) {
	ch, err := d.lookup(ctx, id)
	if errors.Is(err, domain.ErrChannelNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ch.Type == discordgo.ChannelTypeGuildCategory, nil
}

func (d *Discord) MoveChannel(ctx context.Context, channelID, categoryID string) error {
	_, err := d.session.ChannelEdit(channelID, &discordgo.ChannelEdit{ParentID: categoryID}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord edit channel %s: %w", channelID, err)
	}
	return nil
}

// History pages backwards through the channel, newest first.
func (d *Discord) History(ctx context.Context, channelID string, limit int) ([]domain.Message, error) {
	guildID := ""
	if ch, err := d.lookup(ctx, channelID); err == nil {
		guildID = ch.GuildID
	}

	out := make([]domain.Message, 0, limit)
	before := ""
	for len(out) < limit {
		page := min(discordPageSize, limit-len(out))
		msgs, err := d.session.ChannelMessages(channelID, page, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("discord history %s: %w", channelID, err)
		}
		for _, m := range msgs {
			out = append(out, d.toMessage(m, guildID))
		}
		if len(msgs) < page {
			break
		}
		before = msgs[len(msgs)-1].ID
	}
	return out, nil
}

// IsTicket reports whether the channel sits in a managed or configured ticket
// category. With no ticket categories configured, every channel under a
// category is a ticket, so new tickets in the helpdesk inbox still route.
func (d *Discord) IsTicket(ctx context.Context, ch domain.Channel) (bool, error) {
	if ch.CategoryID == "" {
		return false, nil
	}
	if len(d.tickets) == 0 || slices.Contains(d.tickets, ch.CategoryID) {
		return true, nil
	}
	cfg, err := d.categories.Load(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(cfg.Managed(), ch.CategoryID), nil
}

func (d *Discord) lookup(ctx context.Context, id string) (*discordgo.Channel, error) {
	if ch, err := d.session.State.Channel(id); err == nil {
		return ch, nil
	}
	ch, err := d.session.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrChannelNotFound, id)
		}
		return nil, fmt.Errorf("discord channel %s: %w", id, err)
	}
	return ch, nil
}

func (d *Discord) toMessage(m *discordgo.Message, guildID string) domain.Message {
	var roles []string
	if m.Member != nil {
		roles = m.Member.Roles
	} else if m.Author != nil && guildID != "" {
		if mem, err := d.session.State.Member(guildID, m.Author.ID); err == nil {
			roles = mem.Roles
		}
	}
	msg := domain.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Role:      d.rules.roleOf(m, roles),
		Markers:   markersOf(m.Embeds),
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
	}
	return msg
}

// --- gateway handlers ---

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.GuildID == "" {
		return
	}
	if s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if d.guildID != "" && m.GuildID != d.guildID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), discordCallTimeout)
	defer cancel()

	ch, err := d.Channel(ctx, m.ChannelID)
	if err != nil {
		d.logger.Debug("discord channel lookup failed", "channel_id", m.ChannelID, "err", err)
		return
	}
	ok, err := d.IsTicket(ctx, *ch)
	if err != nil {
		d.logger.Warn("discord ticket check failed", "channel_id", m.ChannelID, "err", err)
		return
	}
	if !ok {
		return
	}

	var roles []string
	if m.Member != nil {
		roles = m.Member.Roles
	}
	role := d.rules.roleOf(m.Message, roles)

	d.logger.Debug("discord reply received", "channel_id", m.ChannelID, "author_id", m.Author.ID, "role", role)
	d.queue.Publish(domain.ReplyEvent{
		Source:    "discord",
		ChannelID: m.ChannelID,
		SenderID:  m.Author.ID,
		Role:      role,
		Timestamp: m.Timestamp,
	})
}

func (d *Discord) onChannelDelete(_ *discordgo.Session, c *discordgo.ChannelDelete) {
	if c.Channel == nil || d.closer == nil {
		return
	}
	if d.closer.CancelPending(c.ID) {
		d.logger.Info("pending closing move dropped for deleted channel", "channel_id", c.ID)
	}
}

// --- operator reporting ---

// reportTo posts failures and config changes to the log channel. End users never see them.
func (d *Discord) reportTo(eb *bus.EventBus) {
	for _, t := range []string{bus.EventRelocationFailed, bus.EventStorageUnavailable, bus.EventConfigUpdated} {
		eb.On(t, func(e bus.Event) {
			d.sendMessage(d.logChannel, formatReport(e))
		})
	}
}

func (d *Discord) sendMessage(channelID, content string) {
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			d.logger.Error("discord send failed", "channel_id", channelID, "err", err)
		}
	}
}

func formatReport(e bus.Event) string {
	switch e.Type {
	case bus.EventRelocationFailed:
		return fmt.Sprintf("Could not move <#%s> to <#%s> (%s): %v", e.ChannelID, e.Decision.Target, e.Decision.Reason, e.Err)
	case bus.EventStorageUnavailable:
		return fmt.Sprintf("Category settings unavailable, reply in <#%s> was not routed: %v", e.ChannelID, e.Err)
	case bus.EventConfigUpdated:
		return fmt.Sprintf("%v set to %s by <@%v>", e.Payload["label"], mentionOrUnset(fmt.Sprint(e.Payload["value"])), e.Payload["by"])
	}
	return e.Type
}

// --- pure helpers ---

// roleRules classifies message authors.
type roleRules struct {
	staffRoles  []string
	relayBots   []string
	staffMarker string
}

// roleOf decides who a message speaks for. A bot post carrying the staff
// marker is a relayed staff reply. Other posts by relay bots are relayed
// user replies, and any other bot or webhook is system chatter.
func (r roleRules) roleOf(m *discordgo.Message, memberRoles []string) domain.Role {
	if m.Author == nil {
		return domain.RoleSystem
	}
	if m.Author.Bot || m.WebhookID != "" {
		if r.staffMarker != "" && slices.Contains(markersOf(m.Embeds), r.staffMarker) {
			return domain.RoleStaff
		}
		if slices.Contains(r.relayBots, m.Author.ID) {
			return domain.RoleUser
		}
		return domain.RoleSystem
	}
	for _, role := range memberRoles {
		if slices.Contains(r.staffRoles, role) {
			return domain.RoleStaff
		}
	}
	return domain.RoleUser
}

func markersOf(embeds []*discordgo.MessageEmbed) []string {
	var markers []string
	for _, e := range embeds {
		if e != nil && e.Color != 0 {
			markers = append(markers, domain.ColorMarker(e.Color))
		}
	}
	return markers
}

func toChannel(ch *discordgo.Channel) *domain.Channel {
	return &domain.Channel{
		ID:         ch.ID,
		GuildID:    ch.GuildID,
		Name:       ch.Name,
		CategoryID: ch.ParentID,
	}
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownChannel {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
