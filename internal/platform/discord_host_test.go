package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"automove/internal/bus"
	"automove/internal/domain"
	"automove/internal/store"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStateDiscord builds an unconnected Discord host whose state cache
// knows guild g1 with a ticket in "inbox", a channel in "general" and an
// uncategorised channel.
func newStateDiscord(t *testing.T, tickets []string) (*Discord, *bus.Queue) {
	t.Helper()
	ctx := context.Background()
	cats := store.NewCategories(store.NewMemoryStore("test"))
	require.NoError(t, cats.EnsureDefaults(ctx))
	require.NoError(t, cats.Set(ctx, store.FieldWaitingUser, "A"))

	d, err := NewDiscord(DiscordConfig{
		Token:            "test",
		TicketCategories: tickets,
		StaffRoleIDs:     []string{"mods"},
		Categories:       cats,
		Logger:           quietLogger(),
	})
	require.NoError(t, err)

	st := d.session.State
	require.NoError(t, st.GuildAdd(&discordgo.Guild{ID: "g1"}))
	for _, ch := range []*discordgo.Channel{
		{ID: "ticket", GuildID: "g1", ParentID: "inbox", Type: discordgo.ChannelTypeGuildText},
		{ID: "waiting", GuildID: "g1", ParentID: "A", Type: discordgo.ChannelTypeGuildText},
		{ID: "chat", GuildID: "g1", ParentID: "general", Type: discordgo.ChannelTypeGuildText},
		{ID: "lobby", GuildID: "g1", Type: discordgo.ChannelTypeGuildText},
	} {
		require.NoError(t, st.ChannelAdd(ch))
	}

	q := bus.NewQueue(10, quietLogger())
	t.Cleanup(q.Close)
	d.queue = q
	return d, q
}

func guildMessage(channelID, authorID string, roles ...string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: channelID,
		GuildID:   "g1",
		Author:    &discordgo.User{ID: authorID},
		Member:    &discordgo.Member{Roles: roles},
	}}
}

func TestDiscord_IsTicketWithoutTicketCategories(t *testing.T) {
	d := &Discord{logger: quietLogger()}

	ok, err := d.IsTicket(context.Background(), domain.Channel{ID: "c1", CategoryID: "X"})
	require.NoError(t, err)
	assert.True(t, ok, "any categorised channel is a ticket when no ticket categories are configured")

	ok, err = d.IsTicket(context.Background(), domain.Channel{ID: "c1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiscord_OnMessageCreateGating(t *testing.T) {
	tests := []struct {
		name    string
		tickets []string
		channel string
		want    bool
	}{
		{"configured ticket category", []string{"inbox"}, "ticket", true},
		{"managed category", []string{"inbox"}, "waiting", true},
		{"unrelated category", []string{"inbox"}, "chat", false},
		{"no category", []string{"inbox"}, "lobby", false},
		{"default config routes inbox", nil, "ticket", true},
		{"default config routes any category", nil, "chat", true},
		{"default config skips uncategorised", nil, "lobby", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, q := newStateDiscord(t, tt.tickets)
			d.onMessageCreate(d.session, guildMessage(tt.channel, "u1", "mods"))

			if !tt.want {
				assert.Equal(t, 0, q.Len())
				return
			}
			require.Equal(t, 1, q.Len())
			ev := <-q.Subscribe()
			assert.Equal(t, tt.channel, ev.ChannelID)
			assert.Equal(t, "discord", ev.Source)
			assert.Equal(t, domain.RoleStaff, ev.Role)
		})
	}
}

func TestDiscord_OnMessageCreateIgnoresOtherGuildsAndDMs(t *testing.T) {
	d, q := newStateDiscord(t, nil)
	d.guildID = "g1"

	other := guildMessage("ticket", "u1")
	other.GuildID = "g2"
	d.onMessageCreate(d.session, other)

	dm := guildMessage("ticket", "u1")
	dm.GuildID = ""
	d.onMessageCreate(d.session, dm)

	assert.Equal(t, 0, q.Len())
}

// fakeMessagesAPI serves newest-first channel history of n messages with
// ids "1".."n", honouring limit and before like the Discord API.
type fakeMessagesAPI struct {
	mu       sync.Mutex
	n        int
	requests []string
}

func (f *fakeMessagesAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.URL.RawQuery)
	f.mu.Unlock()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	top := f.n
	if b := r.URL.Query().Get("before"); b != "" {
		id, _ := strconv.Atoi(b)
		top = id - 1
	}
	var page []map[string]any
	for id := top; id >= 1 && len(page) < limit; id-- {
		msg := map[string]any{
			"id":         strconv.Itoa(id),
			"channel_id": "ticket",
			"author":     map[string]any{"id": "u1", "bot": true},
		}
		if id == 1 {
			msg["embeds"] = []map[string]any{{"color": 0x1abc9c}}
		}
		page = append(page, msg)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}

func withMessagesAPI(t *testing.T, n int) *fakeMessagesAPI {
	t.Helper()
	api := &fakeMessagesAPI{n: n}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	orig := discordgo.EndpointChannels
	discordgo.EndpointChannels = srv.URL + "/channels/"
	t.Cleanup(func() { discordgo.EndpointChannels = orig })
	return api
}

func TestDiscord_HistoryPaginates(t *testing.T) {
	api := withMessagesAPI(t, 300)
	d, _ := newStateDiscord(t, nil)
	d.rules.staffMarker = staffMarker

	msgs, err := d.History(context.Background(), "ticket", 250)
	require.NoError(t, err)
	require.Len(t, msgs, 250)
	assert.Equal(t, "300", msgs[0].ID)
	assert.Equal(t, "51", msgs[249].ID)

	require.Len(t, api.requests, 3)
	assert.Equal(t, "limit=100", api.requests[0])
	assert.Equal(t, "before=201&limit=100", api.requests[1])
	assert.Equal(t, "before=101&limit=50", api.requests[2])
}

func TestDiscord_HistoryStopsAtShortPage(t *testing.T) {
	api := withMessagesAPI(t, 120)
	d, _ := newStateDiscord(t, nil)
	d.rules.staffMarker = staffMarker

	msgs, err := d.History(context.Background(), "ticket", 500)
	require.NoError(t, err)
	require.Len(t, msgs, 120)
	assert.Len(t, api.requests, 2)

	oldest := msgs[len(msgs)-1]
	assert.Equal(t, "1", oldest.ID)
	assert.Equal(t, domain.RoleStaff, oldest.Role, "marked bot post is a relayed staff reply")
	assert.Equal(t, domain.RoleSystem, msgs[0].Role)
}

func TestDiscord_HistoryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"Missing Access","code":50001}`)
	}))
	t.Cleanup(srv.Close)
	orig := discordgo.EndpointChannels
	discordgo.EndpointChannels = srv.URL + "/channels/"
	t.Cleanup(func() { discordgo.EndpointChannels = orig })

	d, _ := newStateDiscord(t, nil)
	_, err := d.History(context.Background(), "ticket", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord history ticket")
}
