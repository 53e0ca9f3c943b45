package routing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"

	"automove/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeHost is an in-memory ticket host.
type fakeHost struct {
	mu          sync.Mutex
	channels    map[string]*domain.Channel
	categories  map[string]bool
	history     map[string][]domain.Message // newest first
	tickets     map[string]bool
	moves       []move
	historyReqs int
	moveErr     error
	historyErr  error
}

type move struct {
	ChannelID  string
	CategoryID string
}

func newFakeHost(categories ...string) *fakeHost {
	h := &fakeHost{
		channels:   make(map[string]*domain.Channel),
		categories: make(map[string]bool),
		history:    make(map[string][]domain.Message),
		tickets:    make(map[string]bool),
	}
	for _, c := range categories {
		h.categories[c] = true
	}
	return h
}

func (h *fakeHost) addChannel(id, category string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels[id] = &domain.Channel{ID: id, CategoryID: category}
	h.tickets[id] = true
}

// post prepends a message, keeping history newest first.
func (h *fakeHost) post(channelID string, m domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m.ChannelID = channelID
	h.history[channelID] = append([]domain.Message{m}, h.history[channelID]...)
}

func (h *fakeHost) moveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.moves)
}

func (h *fakeHost) category(channelID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channels[channelID].CategoryID
}

func (h *fakeHost) Channel(_ context.Context, id string) (*domain.Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[id]
	if !ok {
		return nil, domain.ErrChannelNotFound
	}
	cp := *ch
	return &cp, nil
}

func (h *fakeHost) CategoryExists(_ context.Context, id string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.categories[id], nil
}

func (h *fakeHost) MoveChannel(_ context.Context, channelID, categoryID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.moveErr != nil {
		return h.moveErr
	}
	ch, ok := h.channels[channelID]
	if !ok {
		return domain.ErrChannelNotFound
	}
	ch.CategoryID = categoryID
	h.moves = append(h.moves, move{ChannelID: channelID, CategoryID: categoryID})
	return nil
}

func (h *fakeHost) History(_ context.Context, channelID string, limit int) ([]domain.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.historyReqs++
	if h.historyErr != nil {
		return nil, h.historyErr
	}
	msgs := h.history[channelID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return slices.Clone(msgs), nil
}

func (h *fakeHost) IsTicket(_ context.Context, ch domain.Channel) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tickets[ch.ID], nil
}

// staticCategories is a CategoryLoader over a fixed config.
type staticCategories struct {
	mu  sync.Mutex
	cfg domain.CategoryConfig
	err error
}

func (s *staticCategories) Load(context.Context) (domain.CategoryConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.err
}

func (s *staticCategories) set(cfg domain.CategoryConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

var errHost = errors.New("missing permissions")

const staffColor = "3447003"

func staffMsg(id string) domain.Message {
	return domain.Message{ID: id, AuthorID: "bot", Role: domain.RoleStaff, Markers: []string{staffColor}}
}

func userMsg(id string) domain.Message {
	return domain.Message{ID: id, AuthorID: "u1", Role: domain.RoleUser}
}
