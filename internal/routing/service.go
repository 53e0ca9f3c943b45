package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"automove/internal/bus"
	"automove/internal/domain"
	"automove/internal/scheduler"
	"automove/internal/store"
)

const DefaultCloseDelay = 3 * time.Second

var (
	ErrClosingNotConfigured = errors.New("closing category is not configured")
	ErrNotTicket            = errors.New("channel is not a ticket channel")
	ErrChannelNotFound      = domain.ErrChannelNotFound
)

// CategoryLoader yields the current category configuration.
type CategoryLoader interface {
	Load(ctx context.Context) (domain.CategoryConfig, error)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Host           domain.TicketHost
	Categories     CategoryLoader
	Relocator      *Relocator
	Classifier     *Classifier
	StaffPredicate Predicate
	Scheduler      *scheduler.Deferred
	Events         *bus.EventBus // optional
	CloseDelay     time.Duration
	Logger         *slog.Logger
}

// Plan is a decision together with the inputs it was made from.
type Plan struct {
	Event    domain.ReplyEvent
	Channel  domain.Channel
	Decision domain.Decision
}

// Service ties the policy to the host: Handle decides, Execute acts.
type Service struct {
	host       domain.TicketHost
	categories CategoryLoader
	relocator  *Relocator
	classifier *Classifier
	staff      Predicate
	deferred   *scheduler.Deferred
	events     *bus.EventBus
	closeDelay time.Duration
	logger     *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Relocator == nil {
		cfg.Relocator = NewRelocator(cfg.Host, RelocatorConfig{Logger: cfg.Logger})
	}
	if cfg.Classifier == nil {
		cfg.Classifier = NewClassifier(cfg.Host, DefaultHistoryLimit, cfg.Logger)
	}
	if cfg.StaffPredicate == nil {
		cfg.StaffPredicate = FromStaff
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = scheduler.NewDeferred(cfg.Logger)
	}
	if cfg.CloseDelay < 0 {
		cfg.CloseDelay = 0
	}
	return &Service{
		host:       cfg.Host,
		categories: cfg.Categories,
		relocator:  cfg.Relocator,
		classifier: cfg.Classifier,
		staff:      cfg.StaffPredicate,
		deferred:   cfg.Scheduler,
		events:     cfg.Events,
		closeDelay: cfg.CloseDelay,
		logger:     cfg.Logger,
	}
}

// Handle decides what a reply event should do to its channel. The history
// is scanned only for user replies that could actually cause a move.
func (s *Service) Handle(ctx context.Context, ev domain.ReplyEvent) (Plan, error) {
	plan := Plan{Event: ev, Decision: domain.NoOp(domain.ReasonLookupFailed)}

	ch, err := s.host.Channel(ctx, ev.ChannelID)
	if err != nil {
		return plan, fmt.Errorf("lookup channel %s: %w", ev.ChannelID, err)
	}
	plan.Channel = *ch

	cfg, err := s.categories.Load(ctx)
	if err != nil {
		return plan, fmt.Errorf("load categories: %w", err)
	}

	staffReplied := false
	if needsHistory(ev, *ch, cfg) {
		staffReplied, err = s.classifier.StaffHasReplied(ctx, ch.ID, s.staff)
		if err != nil {
			plan.Decision = domain.NoOp(domain.ReasonHistoryUnavailable)
			return plan, err
		}
	}

	plan.Decision = Decide(ev, *ch, cfg, staffReplied)
	s.emit(bus.Event{
		Type:      bus.EventDecided,
		Source:    ev.Source,
		ChannelID: ch.ID,
		From:      ch.CategoryID,
		Decision:  plan.Decision,
	})
	return plan, nil
}

// Execute carries out a plan. It never returns an error; failures are in the Result.
func (s *Service) Execute(ctx context.Context, plan Plan) Result {
	if !plan.Decision.IsMove() {
		return Result{Outcome: OutcomeNoOp, Reason: plan.Decision.Reason, From: plan.Channel.CategoryID}
	}

	start := time.Now()
	res := s.relocator.Relocate(ctx, plan.Channel, plan.Decision.Target)
	if res.Reason == "" {
		res.Reason = plan.Decision.Reason
	}

	ev := bus.Event{
		Source:    plan.Event.Source,
		ChannelID: plan.Channel.ID,
		From:      plan.Channel.CategoryID,
		Decision:  plan.Decision,
		Latency:   time.Since(start),
		Err:       res.Err,
	}
	switch res.Outcome {
	case OutcomeMoved:
		ev.Type = bus.EventRelocated
		s.emit(ev)
	case OutcomeFailed:
		ev.Type = bus.EventRelocationFailed
		s.emit(ev)
	}
	return res
}

// Process handles and executes one reply event. Failures are logged and
// reported on the event bus, never returned.
func (s *Service) Process(ctx context.Context, ev domain.ReplyEvent) Result {
	s.emit(bus.Event{Type: bus.EventReplyReceived, Source: ev.Source, ChannelID: ev.ChannelID})

	plan, err := s.Handle(ctx, ev)
	if err != nil {
		s.contain(ev, plan, err)
		return Result{Outcome: OutcomeNoOp, Reason: plan.Decision.Reason, From: plan.Channel.CategoryID, Err: err}
	}

	res := s.Execute(ctx, plan)
	s.logger.Debug("reply processed",
		"channel_id", ev.ChannelID,
		"role", ev.Role,
		"outcome", res.Outcome,
		"reason", res.Reason,
	)
	return res
}

func (s *Service) contain(ev domain.ReplyEvent, plan Plan, err error) {
	switch {
	case errors.Is(err, domain.ErrChannelNotFound):
		s.logger.Info("reply for unknown channel ignored", "channel_id", ev.ChannelID)
	case errors.Is(err, store.ErrStorageUnavailable):
		s.logger.Error("category config unavailable", "channel_id", ev.ChannelID, "err", err)
		s.emit(bus.Event{Type: bus.EventStorageUnavailable, Source: ev.Source, ChannelID: ev.ChannelID, Err: err})
	default:
		s.logger.Warn("reply not routed",
			"channel_id", ev.ChannelID,
			"reason", plan.Decision.Reason,
			"err", err,
		)
	}
}

// MoveToClosing schedules the channel's move to the closing category after
// the close delay, giving the host time to finish closing the ticket. The
// pending move is keyed by channel id: issuing it again replaces it.
func (s *Service) MoveToClosing(ctx context.Context, channelID string) (scheduler.Task, error) {
	cfg, err := s.categories.Load(ctx)
	if err != nil {
		return scheduler.Task{}, fmt.Errorf("load categories: %w", err)
	}
	if cfg.Closing == "" {
		return scheduler.Task{}, ErrClosingNotConfigured
	}

	ch, err := s.host.Channel(ctx, channelID)
	if err != nil {
		return scheduler.Task{}, fmt.Errorf("lookup channel %s: %w", channelID, err)
	}
	ok, err := s.host.IsTicket(ctx, *ch)
	if err != nil {
		return scheduler.Task{}, fmt.Errorf("check ticket %s: %w", channelID, err)
	}
	if !ok {
		return scheduler.Task{}, ErrNotTicket
	}

	task := s.deferred.After(channelID, "move-to-closing", s.closeDelay, func(ctx context.Context) {
		s.closeNow(ctx, channelID)
	})
	s.emit(bus.Event{
		Type:      bus.EventCloseScheduled,
		Source:    "command",
		ChannelID: channelID,
		Payload:   map[string]any{"task_id": task.ID, "due": task.Due},
	})
	s.logger.Info("closing move scheduled", "channel_id", channelID, "task_id", task.ID, "delay", s.closeDelay)
	return task, nil
}

// closeNow re-reads both the channel and the config, since either may
// have changed while the move was pending.
func (s *Service) closeNow(ctx context.Context, channelID string) {
	ev := domain.ReplyEvent{Source: "command", ChannelID: channelID, Role: domain.RoleStaff}

	cfg, err := s.categories.Load(ctx)
	if err != nil {
		s.contain(ev, Plan{Event: ev, Decision: domain.NoOp(domain.ReasonLookupFailed)}, err)
		return
	}
	ch, err := s.host.Channel(ctx, channelID)
	if err != nil {
		s.contain(ev, Plan{Event: ev, Decision: domain.NoOp(domain.ReasonLookupFailed)}, err)
		return
	}

	plan := Plan{Event: ev, Channel: *ch, Decision: DecideClosing(*ch, cfg)}
	s.emit(bus.Event{
		Type:      bus.EventDecided,
		Source:    ev.Source,
		ChannelID: ch.ID,
		From:      ch.CategoryID,
		Decision:  plan.Decision,
	})
	s.Execute(ctx, plan)
}

// CancelPending drops a scheduled closing move, e.g. because the channel was deleted.
func (s *Service) CancelPending(channelID string) bool {
	if !s.deferred.Cancel(channelID) {
		return false
	}
	s.emit(bus.Event{Type: bus.EventCloseCancelled, ChannelID: channelID})
	return true
}

// Pending lists scheduled closing moves.
func (s *Service) Pending() []scheduler.Task {
	return s.deferred.Pending()
}

// Run consumes reply events one at a time until ctx is done or the queue
// is closed, then stops pending closing moves.
func (s *Service) Run(ctx context.Context, q *bus.Queue) error {
	defer s.deferred.Stop()

	events := q.Subscribe()
	s.logger.Info("routing loop started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("routing loop stopping")
			return nil
		case ev, ok := <-events:
			if !ok {
				s.logger.Info("reply queue closed")
				return nil
			}
			s.Process(ctx, ev)
		}
	}
}

func (s *Service) emit(ev bus.Event) {
	if s.events != nil {
		s.events.Emit(ev)
	}
}
