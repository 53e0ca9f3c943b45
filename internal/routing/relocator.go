package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"automove/internal/domain"

	"golang.org/x/time/rate"
)

var ErrRelocationFailed = errors.New("relocation failed")

// RelocationError wraps a host failure while moving a channel.
// It matches both ErrRelocationFailed and the underlying cause.
type RelocationError struct {
	ChannelID  string
	CategoryID string
	Err        error
}

func (e *RelocationError) Error() string {
	return fmt.Sprintf("move channel %s to category %s: %v", e.ChannelID, e.CategoryID, e.Err)
}

func (e *RelocationError) Unwrap() []error {
	return []error{ErrRelocationFailed, e.Err}
}

type Outcome string

const (
	OutcomeMoved  Outcome = "moved"
	OutcomeNoOp   Outcome = "noop"
	OutcomeFailed Outcome = "failed"
)

// Result is the outcome of executing a decision.
type Result struct {
	Outcome Outcome
	Reason  string
	From    string
	To      string
	Err     error
}

func (r Result) Moved() bool { return r.Outcome == OutcomeMoved }

// RelocatorConfig configures a Relocator.
type RelocatorConfig struct {
	MovesPerMinute float64 // <= 0 disables throttling
	Burst          int
	Logger         *slog.Logger
}

// Relocator moves channels between categories. Moves are throttled so a
// burst of replies does not trip the host's rate limits.
type Relocator struct {
	host    domain.TicketHost
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewRelocator(host domain.TicketHost, cfg RelocatorConfig) *Relocator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.MovesPerMinute > 0 {
		limit = rate.Limit(cfg.MovesPerMinute / 60.0)
	}
	return &Relocator{
		host:    host,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  cfg.Logger,
	}
}

// Relocate moves ch under target. It is a no-op when target is unset, when
// it no longer resolves to a category, or when ch is already there. Host
// failures are returned in Result.Err as a *RelocationError and never retried.
func (r *Relocator) Relocate(ctx context.Context, ch domain.Channel, target string) Result {
	res := Result{Outcome: OutcomeNoOp, From: ch.CategoryID, To: target}

	switch {
	case target == "":
		res.Reason = domain.ReasonTargetUnset
		return res
	case ch.CategoryID == target:
		res.Reason = domain.ReasonAlreadyInTarget
		return res
	}

	exists, err := r.host.CategoryExists(ctx, target)
	if err != nil {
		return r.failed(res, ch.ID, target, fmt.Errorf("resolve category: %w", err))
	}
	if !exists {
		r.logger.Debug("target category does not exist", "channel_id", ch.ID, "category_id", target)
		res.Reason = domain.ReasonTargetMissing
		return res
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return r.failed(res, ch.ID, target, err)
	}

	if err := r.host.MoveChannel(ctx, ch.ID, target); err != nil {
		return r.failed(res, ch.ID, target, err)
	}

	r.logger.Info("channel relocated", "channel_id", ch.ID, "from", ch.CategoryID, "to", target)
	res.Outcome = OutcomeMoved
	return res
}

// RelocateByID looks the channel up afresh before relocating it.
func (r *Relocator) RelocateByID(ctx context.Context, channelID, target string) Result {
	ch, err := r.host.Channel(ctx, channelID)
	if err != nil {
		return Result{
			Outcome: OutcomeNoOp,
			Reason:  domain.ReasonLookupFailed,
			To:      target,
			Err:     fmt.Errorf("lookup channel %s: %w", channelID, err),
		}
	}
	return r.Relocate(ctx, *ch, target)
}

func (r *Relocator) failed(res Result, channelID, target string, err error) Result {
	r.logger.Warn("relocation failed", "channel_id", channelID, "category_id", target, "err", err)
	res.Outcome = OutcomeFailed
	res.Err = &RelocationError{ChannelID: channelID, CategoryID: target, Err: err}
	return res
}
