package routing

import (
	"context"
	"sync"
	"testing"
	"time"

	"automove/internal/bus"
	"automove/internal/domain"
	"automove/internal/scheduler"
	"automove/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	host   *fakeHost
	cats   *staticCategories
	events *bus.EventBus
	svc    *Service
}

func newServiceFixture(t *testing.T, cfg domain.CategoryConfig, closeDelay time.Duration) *serviceFixture {
	t.Helper()
	host := newFakeHost("A", "B", "C", "R", "X")
	cats := &staticCategories{cfg: cfg}
	events := bus.NewEventBus(quietLogger())
	deferred := scheduler.NewDeferred(quietLogger())
	t.Cleanup(deferred.Stop)

	svc := NewService(ServiceConfig{
		Host:           host,
		Categories:     cats,
		Relocator:      NewRelocator(host, RelocatorConfig{Logger: quietLogger()}),
		Classifier:     NewClassifier(host, DefaultHistoryLimit, quietLogger()),
		StaffPredicate: HasMarker(staffColor),
		Scheduler:      deferred,
		Events:         events,
		CloseDelay:     closeDelay,
		Logger:         quietLogger(),
	})
	return &serviceFixture{host: host, cats: cats, events: events, svc: svc}
}

func (f *serviceFixture) record(eventType string) func() []bus.Event {
	var mu sync.Mutex
	var got []bus.Event
	f.events.On(eventType, func(e bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})
	return func() []bus.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]bus.Event(nil), got...)
	}
}

func TestService_FullTicketLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, fullConfig, 20*time.Millisecond)
	f.host.addChannel("t1", "X")
	relocated := f.record(bus.EventRelocated)

	// Staff replies: the ticket now waits on the user.
	f.host.post("t1", staffMsg("m1"))
	plan, err := f.svc.Handle(ctx, domain.ReplyEvent{ChannelID: "t1", Role: domain.RoleStaff})
	require.NoError(t, err)
	assert.Equal(t, domain.MoveTo("A", domain.ReasonStaffReply), plan.Decision)
	require.True(t, f.svc.Execute(ctx, plan).Moved())
	assert.Equal(t, "A", f.host.category("t1"))

	// User answers with the staff message in history: it waits on staff.
	f.host.post("t1", userMsg("m2"))
	res := f.svc.Process(ctx, domain.ReplyEvent{ChannelID: "t1", Role: domain.RoleUser})
	require.True(t, res.Moved())
	assert.Equal(t, "B", f.host.category("t1"))

	// Manual close: nothing happens until the delay elapses.
	task, err := f.svc.MoveToClosing(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", task.Key)
	assert.Equal(t, "B", f.host.category("t1"))
	assert.Len(t, f.svc.Pending(), 1)

	assert.Eventually(t, func() bool { return f.host.category("t1") == "C" }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(f.svc.Pending()) == 0 }, time.Second, 5*time.Millisecond)

	moves := relocated()
	require.Len(t, moves, 3)
	assert.Equal(t, "A", moves[0].Decision.Target)
	assert.Equal(t, "B", moves[1].Decision.Target)
	assert.Equal(t, "C", moves[2].Decision.Target)
}

func TestService_StaffReplyAlreadyAtTarget(t *testing.T) {
	f := newServiceFixture(t, fullConfig, 0)
	f.host.addChannel("t1", "A")

	res := f.svc.Process(context.Background(), domain.ReplyEvent{ChannelID: "t1", Role: domain.RoleStaff})
	assert.Equal(t, OutcomeNoOp, res.Outcome)
	assert.Equal(t, domain.ReasonAlreadyInTarget, res.Reason)
	assert.Zero(t, f.host.moveCount())
}

func TestService_WaitingUserUnset(t *testing.T) {
	f := newServiceFixture(t, domain.CategoryConfig{WaitingStaff: "B", Closing: "C"}, 0)
	f.host.addChannel("t1", "X")

	plan, err := f.svc.Handle(context.Background(), domain.ReplyEvent{ChannelID: "t1", Role: domain.RoleStaff})
	require.NoError(t, err)
	assert.Equal(t, domain.NoOp(domain.ReasonTargetUnset), plan.Decision)

	res := f.svc.Execute(context.Background(), plan)
	assert.Equal(t, OutcomeNoOp, res.Outcome)
	assert.NoError(t, res.Err)
}

func TestService_UserReplyWithoutStaff(t *testing.T) {
	f := newServiceFixture(t, fullConfig, 0)
	f.host.addChannel("t1", "X")
	f.host.post("t1", userMsg("m1"))
	f.host.post("t1", userMsg("m2"))

	res := f.svc.Process(context.Background(), domain.ReplyEvent{ChannelID: "t1", Role: domain.RoleUser})
	assert.Equal(t, domain.ReasonStaffNotEngaged, res.Reason)
	assert.Zero(t, f.host.moveCount())
}

func TestService_RecruitmentSkipsHistory(t *testing.T) {
	f := newServiceFixture(t, fullConfig, 0)
	f.host.addChannel("t1", "R")
	f.host.post("t1", staffMsg("m1"))

	for _, role := range []domain.Role{domain.RoleUser, domain.RoleStaff} {
		res := f.svc.Process(context.Background(), domain.ReplyEvent{ChannelID: "t1", Role: role})
		assert.Equal(t, domain.ReasonRecruitmentExempt, res.Reason)
	}
	assert.Zero(t, f.host.historyReqs)
	assert.Zero(t, f.host.moveCount())
}

func TestService_UnsetWaitingStaffSkipsHistory(t *testing.T) {
	f := newServiceFixture(t, domain.CategoryConfig{WaitingUser: "A"}, 0)
	f.host.addChannel("t1", "X")

	res := f.svc.Process(context.Background(), domain.ReplyEvent{ChannelID: "t1", Role: domain.RoleUser})
	assert.Equal(t, domain.ReasonTargetUnset, res.Reason)
	assert.Zero(t, f.host.historyReqs)
}

func TestService_HistoryFailureIsContained(t *testing.T) {
	f := newServiceFixture(t, fullConfig, 0)
	f.host.addChannel("t1", "X")
	f.host.historyErr = errHost

	res := f.svc.Process(context.Background(), domain.ReplyEvent{ChannelID: "t1", Role: domain.RoleUser})
	assert.Equal(t, OutcomeNoOp, res.Outcome)
	assert.Equal(t, domain.ReasonHistoryUnavailable, res.Reason)
	assert.ErrorIs(t, res.Err, errHost)
}

func TestService_RelocationFailureIsReported(t *testing.T) {
	f := newServiceFixture(t, fullConfig, 0)
	f.host.addChannel("t1", "X")
	f.host.moveErr = errHost
	failures := f.record(bus.EventRelocationFailed)

	res := f.svc.Process(context.Background(), domain.ReplyEvent{ChannelID: "t1", Role: domain.RoleStaff})
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrRelocationFailed)

	got := failures()
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].ChannelID)
	assert.ErrorIs(t, got[0].Err, errHost)
}

func TestService_StorageUnavailableIsContained(t *testing.T) {
	f := newServiceFixture(t, fullConfig, 0)
	f.host.addChannel("t1", "X")
	f.cats.err = store.ErrStorageUnavailable
	outages := f.record(bus.EventStorageUnavailable)

	res := f.svc.Process(context.Background(), domain.ReplyEvent{ChannelID: "t1", Role: domain.RoleStaff})
	assert.Equal(t, OutcomeNoOp, res.Outcome)
	assert.ErrorIs(t, res.Err, store.ErrStorageUnavailable)
	assert.Len(t, outages(), 1)
}

func TestService_UnknownChannel(t *testing.T) {
	f := newServiceFixture(t, fullConfig, 0)

	_, err := f.svc.Handle(context.Background(), domain.ReplyEvent{ChannelID: "gone", Role: domain.RoleStaff})
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestService_MoveToClosingErrors(t *testing.T) {
	ctx := context.Background()

	f := newServiceFixture(t, domain.CategoryConfig{WaitingUser: "A"}, 0)
	f.host.addChannel("t1", "X")
	_, err := f.svc.MoveToClosing(ctx, "t1")
	assert.ErrorIs(t, err, ErrClosingNotConfigured)

	f = newServiceFixture(t, fullConfig, 0)
	f.host.addChannel("t1", "X")
	f.host.tickets["t1"] = false
	_, err = f.svc.MoveToClosing(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotTicket)

	_, err = f.svc.MoveToClosing(ctx, "missing")
	assert.ErrorIs(t, err, ErrChannelNotFound)
	assert.Empty(t, f.svc.Pending())
}

func TestService_CancelPendingClose(t *testing.T) {
	f := newServiceFixture(t, fullConfig, 30*time.Millisecond)
	f.host.addChannel("t1", "X")
	cancelled := f.record(bus.EventCloseCancelled)

	_, err := f.svc.MoveToClosing(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, f.svc.CancelPending("t1"))
	assert.False(t, f.svc.CancelPending("t1"))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, "X", f.host.category("t1"))
	assert.Len(t, cancelled(), 1)
}

func TestService_CloseUsesConfigAtFireTime(t *testing.T) {
	f := newServiceFixture(t, fullConfig, 20*time.Millisecond)
	f.host.addChannel("t1", "X")

	_, err := f.svc.MoveToClosing(context.Background(), "t1")
	require.NoError(t, err)

	updated := fullConfig
	updated.Closing = "R"
	f.cats.set(updated)

	assert.Eventually(t, func() bool { return f.host.category("t1") == "R" }, time.Second, 5*time.Millisecond)
}

func TestService_RunConsumesQueue(t *testing.T) {
	f := newServiceFixture(t, fullConfig, 0)
	f.host.addChannel("t1", "X")
	f.host.addChannel("t2", "X")

	q := bus.NewQueue(10, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx, q) }()

	q.Publish(domain.ReplyEvent{Source: "test", ChannelID: "t1", Role: domain.RoleStaff})
	q.Publish(domain.ReplyEvent{Source: "test", ChannelID: "t2", Role: domain.RoleStaff})

	assert.Eventually(t, func() bool { return f.host.moveCount() == 2 }, time.Second, 5*time.Millisecond)

	q.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after queue close")
	}
}
