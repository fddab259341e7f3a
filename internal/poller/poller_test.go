package poller_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiwari-pos/kds/internal/kitchen"
	"github.com/kiwari-pos/kds/internal/kitchendb"
	"github.com/kiwari-pos/kds/internal/poller"
)

// --- Mock implementations ---

type batch struct {
	lines []kitchen.OrderLine
	err   error
}

// scriptedStore answers each ActiveOrdersAfter call with the next batch and
// reports the watermark it was queried with on queried.
type scriptedStore struct {
	mu         sync.Mutex
	batches    []batch
	sessionErr error
	opened     int
	closed     int
	queried    chan int64
}

func newScriptedStore(batches ...batch) *scriptedStore {
	return &scriptedStore{batches: batches, queried: make(chan int64, 16)}
}

func (s *scriptedStore) Session(ctx context.Context) (kitchendb.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionErr != nil {
		s.queried <- -1
		return nil, s.sessionErr
	}
	s.opened++
	return &scriptedSession{store: s}, nil
}

func (s *scriptedStore) counts() (opened, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.closed
}

type scriptedSession struct {
	store *scriptedStore
}

func (s *scriptedSession) ActiveOrders(ctx context.Context) ([]kitchen.OrderLine, error) {
	panic("not implemented")
}

func (s *scriptedSession) ActiveOrdersAfter(ctx context.Context, orderID int64) ([]kitchen.OrderLine, error) {
	s.store.mu.Lock()
	var b batch
	if len(s.store.batches) > 0 {
		b = s.store.batches[0]
		s.store.batches = s.store.batches[1:]
	}
	s.store.mu.Unlock()
	s.store.queried <- orderID
	return b.lines, b.err
}

func (s *scriptedSession) UpdateStatus(ctx context.Context, orderID int64, tr kitchen.Transition) error {
	panic("not implemented")
}

func (s *scriptedSession) Close() {
	s.store.mu.Lock()
	s.store.closed++
	s.store.mu.Unlock()
}

func rows(ids ...int64) []kitchen.OrderLine {
	var out []kitchen.OrderLine
	for _, id := range ids {
		out = append(out, kitchen.OrderLine{OrderID: id, CreatedTime: "t", Description: "item (1)", Status: kitchen.StatusPlaced})
	}
	return out
}

type harness struct {
	t     *testing.T
	store *scriptedStore
	out   chan kitchen.Groups
	ticks chan time.Time
	p     *poller.Poller
}

func newHarness(t *testing.T, seed int64, store *scriptedStore) *harness {
	h := &harness{
		t:     t,
		store: store,
		out:   make(chan kitchen.Groups),
		ticks: make(chan time.Time),
	}
	h.p = poller.New(store, seed, h.out,
		poller.WithClock(func(time.Duration) <-chan time.Time { return h.ticks }),
	)
	return h
}

func (h *harness) expectQuery(want int64) {
	h.t.Helper()
	select {
	case got := <-h.store.queried:
		if got != want {
			h.t.Fatalf("queried after %d, want %d", got, want)
		}
	case <-time.After(2 * time.Second):
		h.t.Fatalf("no query after %d", want)
	}
}

func (h *harness) expectEmit() kitchen.Groups {
	h.t.Helper()
	select {
	case g := <-h.out:
		return g
	case <-time.After(2 * time.Second):
		h.t.Fatal("no emission")
		return nil
	}
}

func (h *harness) tick() {
	h.t.Helper()
	select {
	case h.ticks <- time.Now():
	case <-time.After(2 * time.Second):
		h.t.Fatal("poller never waited for the next cycle")
	}
}

func TestPoller_WatermarkAdvancesMonotonically(t *testing.T) {
	store := newScriptedStore(
		batch{lines: rows(9, 9)},
		batch{},
		batch{lines: rows(12, 11)},
		batch{lines: rows(10)},
		batch{},
	)
	h := newHarness(t, 7, store)
	h.p.Start(context.Background())
	defer h.p.Stop()

	h.expectQuery(7)
	g := h.expectEmit()
	if len(g) != 1 || len(g[9].Descriptions) != 2 {
		t.Fatalf("first batch: got %+v", g)
	}
	h.tick()

	h.expectQuery(9)
	h.tick()

	h.expectQuery(9)
	if g := h.expectEmit(); g.MaxID() != 12 {
		t.Fatalf("third batch max: got %d", g.MaxID())
	}
	h.tick()

	// A batch below the watermark is emitted but never lowers it.
	h.expectQuery(12)
	if g := h.expectEmit(); g.MaxID() != 10 {
		t.Fatalf("fourth batch max: got %d", g.MaxID())
	}
	h.tick()

	h.expectQuery(12)
	if wm := h.p.Watermark(); wm != 12 {
		t.Errorf("watermark: got %d, want 12", wm)
	}
}

func TestPoller_FailedCycleKeepsWatermark(t *testing.T) {
	store := newScriptedStore(
		batch{err: errors.New("connection reset by peer")},
		batch{lines: rows(8)},
	)
	h := newHarness(t, 7, store)
	h.p.Start(context.Background())
	defer h.p.Stop()

	h.expectQuery(7)
	select {
	case g := <-h.out:
		t.Fatalf("emitted after failure: %+v", g)
	default:
	}
	h.tick()

	h.expectQuery(7)
	if g := h.expectEmit(); g.MaxID() != 8 {
		t.Fatalf("batch max: got %d", g.MaxID())
	}
	h.tick()
	h.expectQuery(8)

	opened, closed := store.counts()
	if opened != closed+1 && opened != closed {
		t.Errorf("sessions opened %d, closed %d", opened, closed)
	}
}

func TestPoller_SessionClosedEveryCycle(t *testing.T) {
	store := newScriptedStore(
		batch{err: errors.New("relation does not exist")},
		batch{},
	)
	h := newHarness(t, 0, store)
	h.p.Start(context.Background())

	h.expectQuery(0)
	h.tick()
	h.expectQuery(0)
	h.p.Stop()

	opened, closed := store.counts()
	if opened != 2 || closed != 2 {
		t.Errorf("sessions opened %d, closed %d, want 2/2", opened, closed)
	}
}

func TestPoller_ConnectFailureIsNotFatal(t *testing.T) {
	store := newScriptedStore()
	store.sessionErr = kitchendb.Unavailable(errors.New("refused"))
	h := newHarness(t, 3, store)
	h.p.Start(context.Background())
	defer h.p.Stop()

	h.expectQuery(-1)
	h.tick()
	h.expectQuery(-1)
	if wm := h.p.Watermark(); wm != 3 {
		t.Errorf("watermark: got %d, want 3", wm)
	}
}

func TestPoller_StopSuppressesPendingEmission(t *testing.T) {
	store := newScriptedStore(batch{lines: rows(20)})
	h := newHarness(t, 5, store)
	h.p.Start(context.Background())

	h.expectQuery(5)
	// Nobody reads h.out, so the loop is parked on the hand-off.
	h.p.Stop()

	select {
	case g := <-h.out:
		t.Fatalf("emitted after Stop: %+v", g)
	default:
	}
	if wm := h.p.Watermark(); wm != 5 {
		t.Errorf("watermark advanced without emission: got %d", wm)
	}
}

func TestPoller_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, 0, newScriptedStore())
	h.p.Start(context.Background())
	h.expectQuery(0)

	h.p.Stop()
	h.p.Stop()
}

func TestPoller_StopBeforeStart(t *testing.T) {
	h := newHarness(t, 0, newScriptedStore())
	h.p.Stop()
	h.p.Start(context.Background())

	select {
	case wm := <-h.store.queried:
		t.Fatalf("stopped poller queried after %d", wm)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPoller_ContextCancelEndsLoop(t *testing.T) {
	h := newHarness(t, 0, newScriptedStore())
	ctx, cancel := context.WithCancel(context.Background())
	h.p.Start(ctx)
	h.expectQuery(0)

	cancel()
	stopped := make(chan struct{})
	go func() {
		h.p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}

func TestNew_DefaultInterval(t *testing.T) {
	var got time.Duration
	store := newScriptedStore()
	waited := make(chan struct{})
	p := poller.New(store, 0, make(chan kitchen.Groups), poller.WithClock(func(d time.Duration) <-chan time.Time {
		got = d
		close(waited)
		return make(chan time.Time)
	}))
	p.Start(context.Background())
	<-waited
	p.Stop()

	if got != poller.DefaultInterval {
		t.Errorf("interval: got %s, want %s", got, poller.DefaultInterval)
	}
}
