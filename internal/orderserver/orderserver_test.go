package orderserver

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"liftfleet/internal/liftfsm"
	"liftfleet/internal/order"
)

type fakeLift struct {
	mu       sync.Mutex
	floor    int
	dir      liftfsm.Direction
	ready    bool
	assigned []order.Order
}

func (f *fakeLift) NewOrder(o order.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned = append(f.assigned, o)
	return nil
}

func (f *fakeLift) GetPosition() (int, liftfsm.Direction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return 0, 0, liftfsm.ErrNotReady
	}
	return f.floor, f.dir, nil
}

type fakePeer struct {
	mu         sync.Mutex
	completed  []order.Order
	wdComplete []order.Order
}

func (p *fakePeer) BroadcastOrderComplete(o order.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, o)
}

func (p *fakePeer) BroadcastWatchdogComplete(o order.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wdComplete = append(p.wdComplete, o)
}

type fakeLamp struct {
	mu  sync.Mutex
	off []order.Order
}

func (l *fakeLamp) SetButtonLamp(bt order.ButtonType, floor int, on bool) {
	if on {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.off = append(l.off, order.Order{Floor: floor, ButtonType: bt})
}

func newTestServer(t *testing.T) (*Server, *fakeLift, *fakePeer, *fakeLamp, context.CancelFunc) {
	t.Helper()
	lift := &fakeLift{ready: true, floor: 0}
	peer := &fakePeer{}
	lamp := &fakeLamp{}
	s := New("A", lift, peer, lamp, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	s.LiftReady()
	if !WaitReady(s, time.Second) {
		t.Fatalf("lift never became ready")
	}
	return s, lift, peer, lamp, cancel
}

func TestEvaluateCostNotReadyBeforeLiftReady(t *testing.T) {
	lift := &fakeLift{}
	peer := &fakePeer{}
	lamp := &fakeLamp{}
	s := New("A", lift, peer, lamp, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	o := order.Order{ID: order.ID{Node: "A", Seq: 1}, Floor: 2, ButtonType: order.HallUp}
	_, _, err := s.EvaluateCost(o)
	if err != ErrNotReady {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestEvaluateCostSentinelForCompletedOrder(t *testing.T) {
	s, _, _, _, cancel := newTestServer(t)
	defer cancel()

	o := order.Order{ID: order.ID{Node: "A", Seq: 1}, Floor: 1, ButtonType: order.Cab, Node: "A"}
	s.OrderComplete(o)
	time.Sleep(10 * time.Millisecond)

	cost, completed, err := s.EvaluateCost(o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !completed || cost != CostCompleted {
		t.Fatalf("expected (completed,0) sentinel, got cost=%d completed=%v", cost, completed)
	}
}

func TestNewOrderDispatchesToIdleLift(t *testing.T) {
	s, lift, _, _, cancel := newTestServer(t)
	defer cancel()

	o := order.Order{ID: order.ID{Node: "A", Seq: 1}, Floor: 2, ButtonType: order.HallUp, Node: "A"}
	if err := s.NewOrder(o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	lift.mu.Lock()
	defer lift.mu.Unlock()
	if len(lift.assigned) != 1 || lift.assigned[0].ID != o.ID {
		t.Fatalf("expected order dispatched to lift, got %+v", lift.assigned)
	}
}

// TestNewOrderDispatchesAgainAfterLiftGoesIdle guards against liftState
// getting stuck at Moving forever after the first order: LiftIdle must be
// able to bring it back to Idle so a second order actually reaches the
// lift instead of sitting in the queue permanently.
func TestNewOrderDispatchesAgainAfterLiftGoesIdle(t *testing.T) {
	s, lift, _, _, cancel := newTestServer(t)
	defer cancel()

	first := order.Order{ID: order.ID{Node: "A", Seq: 1}, Floor: 2, ButtonType: order.HallUp, Node: "A"}
	if err := s.NewOrder(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	// Simulate the lift actually moving to serve it, then finishing and
	// reporting idle again, the same sequence liftfsm's handleAtFloor and
	// handleDoorTimeout drive in production.
	s.UpdateLiftPosition(1, liftfsm.Up)
	s.LiftIdle()
	s.OrderComplete(first)
	time.Sleep(10 * time.Millisecond)

	second := order.Order{ID: order.ID{Node: "A", Seq: 2}, Floor: 3, ButtonType: order.HallUp, Node: "A"}
	if err := s.NewOrder(second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	lift.mu.Lock()
	defer lift.mu.Unlock()
	if len(lift.assigned) != 2 || lift.assigned[1].ID != second.ID {
		t.Fatalf("expected second order dispatched after lift went idle again, got %+v", lift.assigned)
	}
}

func TestOrderCompleteBroadcastsAndClearsLamp(t *testing.T) {
	s, _, peer, lamp, cancel := newTestServer(t)
	defer cancel()

	o := order.Order{ID: order.ID{Node: "A", Seq: 1}, Floor: 1, ButtonType: order.HallDown}
	if err := s.NewOrder(o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.OrderComplete(o)
	time.Sleep(10 * time.Millisecond)

	peer.mu.Lock()
	if len(peer.completed) != 1 || len(peer.wdComplete) != 1 {
		peer.mu.Unlock()
		t.Fatalf("expected both broadcasts to fire exactly once")
	}
	peer.mu.Unlock()

	lamp.mu.Lock()
	defer lamp.mu.Unlock()
	if len(lamp.off) != 1 {
		t.Fatalf("expected lamp to be extinguished, got %+v", lamp.off)
	}
}

func TestTerminateLocalQueueClearsQueue(t *testing.T) {
	s, _, _, _, cancel := newTestServer(t)
	defer cancel()

	o := order.Order{ID: order.ID{Node: "A", Seq: 1}, Floor: 3, ButtonType: order.HallDown}
	_ = s.NewOrder(o)
	s.TerminateLocalQueue()

	cost, completed, err := s.EvaluateCost(order.Order{ID: order.ID{Node: "B", Seq: 9}, Floor: 3, ButtonType: order.HallDown})
	if err != nil || completed {
		t.Fatalf("unexpected reply after termination: cost=%d completed=%v err=%v", cost, completed, err)
	}
}

func TestCostMonotoneInDistance(t *testing.T) {
	s, _, _, _, cancel := newTestServer(t)
	defer cancel()

	near := order.Order{ID: order.ID{Node: "X", Seq: 1}, Floor: 1, ButtonType: order.HallUp}
	far := order.Order{ID: order.ID{Node: "X", Seq: 2}, Floor: 3, ButtonType: order.HallUp}

	costNear, _, _ := s.EvaluateCost(near)
	costFar, _, _ := s.EvaluateCost(far)
	if costFar <= costNear {
		t.Fatalf("expected farther order to cost more: near=%d far=%d", costNear, costFar)
	}
}
