// Package orderserver holds the per-node queue, computes bids for the
// auctioneer, hands work to the local Lift, and broadcasts completions.
// Grounded on the reference project's request_assigner.go for the cost
// simulation (see cost.go) and, for the module boundary, on the
// orderserver/healthmonitor split used by the group48 peer-review snapshot
// in the corpus.
package orderserver

import (
	"context"
	"errors"
	"log"
	"time"

	"liftfleet/internal/liftfsm"
	"liftfleet/internal/order"
)

// ErrNotReady mirrors liftfsm.ErrNotReady: the local lift hasn't reported
// its floor yet, so this node cannot bid or serve.
var ErrNotReady = errors.New("orderserver: lift not ready")

// CostCompleted is the sentinel cost value paired with the completed flag
// in EvaluateCost's reply, per the spec's (completed, 0) shape.
const CostCompleted = 0

// LiftHandle is the Order Server's only path to the local Lift.
type LiftHandle interface {
	NewOrder(o order.Order) error
	GetPosition() (floor int, dir liftfsm.Direction, err error)
}

// PeerBroadcaster fans a message out to every peer's Order Server /
// Watchdog, including this node (the spec requires self-inclusion so the
// local watchdog, if it happens to be watching this order, disarms too).
type PeerBroadcaster interface {
	BroadcastOrderComplete(o order.Order)
	BroadcastWatchdogComplete(o order.Order)
}

// LampController is the hall/cab button lamp boundary.
type LampController interface {
	SetButtonLamp(bt order.ButtonType, floor int, on bool)
}

type queueKey struct {
	Floor  int
	Button order.ButtonType
	Node   string // empty for hall keys, owning node's name for Cab keys
}

func keyFor(o order.Order) queueKey {
	if o.ButtonType == order.Cab {
		return queueKey{Floor: o.Floor, Button: o.ButtonType, Node: o.Node}
	}
	return queueKey{Floor: o.Floor, Button: o.ButtonType}
}

// completedRing remembers recently completed order IDs so a reinjection
// racing a late completion broadcast can be told "already done" instead of
// being auctioned again. Bounded so it doesn't grow forever.
type completedRing struct {
	ids   []order.ID
	limit int
}

func newCompletedRing(limit int) *completedRing {
	return &completedRing{limit: limit}
}

func (r *completedRing) add(id order.ID) {
	r.ids = append(r.ids, id)
	if len(r.ids) > r.limit {
		r.ids = r.ids[len(r.ids)-r.limit:]
	}
}

func (r *completedRing) has(id order.ID) bool {
	for _, existing := range r.ids {
		if existing == id {
			return true
		}
	}
	return false
}

type costReply struct {
	cost      int
	completed bool
	err       error
}

type evaluateCostMsg struct {
	o     order.Order
	reply chan costReply
}
type newOrderMsg struct {
	o     order.Order
	reply chan error
}
type orderCompleteMsg struct{ o order.Order }
type updatePositionMsg struct {
	floor int
	dir   liftfsm.Direction
}
type liftReadyMsg struct{}
type liftIdleMsg struct{}
type terminateMsg struct{ reply chan struct{} }

// Server is the Order Server actor.
type Server struct {
	self string
	lift LiftHandle
	peer PeerBroadcaster
	lamp LampController
	log  *log.Logger

	inbox chan any

	ready     bool
	floor     int
	dir       liftfsm.Direction
	liftState liftfsm.State
	queue     map[queueKey]order.Order
	completed *completedRing
}

func New(self string, lift LiftHandle, peer PeerBroadcaster, lamp LampController, logger *log.Logger) *Server {
	return &Server{
		self:      self,
		lift:      lift,
		peer:      peer,
		lamp:      lamp,
		log:       logger,
		inbox:     make(chan any, 32),
		queue:     make(map[queueKey]order.Order),
		completed: newCompletedRing(64),
		liftState: liftfsm.StateInit,
	}
}

// Run processes messages until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.inbox:
			switch msg := m.(type) {
			case evaluateCostMsg:
				msg.reply <- s.handleEvaluateCost(msg.o)
			case newOrderMsg:
				msg.reply <- s.handleNewOrder(msg.o)
			case orderCompleteMsg:
				s.handleOrderComplete(msg.o)
			case updatePositionMsg:
				s.floor = msg.floor
				s.dir = msg.dir
				s.liftState = liftfsm.StateMoving
			case liftReadyMsg:
				s.ready = true
				if f, dir, err := s.lift.GetPosition(); err == nil {
					s.floor = f
					s.dir = dir
					s.liftState = liftfsm.StateIdle
				}
			case liftIdleMsg:
				s.liftState = liftfsm.StateIdle
			case terminateMsg:
				s.queue = make(map[queueKey]order.Order)
				close(msg.reply)
			}
		}
	}
}

// EvaluateCost is called by any peer's auctioneer (via RPC in production;
// directly in-process for the self-bid).
func (s *Server) EvaluateCost(o order.Order) (cost int, completed bool, err error) {
	reply := make(chan costReply, 1)
	s.inbox <- evaluateCostMsg{o: o, reply: reply}
	r := <-reply
	return r.cost, r.completed, r.err
}

// NewOrder is called by the auctioneer once this node has won.
func (s *Server) NewOrder(o order.Order) error {
	reply := make(chan error, 1)
	s.inbox <- newOrderMsg{o: o, reply: reply}
	return <-reply
}

// OrderComplete is called by the local Lift on door close, and for a
// completion notice received from a peer. Only the first notice for an
// order ID is broadcast on to the peers.
func (s *Server) OrderComplete(o order.Order) {
	s.inbox <- orderCompleteMsg{o: o}
}

// UpdateLiftPosition is called by the local Lift.
func (s *Server) UpdateLiftPosition(floor int, dir liftfsm.Direction) {
	s.inbox <- updatePositionMsg{floor: floor, dir: dir}
}

// LiftReady is called by the local Lift after Init.
func (s *Server) LiftReady() {
	s.inbox <- liftReadyMsg{}
}

// LiftIdle is called by the local Lift every time it finishes an order and
// has nothing left to do, not just once at boot, so dispatch decisions here
// never keep acting on a stale "moving" view of a lift that's actually free.
func (s *Server) LiftIdle() {
	s.inbox <- liftIdleMsg{}
}

// TerminateLocalQueue drops all queued orders; used on motion-stuck
// recovery so the restarted process (and its restarted Order Server) starts
// clean. Blocks until the queue has actually been cleared.
func (s *Server) TerminateLocalQueue() {
	reply := make(chan struct{})
	s.inbox <- terminateMsg{reply: reply}
	<-reply
}

func (s *Server) handleEvaluateCost(o order.Order) costReply {
	if s.completed.has(o.ID) {
		return costReply{cost: CostCompleted, completed: true}
	}
	if !s.ready {
		return costReply{err: ErrNotReady}
	}

	pending := make([]queueKey, 0, len(s.queue))
	for k := range s.queue {
		pending = append(pending, k)
	}
	base := timeToServe(s.floor, s.dir, s.liftState, pending, o)
	cost := base + len(s.queue)*1 // small per-pending-order penalty (K=1)
	return costReply{cost: cost}
}

func (s *Server) handleNewOrder(o order.Order) error {
	key := keyFor(o)
	s.queue[key] = o
	s.lamp.SetButtonLamp(o.ButtonType, o.Floor, true)

	if o.Node != s.self {
		// Broadcast to every peer's Order Server so hall lamp state and
		// completed-order bidding stay consistent fleet-wide; only the
		// assigned node actually dispatches to its lift.
		return nil
	}
	if !s.ready {
		return ErrNotReady
	}
	if s.liftState == liftfsm.StateIdle {
		return s.lift.NewOrder(o)
	}
	return nil
}

func (s *Server) handleOrderComplete(o order.Order) {
	key := keyFor(o)
	delete(s.queue, key)
	alreadyKnown := s.completed.has(o.ID)
	if !alreadyKnown {
		s.completed.add(o.ID)
	}
	s.lamp.SetButtonLamp(o.ButtonType, o.Floor, false)
	if !alreadyKnown {
		s.peer.BroadcastOrderComplete(o)
		s.peer.BroadcastWatchdogComplete(o)
	}

	// Dispatch the next most urgent order to the lift, if it's free.
	if s.liftState != liftfsm.StateIdle {
		return
	}
	for _, next := range s.queue {
		if next.Node != s.self {
			continue // assigned to a different node; we only track it for lamp/bid state
		}
		if err := s.lift.NewOrder(next); err == nil {
			return
		}
	}
}

// WaitReady blocks until the local lift has reported its floor once (or
// timeout elapses), matching the spec's "reject with not_ready while
// state=init" boundary in a way callers can wait past at startup.
func WaitReady(s *Server, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, _, err := s.lift.GetPosition(); err == nil {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
