// Package watchdog holds per-order deadline timers, reacts to peer
// liveness, and persists in-flight order state to disk so a crash never
// silently drops a call. Grounded on the reference project's
// backup/simple_backup.go for the life-signal-driven prune idea (completed
// here into a full active/standby/timer model) and on the
// Snoffee-Elevator-Project peer-monitor pattern for node_up/node_down
// fan-out handling.
package watchdog

import (
	"context"
	"log"
	"time"

	"liftfleet/internal/order"
	"liftfleet/internal/timerutil"
)

// Reinjector is the local Order Distribution's entry point for putting an
// existing order back through the auction.
type Reinjector interface {
	Reinject(o order.Order) error
}

// Store persists the watchdog's durable state across restarts.
type Store interface {
	Load() (State, error)
	Save(State) error
}

// State is the on-disk projection: everything but the live timer handles,
// which cannot survive a process restart.
type State struct {
	Active  []BackupEntry
	Standby []BackupEntry
}

// BackupEntry pairs a persisted order with the deadline it should be armed
// with on restore.
type BackupEntry struct {
	Order    order.Order
	Deadline time.Time
}

type newOrderMsg struct {
	o     order.Order
	reply chan error
}
type orderCompleteMsg struct{ o order.Order }
type timerFiredMsg struct{ id order.ID }
type peerEventMsg struct {
	peer string
	up   bool
}
type snapshotMsg struct{ reply chan State }

// Watchdog is the actor. self is this node's name; it is stored but not
// otherwise used.
type Watchdog struct {
	self       string
	timeout    time.Duration
	reinjector Reinjector
	store      Store
	log        *log.Logger

	inbox chan any

	active    map[order.ID]order.Order
	standby   map[order.ID]order.Order
	timers    map[order.ID]*timerutil.Handle
	deadlines map[order.ID]time.Time
}

func New(self string, timeout time.Duration, reinjector Reinjector, store Store, logger *log.Logger) *Watchdog {
	return &Watchdog{
		self:       self,
		timeout:    timeout,
		reinjector: reinjector,
		store:      store,
		log:        logger,
		inbox:      make(chan any, 64),
		active:     make(map[order.ID]order.Order),
		standby:    make(map[order.ID]order.Order),
		timers:     make(map[order.ID]*timerutil.Handle),
		deadlines:  make(map[order.ID]time.Time),
	}
}

// Run processes messages until ctx is cancelled. Callers should call Boot
// before Run to restore prior state.
func (w *Watchdog) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, h := range w.timers {
				h.Cancel()
			}
			return
		case m := <-w.inbox:
			switch msg := m.(type) {
			case newOrderMsg:
				msg.reply <- w.handleNewOrder(msg.o)
			case orderCompleteMsg:
				w.handleOrderComplete(msg.o)
			case timerFiredMsg:
				w.handleTimerFired(msg.id)
			case peerEventMsg:
				if msg.up {
					w.handlePeerUp(msg.peer)
				} else {
					w.handlePeerDown(msg.peer)
				}
			case snapshotMsg:
				msg.reply <- w.snapshot()
			}
		}
	}
}

// NewOrder arms a deadline for an order this node has been chosen to watch.
func (w *Watchdog) NewOrder(o order.Order) error {
	reply := make(chan error, 1)
	w.inbox <- newOrderMsg{o: o, reply: reply}
	return <-reply
}

// OrderComplete cancels the deadline for a completed order, if this node is
// holding one.
func (w *Watchdog) OrderComplete(o order.Order) {
	w.inbox <- orderCompleteMsg{o: o}
}

// PeerEvent is called by the discovery subscriber loop for every node_up /
// node_down notification.
func (w *Watchdog) PeerEvent(peer string, up bool) {
	w.inbox <- peerEventMsg{peer: peer, up: up}
}

func (w *Watchdog) snapshot() State {
	s := State{}
	for id, o := range w.active {
		deadline, ok := w.deadlines[id]
		if !ok {
			deadline = time.Now().Add(w.timeout)
		}
		s.Active = append(s.Active, BackupEntry{Order: o, Deadline: deadline})
	}
	for _, o := range w.standby {
		s.Standby = append(s.Standby, BackupEntry{Order: o, Deadline: o.Time.Add(standbyHorizon)})
	}
	return s
}

const standbyHorizon = 10 * time.Minute
const activeHorizon = 120 * time.Second

func (w *Watchdog) handleNewOrder(o order.Order) error {
	w.active[o.ID] = o
	w.armTimer(o.ID, w.timeout)
	w.persist()
	return nil
}

func (w *Watchdog) handleOrderComplete(o order.Order) {
	if h, ok := w.timers[o.ID]; ok {
		h.Cancel()
		delete(w.timers, o.ID)
	}
	delete(w.deadlines, o.ID)
	delete(w.active, o.ID)
	delete(w.standby, o.ID)
	w.persist()
}

func (w *Watchdog) handleTimerFired(id order.ID) {
	o, ok := w.active[id]
	if !ok {
		return
	}
	delete(w.active, id)
	delete(w.timers, id)
	delete(w.deadlines, id)
	w.persist()
	if err := w.reinjector.Reinject(o); err != nil {
		w.log.Printf("watchdog: reinject %s on timeout failed: %v", id, err)
	}
}

// handlePeerDown partitions the down peer's active orders: hall orders
// reinject immediately, cab orders move to standby.
func (w *Watchdog) handlePeerDown(peer string) {
	for id, o := range w.active {
		if o.Node != peer {
			continue
		}
		if h, ok := w.timers[id]; ok {
			h.Cancel()
			delete(w.timers, id)
		}
		delete(w.deadlines, id)
		delete(w.active, id)

		if o.ButtonType == order.Cab {
			w.standby[id] = o
			continue
		}
		if err := w.reinjector.Reinject(o); err != nil {
			w.log.Printf("watchdog: reinject %s on peer-down failed: %v", id, err)
		}
	}
	w.persist()
}

// handlePeerUp replays every standby order owned by the returning peer.
func (w *Watchdog) handlePeerUp(peer string) {
	for id, o := range w.standby {
		if o.Node != peer {
			continue
		}
		delete(w.standby, id)
		if err := w.reinjector.Reinject(o); err != nil {
			w.log.Printf("watchdog: reinject %s on peer-up failed: %v", id, err)
		}
	}
	w.persist()
}

func (w *Watchdog) armTimer(id order.ID, delay time.Duration) {
	if h, ok := w.timers[id]; ok {
		h.Cancel()
	}
	w.deadlines[id] = time.Now().Add(delay)
	w.timers[id] = timerutil.AfterFunc(delay, func() {
		w.inbox <- timerFiredMsg{id: id}
	})
}

func (w *Watchdog) persist() {
	if w.store == nil {
		return
	}
	if err := w.store.Save(w.snapshot()); err != nil {
		w.log.Printf("watchdog: backup save failed: %v", err)
	}
}

// Boot restores durable state, filtering out anything too stale to be
// meaningful, and arms fresh timers for what survives. It must be called
// before Run's message loop starts consuming from the timer/inbox side, but
// after the actor's maps are constructed (i.e. right after New).
func (w *Watchdog) Boot() error {
	if w.store == nil {
		return nil
	}
	s, err := w.store.Load()
	if err != nil {
		w.log.Printf("watchdog: backup load failed, starting empty: %v", err)
		return nil
	}

	now := time.Now()
	for _, entry := range s.Active {
		if now.Sub(entry.Order.Time) > activeHorizon {
			continue
		}
		w.active[entry.Order.ID] = entry.Order
		delay := entry.Deadline.Sub(now)
		if delay < 0 {
			delay = 0
		}
		w.armTimer(entry.Order.ID, delay)
	}
	for _, entry := range s.Standby {
		if now.Sub(entry.Order.Time) > standbyHorizon {
			continue
		}
		w.standby[entry.Order.ID] = entry.Order
	}
	return nil
}
