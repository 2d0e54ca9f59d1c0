// Package orderdist is the auctioneer: it fans a new order's cost out to
// every known peer, picks the cheapest bidder, assigns a random watcher, and
// broadcasts the result. Grounded on the reference project's network.go
// peer-list shape and on the Lucas-Vo-heislab2 example's multi-peer QUIC
// messaging pattern for the fan-out itself (see internal/fanout, internal/netpeer).
package orderdist

import (
	"context"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"liftfleet/internal/fanout"
	"liftfleet/internal/order"
)

// LocalOrderServer is the in-process Order Server this node owns.
type LocalOrderServer interface {
	EvaluateCost(o order.Order) (cost int, completed bool, err error)
	NewOrder(o order.Order) error
}

// LocalWatchdog is the in-process Watchdog this node owns.
type LocalWatchdog interface {
	NewOrder(o order.Order) error
}

// PeerRPC reaches a remote node's Order Server or Watchdog.
type PeerRPC interface {
	EvaluateCost(ctx context.Context, addr string, o order.Order) (cost int, completed bool, err error)
	NewOrder(ctx context.Context, addr string, o order.Order) error
	WatchdogNewOrder(ctx context.Context, addr string, o order.Order) error
}

// PeerLister returns the currently known peers, keyed by name, valued by
// the address their RPC server listens on.
type PeerLister interface {
	Peers() map[string]string
}

type candidate struct {
	name string
	addr string // empty means self: dispatch in-process, never over RPC
}

type bidOutcome struct {
	name      string
	cost      int
	completed bool
}

// Distributor is the Order Distribution actor. It has no inbox of its own:
// Submit and Reinject are safe to call concurrently since all shared state
// lives in the collaborators they delegate to, mirroring the reference
// project's stateless auction function.
type Distributor struct {
	self     string
	local    LocalOrderServer
	watchdog LocalWatchdog
	rpc      PeerRPC
	peers    PeerLister
	ids      *order.IDGenerator
	deadline time.Duration
	log      *log.Logger

	randMu sync.Mutex // rand.Rand is not safe for concurrent use
	rand   *rand.Rand
}

func New(self string, local LocalOrderServer, watchdog LocalWatchdog, rpc PeerRPC, peers PeerLister, ids *order.IDGenerator, deadline time.Duration, logger *log.Logger) *Distributor {
	return &Distributor{
		self:     self,
		local:    local,
		watchdog: watchdog,
		rpc:      rpc,
		peers:    peers,
		ids:      ids,
		deadline: deadline,
		log:      logger,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Submit synthesizes a fresh order for a newly pressed button and runs it
// through the auction. This is the entry point for orders created at this
// node (both hall calls and this node's own cab calls).
func (d *Distributor) Submit(floor int, bt order.ButtonType) error {
	o, err := d.ids.New(floor, bt, time.Now())
	if err != nil {
		return err
	}
	return d.auction(o)
}

// Reinject re-enters an existing order (same ID) into the auction, used by
// the Watchdog on deadline expiry or peer membership change.
func (d *Distributor) Reinject(o order.Order) error {
	return d.auction(o)
}

func (d *Distributor) auction(o order.Order) error {
	participants := d.participants(o)

	results := fanout.Call(context.Background(), participants, d.deadline, func(ctx context.Context, c candidate) (bidOutcome, error) {
		if c.addr == "" {
			cost, completed, err := d.local.EvaluateCost(o)
			return bidOutcome{name: c.name, cost: cost, completed: completed}, err
		}
		cost, completed, err := d.rpc.EvaluateCost(ctx, c.addr, o)
		return bidOutcome{name: c.name, cost: cost, completed: completed}, err
	})

	for _, r := range results {
		if r.Ok && r.Reply.completed {
			d.log.Printf("orderdist: order %s already complete, discarding reinjection", o.ID)
			return nil
		}
	}

	if len(results) == 0 {
		if o.ButtonType == order.Cab && o.Node != d.self {
			// The owning node has already dropped out of Peers() but hasn't
			// been moved to standby by the Watchdog yet. Leave the order's
			// Node untouched rather than reassigning it to whoever happens
			// to run this reinjection: a cab order's owner never changes,
			// and the Watchdog's standby/peer-up path is the only thing
			// that gets to re-serve it once its owner is reachable again.
			d.log.Printf("orderdist: no reachable bidder for cab order %s owned by %s, leaving unresolved", o.ID, o.Node)
			return nil
		}
		o.Node = d.self
	} else {
		o.Node = pickWinner(results)
	}

	watcher := d.assignWatcher(o.Node)
	o.WatchDog = watcher

	d.broadcastNewOrder(o)
	d.dispatchWatchdog(o, watcher)
	return nil
}

// participants builds the bidder list per the spec's step 1/2: a cab order
// has exactly one legal bidder, its owning node; a hall order opens the
// auction to self plus every known peer.
func (d *Distributor) participants(o order.Order) []candidate {
	if o.ButtonType == order.Cab {
		if o.Node == d.self {
			return []candidate{{name: d.self}}
		}
		if addr, ok := d.peers.Peers()[o.Node]; ok {
			return []candidate{{name: o.Node, addr: addr}}
		}
		return nil // owning node unknown/down; watchdog will hold this in standby
	}

	out := []candidate{{name: d.self}}
	for name, addr := range d.peers.Peers() {
		out = append(out, candidate{name: name, addr: addr})
	}
	return out
}

func pickWinner(results []fanout.Result[candidate, bidOutcome]) string {
	best := results[0]
	for _, r := range results[1:] {
		if r.Reply.cost < best.Reply.cost ||
			(r.Reply.cost == best.Reply.cost && r.Reply.name < best.Reply.name) {
			best = r
		}
	}
	return best.Reply.name
}

// assignWatcher picks uniformly at random from ({self} ∪ peers) \ {winner};
// if no such node exists, the winner watches itself.
func (d *Distributor) assignWatcher(winner string) string {
	pool := make([]string, 0, len(d.peers.Peers())+1)
	if d.self != winner {
		pool = append(pool, d.self)
	}
	for name := range d.peers.Peers() {
		if name != winner {
			pool = append(pool, name)
		}
	}
	if len(pool) == 0 {
		return winner
	}
	sort.Strings(pool) // deterministic ordering before random pick, for reproducible test seeding
	d.randMu.Lock()
	defer d.randMu.Unlock()
	return pool[d.rand.Intn(len(pool))]
}

// broadcastNewOrder fans out to this node and every known peer, cab orders
// included: every node still needs the assignment to track lamp state and
// drop it once it completes. A cab order left unresolved by auction never
// reaches this point.
func (d *Distributor) broadcastNewOrder(o order.Order) {
	peers := d.peers.Peers()
	targets := make(map[string]string, len(peers)+1)
	targets[d.self] = ""
	for name, addr := range peers {
		targets[name] = addr
	}

	for name, addr := range targets {
		if addr == "" {
			if err := d.local.NewOrder(o); err != nil {
				d.log.Printf("orderdist: local NewOrder for %s failed: %v", o.ID, err)
			}
			continue
		}
		go func(name, addr string) {
			ctx, cancel := context.WithTimeout(context.Background(), d.deadline)
			defer cancel()
			if err := d.rpc.NewOrder(ctx, addr, o); err != nil {
				d.log.Printf("orderdist: NewOrder to %s failed: %v", name, err)
			}
		}(name, addr)
	}
}

func (d *Distributor) dispatchWatchdog(o order.Order, watcher string) {
	if watcher == d.self {
		if err := d.watchdog.NewOrder(o); err != nil {
			d.log.Printf("orderdist: local watchdog NewOrder for %s failed: %v", o.ID, err)
		}
		return
	}
	addr, ok := d.peers.Peers()[watcher]
	if !ok {
		d.log.Printf("orderdist: chosen watcher %s vanished before dispatch, watching locally", watcher)
		if err := d.watchdog.NewOrder(o); err != nil {
			d.log.Printf("orderdist: local watchdog fallback NewOrder for %s failed: %v", o.ID, err)
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.deadline)
	defer cancel()
	if err := d.rpc.WatchdogNewOrder(ctx, addr, o); err != nil {
		d.log.Printf("orderdist: WatchdogNewOrder to %s failed: %v", watcher, err)
	}
}
