// Package netpeer provides the two network-facing collaborators the spec
// treats as external interfaces (§6): a UDP beacon that lets nodes discover
// one another, and a QUIC-based RPC transport that carries the three named
// inter-node RPCs. Discovery is grounded on the reference project's
// network.go (sendLifeSignal/readLifeSignals/timeout, transfer.BroadcastSender,
// transfer.BroadcastReceiver, localip.LocalIP); the RPC transport is
// grounded on the Lucas-Vo-heislab2 example's elevnetwork/quic.go, since
// the reference project's own transport is push-only and has no
// request/response shape.
package netpeer

import (
	"log"
	"sync"
	"time"

	"github.com/angrycompany16/Network-go/network/transfer"
)

// Cookie is the symmetric cluster authentication token: a beacon whose
// cookie doesn't match is dropped before a peer object is ever created,
// refusing foreign clusters as the spec requires.
type Cookie string

// beacon is broadcast every second on the configured discovery port,
// mirroring the reference project's LifeSignal shape but stripped down to
// just what discovery needs (identity, auth, and the address peers should
// dial for RPCs) — full lift-state gossip is not this layer's job, that's
// what the RPC-carried orders are for.
type beacon struct {
	SenderID string
	Cookie   Cookie
	RPCAddr  string
}

// Event is a node_up/node_down notification, per the spec's "cluster
// membership provided by external discovery layer" contract.
type Event struct {
	Peer string
	Up   bool
}

type peerInfo struct {
	rpcAddr  string
	lastSeen time.Time
}

// Registry tracks live peers via beacon receipt and fans out node_up/
// node_down notifications to subscribers (the Watchdog; Order Distribution
// reads the live set through Peers instead).
type Registry struct {
	self    string
	cookie  Cookie
	timeout time.Duration
	log     *log.Logger

	mu   sync.Mutex
	seen map[string]*peerInfo
	subs []chan Event
}

func NewRegistry(self string, cookie Cookie, peerTimeout time.Duration, logger *log.Logger) *Registry {
	return &Registry{
		self:    self,
		cookie:  cookie,
		timeout: peerTimeout,
		log:     logger,
		seen:    make(map[string]*peerInfo),
	}
}

// Subscribe returns a channel that receives every future node_up/node_down
// event. Buffered so a slow subscriber can't stall discovery.
func (r *Registry) Subscribe() <-chan Event {
	ch := make(chan Event, 32)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

func (r *Registry) notify(e Event) {
	r.mu.Lock()
	subs := append([]chan Event(nil), r.subs...)
	r.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			r.log.Printf("netpeer: subscriber channel full, dropping %+v", e)
		}
	}
}

// Peers returns a snapshot of currently-alive peer IDs and their RPC
// addresses, excluding self.
func (r *Registry) Peers() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.seen))
	for id, info := range r.seen {
		out[id] = info.rpcAddr
	}
	return out
}

// Run starts the beacon sender, beacon receiver, and stale-peer reaper. It
// blocks until stop is closed.
func (r *Registry) Run(stop <-chan struct{}, port int, rpcAddr string) error {
	outCh := make(chan beacon)
	inCh := make(chan beacon)

	go transfer.BroadcastSender(port, outCh)
	go transfer.BroadcastReceiver(port, inCh)

	go r.sendLoop(stop, outCh, rpcAddr)
	go r.reapLoop(stop)

	for {
		select {
		case <-stop:
			return nil
		case b := <-inCh:
			r.handleBeacon(b)
		}
	}
}

func (r *Registry) sendLoop(stop <-chan struct{}, outCh chan<- beacon, rpcAddr string) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	self := beacon{SenderID: r.self, Cookie: r.cookie, RPCAddr: rpcAddr}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			outCh <- self
		}
	}
}

func (r *Registry) handleBeacon(b beacon) {
	if b.SenderID == r.self {
		return
	}
	if b.Cookie != r.cookie {
		r.log.Printf("netpeer: dropping beacon from %s: cookie mismatch (foreign cluster)", b.SenderID)
		return
	}

	r.mu.Lock()
	_, known := r.seen[b.SenderID]
	r.seen[b.SenderID] = &peerInfo{rpcAddr: b.RPCAddr, lastSeen: time.Now()}
	r.mu.Unlock()

	if !known {
		r.log.Printf("netpeer: new peer %s at %s", b.SenderID, b.RPCAddr)
		r.notify(Event{Peer: b.SenderID, Up: true})
	}
}

func (r *Registry) reapLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(r.timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

func (r *Registry) reapOnce() {
	now := time.Now()
	var lost []string

	r.mu.Lock()
	for id, info := range r.seen {
		if now.Sub(info.lastSeen) > r.timeout {
			lost = append(lost, id)
			delete(r.seen, id)
		}
	}
	r.mu.Unlock()

	for _, id := range lost {
		r.log.Printf("netpeer: peer %s timed out", id)
		r.notify(Event{Peer: id, Up: false})
	}
}
