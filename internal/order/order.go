// Package order defines the unit of work that flows through the fleet: a
// single hall or cab call, its identity, and the fields the auction and the
// watchdog mutate as it circulates.
package order

import (
	"fmt"
	"sync/atomic"
	"time"
)

// NumFloors is fixed fleet-wide and must be identical on every node.
const NumFloors = 4

// ButtonType identifies what kind of call an order represents.
type ButtonType int

const (
	HallUp ButtonType = iota
	HallDown
	Cab
)

func (b ButtonType) String() string {
	switch b {
	case HallUp:
		return "hall_up"
	case HallDown:
		return "hall_down"
	case Cab:
		return "cab"
	default:
		return "unknown"
	}
}

// ID is a process-wide unique handle: the identity of the node that created
// the order, plus a counter local to that node. Equality of ID governs all
// lookup and completion matching.
type ID struct {
	Node string
	Seq  uint64
}

func (id ID) String() string {
	return fmt.Sprintf("%s-%d", id.Node, id.Seq)
}

// Order is the unit of work. Id never mutates once created. Node and
// WatchDog mutate only via auction resolution (Node, WatchDog) or watchdog
// reassignment (WatchDog only). A Cab order's Node equals its creator
// forever.
type Order struct {
	ID         ID
	Floor      int
	ButtonType ButtonType

	// Node is the node currently responsible for serving the order.
	Node string

	// WatchDog is the node currently holding the deadline timer for this
	// order. May equal Node when no peer exists.
	WatchDog string

	// Time is the wall-clock creation timestamp, used to age out stale
	// backup entries on restart.
	Time time.Time
}

// Valid rejects illegal button/floor combinations at the creation boundary,
// per the spec's error handling design: hall_up is illegal at the top
// floor, hall_down illegal at the bottom.
func Valid(floor int, bt ButtonType) error {
	if floor < 0 || floor >= NumFloors {
		return fmt.Errorf("order: floor %d out of range [0,%d)", floor, NumFloors)
	}
	switch bt {
	case HallUp:
		if floor == NumFloors-1 {
			return fmt.Errorf("order: hall_up illegal at top floor %d", floor)
		}
	case HallDown:
		if floor == 0 {
			return fmt.Errorf("order: hall_down illegal at bottom floor 0")
		}
	case Cab:
		// always legal
	default:
		return fmt.Errorf("order: unknown button type %v", bt)
	}
	return nil
}

// IDGenerator hands out fleet-wide unique IDs for orders created at this
// node. The node name is assumed fleet-unique; nothing checks this
// (internal/netpeer keys peers by name, so a duplicate name replaces the
// earlier peer's entry). The counter is local and monotonic.
type IDGenerator struct {
	node    string
	counter uint64
}

func NewIDGenerator(node string) *IDGenerator {
	return &IDGenerator{node: node}
}

func (g *IDGenerator) NextID() ID {
	seq := atomic.AddUint64(&g.counter, 1)
	return ID{Node: g.node, Seq: seq}
}

// New synthesizes an Order for a freshly pressed button at this node.
func (g *IDGenerator) New(floor int, bt ButtonType, now time.Time) (Order, error) {
	if err := Valid(floor, bt); err != nil {
		return Order{}, err
	}
	return Order{
		ID:         g.NextID(),
		Floor:      floor,
		ButtonType: bt,
		Node:       g.node,
		WatchDog:   g.node,
		Time:       now,
	}, nil
}
